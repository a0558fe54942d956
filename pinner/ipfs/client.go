// Package ipfs talks to the local Kubo storage node over its HTTP RPC API
// and to publisher gateways, and implements the fetch-add-verify-pin
// executor on top of both.
package ipfs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "ipfs")

// StatusError is a non-2xx response from the Kubo RPC. It distinguishes
// protocol-level refusals from transport failures, which matters for the
// verifier's pass/fail/error split.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("kubo RPC status %d: %s", e.Code, e.Body)
}

// IsStatusError reports whether err is a Kubo HTTP status refusal.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// AddResponse is the JSON body returned by /api/v0/add.
type AddResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// NodeInfo is the JSON body returned by /api/v0/id.
type NodeInfo struct {
	ID        string   `json:"ID"`
	Addresses []string `json:"Addresses"`
}

// Client is a minimal Kubo HTTP RPC client covering the endpoints the
// daemon uses.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the Kubo RPC at rpcURL. timeout is the
// default per-request deadline; callers pass tighter deadlines via ctx.
func NewClient(rpcURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(rpcURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) endpoint(name string, params url.Values) string {
	u := c.baseURL + "/api/v0/" + name
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// post issues a Kubo RPC call. The caller owns the returned body.
func (c *Client) post(ctx context.Context, name string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(name, params), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "kubo %s request failed", name)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 512))
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close response body")
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, name string, params url.Values, out interface{}) error {
	resp, err := c.post(ctx, name, params)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close response body")
		}
	}()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Add streams content into the node via /api/v0/add with the canonical
// chunking parameters, without pinning. The returned Hash must equal the
// offered cid for the bytes to be the offered content.
func (c *Client) Add(ctx context.Context, content io.Reader) (*AddResponse, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "data")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, errors.Wrap(err, "could not buffer content for add")
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("wrap-with-directory", "false")
	params.Set("chunker", "size-262144")
	params.Set("raw-leaves", "false")
	params.Set("cid-version", "0")
	params.Set("hash", "sha2-256")
	params.Set("pin", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("add", params), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "kubo add request failed")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close response body")
		}
	}()
	if resp.StatusCode != http.StatusOK {
		raw, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	added := &AddResponse{}
	if err := json.NewDecoder(resp.Body).Decode(added); err != nil {
		return nil, errors.Wrap(err, "could not decode add response")
	}
	return added, nil
}

// PinAdd pins a cid whose blocks are already local.
func (c *Client) PinAdd(ctx context.Context, cid string) error {
	params := url.Values{}
	params.Set("arg", cid)
	return c.postJSON(ctx, "pin/add", params, nil)
}

// IsPinned reports whether the cid is in the node's recursive pin set.
func (c *Client) IsPinned(ctx context.Context, cid string) (bool, error) {
	params := url.Values{}
	params.Set("arg", cid)
	params.Set("type", "recursive")
	var out struct {
		Keys map[string]struct {
			Type string `json:"Type"`
		} `json:"Keys"`
	}
	if err := c.postJSON(ctx, "pin/ls", params, &out); err != nil {
		var se *StatusError
		if errors.As(err, &se) && strings.Contains(se.Body, "not pinned") {
			return false, nil
		}
		return false, err
	}
	_, ok := out.Keys[cid]
	return ok, nil
}

// PinRm removes a pin. A cid that was not pinned counts as removed.
func (c *Client) PinRm(ctx context.Context, cid string) (bool, error) {
	params := url.Values{}
	params.Set("arg", cid)
	if err := c.postJSON(ctx, "pin/rm", params, nil); err != nil {
		var se *StatusError
		if errors.As(err, &se) && strings.Contains(strings.ToLower(se.Body), "not pinned") {
			return true, nil
		}
		return false, err
	}
	return true, nil
}

// FindProviders queries the routing system for peers advertising the cid
// and returns their peer ids. The findprovs endpoint streams NDJSON; each
// line may carry several provider responses.
func (c *Client) FindProviders(ctx context.Context, cid string, numProviders int) ([]string, error) {
	params := url.Values{}
	params.Set("arg", cid)
	params.Set("num-providers", fmt.Sprintf("%d", numProviders))
	resp, err := c.post(ctx, "routing/findprovs", params)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close response body")
		}
	}()

	var providers []string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry struct {
			Responses []struct {
				ID string `json:"ID"`
			} `json:"Responses"`
		}
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		for _, r := range entry.Responses {
			if r.ID != "" {
				providers = append(providers, r.ID)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return providers, errors.Wrap(err, "could not read findprovs stream")
	}
	return providers, nil
}

// SwarmConnect dials a peer at the given multiaddr.
func (c *Client) SwarmConnect(ctx context.Context, multiaddr string) error {
	params := url.Values{}
	params.Set("arg", multiaddr)
	return c.postJSON(ctx, "swarm/connect", params, nil)
}

// BlockGet fetches a raw block, returning how many bytes came back. Used
// as the bitswap possession test; the call blocks until the block arrives
// or ctx expires.
func (c *Client) BlockGet(ctx context.Context, cid string) (int, error) {
	params := url.Values{}
	params.Set("arg", cid)
	resp, err := c.post(ctx, "block/get", params)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close response body")
		}
	}()
	n, err := io.Copy(ioutil.Discard, resp.Body)
	if err != nil {
		return int(n), errors.Wrap(err, "could not read block")
	}
	return int(n), nil
}

// Cat retrieves up to length bytes of the content behind a cid.
func (c *Client) Cat(ctx context.Context, cid string, length int) ([]byte, error) {
	params := url.Values{}
	params.Set("arg", cid)
	params.Set("length", fmt.Sprintf("%d", length))
	resp, err := c.post(ctx, "cat", params)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close response body")
		}
	}()
	return ioutil.ReadAll(io.LimitReader(resp.Body, int64(length)))
}

// ID probes the node's identity. Used as the startup liveness check.
func (c *Client) ID(ctx context.Context) (*NodeInfo, error) {
	info := &NodeInfo{}
	if err := c.postJSON(ctx, "id", nil, info); err != nil {
		return nil, err
	}
	return info, nil
}

package ipfs

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// Size probes for the same object repeat whenever a ledger window is
// re-scanned, so successful results are kept in a small LRU.
const probeCacheSize = 1024

// ErrContentTooLarge is returned when the declared or streamed content
// size exceeds the configured maximum.
var ErrContentTooLarge = errors.New("content exceeds maximum size")

// GatewayFetcher downloads published content from a publisher's HTTP
// gateway. Publishers run private swarms, so the local node cannot resolve
// fresh content through peer routing; the gateway is the only source.
type GatewayFetcher struct {
	http    *http.Client
	maxSize int64
	probes  *lru.Cache
}

// NewGatewayFetcher builds a fetcher bounded by maxSize bytes per object.
func NewGatewayFetcher(timeout time.Duration, maxSize int64) *GatewayFetcher {
	probes, err := lru.New(probeCacheSize)
	if err != nil {
		panic(err) // only fails on a non-positive size
	}
	return &GatewayFetcher{
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
		maxSize: maxSize,
		probes:  probes,
	}
}

func gatewayURL(gateway, cid string) string {
	return strings.TrimRight(gateway, "/") + "/ipfs/" + cid
}

// Probe issues a HEAD request and returns the declared Content-Length, or
// -1 when the gateway does not declare one. Used by the filter's size
// check before any body bytes move.
func (f *GatewayFetcher) Probe(ctx context.Context, gateway, cid string) (int64, error) {
	url := gatewayURL(gateway, cid)
	if size, ok := f.probes.Get(url); ok {
		return size.(int64), nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return -1, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return -1, errors.Wrap(err, "gateway probe failed")
	}
	if err := resp.Body.Close(); err != nil {
		log.WithError(err).Debug("Could not close response body")
	}
	if resp.StatusCode != http.StatusOK {
		return -1, &StatusError{Code: resp.StatusCode, Body: "gateway HEAD"}
	}
	cl := resp.Header.Get("Content-Length")
	if cl == "" {
		return -1, nil
	}
	size, err := strconv.ParseInt(cl, 10, 64)
	if err != nil {
		return -1, nil
	}
	f.probes.Add(url, size)
	return size, nil
}

// Fetch downloads the content bytes for a cid. The declared Content-Length
// is checked before the body is read, and the stream is aborted if it runs
// past the limit regardless of what was declared.
func (f *GatewayFetcher) Fetch(ctx context.Context, gateway, cid string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gatewayURL(gateway, cid), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "gateway fetch failed")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close response body")
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: fmt.Sprintf("gateway HTTP %d", resp.StatusCode)}
	}
	if resp.ContentLength > f.maxSize {
		return nil, errors.Wrapf(ErrContentTooLarge, "declared %d bytes, max %d", resp.ContentLength, f.maxSize)
	}

	content, err := ioutil.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "gateway stream failed")
	}
	if int64(len(content)) > f.maxSize {
		return nil, errors.Wrapf(ErrContentTooLarge, "stream ran past %d bytes", f.maxSize)
	}
	return content, nil
}

package ipfs

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/pintheon/pinner/testing/assert"
	"github.com/pintheon/pinner/testing/require"
)

const testCID = "QmTestContentCID"

// fakeKubo emulates the subset of the Kubo RPC the executor touches.
type fakeKubo struct {
	addHash   string
	addCalls  int
	pinCalls  int
	pinned    map[string]bool
	addParams map[string]string
}

func (f *fakeKubo) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/add", func(w http.ResponseWriter, r *http.Request) {
		f.addCalls++
		f.addParams = map[string]string{}
		for k, vs := range r.URL.Query() {
			f.addParams[k] = vs[0]
		}
		fmt.Fprintf(w, `{"Name":"data","Hash":%q,"Size":"1024"}`, f.addHash)
	})
	mux.HandleFunc("/api/v0/pin/add", func(w http.ResponseWriter, r *http.Request) {
		f.pinCalls++
		cid := r.URL.Query().Get("arg")
		if f.pinned == nil {
			f.pinned = map[string]bool{}
		}
		f.pinned[cid] = true
		fmt.Fprintf(w, `{"Pins":[%q]}`, cid)
	})
	mux.HandleFunc("/api/v0/pin/ls", func(w http.ResponseWriter, r *http.Request) {
		cid := r.URL.Query().Get("arg")
		if f.pinned[cid] {
			fmt.Fprintf(w, `{"Keys":{%q:{"Type":"recursive"}}}`, cid)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, `{"Message":"path %q is not pinned"}`, cid)
	})
	mux.HandleFunc("/api/v0/pin/rm", func(w http.ResponseWriter, r *http.Request) {
		cid := r.URL.Query().Get("arg")
		if f.pinned[cid] {
			delete(f.pinned, cid)
			fmt.Fprintf(w, `{"Pins":[%q]}`, cid)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"Message":"not pinned or pinned indirectly"}`)
	})
	return mux
}

func newTestExecutor(t *testing.T, kubo *fakeKubo, gatewayHandler http.Handler, maxSize int64) (*Executor, string) {
	kuboSrv := httptest.NewServer(kubo.handler())
	t.Cleanup(kuboSrv.Close)
	gwSrv := httptest.NewServer(gatewayHandler)
	t.Cleanup(gwSrv.Close)

	client := NewClient(kuboSrv.URL, 30*time.Second)
	fetcher := NewGatewayFetcher(30*time.Second, maxSize)
	return NewExecutor(client, fetcher, 10*time.Second, 3), gwSrv.URL
}

func staticGateway(content []byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/ipfs/") {
			http.NotFound(w, r)
			return
		}
		if _, err := w.Write(content); err != nil {
			panic(err)
		}
	})
}

func TestExecutor_HappyPath(t *testing.T) {
	kubo := &fakeKubo{addHash: testCID}
	exec, gw := newTestExecutor(t, kubo, staticGateway([]byte("hello ipfs")), 1<<20)

	res := exec.Pin(context.Background(), testCID, gw)
	require.Equal(t, true, res.Success)
	assert.Equal(t, testCID, res.CID)
	assert.Equal(t, int64(1024), res.BytesPinned)
	assert.Equal(t, 1, kubo.addCalls)
	assert.Equal(t, 1, kubo.pinCalls)

	// The add parameters must reproduce the publisher's exactly.
	assert.Equal(t, "false", kubo.addParams["wrap-with-directory"])
	assert.Equal(t, "size-262144", kubo.addParams["chunker"])
	assert.Equal(t, "false", kubo.addParams["raw-leaves"])
	assert.Equal(t, "0", kubo.addParams["cid-version"])
	assert.Equal(t, "sha2-256", kubo.addParams["hash"])
	assert.Equal(t, "false", kubo.addParams["pin"])

	assert.Equal(t, true, exec.VerifyPinned(context.Background(), testCID))
}

func TestExecutor_CIDMismatchIsFatal(t *testing.T) {
	kubo := &fakeKubo{addHash: "QmSomethingElse"}
	exec, gw := newTestExecutor(t, kubo, staticGateway([]byte("tampered")), 1<<20)

	res := exec.Pin(context.Background(), testCID, gw)
	require.Equal(t, false, res.Success)
	require.ErrorContains(t, "cid_mismatch", errors.New(res.Error))
	assert.Equal(t, 1, kubo.addCalls)
	assert.Equal(t, 0, kubo.pinCalls)
}

func TestExecutor_DeclaredSizeTooLargeAbortsBeforeBody(t *testing.T) {
	kubo := &fakeKubo{addHash: testCID}
	gateway := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2048")
		if _, err := w.Write(make([]byte, 2048)); err != nil {
			return
		}
	})
	exec, gw := newTestExecutor(t, kubo, gateway, 1024)

	res := exec.Pin(context.Background(), testCID, gw)
	require.Equal(t, false, res.Success)
	require.ErrorContains(t, "maximum size", errors.New(res.Error))
	assert.Equal(t, 0, kubo.addCalls)
}

func TestExecutor_StreamOverflowAborts(t *testing.T) {
	kubo := &fakeKubo{addHash: testCID}
	gateway := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Chunked response, no Content-Length declared.
		flusher := w.(http.Flusher)
		for i := 0; i < 8; i++ {
			if _, err := w.Write(make([]byte, 512)); err != nil {
				return
			}
			flusher.Flush()
		}
	})
	exec, gw := newTestExecutor(t, kubo, gateway, 1024)

	res := exec.Pin(context.Background(), testCID, gw)
	require.Equal(t, false, res.Success)
	require.ErrorContains(t, "maximum size", errors.New(res.Error))
	assert.Equal(t, 0, kubo.addCalls)
}

func TestExecutor_Gateway404NotRetried(t *testing.T) {
	kubo := &fakeKubo{addHash: testCID}
	requests := 0
	gateway := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.NotFound(w, r)
	})
	exec, gw := newTestExecutor(t, kubo, gateway, 1<<20)

	res := exec.Pin(context.Background(), testCID, gw)
	require.Equal(t, false, res.Success)
	assert.Equal(t, 1, requests)
}

func TestExecutor_Gateway5xxRetriedThenSucceeds(t *testing.T) {
	kubo := &fakeKubo{addHash: testCID}
	requests := 0
	gateway := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests < 3 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		if _, err := w.Write([]byte("finally")); err != nil {
			return
		}
	})
	exec, gw := newTestExecutor(t, kubo, gateway, 1<<20)

	res := exec.Pin(context.Background(), testCID, gw)
	require.Equal(t, true, res.Success)
	assert.Equal(t, 3, requests)
}

func TestExecutor_Unpin(t *testing.T) {
	kubo := &fakeKubo{addHash: testCID, pinned: map[string]bool{testCID: true}}
	exec, _ := newTestExecutor(t, kubo, staticGateway(nil), 1<<20)

	assert.Equal(t, true, exec.Unpin(context.Background(), testCID))
	// Unpinning an absent cid still reports success.
	assert.Equal(t, true, exec.Unpin(context.Background(), testCID))
}

func TestGatewayFetcher_Probe(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "4096")
			return
		}
		http.Error(w, "unexpected", http.StatusBadRequest)
	}))
	defer gateway.Close()

	fetcher := NewGatewayFetcher(5*time.Second, 1<<20)
	size, err := fetcher.Probe(context.Background(), gateway.URL, testCID)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), size)
}

func TestClient_FindProviders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lines := []string{
			`{"Type":4,"Responses":null}`,
			`{"Type":1,"Responses":[{"ID":"12D3KooPeerA","Addrs":[]}]}`,
			`{"Type":1,"Responses":[{"ID":"12D3KooPeerB","Addrs":[]}]}`,
		}
		fmt.Fprint(w, strings.Join(lines, "\n"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	providers, err := client.FindProviders(context.Background(), testCID, 20)
	require.NoError(t, err)
	require.Equal(t, 2, len(providers))
	assert.Equal(t, "12D3KooPeerA", providers[0])
}

func TestClient_IsPinnedAbsent(t *testing.T) {
	kubo := &fakeKubo{}
	srv := httptest.NewServer(kubo.handler())
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	pinned, err := client.IsPinned(context.Background(), testCID)
	require.NoError(t, err)
	assert.Equal(t, false, pinned)
}

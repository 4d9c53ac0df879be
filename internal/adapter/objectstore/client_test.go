package objectstore

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	method      string
	path        string
	contentType string
	body        string
}

func newTestServer(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var captured []capturedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		captured = append(captured, capturedRequest{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
		})
		mu.Unlock()

		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchBucket</Code><Message>The specified bucket does not exist</Message></Error>`)
			return
		}
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), captured...)
	}
}

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(Config{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "access",
		SecretKey: "secret",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func TestClient_Put(t *testing.T) {
	srv, requests := newTestServer(t, http.StatusOK)
	c := testClient(t, srv)

	payload := []byte(`{"appId":"hazard-monitor","count":0,"items":[]}`)
	err := c.Put(context.Background(), "manifests-bucket", "manifests/2024/06/10/12.json", payload, "application/json")
	require.NoError(t, err)

	reqs := requests()
	require.Len(t, reqs, 1, "no bucket location lookup when a region is set")
	assert.Equal(t, http.MethodPut, reqs[0].method)
	assert.Equal(t, "/manifests-bucket/manifests/2024/06/10/12.json", reqs[0].path)
	assert.Equal(t, "application/json", reqs[0].contentType)
	assert.Contains(t, reqs[0].body, `"appId":"hazard-monitor"`)
}

func TestClient_Put_Error(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusNotFound)
	c := testClient(t, srv)

	err := c.Put(context.Background(), "missing", "k.json", []byte("{}"), "application/json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing/k.json")
}

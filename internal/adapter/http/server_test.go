package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/wreck-hazard-monitor/internal/adapter/http"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/manifest"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/observability"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/store"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/store/memstore"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type failingManifest struct{}

func (failingManifest) Snapshot(context.Context, time.Time) (manifest.Snapshot, error) {
	return manifest.Snapshot{}, errors.New("store unavailable")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(readyErr error, manifests httpadapter.ManifestSource) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, manifests, discardLogger())
}

func get(t *testing.T, srv http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := get(t, newTestServer(nil, nil), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := get(t, newTestServer(nil, nil), "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := get(t, newTestServer(errors.New("store unreachable"), nil), "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "store unreachable", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(nil, nil), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestManifestEndpoint(t *testing.T) {
	st := memstore.New(0)
	require.NoError(t, st.Merge(context.Background(), "wrecks/w-1", store.Document{"lat": 1.0, "lon": 2.0}))
	builder := manifest.NewBuilder(st, nil, "", "hazard-monitor", []string{"wrecks"},
		discardLogger(), observability.NewMetricsForTesting())

	rec := get(t, newTestServer(nil, builder), "/manifest")

	assert.Equal(t, http.StatusOK, rec.Code)
	var snap manifest.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "hazard-monitor", snap.AppID)
	assert.Equal(t, 1, snap.Count)
	assert.Equal(t, []manifest.Item{{ID: "w-1", Path: "wrecks/w-1"}}, snap.Items)
}

func TestManifestEndpoint_Failure(t *testing.T) {
	rec := get(t, newTestServer(nil, failingManifest{}), "/manifest")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "store unavailable")
}

func TestManifestEndpoint_DisabledWithoutSource(t *testing.T) {
	rec := get(t, newTestServer(nil, nil), "/manifest")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// Package http serves the operational endpoints of the hazard monitor.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/manifest"
)

// ManifestSource builds the current site manifest.
type ManifestSource interface {
	Snapshot(ctx context.Context, now time.Time) (manifest.Snapshot, error)
}

// Server exposes health, readiness, metrics, and manifest HTTP endpoints.
type Server struct {
	httpServer *http.Server
	manifests  ManifestSource
	now        func() time.Time
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and
// /manifest routes. A nil manifests disables /manifest.
func NewServer(addr string, ready sharedobs.ReadinessChecker, manifests ManifestSource, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		manifests: manifests,
		now:       time.Now,
		logger:    logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	if manifests != nil {
		mux.HandleFunc("GET /manifest", s.handleManifest)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	snap, err := s.manifests.Snapshot(r.Context(), s.now())
	if err != nil {
		s.logger.Warn("manifest request failed", "error", err)
		sharedobs.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, snap)
}

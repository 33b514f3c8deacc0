package api

import (
	"net/http"

	"github.com/igable/cloud-scheduler/pkg/metrics"
)

// HealthServer serves the HTTP liveness/readiness/metrics endpoints
// alongside the gRPC introspection service. Grounded on the teacher's
// pkg/api/health.go, which wired its own HealthResponse/ReadyResponse
// JSON shapes directly against a *manager.Manager; pkg/metrics already
// carries the equivalent HealthHandler/ReadyHandler pair tracking the
// "leaderelect"/"persistence"/"api" components this deployment cares
// about (see pkg/metrics/health.go), so this server is now a thin mux
// in front of them rather than a second health-check implementation.
type HealthServer struct {
	mux *http.ServeMux
}

// NewHealthServer builds the /health, /ready, and /metrics handlers.
func NewHealthServer() *HealthServer {
	mux := http.NewServeMux()
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/metrics", metrics.Handler())
	return &HealthServer{mux: mux}
}

// Start runs the HTTP server until it errors or the process exits.
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{Addr: addr, Handler: hs.mux}
	return server.ListenAndServe()
}

// GetHandler returns the HTTP handler for embedding in another server.
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

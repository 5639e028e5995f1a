package server

import (
	"net/http"

	"github.com/haventalk/haven/pkg/metrics"
)

// Routes configures and returns the HTTP ServeMux: health check, Prometheus
// metrics, and the WebSocket endpoint.
func (s *Server) Routes() *http.ServeMux {
	policy := newOriginPolicy(s.cfg.AllowedOrigins, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", HealthHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/ws", s.websocketHandler(policy))
	return mux
}

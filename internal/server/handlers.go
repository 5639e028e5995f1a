package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/haventalk/haven/internal/transport"
)

// websocketHandler upgrades the HTTP connection and feeds the resulting
// transport into the same accept path the TCP listener uses.
func (s *Server) websocketHandler(policy *originPolicy) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.check,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("ws.upgrade", "err", err)
			return
		}

		s.HandleConn(transport.NewWebSocketConn(ws, s.cfg.MaxMessageSize))
	}
}

// HealthHandler provides a simple health check endpoint.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Haven chat server is running!")
}

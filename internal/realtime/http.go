package realtime

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// ServeWS upgrades an HTTP request to a websocket connection, hands the
// resulting transport to the supervisor's accept path, and runs the read
// pump that feeds inbound frames into the spawned worker's inbox. Routed
// through chi since cmd/server's router pulls in github.com/go-chi/chi/v5
// for the rest of its routes.
func (s *Supervisor) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	transport := newWSTransport(conn)
	worker := s.Accept(r.Context(), transport, r.RemoteAddr)
	if worker == nil {
		return
	}

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			worker.PostTransportClosed()
			return
		}
		worker.PostInboundFrame(data)
	}
}

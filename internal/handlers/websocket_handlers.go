package handlers

import (
	"log/slog"
	"net/http"

	"feedline/internal/websocket"
)

// HandleWebSocket upgrades to the live update stream. Browsers pass their
// token as ?token=; without one the stream is anonymous and receives
// redacted snapshots of gated posts.
func (s *Server) HandleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := viewer(r)
		if err := websocket.Upgrade(s.Hub, &s.upgrader, w, r, userID); err != nil {
			// The upgrader has already written the HTTP error.
			slog.Debug("websocket upgrade failed", "user", userID, "error", err)
		}
	}
}

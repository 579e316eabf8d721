package ws

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/vedran77/lobby/internal/pubsub"
	"github.com/vedran77/lobby/internal/transport/http/middleware"
	"nhooyr.io/websocket"
)

// ServeWS returns an HTTP handler that upgrades to WebSocket.
// Auth is done via ?token=xxx query param (WebSocket can't send headers).
// ?channel_id=xxx subscribes the connection to every topic of that channel.
func ServeWS(hub *Hub, authn middleware.Authenticator, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		actor, _, err := authn.Authenticate(r.Context(), tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		var channelID uuid.UUID
		if raw := r.URL.Query().Get("channel_id"); raw != "" {
			if channelID, err = uuid.Parse(raw); err != nil {
				http.Error(w, "invalid channel_id", http.StatusBadRequest)
				return
			}
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			hub.logger.Warn("ws: accept error", slog.String("error", err.Error()))
			return
		}

		client := NewClient(hub, conn, actor.UserID)
		if !hub.add(client) {
			client.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
		if channelID != uuid.Nil {
			for _, topic := range pubsub.Topics {
				client.Subscribe(topic, channelID)
			}
		}

		go client.WritePump()
		go client.ReadPump()
	}
}

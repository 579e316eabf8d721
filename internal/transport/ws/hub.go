package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vedran77/lobby/internal/pubsub"
	"nhooyr.io/websocket"
)

// Hub tracks the live WebSocket clients. Events reach clients through their
// own bus subscriptions, not through the hub.
type Hub struct {
	bus    *pubsub.Bus
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

func NewHub(bus *pubsub.Bus, logger *slog.Logger) *Hub {
	return &Hub{
		bus:     bus,
		logger:  logger,
		clients: make(map[*Client]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close(websocket.StatusGoingAway, "server shutting down")
	}
	h.logger.Info("ws hub stopped", slog.Int("clients", len(clients)))
	return nil
}

// add registers c; it fails once the hub is shutting down.
func (h *Hub) add(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("ws hub: client connected", slog.String("user_id", c.userID.String()), slog.Int("total", len(h.clients)))
	return true
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.logger.Info("ws hub: client disconnected", slog.String("user_id", c.userID.String()), slog.Int("total", len(h.clients)))
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

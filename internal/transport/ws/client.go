package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/lobby/internal/pubsub"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
	sendBufSize    = 256
)

type subscription struct {
	topic     pubsub.Topic
	channelID uuid.UUID
}

// Client represents a single WebSocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID uuid.UUID
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// subs holds the cancel func of each live bus subscription.
	subs map[subscription]context.CancelFunc
	mu   sync.Mutex

	send   chan []byte
	closed atomic.Bool
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	conn.SetReadLimit(maxMessageSize)
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		logger: hub.logger.With(slog.String("user_id", userID.String())),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[subscription]context.CancelFunc),
		send:   make(chan []byte, sendBufSize),
	}
}

// Subscribe starts forwarding bus events of topic for channelID. It reports
// false if the subscription already existed.
func (c *Client) Subscribe(topic pubsub.Topic, channelID uuid.UUID) bool {
	key := subscription{topic: topic, channelID: channelID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[key]; ok {
		return false
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.subs[key] = cancel

	go c.forward(c.hub.bus.Subscribe(ctx, topic, channelID))
	return true
}

// Unsubscribe stops a subscription.
func (c *Client) Unsubscribe(topic pubsub.Topic, channelID uuid.UUID) bool {
	key := subscription{topic: topic, channelID: channelID}

	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.subs[key]
	if ok {
		cancel()
		delete(c.subs, key)
	}
	return ok
}

func (c *Client) forward(events <-chan pubsub.Event) {
	for evt := range events {
		out, err := fromBus(evt)
		if err != nil {
			c.logger.Warn("ws: marshal error", slog.String("error", err.Error()))
			continue
		}
		c.enqueue(out)
	}
}

// ReadPump reads client events until the connection fails or is closed.
func (c *Client) ReadPump() {
	defer c.Close(websocket.StatusNormalClosure, "")

	for {
		var event Event
		err := wsjson.Read(context.Background(), c.conn, &event)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || c.closed.Load() {
				c.logger.Info("ws: client disconnected")
			} else {
				c.logger.Warn("ws: read error", slog.String("error", err.Error()))
			}
			return
		}

		c.handleEvent(&event)
	}
}

// WritePump writes queued events to the WebSocket and keeps it alive.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.logger.Warn("ws: write error", slog.String("error", err.Error()))
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.logger.Warn("ws: ping error", slog.String("error", err.Error()))
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Close leaves the hub, closes the connection and ends every subscription.
// Only the first call has any effect.
func (c *Client) Close(code websocket.StatusCode, reason string) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.hub.remove(c)
	c.conn.Close(code, reason)
	c.cancel()
}

// handleEvent routes an incoming client event.
func (c *Client) handleEvent(event *Event) {
	switch event.Type {
	case EventTypeSubscribe, EventTypeUnsubscribe:
		var p SubscribePayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.ChannelID == uuid.Nil {
			c.sendError("INVALID_PAYLOAD", "invalid "+event.Type+" payload")
			return
		}
		topics := []pubsub.Topic{p.Topic}
		if p.Topic == "" {
			topics = pubsub.Topics
		} else if !p.Topic.Valid() {
			c.sendError("UNKNOWN_TOPIC", "unknown topic: "+string(p.Topic))
			return
		}

		reply := EventTypeSubscribed
		for _, topic := range topics {
			if event.Type == EventTypeSubscribe {
				c.Subscribe(topic, p.ChannelID)
			} else {
				c.Unsubscribe(topic, p.ChannelID)
				reply = EventTypeUnsubscribed
			}
		}
		c.reply(reply, &p.ChannelID, p)

	case EventTypePing:
		c.reply(EventTypePong, nil, nil)

	default:
		c.sendError("UNKNOWN_EVENT", "unknown event type: "+event.Type)
	}
}

func (c *Client) reply(eventType string, channelID *uuid.UUID, payload any) {
	evt := &Event{Type: eventType, ChannelID: channelID, Timestamp: time.Now().Unix()}
	if payload != nil {
		var err error
		if evt, err = NewEvent(eventType, channelID, payload); err != nil {
			return
		}
	}
	c.enqueue(evt)
}

func (c *Client) sendError(code, message string) {
	c.reply(EventTypeError, nil, ErrorPayload{Code: code, Message: message})
}

// enqueue never blocks; a client that cannot keep up misses events.
func (c *Client) enqueue(evt *Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("ws: send buffer full, event dropped", slog.String("type", evt.Type))
	}
}

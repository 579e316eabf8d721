package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/lobby/internal/pubsub"
)

// Event types - Client → Server
const (
	EventTypeSubscribe   = "subscribe"
	EventTypeUnsubscribe = "unsubscribe"
	EventTypePing        = "ping"
)

// Event types - Server → Client. Bus events are sent with their topic name
// as the type.
const (
	EventTypeSubscribed   = "subscribed"
	EventTypeUnsubscribed = "unsubscribed"
	EventTypePong         = "pong"
	EventTypeError        = "error"
)

// Event is the base envelope for all WebSocket messages.
type Event struct {
	Type      string          `json:"type"`
	ChannelID *uuid.UUID      `json:"channel_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// --- Client → Server payloads ---

// SubscribePayload selects one topic of one channel. An empty topic means
// every topic.
type SubscribePayload struct {
	Topic     pubsub.Topic `json:"topic,omitempty"`
	ChannelID uuid.UUID    `json:"channel_id"`
}

// --- Server → Client payloads ---

type NotificationPayload struct {
	Text string `json:"text"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent creates a server→client event with the current timestamp.
func NewEvent(eventType string, channelID *uuid.UUID, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		ChannelID: channelID,
		Payload:   data,
		Timestamp: time.Now().Unix(),
	}, nil
}

// fromBus wraps a bus event for the wire.
func fromBus(evt pubsub.Event) (*Event, error) {
	var payload any
	switch {
	case evt.Message != nil:
		payload = evt.Message
	case evt.User != nil:
		payload = evt.User
	default:
		payload = NotificationPayload{Text: evt.Text}
	}
	channelID := evt.ChannelID
	return NewEvent(string(evt.Topic), &channelID, payload)
}

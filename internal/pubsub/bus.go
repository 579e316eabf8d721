// Package pubsub fans events out to live in-process subscribers.
//
// Delivery is at-most-once: a subscriber whose buffer is full misses the
// event, and nothing is kept for subscribers that are not connected.
package pubsub

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/vedran77/lobby/internal/domain"
	"github.com/vedran77/lobby/internal/metrics"
)

type Topic string

const (
	TopicNewMessage     Topic = "new-message"
	TopicRemovedMessage Topic = "removed-message"
	TopicNotification   Topic = "notification"
	TopicJoined         Topic = "joined"
	TopicLeft           Topic = "left"
)

// Topics lists every topic the bus carries.
var Topics = []Topic{TopicNewMessage, TopicRemovedMessage, TopicNotification, TopicJoined, TopicLeft}

func (t Topic) Valid() bool {
	for _, known := range Topics {
		if t == known {
			return true
		}
	}
	return false
}

// Event is one publication. ChannelID is what subscribers filter on; exactly
// one of User, Message or Text carries the payload.
type Event struct {
	Topic     Topic           `json:"topic"`
	ChannelID uuid.UUID       `json:"channel_id"`
	User      *domain.User    `json:"user,omitempty"`
	Message   *domain.Message `json:"message,omitempty"`
	Text      string          `json:"text,omitempty"`
}

const DefaultBufferSize = 64

type subscriber struct {
	channelID uuid.UUID
	ch        chan Event
}

type Bus struct {
	mu      sync.RWMutex
	subs    map[Topic]map[*subscriber]struct{}
	bufSize int
	metrics metrics.Recorder
}

func NewBus(bufSize int, rec metrics.Recorder) *Bus {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Bus{
		subs:    make(map[Topic]map[*subscriber]struct{}),
		bufSize: bufSize,
		metrics: rec,
	}
}

// Subscribe returns the events published on topic for channelID from now on.
// The channel is closed once ctx is done.
func (b *Bus) Subscribe(ctx context.Context, topic Topic, channelID uuid.UUID) <-chan Event {
	sub := &subscriber{channelID: channelID, ch: make(chan Event, b.bufSize)}

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*subscriber]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[topic], sub)
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
		b.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch
}

// Publish delivers evt to every matching subscriber without blocking and
// returns how many received it.
func (b *Bus) Publish(evt Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.metrics.RecordEventPublished(string(evt.Topic))

	delivered := 0
	for sub := range b.subs[evt.Topic] {
		if sub.channelID != evt.ChannelID {
			continue
		}
		select {
		case sub.ch <- evt:
			delivered++
		default:
			b.metrics.RecordEventDropped(string(evt.Topic))
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

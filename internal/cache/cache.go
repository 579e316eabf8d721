// Package cache is the Redis-backed cache of channel snapshots.
//
// Every entry is a hash holding the store revision the snapshot was taken at
// and the serialized snapshot itself. Writes and invalidations go through Lua
// scripts that refuse to move an entry back to an older revision, so a slow
// writer holding an old snapshot can never overwrite a newer one. An
// invalidation leaves a tombstone (the revision with no data) for the same
// reason.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vedran77/lobby/internal/domain"
)

// ErrMiss is returned when a key is absent or tombstoned.
var ErrMiss = errors.New("cache miss")

const ChannelsListKey = "channels:list"

func ChannelKey(id uuid.UUID) string {
	return "channel:" + id.String()
}

func ChannelMessagesKey(id uuid.UUID) string {
	return "channel:" + id.String() + ":messages"
}

func SessionChannelKey(sid string) string {
	return "session:" + sid + ":current-channel"
}

var setScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'rev') or '-1')
if cur > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'rev', ARGV[1], 'data', ARGV[2])
return 1
`)

var invalidateScript = redis.NewScript(`
local n = 0
for _, key in ipairs(KEYS) do
	local cur = tonumber(redis.call('HGET', key, 'rev') or '-1')
	if cur <= tonumber(ARGV[1]) then
		redis.call('HSET', key, 'rev', ARGV[1])
		redis.call('HDEL', key, 'data')
		n = n + 1
	end
end
return n
`)

type Cache struct {
	rdb redis.UniversalClient
}

func New(rdb redis.UniversalClient) *Cache {
	return &Cache{rdb: rdb}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// Revision returns the revision stored for key, tombstones included, or -1
// when the key is absent.
func (c *Cache) Revision(ctx context.Context, key string) (int64, error) {
	rev, err := c.rdb.HGet(ctx, key, "rev").Int64()
	if errors.Is(err, redis.Nil) {
		return -1, nil
	}
	return rev, err
}

// Invalidate tombstones keys at rev. Keys already holding a newer revision
// are left untouched.
func (c *Cache) Invalidate(ctx context.Context, rev int64, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := invalidateScript.Run(ctx, c.rdb, keys, rev).Err(); err != nil {
		return fmt.Errorf("invalidating %v: %w", keys, err)
	}
	return nil
}

func (c *Cache) GetChannels(ctx context.Context) ([]domain.Channel, error) {
	var channels []domain.Channel
	if err := c.get(ctx, ChannelsListKey, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

func (c *Cache) SetChannels(ctx context.Context, rev int64, channels []domain.Channel) (bool, error) {
	if channels == nil {
		channels = []domain.Channel{}
	}
	return c.set(ctx, ChannelsListKey, rev, channels)
}

func (c *Cache) GetChannel(ctx context.Context, id uuid.UUID) (*domain.Channel, error) {
	var ch domain.Channel
	if err := c.get(ctx, ChannelKey(id), &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (c *Cache) SetChannel(ctx context.Context, rev int64, ch *domain.Channel) (bool, error) {
	return c.set(ctx, ChannelKey(ch.ID), rev, ch)
}

// cachedMessage keeps the sealed body, which domain.Message hides from JSON.
type cachedMessage struct {
	ID         uuid.UUID `json:"id"`
	ChannelID  uuid.UUID `json:"channel_id"`
	SenderID   uuid.UUID `json:"sender_id"`
	Ciphertext []byte    `json:"ciphertext"`
	Nonce      []byte    `json:"nonce"`
	CreatedAt  time.Time `json:"created_at"`
}

// GetMessages returns the sealed messages of a channel in posting order.
func (c *Cache) GetMessages(ctx context.Context, channelID uuid.UUID) ([]domain.Message, error) {
	var cached []cachedMessage
	if err := c.get(ctx, ChannelMessagesKey(channelID), &cached); err != nil {
		return nil, err
	}
	messages := make([]domain.Message, len(cached))
	for i, m := range cached {
		messages[i] = domain.Message{
			ID:               m.ID,
			ChannelID:        m.ChannelID,
			SenderID:         m.SenderID,
			ContentEncrypted: m.Ciphertext,
			Nonce:            m.Nonce,
			CreatedAt:        m.CreatedAt,
		}
	}
	return messages, nil
}

func (c *Cache) SetMessages(ctx context.Context, rev int64, channelID uuid.UUID, messages []domain.Message) (bool, error) {
	cached := make([]cachedMessage, len(messages))
	for i, m := range messages {
		cached[i] = cachedMessage{
			ID:         m.ID,
			ChannelID:  m.ChannelID,
			SenderID:   m.SenderID,
			Ciphertext: m.ContentEncrypted,
			Nonce:      m.Nonce,
			CreatedAt:  m.CreatedAt,
		}
	}
	return c.set(ctx, ChannelMessagesKey(channelID), rev, cached)
}

// SessionChannel returns the channel pointer stored for a session; nil means
// the session is unjoined.
func (c *Cache) SessionChannel(ctx context.Context, sid string) (*uuid.UUID, error) {
	val, err := c.rdb.Get(ctx, SessionChannelKey(sid)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	if val == "" {
		return nil, nil
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sid, err)
	}
	return &id, nil
}

func (c *Cache) SetSessionChannel(ctx context.Context, sid string, channelID *uuid.UUID) error {
	val := ""
	if channelID != nil {
		val = channelID.String()
	}
	return c.rdb.Set(ctx, SessionChannelKey(sid), val, 0).Err()
}

func (c *Cache) DeleteSession(ctx context.Context, sid string) error {
	return c.rdb.Del(ctx, SessionChannelKey(sid)).Err()
}

func (c *Cache) get(ctx context.Context, key string, dst any) error {
	data, err := c.rdb.HGet(ctx, key, "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

// set stores v at rev. It reports false when a newer revision was already
// present and the write was dropped.
func (c *Cache) set(ctx context.Context, key string, rev int64, v any) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("encoding %s: %w", key, err)
	}
	n, err := setScript.Run(ctx, c.rdb, []string{key}, rev, data).Int()
	if err != nil {
		return false, fmt.Errorf("writing %s: %w", key, err)
	}
	return n == 1, nil
}

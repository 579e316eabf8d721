package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/lobby/internal/cache"
	"github.com/vedran77/lobby/internal/domain"
	"github.com/vedran77/lobby/internal/encryption"
	"github.com/vedran77/lobby/internal/logging"
	"github.com/vedran77/lobby/internal/pubsub"
	"github.com/vedran77/lobby/internal/repository/memory"
	"github.com/vedran77/lobby/internal/session"
)

type env struct {
	store    *memory.Store
	redis    *miniredis.Miniredis
	cache    *cache.Cache
	sessions *session.Registry
	bus      *pubsub.Bus
	box      *encryption.Box
	applier  *Applier
	channels *ChannelService
	messages *MessageService
	auth     *AuthService
	admin    domain.Actor
}

func newEnv(t *testing.T) *env {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	box, err := encryption.NewBox(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)

	e := &env{
		store:    memory.NewStore(),
		redis:    mr,
		cache:    cache.New(rdb),
		sessions: session.NewRegistry(),
		bus:      pubsub.NewBus(16, nil),
		box:      box,
	}
	e.applier = NewApplier(e.store, e.cache, e.sessions, e.bus, logging.Discard(), nil)
	e.messages = NewMessageService(e.applier, box)
	e.channels = NewChannelService(e.applier, e.messages)
	e.auth = NewAuthService(e.applier, "test-secret", func(name string) bool { return name == "root" }, nil, nil)

	root := e.register(t, "root")
	e.admin = domain.Actor{UserID: root.ID, Username: root.Username, Role: root.Role}
	return e
}

// register creates a user and returns it; the user has one open session.
func (e *env) register(t *testing.T, username string) *domain.User {
	t.Helper()
	resp, err := e.auth.Register(context.Background(), RegisterInput{
		Email:       username + "@example.com",
		Username:    username,
		DisplayName: username,
		Password:    "Password1",
	})
	require.NoError(t, err)
	return resp.User
}

func actorOf(u *domain.User) domain.Actor {
	return domain.Actor{UserID: u.ID, Username: u.Username, Role: u.Role}
}

func (e *env) channel(t *testing.T, name string) *domain.Channel {
	t.Helper()
	ch, err := e.channels.Create(context.Background(), e.admin, CreateChannelInput{Name: name})
	require.NoError(t, err)
	return ch
}

func (e *env) storeChannel(t *testing.T, id uuid.UUID) *domain.Channel {
	t.Helper()
	ch, err := e.store.Channels().GetByID(context.Background(), id)
	require.NoError(t, err)
	return ch
}

func (e *env) storeUser(t *testing.T, id uuid.UUID) *domain.User {
	t.Helper()
	u, err := e.store.Users().GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (e *env) subscribe(t *testing.T, topic pubsub.Topic, channelID uuid.UUID) <-chan pubsub.Event {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return e.bus.Subscribe(ctx, topic, channelID)
}

func next(t *testing.T, ch <-chan pubsub.Event) pubsub.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return pubsub.Event{}
	}
}

func none(t *testing.T, ch <-chan pubsub.Event) {
	t.Helper()
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %+v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/vedran77/lobby/internal/cache"
	"github.com/vedran77/lobby/internal/domain"
	"github.com/vedran77/lobby/internal/membership"
	"github.com/vedran77/lobby/internal/metrics"
	"github.com/vedran77/lobby/internal/pubsub"
	"github.com/vedran77/lobby/internal/repository"
	"github.com/vedran77/lobby/internal/session"
)

// Applier runs store mutations and fires their effects after commit, in a
// fixed order: cache, session mirrors, then the bus. Failures after commit
// are logged and swallowed; the store stays authoritative.
type Applier struct {
	store    repository.Store
	cache    *cache.Cache
	sessions *session.Registry
	bus      *pubsub.Bus
	logger   *slog.Logger
	metrics  metrics.Recorder
}

func NewApplier(store repository.Store, c *cache.Cache, sessions *session.Registry, bus *pubsub.Bus, logger *slog.Logger, rec metrics.Recorder) *Applier {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Applier{
		store:    store,
		cache:    c,
		sessions: sessions,
		bus:      bus,
		logger:   logger,
		metrics:  rec,
	}
}

// mutation does the store work of an operation and returns its effects.
type mutation func(ctx context.Context, tx repository.Tx) (membership.Effects, error)

type channelSnapshot struct {
	id       uuid.UUID
	channel  *domain.Channel
	messages []domain.Message
	withMsgs bool
}

// Run executes fn in one transaction and, once it has committed, applies the
// returned effects. It returns the commit revision.
func (a *Applier) Run(ctx context.Context, fn mutation) (int64, error) {
	var (
		rev       int64
		effects   membership.Effects
		snapshots []channelSnapshot
	)

	err := a.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		// First statement: serializes writers and numbers this commit.
		if rev, err = tx.BumpRevision(ctx); err != nil {
			return fmt.Errorf("bumping revision: %w", err)
		}
		if effects, err = fn(ctx, tx); err != nil {
			return err
		}
		snapshots, err = snapshot(ctx, tx, effects)
		return err
	})
	if err != nil {
		return 0, storage(err)
	}

	a.fire(context.WithoutCancel(ctx), rev, effects, snapshots)
	return rev, nil
}

func snapshot(ctx context.Context, tx repository.Tx, effects membership.Effects) ([]channelSnapshot, error) {
	var snaps []channelSnapshot
	for _, id := range effects.Refresh {
		ch, err := tx.Channels().GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("snapshotting channel %s: %w", id, err)
		}
		snaps = append(snaps, channelSnapshot{id: id, channel: ch})
	}
	for _, id := range effects.RefreshMessages {
		msgs, err := tx.Messages().ListByChannel(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("snapshotting messages of %s: %w", id, err)
		}
		snaps = append(snaps, channelSnapshot{id: id, messages: msgs, withMsgs: true})
	}
	return snaps, nil
}

func (a *Applier) fire(ctx context.Context, rev int64, effects membership.Effects, snaps []channelSnapshot) {
	if err := a.cache.Invalidate(ctx, rev, effects.Invalidate...); err != nil {
		a.effectFailed("cache", err, slog.Any("keys", effects.Invalidate))
	}
	for _, snap := range snaps {
		var err error
		switch {
		case snap.withMsgs:
			_, err = a.cache.SetMessages(ctx, rev, snap.id, snap.messages)
		case snap.channel != nil:
			_, err = a.cache.SetChannel(ctx, rev, snap.channel)
		}
		if err != nil {
			a.effectFailed("cache", err, slog.String("channel_id", snap.id.String()))
		}
	}

	for _, upd := range effects.Sessions {
		for _, sid := range a.sessions.SetChannel(upd.UserID, upd.ChannelID) {
			if err := a.cache.SetSessionChannel(ctx, sid, upd.ChannelID); err != nil {
				a.effectFailed("session", err, slog.String("key", cache.SessionChannelKey(sid)))
			}
		}
	}

	for _, evt := range effects.Events {
		a.bus.Publish(evt)
	}
}

func (a *Applier) effectFailed(stage string, err error, attrs ...any) {
	a.metrics.RecordSideEffectFailure(stage)
	a.logger.Warn("post-commit step failed", append([]any{slog.String("stage", stage), slog.String("error", err.Error())}, attrs...)...)
}

// readThrough serves key from the cache, falling back to a snapshot read of
// the store and repopulating the key at the snapshot's revision.
func readThrough[T any](
	ctx context.Context,
	a *Applier,
	key string,
	get func(ctx context.Context) (T, error),
	load func(ctx context.Context, r repository.Repos) (T, error),
	put func(ctx context.Context, rev int64, v T) (bool, error),
) (T, error) {
	v, err := get(ctx)
	if err == nil {
		a.metrics.RecordCacheHit(key)
		return v, nil
	}
	a.metrics.RecordCacheMiss(key)
	if !errors.Is(err, cache.ErrMiss) {
		a.logger.Warn("cache read failed", slog.String("key", key), slog.String("error", err.Error()))
	}

	var rev int64
	err = a.store.Snapshot(ctx, func(ctx context.Context, r repository.Repos) error {
		var err error
		if rev, err = r.Revision(ctx); err != nil {
			return err
		}
		v, err = load(ctx, r)
		return err
	})
	if err != nil {
		var zero T
		return zero, storage(err)
	}

	if _, err := put(context.WithoutCancel(ctx), rev, v); err != nil {
		a.logger.Warn("cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	return v, nil
}

// openSession records a new session's channel pointer in the cache.
func (a *Applier) openSession(ctx context.Context, m *session.Mirror) {
	if err := a.cache.SetSessionChannel(ctx, m.ID(), m.ChannelID()); err != nil {
		a.effectFailed("session", err, slog.String("key", cache.SessionChannelKey(m.ID())))
	}
}

// closeSessions drops the cached pointers of destroyed sessions.
func (a *Applier) closeSessions(ctx context.Context, sids ...string) {
	for _, sid := range sids {
		if err := a.cache.DeleteSession(ctx, sid); err != nil {
			a.effectFailed("session", err, slog.String("key", cache.SessionChannelKey(sid)))
		}
	}
}

package membership

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/lobby/internal/cache"
	"github.com/vedran77/lobby/internal/domain"
	"github.com/vedran77/lobby/internal/pubsub"
	"github.com/vedran77/lobby/internal/repository"
	"github.com/vedran77/lobby/internal/repository/memory"
)

func fixtures() (domain.User, *domain.Channel) {
	return domain.User{ID: uuid.New(), Username: "u1"},
		&domain.Channel{ID: uuid.New(), Name: "c1", UserIDs: []uuid.UUID{}}
}

func TestJoin(t *testing.T) {
	u, ch := fixtures()

	tr, err := Join(u, ch)
	require.NoError(t, err)

	assert.Equal(t, OpAdd, tr.Op)
	require.NotNil(t, tr.User.ChannelID)
	assert.Equal(t, ch.ID, *tr.User.ChannelID)
	assert.Equal(t, []uuid.UUID{u.ID}, tr.Channel.UserIDs)
	assert.Empty(t, ch.UserIDs, "input channel must not be mutated")

	assert.ElementsMatch(t, []string{cache.ChannelsListKey, cache.ChannelKey(ch.ID)}, tr.Effects.Invalidate)
	assert.Equal(t, []uuid.UUID{ch.ID}, tr.Effects.Refresh)
	assert.Empty(t, tr.Effects.RefreshMessages)
	require.Len(t, tr.Effects.Sessions, 1)
	assert.Equal(t, ch.ID, *tr.Effects.Sessions[0].ChannelID)

	require.Len(t, tr.Effects.Events, 2)
	assert.Equal(t, pubsub.TopicJoined, tr.Effects.Events[0].Topic)
	assert.Equal(t, u.ID, tr.Effects.Events[0].User.ID)
	assert.Equal(t, pubsub.TopicNotification, tr.Effects.Events[1].Topic)
	assert.Equal(t, "u1 has joined", tr.Effects.Events[1].Text)
	assert.Equal(t, ch.ID, tr.Effects.Events[1].ChannelID)
}

func TestJoin_Preconditions(t *testing.T) {
	u, ch := fixtures()
	other := uuid.New()

	joined := u
	joined.ChannelID = &other
	_, err := Join(joined, ch)
	assert.ErrorIs(t, err, ErrOneChannel)

	_, err = Join(u, nil)
	assert.ErrorIs(t, err, ErrChannelNotFound)

	stale := *ch
	stale.UserIDs = []uuid.UUID{u.ID}
	_, err = Join(u, &stale)
	assert.ErrorIs(t, err, ErrAlreadyJoined)
}

func TestLeave(t *testing.T) {
	u, ch := fixtures()
	ch.UserIDs = []uuid.UUID{uuid.New(), u.ID}
	u.ChannelID = &ch.ID

	tr, err := Leave(u, ch)
	require.NoError(t, err)

	assert.Equal(t, OpRemove, tr.Op)
	assert.Nil(t, tr.User.ChannelID)
	assert.NotContains(t, tr.Channel.UserIDs, u.ID)
	assert.Len(t, tr.Channel.UserIDs, 1)
	assert.Len(t, ch.UserIDs, 2)
	assert.Nil(t, tr.Effects.Sessions[0].ChannelID)
	assert.Equal(t, pubsub.TopicLeft, tr.Effects.Events[0].Topic)
	assert.Equal(t, "u1 has left", tr.Effects.Events[1].Text)
}

func TestLeave_Preconditions(t *testing.T) {
	u, ch := fixtures()

	_, err := Leave(u, ch)
	assert.ErrorIs(t, err, ErrJoinFirst)

	u.ChannelID = &ch.ID
	_, err = Leave(u, nil)
	assert.ErrorIs(t, err, ErrChannelNotFound)

	_, err = Leave(u, ch)
	assert.ErrorIs(t, err, ErrAlreadyLeft)
}

func TestEvict(t *testing.T) {
	u, ch := fixtures()

	tr := Evict(u, nil)
	assert.Equal(t, OpNone, tr.Op)
	assert.Empty(t, tr.Effects.Events)

	ch.UserIDs = []uuid.UUID{u.ID}
	u.ChannelID = &ch.ID
	tr = Evict(u, ch)
	assert.Equal(t, OpRemove, tr.Op)
	assert.Empty(t, tr.Channel.UserIDs)
}

func TestEvict_ClearsDanglingPointer(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	u, ch := fixtures()
	require.NoError(t, store.Users().Create(ctx, &u))
	require.NoError(t, store.Channels().Create(ctx, ch))
	require.NoError(t, store.Users().SetChannel(ctx, u.ID, &ch.ID))
	u.ChannelID = &ch.ID

	tr := Evict(u, ch)
	assert.Equal(t, OpNone, tr.Op)
	assert.Nil(t, tr.User.ChannelID)
	assert.Empty(t, tr.Effects.Events)
	assert.Equal(t, []SessionUpdate{{UserID: u.ID}}, tr.Effects.Sessions)

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tr.Apply(ctx, tx)
	}))
	user, err := store.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, user.ChannelID)
}

func TestEffects_MergeDedupesKeys(t *testing.T) {
	id := uuid.New()
	var e Effects
	e.Merge(MessagesChanged(id))
	e.Merge(MessagesChanged(id))

	assert.Len(t, e.Invalidate, 3)
	assert.Equal(t, []uuid.UUID{id}, e.Refresh)
	assert.Equal(t, []uuid.UUID{id}, e.RefreshMessages)
}

func TestApply_JoinThenLeave(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	u, ch := fixtures()
	require.NoError(t, store.Users().Create(ctx, &u))
	require.NoError(t, store.Channels().Create(ctx, ch))

	err := store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		tr, err := Join(u, ch)
		if err != nil {
			return err
		}
		return tr.Apply(ctx, tx)
	})
	require.NoError(t, err)

	got, err := store.Channels().GetByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{u.ID}, got.UserIDs)
	user, err := store.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, ch.ID, *user.ChannelID)

	err = store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		tr, err := Leave(*user, got)
		if err != nil {
			return err
		}
		return tr.Apply(ctx, tx)
	})
	require.NoError(t, err)

	got, err = store.Channels().GetByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.Empty(t, got.UserIDs)
	user, err = store.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, user.ChannelID)
}

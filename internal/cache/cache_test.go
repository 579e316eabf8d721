package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/lobby/internal/domain"
)

func newCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb), mr
}

func TestKeys(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	assert.Equal(t, "channel:00000000-0000-0000-0000-000000000001", ChannelKey(id))
	assert.Equal(t, "channel:00000000-0000-0000-0000-000000000001:messages", ChannelMessagesKey(id))
	assert.Equal(t, "session:abc:current-channel", SessionChannelKey("abc"))
}

func TestGetChannel_MissOnEmpty(t *testing.T) {
	c, _ := newCache(t)

	_, err := c.GetChannel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrMiss)
	_, err = c.GetChannels(context.Background())
	assert.ErrorIs(t, err, ErrMiss)
}

func TestSetChannel_RoundTrip(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	ch := &domain.Channel{ID: uuid.New(), Name: "general", UserIDs: []uuid.UUID{uuid.New()}, MessageIDs: []uuid.UUID{}}

	ok, err := c.SetChannel(ctx, 3, ch)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := c.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, ch.Name, got.Name)
	assert.Equal(t, ch.UserIDs, got.UserIDs)

	rev, err := c.Revision(ctx, ChannelKey(ch.ID))
	require.NoError(t, err)
	assert.Equal(t, int64(3), rev)
}

func TestSet_RejectsOlderRevision(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	id := uuid.New()

	ok, err := c.SetChannel(ctx, 5, &domain.Channel{ID: id, Name: "new"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.SetChannel(ctx, 4, &domain.Channel{ID: id, Name: "old"})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := c.GetChannel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Name)
}

func TestSet_SameRevisionOverwrites(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	id := uuid.New()

	_, err := c.SetChannel(ctx, 5, &domain.Channel{ID: id, Name: "a"})
	require.NoError(t, err)
	ok, err := c.SetChannel(ctx, 5, &domain.Channel{ID: id, Name: "b"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInvalidate_TombstoneBlocksOlderSnapshot(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	_, err := c.SetChannels(ctx, 1, []domain.Channel{{ID: uuid.New(), Name: "a"}})
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx, 2, ChannelsListKey))

	_, err = c.GetChannels(ctx)
	assert.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, "2", mr.HGet(ChannelsListKey, "rev"))

	// A reader that snapshotted before commit 2 must not resurrect its view.
	ok, err := c.SetChannels(ctx, 1, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.SetChannels(ctx, 2, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := c.GetChannels(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInvalidate_SkipsNewerEntries(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	id := uuid.New()

	_, err := c.SetChannel(ctx, 7, &domain.Channel{ID: id, Name: "fresh"})
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx, 6, ChannelKey(id), ChannelsListKey))

	got, err := c.GetChannel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Name)

	rev, err := c.Revision(ctx, ChannelsListKey)
	require.NoError(t, err)
	assert.Equal(t, int64(6), rev)
}

func TestMessages_KeepSealedBody(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	channelID := uuid.New()
	msgs := []domain.Message{
		{ID: uuid.New(), ChannelID: channelID, SenderID: uuid.New(), ContentEncrypted: []byte{1, 2}, Nonce: []byte{3}, CreatedAt: time.Unix(10, 0).UTC()},
		{ID: uuid.New(), ChannelID: channelID, SenderID: uuid.New(), ContentEncrypted: []byte{4}, Nonce: []byte{5}, CreatedAt: time.Unix(20, 0).UTC()},
	}

	_, err := c.SetMessages(ctx, 1, channelID, msgs)
	require.NoError(t, err)

	got, err := c.GetMessages(ctx, channelID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, msgs[0].ID, got[0].ID)
	assert.Equal(t, []byte{1, 2}, got[0].ContentEncrypted)
	assert.Equal(t, []byte{3}, got[0].Nonce)
	assert.True(t, msgs[1].CreatedAt.Equal(got[1].CreatedAt))
}

func TestSessionChannel(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	id := uuid.New()

	_, err := c.SessionChannel(ctx, "s1")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.SetSessionChannel(ctx, "s1", &id))
	got, err := c.SessionChannel(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, id, *got)

	require.NoError(t, c.SetSessionChannel(ctx, "s1", nil))
	got, err = c.SessionChannel(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.DeleteSession(ctx, "s1"))
	_, err = c.SessionChannel(ctx, "s1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestCache_ErrorsWhenRedisDown(t *testing.T) {
	c, mr := newCache(t)
	mr.Close()

	_, err := c.GetChannels(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
	assert.Error(t, c.Invalidate(context.Background(), 1, ChannelsListKey))
}

func TestConnect_BadURL(t *testing.T) {
	_, err := Connect(context.Background(), "not-a-url")
	assert.Error(t, err)
}

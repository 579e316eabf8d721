package session

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/lobby/internal/domain"
)

func TestRegistry_OpenAndGet(t *testing.T) {
	r := NewRegistry()
	u := domain.User{ID: uuid.New(), Username: "u1"}

	m := r.Open(u)
	require.NotEmpty(t, m.ID())

	got, ok := r.Get(m.ID())
	require.True(t, ok)
	assert.Same(t, m, got)
	assert.Equal(t, "u1", got.User().Username)
	assert.Nil(t, got.ChannelID())
}

func TestRegistry_SetChannelRefreshesEverySession(t *testing.T) {
	r := NewRegistry()
	u := domain.User{ID: uuid.New()}
	other := r.Open(domain.User{ID: uuid.New()})
	m1 := r.Open(u)
	m2 := r.Open(u)
	channelID := uuid.New()

	sids := r.SetChannel(u.ID, &channelID)

	assert.ElementsMatch(t, []string{m1.ID(), m2.ID()}, sids)
	assert.Equal(t, channelID, *m1.ChannelID())
	assert.Equal(t, channelID, *m2.ChannelID())
	assert.Nil(t, other.ChannelID())

	r.SetChannel(u.ID, nil)
	assert.Nil(t, m1.ChannelID())
}

func TestMirror_UserIsACopy(t *testing.T) {
	r := NewRegistry()
	channelID := uuid.New()
	m := r.Open(domain.User{ID: uuid.New(), ChannelID: &channelID})

	u := m.User()
	*u.ChannelID = uuid.New()

	assert.Equal(t, channelID, *m.ChannelID())
}

func TestRegistry_CloseUser(t *testing.T) {
	r := NewRegistry()
	u := domain.User{ID: uuid.New()}
	m1 := r.Open(u)
	m2 := r.Open(u)

	sids := r.CloseUser(u.ID)
	assert.ElementsMatch(t, []string{m1.ID(), m2.ID()}, sids)

	_, ok := r.Get(m1.ID())
	assert.False(t, ok)
	assert.Empty(t, r.SetChannel(u.ID, nil))
}

func TestRegistry_RestoreReplaces(t *testing.T) {
	r := NewRegistry()
	u := domain.User{ID: uuid.New()}
	first := r.Restore("sid", u)
	second := r.Restore("sid", u)

	got, ok := r.Get("sid")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.NotSame(t, first, got)
	assert.Len(t, r.SetChannel(u.ID, nil), 1)

	r.Close("sid")
	_, ok = r.Get("sid")
	assert.False(t, ok)
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	m := NewRegistry().Open(domain.User{ID: uuid.New()})
	got, ok := FromContext(NewContext(context.Background(), m))
	require.True(t, ok)
	assert.Same(t, m, got)
}

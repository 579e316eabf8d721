// Package session keeps the per-login mirror of the authenticated user.
//
// A Mirror is created at login and travels with each request in its
// context. Membership changes refresh every mirror of the affected user
// through the Registry.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/vedran77/lobby/internal/domain"
)

type Mirror struct {
	id string

	mu   sync.RWMutex
	user domain.User
}

func (m *Mirror) ID() string {
	return m.id
}

// User returns a copy of the mirrored user.
func (m *Mirror) User() domain.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u := m.user
	if u.ChannelID != nil {
		id := *u.ChannelID
		u.ChannelID = &id
	}
	return u
}

func (m *Mirror) ChannelID() *uuid.UUID {
	return m.User().ChannelID
}

func (m *Mirror) setChannel(channelID *uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if channelID == nil {
		m.user.ChannelID = nil
		return
	}
	id := *channelID
	m.user.ChannelID = &id
}

type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Mirror
	byUser map[uuid.UUID]map[string]*Mirror
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Mirror),
		byUser: make(map[uuid.UUID]map[string]*Mirror),
	}
}

// Open starts a new session for user.
func (r *Registry) Open(user domain.User) *Mirror {
	return r.Restore(uuid.NewString(), user)
}

// Restore registers a mirror under an existing session id, replacing any
// previous one. Used when a token outlives the process that issued it.
func (r *Registry) Restore(sid string, user domain.User) *Mirror {
	m := &Mirror{id: sid}
	m.user = user
	m.setChannel(user.ChannelID)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sid)
	r.byID[sid] = m
	if r.byUser[user.ID] == nil {
		r.byUser[user.ID] = make(map[string]*Mirror)
	}
	r.byUser[user.ID][sid] = m
	return m
}

func (r *Registry) Get(sid string) (*Mirror, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[sid]
	return m, ok
}

// SetChannel refreshes every mirror of userID and returns their session ids.
func (r *Registry) SetChannel(userID uuid.UUID, channelID *uuid.UUID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sids := make([]string, 0, len(r.byUser[userID]))
	for sid, m := range r.byUser[userID] {
		m.setChannel(channelID)
		sids = append(sids, sid)
	}
	return sids
}

// Close destroys one session.
func (r *Registry) Close(sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sid)
}

// CloseUser destroys every session of userID and returns their ids.
func (r *Registry) CloseUser(userID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sids []string
	for sid := range r.byUser[userID] {
		sids = append(sids, sid)
	}
	for _, sid := range sids {
		r.removeLocked(sid)
	}
	return sids
}

func (r *Registry) removeLocked(sid string) {
	m, ok := r.byID[sid]
	if !ok {
		return
	}
	delete(r.byID, sid)
	userID := m.user.ID
	delete(r.byUser[userID], sid)
	if len(r.byUser[userID]) == 0 {
		delete(r.byUser, userID)
	}
}

type contextKey struct{}

func NewContext(ctx context.Context, m *Mirror) context.Context {
	return context.WithValue(ctx, contextKey{}, m)
}

func FromContext(ctx context.Context) (*Mirror, bool) {
	m, ok := ctx.Value(contextKey{}).(*Mirror)
	return m, ok
}

// Package memory is an in-process implementation of repository.Store.
//
// Transactions are serialized by a single mutex and run against a copy of the
// committed state, which replaces it only when the transaction succeeds. It
// backs STORE=memory for local runs and the service tests.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/lobby/internal/domain"
	"github.com/vedran77/lobby/internal/repository"
)

type channelRow struct {
	channel domain.Channel
	seq     int64
}

type memberRow struct {
	channelID uuid.UUID
	seq       int64
}

type messageRow struct {
	message domain.Message
	seq     int64
}

type state struct {
	rev      int64
	seq      int64
	users    map[uuid.UUID]domain.User
	channels map[uuid.UUID]channelRow
	members  map[uuid.UUID]memberRow
	messages map[uuid.UUID]messageRow
}

func newState() *state {
	return &state{
		users:    make(map[uuid.UUID]domain.User),
		channels: make(map[uuid.UUID]channelRow),
		members:  make(map[uuid.UUID]memberRow),
		messages: make(map[uuid.UUID]messageRow),
	}
}

func (s *state) clone() *state {
	return &state{
		rev:      s.rev,
		seq:      s.seq,
		users:    maps.Clone(s.users),
		channels: maps.Clone(s.channels),
		members:  maps.Clone(s.members),
		messages: maps.Clone(s.messages),
	}
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

// access runs fn against a state. Outside a transaction it takes the store
// lock for the duration of one call, like an autocommit statement.
type access func(fn func(st *state) error) error

type repos struct {
	do access
}

func (r repos) Users() repository.UserRepository       { return &userRepo{do: r.do} }
func (r repos) Channels() repository.ChannelRepository { return &channelRepo{do: r.do} }
func (r repos) Messages() repository.MessageRepository { return &messageRepo{do: r.do} }

func (r repos) Revision(ctx context.Context) (int64, error) {
	var rev int64
	err := r.do(func(st *state) error {
		rev = st.rev
		return nil
	})
	return rev, err
}

type txRepos struct {
	repos
}

func (t txRepos) BumpRevision(ctx context.Context) (int64, error) {
	var rev int64
	err := t.do(func(st *state) error {
		st.rev++
		rev = st.rev
		return nil
	})
	return rev, err
}

type Store struct {
	repos
	mu sync.Mutex
	st *state
	// FailCommit, when set, makes the next commit fail after fn succeeded.
	FailCommit error
}

func NewStore() *Store {
	s := &Store{st: newState()}
	s.repos = repos{do: s.autocommit}
	return s
}

func (s *Store) autocommit(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(work); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	direct := func(f func(st *state) error) error { return f(work) }
	if err := fn(ctx, txRepos{repos{do: direct}}); err != nil {
		return err
	}
	if s.FailCommit != nil {
		err := s.FailCommit
		s.FailCommit = nil
		return err
	}
	s.st = work
	return nil
}

func (s *Store) Snapshot(ctx context.Context, fn func(ctx context.Context, r repository.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := s.st
	return fn(ctx, repos{do: func(f func(st *state) error) error { return f(view) }})
}

func now() time.Time {
	return time.Now().UTC()
}

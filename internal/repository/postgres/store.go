package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vedran77/lobby/internal/repository"
)

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is a DBTX that can start transactions.
type Pool interface {
	DBTX
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

type repos struct {
	db DBTX
}

func (r repos) Users() repository.UserRepository       { return NewUserRepo(r.db) }
func (r repos) Channels() repository.ChannelRepository { return NewChannelRepo(r.db) }
func (r repos) Messages() repository.MessageRepository { return NewMessageRepo(r.db) }

func (r repos) Revision(ctx context.Context) (int64, error) {
	var rev int64
	if err := r.db.QueryRow(ctx, `SELECT rev FROM store_revision`).Scan(&rev); err != nil {
		return 0, fmt.Errorf("reading revision: %w", err)
	}
	return rev, nil
}

type txRepos struct {
	repos
}

func (t txRepos) BumpRevision(ctx context.Context) (int64, error) {
	var rev int64
	err := t.db.QueryRow(ctx, `UPDATE store_revision SET rev = rev + 1 RETURNING rev`).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("bumping revision: %w", err)
	}
	return rev, nil
}

// Store is the PostgreSQL durable store.
type Store struct {
	repos
	pool Pool
}

func NewStore(pool Pool) *Store {
	return &Store{repos: repos{db: pool}, pool: pool}
}

// WithTx runs fn inside a read-write transaction. The transaction is detached
// from ctx cancellation: once begun it either commits or rolls back.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	ctx = context.WithoutCancel(ctx)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			err = fmt.Errorf("commit tx: %w", cerr)
		}
	}()

	return fn(ctx, txRepos{repos{db: tx}})
}

func (s *Store) Snapshot(ctx context.Context, fn func(ctx context.Context, r repository.Repos) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	return fn(ctx, repos{db: tx})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

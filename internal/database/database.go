package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/vedran77/lobby/internal/database/migrations"
)

// RetryPolicy bounds the startup connection attempts. Attempts counts the
// first try; zero still tries once.
type RetryPolicy struct {
	Attempts uint64
	Delay    time.Duration
}

// Connect opens a pool and pings it, retrying a fixed number of times with a
// fixed delay. The last error is returned when the attempts run out.
func Connect(ctx context.Context, dsn string, policy RetryPolicy, logger *slog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	var pool *pgxpool.Pool
	err = ping(ctx, policy, logger, func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return fmt.Errorf("unable to create connection pool: %w", err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return fmt.Errorf("unable to ping database: %w", err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// ping runs attempt until it succeeds or the policy is exhausted.
func ping(ctx context.Context, policy RetryPolicy, logger *slog.Logger, attempt func(ctx context.Context) error) error {
	var retries uint64
	if policy.Attempts > 1 {
		retries = policy.Attempts - 1
	}
	backoff := retry.WithMaxRetries(retries, retry.NewConstant(policy.Delay))

	n := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		n++
		if err := attempt(ctx); err != nil {
			logger.Warn("database not ready", slog.Int("attempt", n), slog.String("error", err.Error()))
			return retry.RetryableError(err)
		}
		return nil
	})
}

// gooseUp is a seam for tests.
var gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
	return goose.UpContext(ctx, db, dir)
}

// Migrate applies the embedded migrations through a database/sql handle
// borrowed from the pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUp(ctx, db, "."); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

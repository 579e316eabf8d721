package database

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/lobby/internal/database/migrations"
	"github.com/vedran77/lobby/internal/logging"
)

func TestPing_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := ping(context.Background(), RetryPolicy{Attempts: 5, Delay: time.Millisecond}, logging.Discard(),
		func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPing_GivesUpAfterFixedCount(t *testing.T) {
	calls := 0
	err := ping(context.Background(), RetryPolicy{Attempts: 2, Delay: time.Millisecond}, logging.Discard(),
		func(ctx context.Context) error {
			calls++
			return errors.New("connection refused")
		})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 2, calls)
}

func TestPing_ZeroAttemptsTriesOnce(t *testing.T) {
	calls := 0
	err := ping(context.Background(), RetryPolicy{Delay: time.Millisecond}, logging.Discard(),
		func(ctx context.Context) error {
			calls++
			return errors.New("connection refused")
		})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestConnect_InvalidDSN(t *testing.T) {
	_, err := Connect(context.Background(), "://bad", RetryPolicy{}, logging.Discard())
	assert.Error(t, err)
}

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	body, err := fs.ReadFile(migrations.FS, files[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), "-- +goose Up")
	assert.Contains(t, string(body), "store_revision")
}

package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirokuhq/kiroku/internal/storage"
)

func TestWithRetryReplaysSerializationFailure(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := storage.WithRetry(ctx, func() error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryOtherErrorsReturnImmediately(t *testing.T) {
	ctx := context.Background()

	boom := errors.New("boom")
	calls := 0
	err := storage.WithRetry(ctx, func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestWithRetryGivesUpAfterAttempts(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := storage.WithRetry(ctx, func() error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "40P01", pgErr.Code)
	assert.Equal(t, 4, calls) // initial attempt plus retries
}

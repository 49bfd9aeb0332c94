package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Concurrent appenders on one run chain can trip Postgres serialization
// or deadlock detection; both clear on replay once the competing
// transaction finishes, so a short bounded retry absorbs them.
const (
	retryAttempts  = 3
	retryBaseDelay = 50 * time.Millisecond
)

// retriable reports whether err is a transient conflict worth replaying:
// serialization_failure (40001) or deadlock_detected (40P01).
func retriable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// WithRetry runs fn, replaying it on transient conflicts with jittered
// exponential backoff. Any other error returns immediately; the last
// conflict is returned once the attempts are spent.
func WithRetry(ctx context.Context, fn func() error) error {
	delay := retryBaseDelay
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil || !retriable(err) || attempt == retryAttempts {
			return err
		}
		wait := delay + time.Duration(rand.Int64N(int64(delay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
}

// Package storage provides the PostgreSQL storage layer for kiroku.
//
// The workflow-run ledger is a property graph realized on Postgres: entity
// tables are the nodes, foreign-key columns and the run_events parent
// pointer are the edges. Every query is parameterized and scanned into
// typed records; the package never issues ad-hoc unparameterized SQL.
//
// It manages a pgxpool for normal queries plus a dedicated connection for
// LISTEN/NOTIFY (job wakeups and live status broadcast).
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgxpool.Pool for normal queries (via PgBouncer)
// and a dedicated pgx.Conn for LISTEN/NOTIFY (direct to Postgres).
type DB struct {
	pool       *pgxpool.Pool
	notifyConn *pgx.Conn
	logger     *slog.Logger
}

// New creates a new DB with a connection pool.
// poolDSN should point to PgBouncer (or directly to Postgres in dev).
// notifyDSN should point directly to Postgres for LISTEN/NOTIFY support;
// empty disables the notify connection.
func New(ctx context.Context, poolDSN, notifyDSN string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(poolDSN)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	var notifyConn *pgx.Conn
	if notifyDSN != "" {
		notifyConn, err = pgx.Connect(ctx, notifyDSN)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("storage: connect notify: %w", err)
		}
	}

	return &DB{
		pool:       pool,
		notifyConn: notifyConn,
		logger:     logger,
	}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// HasNotifyConn reports whether a dedicated LISTEN/NOTIFY connection exists.
func (db *DB) HasNotifyConn() bool {
	return db.notifyConn != nil
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool and notify connection. The pool
// close blocks until every checked-out connection is returned.
func (db *DB) Close(ctx context.Context) {
	db.pool.Close()
	if db.notifyConn != nil {
		if err := db.notifyConn.Close(ctx); err != nil {
			db.logger.Warn("storage: close notify connection", "error", err)
		}
	}
}

// CloseWithTimeout closes like Close but gives up after timeout instead
// of waiting on connections that are still checked out. An abandoned
// query can hold a pool connection indefinitely; shutdown paths that
// have already blown their deadline use this so the process still
// exits. Reports whether the close completed.
func (db *DB) CloseWithTimeout(ctx context.Context, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		db.Close(ctx)
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		db.logger.Warn("storage: close timed out, abandoning connections", "timeout", timeout)
		return false
	}
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kirokuhq/kiroku/internal/model"
)

// ErrNoJob is returned by ClaimJob when the queue has no queued work.
var ErrNoJob = errors.New("storage: no queued job")

// EnqueueJob adds a job to the named queue and wakes waiting workers via
// NOTIFY. A missing id is generated. Enqueueing an id that already exists
// is a no-op (the original delivery wins).
func (db *DB) EnqueueJob(ctx context.Context, queue, name string, data json.RawMessage, id string) (model.Job, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}

	job := model.Job{
		ID:        id,
		Name:      name,
		Data:      data,
		State:     model.JobStateQueued,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := db.pool.Exec(ctx,
		`INSERT INTO jobs (id, queue, name, data, state, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		job.ID, queue, job.Name, job.Data, string(job.State), job.CreatedAt,
	); err != nil {
		return model.Job{}, fmt.Errorf("storage: enqueue job: %w", err)
	}

	// Best-effort wakeup; pollers pick the job up anyway.
	if err := db.Notify(ctx, ChannelJobs, queue); err != nil {
		db.logger.Warn("storage: job wakeup notify failed", "error", err)
	}
	return job, nil
}

// ClaimJob atomically takes the oldest queued job from the queue and marks
// it active. FOR UPDATE SKIP LOCKED guarantees at-most-one active delivery
// per job across concurrent workers. Returns ErrNoJob when the queue is
// empty.
func (db *DB) ClaimJob(ctx context.Context, queue string) (model.Job, error) {
	var job model.Job
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT id, name, data, created_at FROM jobs
			 WHERE queue = $1 AND state = 'queued'
			 ORDER BY created_at ASC
			 LIMIT 1
			 FOR UPDATE SKIP LOCKED`, queue,
		).Scan(&job.ID, &job.Name, &job.Data, &job.CreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNoJob
			}
			return fmt.Errorf("storage: claim job: %w", err)
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET state = 'active', started_at = $1 WHERE id = $2`, now, job.ID,
		); err != nil {
			return fmt.Errorf("storage: activate job %s: %w", job.ID, err)
		}
		job.State = model.JobStateActive
		job.StartedAt = &now
		return nil
	})
	if err != nil {
		return model.Job{}, err
	}
	return job, nil
}

// CompleteJob records a successful result.
func (db *DB) CompleteJob(ctx context.Context, id string, result json.RawMessage) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs SET state = 'completed', result = $1, finished_at = $2 WHERE id = $3 AND state = 'active'`,
		result, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage: complete job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failure with its message. No retry bookkeeping here;
// retry policy, if any, belongs to whoever re-enqueues.
func (db *DB) FailJob(ctx context.Context, id, errMsg string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs SET state = 'failed', error = $1, finished_at = $2 WHERE id = $3 AND state = 'active'`,
		errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage: fail job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob retrieves a job by id.
func (db *DB) GetJob(ctx context.Context, id string) (model.Job, error) {
	var job model.Job
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, data, state, result, error, created_at, started_at, finished_at
		 FROM jobs WHERE id = $1`, id,
	).Scan(&job.ID, &job.Name, &job.Data, &job.State, &job.Result, &job.Error,
		&job.CreatedAt, &job.StartedAt, &job.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Job{}, ErrNotFound
		}
		return model.Job{}, fmt.Errorf("storage: get job: %w", err)
	}
	return job, nil
}

// QueueDepth returns the number of queued jobs on the queue. Feeds the
// worker's observable gauge.
func (db *DB) QueueDepth(ctx context.Context, queue string) (int64, error) {
	var depth int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE queue = $1 AND state = 'queued'`, queue,
	).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("storage: queue depth: %w", err)
	}
	return depth, nil
}

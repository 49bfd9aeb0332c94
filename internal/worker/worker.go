// Package worker is the job-queue runtime: it claims work from a named
// queue, validates and routes payloads through a dispatcher, publishes
// live status, and drains cooperatively on shutdown.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/kirokuhq/kiroku/internal/model"
	"github.com/kirokuhq/kiroku/internal/status"
	"github.com/kirokuhq/kiroku/internal/storage"
	"github.com/kirokuhq/kiroku/internal/telemetry"
)

// Runtime consumes one named queue. Claimed jobs run with bounded
// concurrency; the Postgres claim (SKIP LOCKED) guarantees at-most-one
// active delivery per job even with several worker processes on the queue.
type Runtime struct {
	db          *storage.DB
	dispatcher  *Dispatcher
	publisher   *status.Publisher
	logger      *slog.Logger
	queue       string
	concurrency int
	poll        time.Duration

	processed metric.Int64Counter
	failed    metric.Int64Counter
}

// Config holds the runtime's dependencies and settings.
type Config struct {
	DB           *storage.DB
	Dispatcher   *Dispatcher
	Publisher    *status.Publisher
	Logger       *slog.Logger
	Queue        string
	Concurrency  int           // default 1
	PollInterval time.Duration // default 2s; NOTIFY wakeups cut the latency
}

// New creates a runtime.
func New(cfg Config) *Runtime {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	r := &Runtime{
		db:          cfg.DB,
		dispatcher:  cfg.Dispatcher,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger,
		queue:       cfg.Queue,
		concurrency: cfg.Concurrency,
		poll:        cfg.PollInterval,
	}
	r.registerMetrics()
	return r
}

// Run claims and processes jobs until ctx is cancelled, then waits for
// in-flight jobs to finish before returning. The hard shutdown timeout is
// the caller's concern (see cmd/kiroku-worker); Run itself always drains
// fully.
func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("worker started",
		"queue", r.queue,
		"concurrency", r.concurrency,
		"jobs", r.dispatcher.Names(),
	)

	// NOTIFY wakeups: nudge the claim loop when a job is enqueued so idle
	// workers don't wait out a full poll interval.
	wake := make(chan struct{}, 1)
	if r.db.HasNotifyConn() {
		if err := r.db.Listen(ctx, storage.ChannelJobs); err != nil {
			return fmt.Errorf("worker: listen for jobs: %w", err)
		}
		go r.wakeLoop(ctx, wake)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.concurrency)

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

claim:
	for {
		// Drain the queue before sleeping; stop claiming the moment the
		// shutdown signal lands.
		for ctx.Err() == nil {
			job, err := r.db.ClaimJob(ctx, r.queue)
			if errors.Is(err, storage.ErrNoJob) {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					break claim
				}
				r.logger.Error("worker: claim failed", "error", err)
				break
			}
			group.Go(func() error {
				r.processJob(groupCtx, job)
				return nil
			})
		}

		select {
		case <-ctx.Done():
			break claim
		case <-wake:
		case <-ticker.C:
		}
	}

	r.logger.Info("worker draining, waiting for in-flight jobs")
	if err := group.Wait(); err != nil {
		return fmt.Errorf("worker: drain: %w", err)
	}
	r.logger.Info("worker drained")
	return nil
}

// processJob runs one claimed job end to end. The job context is detached
// from the shutdown signal so an in-flight job finishes even while the
// runtime drains.
func (r *Runtime) processJob(ctx context.Context, job model.Job) {
	jobCtx := context.WithoutCancel(ctx)
	log := r.logger.With("job_id", job.ID, "job_name", job.Name)
	log.Info("job started")
	r.publisher.Publish(jobCtx, job.ID, "processing")

	result, err := r.dispatcher.Dispatch(jobCtx, job.ID, job.Name, job.Data)
	if err != nil {
		log.Error("job failed", "error", err)
		r.failed.Add(jobCtx, 1)
		if ferr := r.db.FailJob(jobCtx, job.ID, err.Error()); ferr != nil {
			log.Error("job failure bookkeeping failed", "error", ferr)
		}
		r.publisher.Publish(jobCtx, job.ID, "failed: "+err.Error())
		return
	}

	var resultJSON json.RawMessage
	if result != nil {
		resultJSON, err = json.Marshal(result)
		if err != nil {
			log.Warn("job result not serializable, storing null", "error", err)
			resultJSON = nil
		}
	}
	if cerr := r.db.CompleteJob(jobCtx, job.ID, resultJSON); cerr != nil {
		log.Error("job completion bookkeeping failed", "error", cerr)
	}
	r.processed.Add(jobCtx, 1)
	r.publisher.Publish(jobCtx, job.ID, "completed")
	log.Info("job completed")
}

// wakeLoop forwards NOTIFY wakeups for this runtime's queue to the claim
// loop. A full wake buffer means a wakeup is already pending.
func (r *Runtime) wakeLoop(ctx context.Context, wake chan<- struct{}) {
	for {
		channel, payload, err := r.db.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("worker: notification error, retrying", "error", err)
			continue
		}
		if channel != storage.ChannelJobs || payload != r.queue {
			continue
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

func (r *Runtime) registerMetrics() {
	meter := telemetry.Meter("kiroku/worker")

	r.processed, _ = meter.Int64Counter("kiroku.jobs.processed",
		metric.WithDescription("Jobs completed successfully"))
	r.failed, _ = meter.Int64Counter("kiroku.jobs.failed",
		metric.WithDescription("Jobs that failed dispatch or processing"))

	_, _ = meter.Int64ObservableGauge("kiroku.queue.depth",
		metric.WithDescription("Number of queued jobs on this worker's queue"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			depth, err := r.db.QueueDepth(ctx, r.queue)
			if err != nil {
				return nil // Non-fatal: just skip this observation.
			}
			o.Observe(depth)
			return nil
		}),
	)
}

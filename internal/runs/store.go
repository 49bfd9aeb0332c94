// Package runs is the workflow-run ledger service: it creates runs, hands
// out progressive-attachment handles bound to them, and answers run and
// event-chain queries. All persistence goes through internal/storage.
package runs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kirokuhq/kiroku/internal/model"
	"github.com/kirokuhq/kiroku/internal/storage"
)

// Store creates and queries workflow runs.
type Store struct {
	db     *storage.DB
	logger *slog.Logger
}

// New creates a run store.
func New(db *storage.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Create creates a run in state pending. Creation-time subject/actor
// fields are attached inside the same transaction as the run itself, so a
// reader never observes a half-created bundle; everything attached later
// through the returned handle is an independent write by design.
func (s *Store) Create(ctx context.Context, params model.CreateRunParams) (model.WorkflowRun, *Handle, error) {
	run, err := s.db.CreateRun(ctx, params)
	if err != nil {
		return model.WorkflowRun{}, nil, fmt.Errorf("runs: create: %w", err)
	}
	s.logger.Info("workflow run created", "run_id", run.ID, "type", run.Type)
	return run, s.Handle(run.ID), nil
}

// Handle returns a progressive-attachment handle bound to the run id.
func (s *Store) Handle(runID uuid.UUID) *Handle {
	return &Handle{runID: runID, db: s.db}
}

// GetByID returns the run with all currently-attached facts resolved.
// A reader calling this mid-workflow may observe a partially-enriched run;
// that is accepted eventual consistency, not an error.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (model.WorkflowRun, error) {
	return s.db.GetRun(ctx, id)
}

// List returns runs matching the filter, newest first. The user filter
// only ever matches user-variant actors; webhook-initiated runs are
// structurally invisible to it.
func (s *Store) List(ctx context.Context, filter model.RunFilter) ([]model.WorkflowRun, error) {
	return s.db.ListRuns(ctx, filter)
}

// ListEvents returns the run's event chain in creation order.
func (s *Store) ListEvents(ctx context.Context, runID uuid.UUID) ([]model.Event, error) {
	return s.db.ListEvents(ctx, runID)
}

// SetState applies an explicit state transition. State is never derived
// from the event chain.
func (s *Store) SetState(ctx context.Context, id uuid.UUID, state model.RunState) error {
	if err := s.db.SetRunState(ctx, id, state); err != nil {
		return err
	}
	s.logger.Info("workflow run state changed", "run_id", id, "state", state)
	return nil
}

// Handle is a progressive-attachment handle bound to one run id. Each
// call is independently atomic and idempotent on its natural key; the
// handle provides no cross-call atomicity.
type Handle struct {
	runID uuid.UUID
	db    *storage.DB
}

// RunID returns the bound run id.
func (h *Handle) RunID() uuid.UUID {
	return h.runID
}

// AttachRepository upserts the repository by id and links the run to it.
func (h *Handle) AttachRepository(ctx context.Context, repo model.Repository) error {
	return h.db.AttachRepository(ctx, h.runID, repo)
}

// AttachIssue upserts the issue by (number, repo) and links the run to it.
func (h *Handle) AttachIssue(ctx context.Context, issue model.Issue) error {
	return h.db.AttachIssue(ctx, h.runID, issue)
}

// AttachCommit upserts the commit by sha and links the run to it.
func (h *Handle) AttachCommit(ctx context.Context, commit model.Commit) error {
	return h.db.AttachCommit(ctx, h.runID, commit)
}

// AttachActor records who initiated the run, at most once.
func (h *Handle) AttachActor(ctx context.Context, actor model.Actor) error {
	return h.db.AttachActor(ctx, h.runID, actor)
}

// AddEvent appends an event to the run's chain; ParentEventID branches
// from that event instead of the tail. Transient serialization conflicts
// from concurrent appenders are retried.
func (h *Handle) AddEvent(ctx context.Context, params model.AppendEventParams) (model.Event, error) {
	var event model.Event
	err := storage.WithRetry(ctx, func() error {
		var appendErr error
		event, appendErr = h.db.AppendEvent(ctx, h.runID, params)
		return appendErr
	})
	return event, err
}

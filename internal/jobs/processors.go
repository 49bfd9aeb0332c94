package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kirokuhq/kiroku/internal/model"
	"github.com/kirokuhq/kiroku/internal/runs"
	"github.com/kirokuhq/kiroku/internal/status"
	"github.com/kirokuhq/kiroku/internal/worker"
)

// Service holds the processors' shared dependencies.
type Service struct {
	store     *runs.Store
	publisher *status.Publisher
	logger    *slog.Logger
}

// NewService creates the processor service.
func NewService(store *runs.Store, publisher *status.Publisher, logger *slog.Logger) *Service {
	return &Service{store: store, publisher: publisher, logger: logger}
}

// Register wires all known job names into the dispatcher.
func (s *Service) Register(d *worker.Dispatcher) {
	d.Register(SummarizeIssue,
		func() any { return &SummarizeIssuePayload{} }, s.processSummarizeIssue)
	d.Register(AutoResolveIssue,
		func() any { return &AutoResolveIssuePayload{} }, s.processAutoResolveIssue)
	d.Register(CreateDependentPR,
		func() any { return &CreateDependentPRPayload{} }, s.processCreateDependentPR)
}

// runResult is the job result recorded on completion.
type runResult struct {
	RunID uuid.UUID `json:"run_id"`
}

func (s *Service) processSummarizeIssue(ctx context.Context, jobID string, payload any) (any, error) {
	p := payload.(*SummarizeIssuePayload)

	run, handle, err := s.store.Create(ctx, model.CreateRunParams{
		Type:  SummarizeIssue,
		Actor: p.Actor,
	})
	if err != nil {
		return nil, err
	}
	if err := handle.AttachIssue(ctx, model.Issue{Number: p.IssueNumber, RepoFullName: p.RepoFullName}); err != nil {
		return nil, err
	}

	if err := s.begin(ctx, jobID, run.ID, handle, fmt.Sprintf("summarizing issue %s#%d", p.RepoFullName, p.IssueNumber)); err != nil {
		return nil, err
	}
	return s.finish(ctx, run.ID, handle)
}

func (s *Service) processAutoResolveIssue(ctx context.Context, jobID string, payload any) (any, error) {
	p := payload.(*AutoResolveIssuePayload)

	actor := p.Actor
	if actor == nil && p.UserID != "" {
		actor = model.NewUserActor(p.UserID)
	}

	run, handle, err := s.store.Create(ctx, model.CreateRunParams{
		Type:         AutoResolveIssue,
		PostToGithub: p.PostToGithub,
		Actor:        actor,
	})
	if err != nil {
		return nil, err
	}
	if err := handle.AttachIssue(ctx, model.Issue{Number: p.IssueNumber, RepoFullName: p.RepoFullName}); err != nil {
		return nil, err
	}

	if err := s.begin(ctx, jobID, run.ID, handle, fmt.Sprintf("resolving issue %s#%d", p.RepoFullName, p.IssueNumber)); err != nil {
		return nil, err
	}
	return s.finish(ctx, run.ID, handle)
}

func (s *Service) processCreateDependentPR(ctx context.Context, jobID string, payload any) (any, error) {
	p := payload.(*CreateDependentPRPayload)

	run, handle, err := s.store.Create(ctx, model.CreateRunParams{
		Type:  CreateDependentPR,
		Actor: p.Actor,
	})
	if err != nil {
		return nil, err
	}
	if p.IssueNumber > 0 {
		if err := handle.AttachIssue(ctx, model.Issue{Number: p.IssueNumber, RepoFullName: p.RepoFullName}); err != nil {
			return nil, err
		}
	}
	if p.HeadSHA != "" {
		if err := handle.AttachCommit(ctx, model.Commit{SHA: p.HeadSHA}); err != nil {
			return nil, err
		}
	}

	if err := s.begin(ctx, jobID, run.ID, handle,
		fmt.Sprintf("creating dependent PR on %s from %s", p.RepoFullName, p.BaseBranch)); err != nil {
		return nil, err
	}
	return s.finish(ctx, run.ID, handle)
}

// begin transitions the run to running and records the kickoff in both the
// durable event chain and the live status channel.
func (s *Service) begin(ctx context.Context, jobID string, runID uuid.UUID, handle *runs.Handle, statusText string) error {
	if err := s.store.SetState(ctx, runID, model.RunStateRunning); err != nil {
		return err
	}
	if _, err := handle.AddEvent(ctx, model.AppendEventParams{
		Type:    model.EventWorkflowState,
		Content: stateContent(model.RunStateRunning),
	}); err != nil {
		return err
	}
	s.publisher.Publish(ctx, jobID, statusText)
	if _, err := handle.AddEvent(ctx, model.AppendEventParams{
		Type:    model.EventStatus,
		Content: statusContent(statusText),
	}); err != nil {
		return err
	}
	return nil
}

// finish completes the run. Processor-internal failures never reach here;
// they surface as the job error and leave the run for the caller's error
// handling.
func (s *Service) finish(ctx context.Context, runID uuid.UUID, handle *runs.Handle) (any, error) {
	if _, err := handle.AddEvent(ctx, model.AppendEventParams{
		Type:    model.EventWorkflowState,
		Content: stateContent(model.RunStateCompleted),
	}); err != nil {
		return nil, err
	}
	if err := s.store.SetState(ctx, runID, model.RunStateCompleted); err != nil {
		return nil, err
	}
	return runResult{RunID: runID}, nil
}

func stateContent(state model.RunState) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"state": string(state)})
	return b
}

func statusContent(text string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"status": text})
	return b
}

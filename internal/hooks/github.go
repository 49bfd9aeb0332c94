package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/go-github/v68/github"

	"github.com/kirokuhq/kiroku/internal/jobs"
	"github.com/kirokuhq/kiroku/internal/model"
)

// Enqueuer queues a job for the worker runtime. Satisfied by *storage.DB.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, queue, name string, data json.RawMessage, id string) (model.Job, error)
}

// webhookActorFrom snapshots the delivery's sender as a webhook-variant
// actor for the run the job will create.
func webhookActorFrom(event, action string, sender *github.User, installationID int64) *model.Actor {
	return model.NewWebhookActor(model.WebhookActor{
		Source:         "github",
		Event:          event,
		Action:         action,
		Sender:         model.WebhookSender{ID: sender.GetID(), Login: sender.GetLogin()},
		InstallationID: installationID,
	})
}

// IssueOpenedHandler enqueues a summarizeIssue job for every newly opened issue.
type IssueOpenedHandler struct {
	Queue    string
	Enqueuer Enqueuer
	Logger   *slog.Logger
}

func (h *IssueOpenedHandler) CanHandle(event string, payload any) bool {
	p, ok := payload.(*github.IssuesEvent)
	return ok && event == "issues" && p.GetAction() == "opened"
}

func (h *IssueOpenedHandler) Handle(ctx context.Context, event string, payload any) error {
	p := payload.(*github.IssuesEvent)
	data, err := json.Marshal(jobs.SummarizeIssuePayload{
		RepoFullName:   p.GetRepo().GetFullName(),
		IssueNumber:    p.GetIssue().GetNumber(),
		InstallationID: p.GetInstallation().GetID(),
		Actor:          webhookActorFrom(event, p.GetAction(), p.GetSender(), p.GetInstallation().GetID()),
	})
	if err != nil {
		return fmt.Errorf("hooks: marshal summarizeIssue payload: %w", err)
	}

	job, err := h.Enqueuer.EnqueueJob(ctx, h.Queue, jobs.SummarizeIssue, data, "")
	if err != nil {
		return fmt.Errorf("hooks: enqueue summarizeIssue: %w", err)
	}
	h.Logger.Info("issue opened, summarize job queued",
		"repo", p.GetRepo().GetFullName(),
		"issue", p.GetIssue().GetNumber(),
		"job_id", job.ID,
	)
	return nil
}

// IssueLabeledHandler enqueues an autoResolveIssue job when the trigger
// label is applied to an issue.
type IssueLabeledHandler struct {
	Queue    string
	Label    string
	Enqueuer Enqueuer
	Logger   *slog.Logger
}

func (h *IssueLabeledHandler) CanHandle(event string, payload any) bool {
	p, ok := payload.(*github.IssuesEvent)
	return ok && event == "issues" &&
		p.GetAction() == "labeled" &&
		p.GetLabel().GetName() == h.Label
}

func (h *IssueLabeledHandler) Handle(ctx context.Context, event string, payload any) error {
	p := payload.(*github.IssuesEvent)
	data, err := json.Marshal(jobs.AutoResolveIssuePayload{
		RepoFullName:   p.GetRepo().GetFullName(),
		IssueNumber:    p.GetIssue().GetNumber(),
		PostToGithub:   true,
		InstallationID: p.GetInstallation().GetID(),
		Actor:          webhookActorFrom(event, p.GetAction(), p.GetSender(), p.GetInstallation().GetID()),
	})
	if err != nil {
		return fmt.Errorf("hooks: marshal autoResolveIssue payload: %w", err)
	}

	job, err := h.Enqueuer.EnqueueJob(ctx, h.Queue, jobs.AutoResolveIssue, data, "")
	if err != nil {
		return fmt.Errorf("hooks: enqueue autoResolveIssue: %w", err)
	}
	h.Logger.Info("trigger label applied, auto-resolve job queued",
		"repo", p.GetRepo().GetFullName(),
		"issue", p.GetIssue().GetNumber(),
		"label", h.Label,
		"job_id", job.ID,
	)
	return nil
}

// PRMergedHandler enqueues a createDependentPR job when a pull request is
// merged into its base branch.
type PRMergedHandler struct {
	Queue    string
	Enqueuer Enqueuer
	Logger   *slog.Logger
}

func (h *PRMergedHandler) CanHandle(event string, payload any) bool {
	p, ok := payload.(*github.PullRequestEvent)
	return ok && event == "pull_request" &&
		p.GetAction() == "closed" &&
		p.GetPullRequest().GetMerged()
}

func (h *PRMergedHandler) Handle(ctx context.Context, event string, payload any) error {
	p := payload.(*github.PullRequestEvent)
	fullName := p.GetRepo().GetOwner().GetLogin() + "/" + p.GetRepo().GetName()
	data, err := json.Marshal(jobs.CreateDependentPRPayload{
		RepoFullName:   fullName,
		BaseBranch:     p.GetPullRequest().GetBase().GetRef(),
		HeadSHA:        p.GetPullRequest().GetMergeCommitSHA(),
		InstallationID: p.GetInstallation().GetID(),
		Actor:          webhookActorFrom(event, p.GetAction(), p.GetSender(), p.GetInstallation().GetID()),
	})
	if err != nil {
		return fmt.Errorf("hooks: marshal createDependentPR payload: %w", err)
	}

	job, err := h.Enqueuer.EnqueueJob(ctx, h.Queue, jobs.CreateDependentPR, data, "")
	if err != nil {
		return fmt.Errorf("hooks: enqueue createDependentPR: %w", err)
	}
	h.Logger.Info("pull request merged, dependent PR job queued",
		"repo", fullName,
		"base", p.GetPullRequest().GetBase().GetRef(),
		"job_id", job.ID,
	)
	return nil
}

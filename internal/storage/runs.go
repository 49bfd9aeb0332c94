package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kirokuhq/kiroku/internal/model"
)

// CreateRun inserts a workflow run and performs any creation-time
// attachments (repository, issue, commit, actor) in a single transaction.
// Attachments done later through the handle are independent operations;
// only the creation bundle is atomic.
func (db *DB) CreateRun(ctx context.Context, params model.CreateRunParams) (model.WorkflowRun, error) {
	if params.Type == "" {
		return model.WorkflowRun{}, fmt.Errorf("storage: create run: type is required")
	}
	if params.Actor != nil {
		if err := params.Actor.Validate(); err != nil {
			return model.WorkflowRun{}, fmt.Errorf("storage: create run: %w", err)
		}
	}
	// The issue upsert key is (number, repo full name); without the
	// repository the number cannot be stored and must not be dropped.
	if params.IssueNumber != nil && params.Repository == nil {
		return model.WorkflowRun{}, fmt.Errorf("storage: create run: issue number requires a repository")
	}

	id := uuid.New()
	if params.ID != nil {
		id = *params.ID
	}

	run := model.WorkflowRun{
		ID:           id,
		Type:         params.Type,
		State:        model.RunStatePending,
		PostToGithub: params.PostToGithub,
		CreatedAt:    time.Now().UTC(),
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.WorkflowRun{}, fmt.Errorf("storage: begin create run: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO workflow_runs (id, run_type, state, post_to_github, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Type, string(run.State), run.PostToGithub, run.CreatedAt,
	); err != nil {
		return model.WorkflowRun{}, fmt.Errorf("storage: create run: %w", err)
	}

	if params.Repository != nil {
		if err := attachRepositoryTx(ctx, tx, run.ID, *params.Repository); err != nil {
			return model.WorkflowRun{}, err
		}
		run.Repository = params.Repository
	}
	if params.IssueNumber != nil {
		issue := model.Issue{Number: *params.IssueNumber, RepoFullName: params.Repository.FullName}
		if err := attachIssueTx(ctx, tx, run.ID, issue); err != nil {
			return model.WorkflowRun{}, err
		}
		run.Issue = &issue
	}
	if params.Commit != nil {
		repoID := int64(0)
		if params.Repository != nil {
			repoID = params.Repository.ID
		}
		if err := attachCommitTx(ctx, tx, run.ID, *params.Commit, repoID); err != nil {
			return model.WorkflowRun{}, err
		}
		run.Commit = params.Commit
	}
	if params.Actor != nil {
		if err := attachActorTx(ctx, tx, run.ID, *params.Actor); err != nil {
			return model.WorkflowRun{}, err
		}
		run.Actor = params.Actor
	}

	if err := tx.Commit(ctx); err != nil {
		return model.WorkflowRun{}, fmt.Errorf("storage: commit create run: %w", err)
	}
	return run, nil
}

const runSelectColumns = `
	r.id, r.run_type, r.state, r.post_to_github, r.created_at,
	repo.id, repo.full_name, repo.owner, repo.name, repo.default_branch,
	repo.visibility, repo.has_issues, repo.installation_id,
	i.number, i.repo_full_name,
	c.sha, c.message, c.tree_sha, c.author, c.committer,
	r.actor_kind, r.actor_user_id,
	w.source, w.event, w.action, w.sender_id, w.sender_login, w.installation_id`

const runSelectJoins = `
	FROM workflow_runs r
	LEFT JOIN repositories repo ON repo.id = r.repository_id
	LEFT JOIN issues i ON i.id = r.issue_id
	LEFT JOIN commits c ON c.sha = r.commit_sha
	LEFT JOIN webhook_events w ON w.id = r.webhook_event_id`

// GetRun retrieves a run by id with all currently-attached subject and
// actor facts resolved. Returns ErrNotFound if the run does not exist.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (model.WorkflowRun, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+runSelectColumns+runSelectJoins+` WHERE r.id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.WorkflowRun{}, ErrNotFound
		}
		return model.WorkflowRun{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs matching the filter, newest first. The user filter
// matches only user-variant actors: a webhook sender whose numeric id
// happens to equal a user id can never satisfy it. An empty filter returns
// ErrFilterRequired rather than an unbounded scan.
func (db *DB) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.WorkflowRun, error) {
	if filter.Empty() {
		return nil, ErrFilterRequired
	}

	where := ""
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	and := func(clause string) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
	}

	if filter.UserID != "" {
		and(`r.actor_kind = 'user' AND r.actor_user_id = ` + arg(filter.UserID))
	}
	if filter.RepositoryID != 0 {
		and(`r.repository_id = ` + arg(filter.RepositoryID))
	}
	if filter.IssueNumber != 0 {
		and(`i.number = ` + arg(filter.IssueNumber))
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+runSelectColumns+runSelectJoins+where+` ORDER BY r.created_at DESC, r.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SetRunState updates a run's state. Transitions are explicit and
// caller-driven; no validation beyond state being a known value.
func (db *DB) SetRunState(ctx context.Context, id uuid.UUID, state model.RunState) error {
	if !state.Valid() {
		return fmt.Errorf("storage: set run state: unknown state %q", state)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE workflow_runs SET state = $1 WHERE id = $2`, string(state), id)
	if err != nil {
		return fmt.Errorf("storage: set run state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanRun scans one joined run row, reassembling the optional subject and
// actor facts from nullable columns.
func scanRun(row pgx.Row) (model.WorkflowRun, error) {
	var (
		run model.WorkflowRun

		repoID                              *int64
		repoFullName, repoOwner, repoName   *string
		repoDefaultBranch, repoVisibility   *string
		repoHasIssues                       *bool
		repoInstallationID                  *int64
		issueNumber                         *int
		issueRepoFullName                   *string
		commitSHA, commitMessage            *string
		commitTreeSHA                       *string
		commitAuthor, commitCommitter       *string
		actorKind, actorUserID              *string
		whSource, whEvent, whAction         *string
		whSenderID, whInstallationID        *int64
		whSenderLogin                       *string
	)

	if err := row.Scan(
		&run.ID, &run.Type, &run.State, &run.PostToGithub, &run.CreatedAt,
		&repoID, &repoFullName, &repoOwner, &repoName, &repoDefaultBranch,
		&repoVisibility, &repoHasIssues, &repoInstallationID,
		&issueNumber, &issueRepoFullName,
		&commitSHA, &commitMessage, &commitTreeSHA, &commitAuthor, &commitCommitter,
		&actorKind, &actorUserID,
		&whSource, &whEvent, &whAction, &whSenderID, &whSenderLogin, &whInstallationID,
	); err != nil {
		return model.WorkflowRun{}, err
	}

	if repoID != nil {
		run.Repository = &model.Repository{
			ID:             *repoID,
			FullName:       *repoFullName,
			Owner:          *repoOwner,
			Name:           *repoName,
			DefaultBranch:  *repoDefaultBranch,
			Visibility:     *repoVisibility,
			HasIssues:      *repoHasIssues,
			InstallationID: *repoInstallationID,
		}
	}
	if issueNumber != nil {
		run.Issue = &model.Issue{Number: *issueNumber, RepoFullName: *issueRepoFullName}
	}
	if commitSHA != nil {
		run.Commit = &model.Commit{
			SHA:       *commitSHA,
			Message:   *commitMessage,
			TreeSHA:   *commitTreeSHA,
			Author:    *commitAuthor,
			Committer: *commitCommitter,
		}
	}
	if actorKind != nil {
		switch model.ActorKind(*actorKind) {
		case model.ActorUser:
			if actorUserID != nil {
				run.Actor = model.NewUserActor(*actorUserID)
			}
		case model.ActorWebhook:
			if whEvent != nil {
				run.Actor = model.NewWebhookActor(model.WebhookActor{
					Source:         *whSource,
					Event:          *whEvent,
					Action:         *whAction,
					Sender:         model.WebhookSender{ID: *whSenderID, Login: *whSenderLogin},
					InstallationID: *whInstallationID,
				})
			}
		}
	}

	return run, nil
}

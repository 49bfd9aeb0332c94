package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kirokuhq/kiroku/internal/model"
)

// Attach operations upsert the target entity by its natural key and link
// it to the run. Each public method is one transaction: independently
// atomic, idempotent on the natural key, and safe to retry. There is
// deliberately no cross-call atomicity; callers composing several attaches
// accept partial-attachment visibility (or use CreateRun's bundle).

// AttachRepository upserts the repository and links the run to it.
func (db *DB) AttachRepository(ctx context.Context, runID uuid.UUID, repo model.Repository) error {
	return db.inTx(ctx, func(tx pgx.Tx) error {
		return attachRepositoryTx(ctx, tx, runID, repo)
	})
}

// AttachIssue upserts the issue and links the run to it.
func (db *DB) AttachIssue(ctx context.Context, runID uuid.UUID, issue model.Issue) error {
	return db.inTx(ctx, func(tx pgx.Tx) error {
		return attachIssueTx(ctx, tx, runID, issue)
	})
}

// AttachCommit upserts the commit and links the run to it. When the run
// already has a repository attached, the commit is linked to that
// repository as well.
func (db *DB) AttachCommit(ctx context.Context, runID uuid.UUID, commit model.Commit) error {
	return db.inTx(ctx, func(tx pgx.Tx) error {
		var repoID *int64
		err := tx.QueryRow(ctx,
			`SELECT repository_id FROM workflow_runs WHERE id = $1`, runID,
		).Scan(&repoID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("storage: attach commit: read run: %w", err)
		}
		var id int64
		if repoID != nil {
			id = *repoID
		}
		return attachCommitTx(ctx, tx, runID, commit, id)
	})
}

// AttachActor records who initiated the run. At most one actor per run:
// re-attaching the same identity is a no-op, a different one returns
// ErrActorConflict.
func (db *DB) AttachActor(ctx context.Context, runID uuid.UUID, actor model.Actor) error {
	if err := actor.Validate(); err != nil {
		return fmt.Errorf("storage: attach actor: %w", err)
	}
	return db.inTx(ctx, func(tx pgx.Tx) error {
		return attachActorTx(ctx, tx, runID, actor)
	})
}

func (db *DB) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit tx: %w", err)
	}
	return nil
}

func attachRepositoryTx(ctx context.Context, tx pgx.Tx, runID uuid.UUID, repo model.Repository) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO repositories (id, full_name, owner, name, default_branch, visibility, has_issues, installation_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   full_name = EXCLUDED.full_name,
		   owner = EXCLUDED.owner,
		   name = EXCLUDED.name,
		   default_branch = EXCLUDED.default_branch,
		   visibility = EXCLUDED.visibility,
		   has_issues = EXCLUDED.has_issues,
		   installation_id = EXCLUDED.installation_id`,
		repo.ID, repo.FullName, repo.Owner, repo.Name,
		repo.DefaultBranch, repo.Visibility, repo.HasIssues, repo.InstallationID,
	); err != nil {
		return fmt.Errorf("storage: upsert repository: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE workflow_runs SET repository_id = $1 WHERE id = $2`, repo.ID, runID)
	if err != nil {
		return fmt.Errorf("storage: link repository: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func attachIssueTx(ctx context.Context, tx pgx.Tx, runID uuid.UUID, issue model.Issue) error {
	var issueID int64
	// DO UPDATE instead of DO NOTHING so RETURNING always yields the row.
	if err := tx.QueryRow(ctx,
		`INSERT INTO issues (number, repo_full_name) VALUES ($1, $2)
		 ON CONFLICT (repo_full_name, number) DO UPDATE SET number = EXCLUDED.number
		 RETURNING id`,
		issue.Number, issue.RepoFullName,
	).Scan(&issueID); err != nil {
		return fmt.Errorf("storage: upsert issue: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE workflow_runs SET issue_id = $1 WHERE id = $2`, issueID, runID)
	if err != nil {
		return fmt.Errorf("storage: link issue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func attachCommitTx(ctx context.Context, tx pgx.Tx, runID uuid.UUID, commit model.Commit, repoID int64) error {
	var repo *int64
	if repoID != 0 {
		repo = &repoID
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO commits (sha, message, tree_sha, author, committer, repository_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (sha) DO UPDATE SET
		   message = EXCLUDED.message,
		   tree_sha = EXCLUDED.tree_sha,
		   author = EXCLUDED.author,
		   committer = EXCLUDED.committer,
		   repository_id = COALESCE(EXCLUDED.repository_id, commits.repository_id)`,
		commit.SHA, commit.Message, commit.TreeSHA, commit.Author, commit.Committer, repo,
	); err != nil {
		return fmt.Errorf("storage: upsert commit: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE workflow_runs SET commit_sha = $1 WHERE id = $2`, commit.SHA, runID)
	if err != nil {
		return fmt.Errorf("storage: link commit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func attachActorTx(ctx context.Context, tx pgx.Tx, runID uuid.UUID, actor model.Actor) error {
	var existingKind, existingUserID *string
	var existingWebhookID *uuid.UUID
	err := tx.QueryRow(ctx,
		`SELECT actor_kind, actor_user_id, webhook_event_id FROM workflow_runs WHERE id = $1 FOR UPDATE`,
		runID,
	).Scan(&existingKind, &existingUserID, &existingWebhookID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("storage: attach actor: read run: %w", err)
	}

	switch actor.Kind {
	case model.ActorUser:
		if existingKind != nil {
			if *existingKind == string(model.ActorUser) && existingUserID != nil && *existingUserID == actor.User.UserID {
				return nil // same actor, idempotent
			}
			return ErrActorConflict
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
			actor.User.UserID,
		); err != nil {
			return fmt.Errorf("storage: upsert user: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE workflow_runs SET actor_kind = 'user', actor_user_id = $1 WHERE id = $2`,
			actor.User.UserID, runID,
		); err != nil {
			return fmt.Errorf("storage: link user actor: %w", err)
		}

	case model.ActorWebhook:
		if existingKind != nil {
			if *existingKind == string(model.ActorWebhook) {
				return nil // a webhook delivery is attached once; repeats are no-ops
			}
			return ErrActorConflict
		}
		wh := actor.Webhook
		whID := uuid.New()
		if _, err := tx.Exec(ctx,
			`INSERT INTO webhook_events (id, source, event, action, sender_id, sender_login, installation_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			whID, wh.Source, wh.Event, wh.Action, wh.Sender.ID, wh.Sender.Login, wh.InstallationID,
		); err != nil {
			return fmt.Errorf("storage: insert webhook event: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE workflow_runs SET actor_kind = 'webhook', webhook_event_id = $1 WHERE id = $2`,
			whID, runID,
		); err != nil {
			return fmt.Errorf("storage: link webhook actor: %w", err)
		}
	}
	return nil
}

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

// AppendEvent appends one event to a run's chain.
//
// With an explicit parent the new event branches from that parent, no tail
// lookup at all, so branching from any historical event is allowed. Without
// one it links from the current tail, or becomes the "starts-with" root when
// the chain is empty. The tail lookup and the insert run in one transaction
// holding a per-run advisory lock: two concurrent default appends cannot
// both claim the same tail. Inserts upsert by the event's own id, so a
// retried write is harmless and returns the already-committed row.
func (db *DB) AppendEvent(ctx context.Context, runID uuid.UUID, params model.AppendEventParams) (model.Event, error) {
	if !params.Type.Valid() {
		return model.Event{}, fmt.Errorf("storage: append event: unknown event type %q", params.Type)
	}

	event := model.Event{
		ID:        uuid.New(),
		RunID:     runID,
		Type:      params.Type,
		Content:   params.Content,
		CreatedAt: time.Now().UTC(),
	}
	if params.ID != nil {
		event.ID = *params.ID
	}

	err := db.inTx(ctx, func(tx pgx.Tx) error {
		// Serialize default appends per run. The lock is transaction-scoped
		// and keyed on the run id's hash; explicit-parent appends don't race
		// on the tail but taking the lock anyway keeps the chain insert
		// ordering deterministic under load.
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, runID,
		); err != nil {
			return fmt.Errorf("storage: lock run chain: %w", err)
		}

		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM workflow_runs WHERE id = $1)`, runID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("storage: append event: check run: %w", err)
		}
		if !exists {
			return ErrNotFound
		}

		if params.ParentEventID != nil {
			var parentRun uuid.UUID
			err := tx.QueryRow(ctx,
				`SELECT run_id FROM run_events WHERE id = $1`, *params.ParentEventID,
			).Scan(&parentRun)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("storage: append event: parent %s: %w", *params.ParentEventID, ErrNotFound)
				}
				return fmt.Errorf("storage: append event: read parent: %w", err)
			}
			if parentRun != runID {
				return fmt.Errorf("storage: append event: parent %s belongs to another run", *params.ParentEventID)
			}
			event.ParentID = params.ParentEventID
		} else {
			// Tail: the unique event with no outgoing "next" edge.
			var tail uuid.UUID
			err := tx.QueryRow(ctx,
				`SELECT e.id FROM run_events e
				 WHERE e.run_id = $1
				   AND NOT EXISTS (SELECT 1 FROM run_events c WHERE c.parent_id = e.id)
				 ORDER BY e.created_at DESC, e.id
				 LIMIT 1`, runID,
			).Scan(&tail)
			switch {
			case errors.Is(err, pgx.ErrNoRows):
				// Empty chain; this event becomes the "starts-with" root.
			case err != nil:
				return fmt.Errorf("storage: append event: find tail: %w", err)
			default:
				event.ParentID = &tail
			}
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO run_events (id, run_id, event_type, content, parent_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO NOTHING`,
			event.ID, event.RunID, string(event.Type), event.Content, event.ParentID, event.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("storage: insert event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Replayed append: the id is already committed, and the tail
			// lookup above may have found the event itself. Return the
			// stored row, not the speculative one.
			if err := tx.QueryRow(ctx,
				`SELECT run_id, event_type, content, parent_id, created_at
				 FROM run_events WHERE id = $1`, event.ID,
			).Scan(&event.RunID, &event.Type, &event.Content, &event.ParentID, &event.CreatedAt); err != nil {
				return fmt.Errorf("storage: reread event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return model.Event{}, err
	}
	return event, nil
}

// ListEvents returns a run's full event chain in creation order. Linear
// chains come back strictly ordered; sibling branches interleave by
// creation time with the id as tiebreak.
func (db *DB) ListEvents(ctx context.Context, runID uuid.UUID) ([]model.Event, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, event_type, content, parent_id, created_at
		 FROM run_events WHERE run_id = $1
		 ORDER BY created_at ASC, id ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &e.Content, &e.ParentID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountEventEdges returns the number of root ("starts-with") and "next"
// edges in a run's chain. Used by invariant checks and diagnostics.
func (db *DB) CountEventEdges(ctx context.Context, runID uuid.UUID) (roots, next int, err error) {
	err = db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE parent_id IS NULL),
		        COUNT(*) FILTER (WHERE parent_id IS NOT NULL)
		 FROM run_events WHERE run_id = $1`, runID,
	).Scan(&roots, &next)
	if err != nil {
		return 0, 0, fmt.Errorf("storage: count event edges: %w", err)
	}
	return roots, next, nil
}

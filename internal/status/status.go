// Package status publishes fire-and-forget job status updates.
//
// Messages go out as {jobId,status} JSON on a fixed NOTIFY channel and are
// fanned out to live subscribers by the server's broker. Nothing here is
// durable or acknowledged; the run's event chain is the durable record.
package status

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/kirokuhq/kiroku/internal/model"
	"github.com/kirokuhq/kiroku/internal/storage"
)

// Publisher broadcasts job status messages.
type Publisher struct {
	db     *storage.DB
	logger *slog.Logger
}

// NewPublisher creates a status publisher.
func NewPublisher(db *storage.DB, logger *slog.Logger) *Publisher {
	return &Publisher{db: db, logger: logger}
}

// Publish sends a {jobId,status} message. Failures are logged and
// swallowed: status publication must never block or fail job processing.
func (p *Publisher) Publish(ctx context.Context, jobID, statusText string) {
	payload, err := json.Marshal(model.StatusMessage{JobID: jobID, Status: statusText})
	if err != nil {
		p.logger.Warn("status: marshal failed", "job_id", jobID, "error", err)
		return
	}
	if err := p.db.Notify(ctx, storage.ChannelStatus, string(payload)); err != nil {
		p.logger.Warn("status: publish failed", "job_id", jobID, "error", err)
	}
}

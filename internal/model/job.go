package model

import (
	"encoding/json"
	"time"
)

// JobState is the queue-side lifecycle of a job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Job is one work item on the queue. Data is opaque at this level; the
// dispatcher validates it against the schema registered for Name.
type Job struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Data       json.RawMessage `json:"data"`
	State      JobState        `json:"state"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// StatusMessage is the fire-and-forget live status payload published for a
// job. Not durable; the run's event chain is the durable record.
type StatusMessage struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

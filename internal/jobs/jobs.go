// Package jobs defines the known job names, their payload schemas, and the
// processors that record workflow runs for them. The AI-agent execution and
// source-control API work behind each job belongs to upstream collaborators;
// processors here own the ledger side: create the run, attach what is known,
// append events, and drive the explicit state transitions.
package jobs

import (
	"github.com/kirokuhq/kiroku/internal/model"
)

// Known job names.
const (
	SummarizeIssue    = "summarizeIssue"
	AutoResolveIssue  = "autoResolveIssue"
	CreateDependentPR = "createDependentPR"
)

// SummarizeIssuePayload is the data shape for summarizeIssue jobs.
type SummarizeIssuePayload struct {
	RepoFullName   string       `json:"repoFullName" validate:"required"`
	IssueNumber    int          `json:"issueNumber" validate:"required,gt=0"`
	InstallationID int64        `json:"installationId,omitempty"`
	Actor          *model.Actor `json:"actor,omitempty"`
}

// AutoResolveIssuePayload is the data shape for autoResolveIssue jobs.
type AutoResolveIssuePayload struct {
	RepoFullName   string       `json:"repoFullName" validate:"required"`
	IssueNumber    int          `json:"issueNumber" validate:"required,gt=0"`
	PostToGithub   bool         `json:"postToGithub,omitempty"`
	InstallationID int64        `json:"installationId,omitempty"`
	UserID         string       `json:"userId,omitempty"`
	Actor          *model.Actor `json:"actor,omitempty"`
}

// CreateDependentPRPayload is the data shape for createDependentPR jobs.
type CreateDependentPRPayload struct {
	RepoFullName   string       `json:"repoFullName" validate:"required"`
	BaseBranch     string       `json:"baseBranch" validate:"required"`
	IssueNumber    int          `json:"issueNumber,omitempty" validate:"omitempty,gt=0"`
	HeadSHA        string       `json:"headSha,omitempty"`
	InstallationID int64        `json:"installationId,omitempty"`
	Actor          *model.Actor `json:"actor,omitempty"`
}

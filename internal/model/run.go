// Package model defines the core domain types for kiroku.
//
// Types use strong typing (UUIDs, time.Time, enums) and avoid interface{}
// wherever possible. The WorkflowRun aggregate and its event chain are the
// durable record of an automation workflow; everything else hangs off it.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RunState represents the lifecycle state of a workflow run.
// Transitions are caller-driven; nothing in this package infers state
// from the event chain.
type RunState string

const (
	RunStatePending   RunState = "pending"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateError     RunState = "error"
	RunStateTimedOut  RunState = "timedOut"
)

// Valid reports whether s is one of the known run states.
func (s RunState) Valid() bool {
	switch s {
	case RunStatePending, RunStateRunning, RunStateCompleted, RunStateError, RunStateTimedOut:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal state.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateCompleted, RunStateError, RunStateTimedOut:
		return true
	}
	return false
}

// WorkflowRun is the aggregate root tracking one automation execution.
// Created minimally (only Type required) and enriched progressively as
// subject facts and the actor become known.
type WorkflowRun struct {
	ID           uuid.UUID   `json:"id"`
	Type         string      `json:"type"`
	State        RunState    `json:"state"`
	PostToGithub bool        `json:"post_to_github"`
	CreatedAt    time.Time   `json:"created_at"`
	Repository   *Repository `json:"repository,omitempty"`
	Issue        *Issue      `json:"issue,omitempty"`
	Commit       *Commit     `json:"commit,omitempty"`
	Actor        *Actor      `json:"actor,omitempty"`
}

// CreateRunParams are the inputs for creating a workflow run.
// Only Type is required; everything else is attached in the same
// transaction when present.
type CreateRunParams struct {
	ID           *uuid.UUID  `json:"id,omitempty"`
	Type         string      `json:"type"`
	IssueNumber  *int        `json:"issue_number,omitempty"`
	PostToGithub bool        `json:"post_to_github"`
	Repository   *Repository `json:"repository,omitempty"`
	Actor        *Actor      `json:"actor,omitempty"`
	Commit       *Commit     `json:"commit,omitempty"`
}

// RunFilter selects runs in List queries. Exactly the filters the
// query layer supports; an empty filter is rejected rather than
// silently returning everything.
type RunFilter struct {
	UserID       string `json:"user_id,omitempty"`
	RepositoryID int64  `json:"repository_id,omitempty"`
	IssueNumber  int    `json:"issue_number,omitempty"`
}

// Empty reports whether no filter field is set.
func (f RunFilter) Empty() bool {
	return f.UserID == "" && f.RepositoryID == 0 && f.IssueNumber == 0
}

package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType is the category of a run event. Closed set.
type EventType string

const (
	EventStatus         EventType = "status"
	EventError          EventType = "error"
	EventWorkflowState  EventType = "workflow-state"
	EventSystemPrompt   EventType = "system-prompt"
	EventUserMessage    EventType = "user-message"
	EventLLMResponse    EventType = "llm-response"
	EventReasoning      EventType = "reasoning"
	EventReviewComment  EventType = "review-comment"
	EventToolCall       EventType = "tool-call"
	EventToolCallResult EventType = "tool-call-result"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventStatus, EventError, EventWorkflowState, EventSystemPrompt,
		EventUserMessage, EventLLMResponse, EventReasoning,
		EventReviewComment, EventToolCall, EventToolCallResult:
		return true
	}
	return false
}

// Event is one entry in a run's append-only event chain.
//
// Chain shape: the run holds a single "starts-with" edge to its first event
// (ParentID == nil); every other event has exactly one parent. A parent may
// have several children (branching), but the structure stays acyclic and
// every event is reachable from the run. Events are never mutated or deleted.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	RunID     uuid.UUID       `json:"run_id"`
	Type      EventType       `json:"type"`
	Content   json.RawMessage `json:"content,omitempty"`
	ParentID  *uuid.UUID      `json:"parent_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AppendEventParams are the inputs for appending an event to a run's chain.
// ParentEventID redirects the append to branch from that event instead of
// the current tail. ID is optional; when set, the append is idempotent on it.
type AppendEventParams struct {
	ID            *uuid.UUID      `json:"id,omitempty"`
	Type          EventType       `json:"type"`
	Content       json.RawMessage `json:"content,omitempty"`
	ParentEventID *uuid.UUID      `json:"parent_event_id,omitempty"`
}

package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorValidate(t *testing.T) {
	tests := []struct {
		name    string
		actor   Actor
		wantErr bool
	}{
		{
			name:  "valid user",
			actor: *NewUserActor("alice"),
		},
		{
			name: "valid webhook",
			actor: *NewWebhookActor(WebhookActor{
				Source: "github",
				Event:  "issues",
				Sender: WebhookSender{ID: 1, Login: "octocat"},
			}),
		},
		{
			name:    "user kind without user variant",
			actor:   Actor{Kind: ActorUser},
			wantErr: true,
		},
		{
			name: "user kind with both variants",
			actor: Actor{
				Kind:    ActorUser,
				User:    &UserActor{UserID: "alice"},
				Webhook: &WebhookActor{Sender: WebhookSender{Login: "octocat"}},
			},
			wantErr: true,
		},
		{
			name:    "user without id",
			actor:   Actor{Kind: ActorUser, User: &UserActor{}},
			wantErr: true,
		},
		{
			name:    "webhook kind without webhook variant",
			actor:   Actor{Kind: ActorWebhook},
			wantErr: true,
		},
		{
			name:    "webhook without sender login",
			actor:   Actor{Kind: ActorWebhook, Webhook: &WebhookActor{Source: "github"}},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			actor:   Actor{Kind: "robot"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.actor.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestActorUnmarshalEnforcesUnion(t *testing.T) {
	var a Actor
	err := json.Unmarshal([]byte(`{"type":"user","user":{"user_id":"alice"}}`), &a)
	require.NoError(t, err)
	assert.Equal(t, ActorUser, a.Kind)
	require.NotNil(t, a.User)
	assert.Equal(t, "alice", a.User.UserID)

	// A webhook payload under a user tag is rejected on decode.
	err = json.Unmarshal([]byte(`{"type":"user","webhook":{"source":"github","sender":{"login":"o"}}}`), &a)
	assert.Error(t, err)
}

func TestRunStateValid(t *testing.T) {
	for _, s := range []RunState{RunStatePending, RunStateRunning, RunStateCompleted, RunStateError, RunStateTimedOut} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, RunState("done").Valid())

	assert.False(t, RunStatePending.Terminal())
	assert.False(t, RunStateRunning.Terminal())
	assert.True(t, RunStateCompleted.Terminal())
	assert.True(t, RunStateError.Terminal())
	assert.True(t, RunStateTimedOut.Terminal())
}

func TestEventTypeValid(t *testing.T) {
	assert.True(t, EventStatus.Valid())
	assert.True(t, EventToolCallResult.Valid())
	assert.False(t, EventType("telemetry").Valid())
}

func TestRunFilterEmpty(t *testing.T) {
	assert.True(t, RunFilter{}.Empty())
	assert.False(t, RunFilter{UserID: "alice"}.Empty())
	assert.False(t, RunFilter{RepositoryID: 1}.Empty())
	assert.False(t, RunFilter{IssueNumber: 2}.Empty())
}

package hooks

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirokuhq/kiroku/internal/jobs"
	"github.com/kirokuhq/kiroku/internal/model"
)

// fakeEnqueuer captures enqueued jobs.
type fakeEnqueuer struct {
	queue string
	name  string
	data  json.RawMessage
	calls int
}

func (f *fakeEnqueuer) EnqueueJob(ctx context.Context, queue, name string, data json.RawMessage, id string) (model.Job, error) {
	f.calls++
	f.queue = queue
	f.name = name
	f.data = data
	return model.Job{ID: "job-1", Name: name, State: model.JobStateQueued}, nil
}

func issuesEvent(action, label string) *github.IssuesEvent {
	ev := &github.IssuesEvent{
		Action: github.Ptr(action),
		Repo: &github.Repository{
			ID:       github.Ptr(int64(1001)),
			FullName: github.Ptr("octo/widgets"),
		},
		Issue:        &github.Issue{Number: github.Ptr(42)},
		Sender:       &github.User{ID: github.Ptr(int64(7)), Login: github.Ptr("octocat")},
		Installation: &github.Installation{ID: github.Ptr(int64(555))},
	}
	if label != "" {
		ev.Label = &github.Label{Name: github.Ptr(label)}
	}
	return ev
}

func TestIssueOpenedHandler(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := &IssueOpenedHandler{Queue: "workflows", Enqueuer: enq, Logger: testLogger()}

	assert.False(t, h.CanHandle("issues", issuesEvent("labeled", "")))
	assert.False(t, h.CanHandle("pull_request", &github.PullRequestEvent{}))

	ev := issuesEvent("opened", "")
	require.True(t, h.CanHandle("issues", ev))
	require.NoError(t, h.Handle(context.Background(), "issues", ev))

	assert.Equal(t, "workflows", enq.queue)
	assert.Equal(t, jobs.SummarizeIssue, enq.name)

	var payload jobs.SummarizeIssuePayload
	require.NoError(t, json.Unmarshal(enq.data, &payload))
	assert.Equal(t, "octo/widgets", payload.RepoFullName)
	assert.Equal(t, 42, payload.IssueNumber)
	assert.Equal(t, int64(555), payload.InstallationID)
	require.NotNil(t, payload.Actor)
	assert.Equal(t, model.ActorWebhook, payload.Actor.Kind)
	require.NotNil(t, payload.Actor.Webhook)
	assert.Equal(t, "github", payload.Actor.Webhook.Source)
	assert.Equal(t, "issues", payload.Actor.Webhook.Event)
	assert.Equal(t, "opened", payload.Actor.Webhook.Action)
	assert.Equal(t, "octocat", payload.Actor.Webhook.Sender.Login)
}

func TestIssueLabeledHandler(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := &IssueLabeledHandler{Queue: "workflows", Label: "kiroku", Enqueuer: enq, Logger: testLogger()}

	// Only the trigger label matches.
	assert.False(t, h.CanHandle("issues", issuesEvent("labeled", "bug")))
	assert.False(t, h.CanHandle("issues", issuesEvent("opened", "")))

	ev := issuesEvent("labeled", "kiroku")
	require.True(t, h.CanHandle("issues", ev))
	require.NoError(t, h.Handle(context.Background(), "issues", ev))

	assert.Equal(t, jobs.AutoResolveIssue, enq.name)

	var payload jobs.AutoResolveIssuePayload
	require.NoError(t, json.Unmarshal(enq.data, &payload))
	assert.True(t, payload.PostToGithub)
	assert.Equal(t, 42, payload.IssueNumber)
}

func TestPRMergedHandler(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := &PRMergedHandler{Queue: "workflows", Enqueuer: enq, Logger: testLogger()}

	pr := func(action string, merged bool) *github.PullRequestEvent {
		return &github.PullRequestEvent{
			Action: github.Ptr(action),
			Repo: &github.Repository{
				Name:  github.Ptr("widgets"),
				Owner: &github.User{Login: github.Ptr("octo")},
			},
			PullRequest: &github.PullRequest{
				Merged:         github.Ptr(merged),
				MergeCommitSHA: github.Ptr("abc123"),
				Base:           &github.PullRequestBranch{Ref: github.Ptr("main")},
			},
			Sender:       &github.User{ID: github.Ptr(int64(7)), Login: github.Ptr("octocat")},
			Installation: &github.Installation{ID: github.Ptr(int64(555))},
		}
	}

	// Closed without merge is not a match.
	assert.False(t, h.CanHandle("pull_request", pr("closed", false)))
	assert.False(t, h.CanHandle("pull_request", pr("opened", false)))

	ev := pr("closed", true)
	require.True(t, h.CanHandle("pull_request", ev))
	require.NoError(t, h.Handle(context.Background(), "pull_request", ev))

	assert.Equal(t, jobs.CreateDependentPR, enq.name)

	var payload jobs.CreateDependentPRPayload
	require.NoError(t, json.Unmarshal(enq.data, &payload))
	assert.Equal(t, "octo/widgets", payload.RepoFullName)
	assert.Equal(t, "main", payload.BaseBranch)
	assert.Equal(t, "abc123", payload.HeadSHA)
}

func TestParsePayload(t *testing.T) {
	valid := []byte(`{
		"action": "opened",
		"issue": {"number": 42},
		"repository": {"id": 1001, "full_name": "octo/widgets"},
		"sender": {"id": 7, "login": "octocat"}
	}`)
	payload, err := ParsePayload("issues", valid)
	require.NoError(t, err)
	ev, ok := payload.(*github.IssuesEvent)
	require.True(t, ok)
	assert.Equal(t, "opened", ev.GetAction())

	// Missing required fields are rejected at ingress.
	_, err = ParsePayload("issues", []byte(`{"action":"opened"}`))
	assert.Error(t, err)

	// Unsupported event kinds are rejected.
	_, err = ParsePayload("watch", []byte(`{"action":"started"}`))
	assert.Error(t, err)

	// Garbage body.
	_, err = ParsePayload("issues", []byte(`not-json`))
	assert.Error(t, err)
}

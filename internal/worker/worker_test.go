package worker_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirokuhq/kiroku/internal/jobs"
	"github.com/kirokuhq/kiroku/internal/model"
	"github.com/kirokuhq/kiroku/internal/runs"
	"github.com/kirokuhq/kiroku/internal/status"
	"github.com/kirokuhq/kiroku/internal/storage"
	"github.com/kirokuhq/kiroku/internal/testutil"
	"github.com/kirokuhq/kiroku/internal/worker"
)

var (
	testDB  *storage.DB
	testDSN string
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()
	testDSN = tc.DSN

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}

	code := m.Run()

	testDB.Close(ctx)
	tc.Terminate()
	os.Exit(code)
}

// startRuntime runs a worker runtime for the given queue and returns a stop
// function that cancels it and waits for the drain. The runtime gets its own
// DB handle without a notify connection, so the claim loop runs on polling
// alone and tests stay independent of LISTEN/NOTIFY timing.
func startRuntime(t *testing.T, queue string) (stop func()) {
	t.Helper()
	logger := testutil.TestLogger()

	db, err := storage.New(context.Background(), testDSN, "", logger)
	require.NoError(t, err)

	store := runs.New(db, logger)
	publisher := status.NewPublisher(db, logger)

	dispatcher := worker.NewDispatcher(logger)
	jobs.NewService(store, publisher, logger).Register(dispatcher)

	runtime := worker.New(worker.Config{
		DB:           db,
		Dispatcher:   dispatcher,
		Publisher:    publisher,
		Logger:       logger,
		Queue:        queue,
		Concurrency:  2,
		PollInterval: 100 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runtime.Run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("worker did not drain")
		}
		db.Close(context.Background())
	}
}

// waitForJob polls until the job leaves the active/queued states.
func waitForJob(t *testing.T, id string) model.Job {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		job, err := testDB.GetJob(ctx, id)
		require.NoError(t, err)
		if job.State == model.JobStateCompleted || job.State == model.JobStateFailed {
			return job
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("timed out waiting for job to finish")
	return model.Job{}
}

func TestRuntimeProcessesJob(t *testing.T) {
	ctx := context.Background()
	const queue = "worker-process"

	stop := startRuntime(t, queue)
	defer stop()

	data, err := json.Marshal(jobs.SummarizeIssuePayload{
		RepoFullName: "octo/widgets",
		IssueNumber:  42,
		Actor: model.NewWebhookActor(model.WebhookActor{
			Source: "github",
			Event:  "issues",
			Action: "opened",
			Sender: model.WebhookSender{ID: 7, Login: "octocat"},
		}),
	})
	require.NoError(t, err)

	job, err := testDB.EnqueueJob(ctx, queue, jobs.SummarizeIssue, data, "")
	require.NoError(t, err)

	finished := waitForJob(t, job.ID)
	assert.Equal(t, model.JobStateCompleted, finished.State)

	// The processor recorded a run: pull its id from the job result and
	// check the ledger side.
	var result struct {
		RunID uuid.UUID `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(finished.Result, &result))

	run, err := testDB.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, jobs.SummarizeIssue, run.Type)
	assert.Equal(t, model.RunStateCompleted, run.State)
	require.NotNil(t, run.Issue)
	assert.Equal(t, 42, run.Issue.Number)
	require.NotNil(t, run.Actor)
	assert.Equal(t, model.ActorWebhook, run.Actor.Kind)

	events, err := testDB.ListEvents(ctx, run.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, model.EventWorkflowState, events[0].Type)
	assert.Nil(t, events[0].ParentID)
	for _, e := range events[1:] {
		assert.NotNil(t, e.ParentID)
	}
}

func TestRuntimeFailsUnknownJobName(t *testing.T) {
	ctx := context.Background()
	const queue = "worker-unknown"

	stop := startRuntime(t, queue)
	defer stop()

	job, err := testDB.EnqueueJob(ctx, queue, "nonexistentJob", json.RawMessage(`{}`), "")
	require.NoError(t, err)

	finished := waitForJob(t, job.ID)
	assert.Equal(t, model.JobStateFailed, finished.State)
	assert.Equal(t, "Unknown job name: nonexistentJob", finished.Error)
}

func TestRuntimeFailsInvalidPayload(t *testing.T) {
	ctx := context.Background()
	const queue = "worker-invalid"

	stop := startRuntime(t, queue)
	defer stop()

	// Missing required repoFullName and issueNumber.
	job, err := testDB.EnqueueJob(ctx, queue, jobs.SummarizeIssue, json.RawMessage(`{}`), "")
	require.NoError(t, err)

	finished := waitForJob(t, job.ID)
	assert.Equal(t, model.JobStateFailed, finished.State)
	assert.NotEmpty(t, finished.Error)
}

package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirokuhq/kiroku/internal/hooks"
	"github.com/kirokuhq/kiroku/internal/runs"
)

const testWebhookSecret = "test-secret"

// recordingHandler counts Handle invocations for webhook routing tests.
type recordingHandler struct {
	event string
	calls atomic.Int32
	done  chan struct{}
}

func (h *recordingHandler) CanHandle(event string, payload any) bool {
	return event == h.event
}

func (h *recordingHandler) Handle(ctx context.Context, event string, payload any) error {
	h.calls.Add(1)
	close(h.done)
	return nil
}

func newTestServer(t *testing.T, router *hooks.Router) *Server {
	t.Helper()
	if router == nil {
		router = hooks.NewRouter(testLogger())
	}
	return New(ServerConfig{
		Store:               runs.New(nil, testLogger()),
		Router:              router,
		Logger:              testLogger(),
		Port:                0,
		WebhookSecret:       testWebhookSecret,
		Queue:               "workflows",
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func webhookRequest(t *testing.T, event string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/hooks/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", "delivery-1")
	req.Header.Set("X-Hub-Signature-256", sign(body))
	return req
}

var issuesOpenedBody = []byte(`{
	"action": "opened",
	"issue": {"number": 42},
	"repository": {"id": 1001, "full_name": "octo/widgets"},
	"sender": {"id": 7, "login": "octocat"}
}`)

func TestWebhookAcceptedAndRouted(t *testing.T) {
	handler := &recordingHandler{event: "issues", done: make(chan struct{})}
	router := hooks.NewRouter(testLogger())
	router.Register(handler)

	srv := newTestServer(t, router)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, webhookRequest(t, "issues", issuesOpenedBody))

	// Fast ack; handler work happens after the response.
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"received":true`)

	select {
	case <-handler.done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for background routing")
	}
	assert.Equal(t, int32(1), handler.calls.Load())
}

func TestWebhookBadSignature(t *testing.T) {
	srv := newTestServer(t, nil)

	req := webhookRequest(t, "issues", issuesOpenedBody)
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookInvalidPayload(t *testing.T) {
	srv := newTestServer(t, nil)

	// Missing required fields.
	body := []byte(`{"action":"opened"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, webhookRequest(t, "issues", body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unsupported event kind.
	body = []byte(`{"action":"started"}`)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, webhookRequest(t, "watch", body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRunsRequiresFilter(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "filter")
}

func TestListRunsRejectsNonNumericFilters(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs?repository_id=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid repository_id")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs?issue_number=seven", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid issue_number")
}

func TestGetRunInvalidID(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/not-a-uuid", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/not-a-uuid", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	// Generated when absent.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/not-a-uuid", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

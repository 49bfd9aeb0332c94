package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/google/uuid"

	"github.com/kirokuhq/kiroku/internal/hooks"
	"github.com/kirokuhq/kiroku/internal/model"
	"github.com/kirokuhq/kiroku/internal/runs"
	"github.com/kirokuhq/kiroku/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	store               *runs.Store
	router              *hooks.Router
	broker              *Broker
	logger              *slog.Logger
	webhookSecret       string
	queue               string
	version             string
	maxRequestBodyBytes int64
	startedAt           time.Time
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Broker.
type HandlersDeps struct {
	DB                  *storage.DB
	Store               *runs.Store
	Router              *hooks.Router
	Broker              *Broker
	Logger              *slog.Logger
	WebhookSecret       string
	Queue               string
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		store:               d.Store,
		router:              d.Router,
		broker:              d.Broker,
		logger:              d.Logger,
		webhookSecret:       d.WebhookSecret,
		queue:               d.Queue,
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		startedAt:           time.Now(),
	}
}

// HandleGitHubWebhook handles POST /hooks/github. GitHub expects a fast
// acknowledgement, so the delivery is validated and parsed synchronously
// and then routed to matching handlers in the background.
func (h *Handlers) HandleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes)

	body, err := github.ValidatePayload(r, []byte(h.webhookSecret))
	if err != nil {
		h.logger.Warn("webhook signature validation failed",
			"error", err,
			"request_id", RequestIDFromContext(r.Context()),
		)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	event := github.WebHookType(r)
	if event == "" {
		writeError(w, http.StatusBadRequest, "missing X-GitHub-Event header")
		return
	}

	payload, err := hooks.ParsePayload(event, body)
	if err != nil {
		h.logger.Warn("webhook payload rejected",
			"event", event,
			"error", err,
			"request_id", RequestIDFromContext(r.Context()),
		)
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	delivery := github.DeliveryID(r)

	// The request context dies when the response is written; routing
	// outlives it but keeps its trace and request ID values.
	ctx := context.WithoutCancel(r.Context())

	// Acknowledge before routing. Handler outcomes are reported through
	// job status and the run's event chain, not this response.
	writeJSON(w, http.StatusAccepted, map[string]any{"received": true})

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("webhook routing panic",
					"event", event,
					"delivery", delivery,
					"panic", rec,
				)
			}
		}()

		matched := h.router.Route(ctx, event, payload)
		h.logger.Info("webhook routed",
			"event", event,
			"delivery", delivery,
			"matched", matched,
		)
	}()
}

// HandleGetRun handles GET /v1/runs/{run_id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run_id")
		return
	}

	run, err := h.store.GetByID(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.internalError(w, r, "get run", err)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// HandleListRuns handles GET /v1/runs. At least one filter is required:
// user_id, repository_id or issue_number.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	repositoryID, err := queryInt(r, "repository_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid repository_id")
		return
	}
	issueNumber, err := queryInt(r, "issue_number")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid issue_number")
		return
	}
	filter := model.RunFilter{
		UserID:       r.URL.Query().Get("user_id"),
		RepositoryID: int64(repositoryID),
		IssueNumber:  issueNumber,
	}

	list, err := h.store.List(r.Context(), filter)
	if err != nil {
		if errors.Is(err, storage.ErrFilterRequired) {
			writeError(w, http.StatusBadRequest, "at least one filter is required: user_id, repository_id, issue_number")
			return
		}
		h.internalError(w, r, "list runs", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": list, "count": len(list)})
}

// HandleListRunEvents handles GET /v1/runs/{run_id}/events. Events come
// back in insertion order, oldest first.
func (h *Handlers) HandleListRunEvents(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run_id")
		return
	}

	if _, err := h.store.GetByID(r.Context(), runID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.internalError(w, r, "get run", err)
		return
	}

	events, err := h.store.ListEvents(r.Context(), runID)
	if err != nil {
		h.internalError(w, r, "list run events", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

type enqueueJobRequest struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// HandleEnqueueJob handles POST /v1/jobs. Name validation happens in the
// worker: an unknown name fails the job rather than the enqueue.
func (h *Handlers) HandleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueJobRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	job, err := h.db.EnqueueJob(r.Context(), h.queue, req.Name, req.Data, req.ID)
	if err != nil {
		h.internalError(w, r, "enqueue job", err)
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

// HandleSubscribe handles GET /v1/jobs/subscribe (SSE).
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, http.StatusServiceUnavailable, "SSE not available (LISTEN/NOTIFY not configured)")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	// Without this, idle SSE connections are killed after WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	resp := map[string]any{
		"status":   status,
		"version":  h.version,
		"postgres": pgStatus,
		"uptime":   int64(time.Since(h.startedAt).Seconds()),
	}
	if h.broker != nil {
		resp["sse_broker"] = "running"
	}

	writeJSON(w, httpStatus, resp)
}

// internalError logs the error with its request ID and writes a generic 500.
func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error(op,
		"error", err,
		"request_id", RequestIDFromContext(r.Context()),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

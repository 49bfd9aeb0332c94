package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kirokuhq/kiroku/internal/hooks"
	"github.com/kirokuhq/kiroku/internal/runs"
	"github.com/kirokuhq/kiroku/internal/storage"
)

// Server is the kiroku HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Broker is optional (nil = SSE disabled).
type ServerConfig struct {
	DB     *storage.DB
	Store  *runs.Store
	Router *hooks.Router
	Broker *Broker
	Logger *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	WebhookSecret       string
	Queue               string
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		Store:               cfg.Store,
		Router:              cfg.Router,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		WebhookSecret:       cfg.WebhookSecret,
		Queue:               cfg.Queue,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Webhook ingress.
	mux.HandleFunc("POST /hooks/github", h.HandleGitHubWebhook)

	// Run queries.
	mux.HandleFunc("GET /v1/runs", h.HandleListRuns)
	mux.HandleFunc("GET /v1/runs/{run_id}", h.HandleGetRun)
	mux.HandleFunc("GET /v1/runs/{run_id}/events", h.HandleListRunEvents)

	// Jobs.
	mux.HandleFunc("POST /v1/jobs", h.HandleEnqueueJob)
	mux.HandleFunc("GET /v1/jobs/subscribe", h.HandleSubscribe)

	// Health.
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

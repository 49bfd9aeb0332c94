// Package hooks routes inbound webhook events to registered handlers.
package hooks

import (
	"context"
	"log/slog"
)

// Handler reacts to webhook events. CanHandle must be cheap and
// side-effect free; Handle does the work.
type Handler interface {
	CanHandle(event string, payload any) bool
	Handle(ctx context.Context, event string, payload any) error
}

// Router matches inbound webhook events against registered handlers and
// invokes every match. Routers are constructed per process, not shared
// module-level singletons, so tests can build isolated instances.
type Router struct {
	handlers []Handler
	logger   *slog.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *slog.Logger) *Router {
	return &Router{logger: logger}
}

// Register adds a handler. Registration order is invocation order.
func (r *Router) Register(h Handler) {
	r.handlers = append(r.handlers, h)
}

// Route invokes Handle on every registered handler whose CanHandle returns
// true, sequentially. A handler error is logged through the router's
// structured sink and never prevents the remaining handlers from running.
// Returns the count of handlers that matched, purely for diagnostics.
func (r *Router) Route(ctx context.Context, event string, payload any) int {
	matched := 0
	for _, h := range r.handlers {
		if !h.CanHandle(event, payload) {
			continue
		}
		matched++
		if err := h.Handle(ctx, event, payload); err != nil {
			r.logger.Error("webhook handler failed",
				"event", event,
				"handler", matched,
				"error", err,
			)
		}
	}
	if matched == 0 {
		r.logger.Debug("no webhook handlers matched", "event", event)
	}
	return matched
}

package router

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"github.com/rickgao/tradestream/internal/metrics"
)

// Router parses inbound frames and dispatches them to subscribed handlers.
//
// Route must be called from a single goroutine per feed so that events
// reach handlers in the order frames were received. Handlers run
// synchronously; a slow handler delays the events behind it.
type Router struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Collector

	received      atomic.Int64
	dispatched    atomic.Int64
	unhandled     atomic.Int64
	parseErrors   atomic.Int64
	pongs         atomic.Int64
	handlerErrors atomic.Int64
	handlerPanics atomic.Int64
}

// New creates a router with an empty registry. m may be nil.
func New(logger *slog.Logger, m *metrics.Collector) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: NewRegistry(),
		logger:   logger,
		metrics:  m,
	}
}

// Subscribe registers h for eventType.
func (r *Router) Subscribe(eventType string, h Handler) UnsubscribeFunc {
	return r.registry.Subscribe(eventType, h)
}

// SubscribeAll registers h for every event.
func (r *Router) SubscribeAll(h Handler) UnsubscribeFunc {
	return r.registry.Subscribe(Wildcard, h)
}

// Registry returns the router's subscription registry.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Route parses a frame and dispatches it: handlers for the exact type
// first, then wildcard handlers. Malformed frames are logged and dropped.
// Pongs are counted and dropped.
func (r *Router) Route(ctx context.Context, f Frame) {
	r.received.Add(1)

	ev, err := Parse(f)
	if err != nil {
		r.parseErrors.Add(1)
		r.metrics.RecordParseError()
		r.logger.Warn("dropping unparseable frame",
			"error", err,
			"bytes", len(f.Data),
			"session", f.SessionID,
		)
		return
	}

	if ev.Type == TypePong {
		r.pongs.Add(1)
		return
	}

	r.Dispatch(ctx, ev)
}

// Dispatch delivers an already parsed event.
func (r *Router) Dispatch(ctx context.Context, ev Event) {
	typed := r.registry.snapshot(ev.Type)
	wildcard := r.registry.snapshot(Wildcard)

	r.dispatched.Add(1)
	r.metrics.RecordDispatch(ev.Type)

	if len(typed) == 0 && len(wildcard) == 0 {
		r.unhandled.Add(1)
		r.logger.Debug("no subscribers for event", "type", ev.Type)
		return
	}

	for _, sub := range typed {
		r.invoke(ctx, sub, ev)
	}
	for _, sub := range wildcard {
		r.invoke(ctx, sub, ev)
	}
}

// invoke runs one handler, containing its errors and panics.
func (r *Router) invoke(ctx context.Context, sub *subscription, ev Event) {
	if !sub.active.Load() {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			r.handlerPanics.Add(1)
			r.metrics.RecordHandlerFailure(ev.Type)
			r.logger.Error("event handler panicked",
				"type", ev.Type,
				"subscription", sub.id,
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := sub.handler(ctx, ev); err != nil {
		r.handlerErrors.Add(1)
		r.metrics.RecordHandlerFailure(ev.Type)
		r.logger.Warn("event handler failed",
			"type", ev.Type,
			"subscription", sub.id,
			"error", err,
		)
	}
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	return Stats{
		Received:      r.received.Load(),
		Dispatched:    r.dispatched.Load(),
		Unhandled:     r.unhandled.Load(),
		ParseErrors:   r.parseErrors.Load(),
		Pongs:         r.pongs.Load(),
		HandlerErrors: r.handlerErrors.Load(),
		HandlerPanics: r.handlerPanics.Load(),
	}
}

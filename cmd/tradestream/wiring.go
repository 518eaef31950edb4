package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rickgao/tradestream/internal/api"
	"github.com/rickgao/tradestream/internal/auth"
	"github.com/rickgao/tradestream/internal/classify"
	"github.com/rickgao/tradestream/internal/config"
	"github.com/rickgao/tradestream/internal/connection"
	"github.com/rickgao/tradestream/internal/metrics"
	"github.com/rickgao/tradestream/internal/model"
	"github.com/rickgao/tradestream/internal/retry"
	"github.com/rickgao/tradestream/internal/router"
	"github.com/rickgao/tradestream/internal/version"
)

// TypeSubscribe is sent after every (re)connect to request channels.
const TypeSubscribe = "subscribe"

// loadCredentials returns nil when no private key is configured.
func loadCredentials(cfg config.APIConfig) (*auth.Credentials, error) {
	if cfg.PrivateKeyPath == "" {
		return nil, nil
	}
	creds, err := auth.LoadCredentials(cfg.APIKey, cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load api credentials: %w", err)
	}
	return creds, nil
}

// feedConfig maps the feed section onto the connection manager config.
func feedConfig(cfg config.FeedConfig, creds *auth.Credentials) (connection.Config, error) {
	header, err := handshakeHeader(cfg.URL, creds)
	if err != nil {
		return connection.Config{}, err
	}

	return connection.Config{
		Client: connection.ClientConfig{
			URL:              cfg.URL,
			Header:           header,
			HandshakeTimeout: cfg.HandshakeTimeout,
			WriteTimeout:     cfg.WriteTimeout,
			BufferSize:       cfg.BufferSize,
		},
		Policy: connection.ReconnectPolicy{
			BaseDelay:   cfg.ReconnectInterval,
			MaxDelay:    cfg.ReconnectMaxDelay,
			MaxAttempts: cfg.MaxReconnectAttempts,
		},
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
	}, nil
}

// handshakeHeader sets the user agent and, with credentials, signs each
// dial.
func handshakeHeader(feedURL string, creds *auth.Credentials) (connection.HeaderFunc, error) {
	ua := version.UserAgent()
	if creds == nil {
		return func() (http.Header, error) {
			return http.Header{"User-Agent": {ua}}, nil
		}, nil
	}

	sign, err := creds.FeedHeader(feedURL)
	if err != nil {
		return nil, err
	}
	return func() (http.Header, error) {
		h, err := sign()
		if err != nil {
			return nil, err
		}
		h.Set("User-Agent", ua)
		return h, nil
	}, nil
}

// apiRetry maps api.retry onto executor options.
func apiRetry(cfg config.RetryConfig, logger *slog.Logger, m *metrics.Collector) retry.Options {
	return retry.Options{
		MaxAttempts: cfg.MaxAttempts,
		Delay:       cfg.Delay,
		Backoff:     cfg.BackoffEnabled(),
		Retryable:   api.Retryable,
		Logger:      logger,
		Metrics:     m,
	}
}

// connectRetry covers the first feed connect, which the manager itself
// does not retry. It follows the reconnect policy's schedule.
func connectRetry(cfg config.FeedConfig, logger *slog.Logger, m *metrics.Collector) retry.Options {
	return retry.Options{
		MaxAttempts: cfg.MaxReconnectAttempts + 1,
		Delay:       cfg.ReconnectInterval,
		Backoff:     true,
		Retryable: func(err *classify.Error) bool {
			switch err.Kind() {
			case classify.KindNetwork, classify.KindServer:
				return true
			}
			return false
		},
		OnRetry: func(attempt int, err *classify.Error) {
			logger.Warn("initial feed connect failed", "attempt", attempt, "kind", err.Kind(), "error", err.Message())
		},
		Annotations: map[string]any{"url": cfg.URL},
		Logger:      logger,
		Metrics:     m,
	}
}

func newAPIClient(cfg *config.Config, creds *auth.Credentials, logger *slog.Logger, m *metrics.Collector) *api.Client {
	return api.NewClient(cfg.API.RestURL, creds,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetryOptions(apiRetry(cfg.API.Retry, logger, m)),
	)
}

// subscribeRequest builds the subscribe frame for the configured channels.
func subscribeRequest(channels []string) (router.Event, bool) {
	if len(channels) == 0 {
		return router.Event{}, false
	}
	ev, err := router.NewEvent(TypeSubscribe, map[string]any{"channels": channels})
	if err != nil {
		return router.Event{}, false
	}
	return ev, true
}

// logEvents installs the console subscriber: one Info line per event of
// the given types, or of every type when none are given.
func logEvents(r *router.Router, types []string, logger *slog.Logger) router.UnsubscribeFunc {
	h := func(_ context.Context, ev router.Event) error {
		attrs := append([]any{"type", ev.Type, "session", ev.SessionID}, eventAttrs(ev)...)
		logger.Info("event", attrs...)
		logger.Debug("event payload", "type", ev.Type, "data", string(ev.Data))
		return nil
	}

	if len(types) == 0 {
		return r.SubscribeAll(h)
	}
	unsubs := make([]router.UnsubscribeFunc, 0, len(types))
	for _, t := range types {
		unsubs = append(unsubs, r.Subscribe(t, h))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// eventAttrs summarises the payload of known event types for logging.
// Unknown or undecodable payloads are reported by size.
func eventAttrs(ev router.Event) []any {
	switch ev.Type {
	case model.EventOrderUpdate:
		if o, err := router.Decode[model.Order](ev); err == nil {
			return []any{"order", o.ID, "symbol", o.Symbol, "side", o.Side, "status", o.Status, "remaining", o.Remaining()}
		}
	case model.EventStrategyUpdate:
		if s, err := router.Decode[model.Strategy](ev); err == nil {
			return []any{"strategy", s.Name, "status", s.Status, "pnl", cents(s.PnL)}
		}
	case model.EventTrade:
		if t, err := router.Decode[model.Trade](ev); err == nil {
			return []any{"order", t.OrderID, "symbol", t.Symbol, "side", t.Side, "size", t.Size, "price", cents(t.Price)}
		}
	case model.EventPositionUpdate:
		if p, err := router.Decode[model.Position](ev); err == nil {
			return []any{"symbol", p.Symbol, "quantity", p.Quantity, "unrealized_pnl", cents(p.UnrealizedPnL)}
		}
	}
	return []any{"bytes", len(ev.Data)}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/rickgao/tradestream/internal/connection"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFeed struct{ stats connection.Stats }

func (f fakeFeed) Stats() connection.Stats { return f.stats }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name string
		deps healthDeps
		want string
	}{
		{
			name: "nothing configured",
			deps: healthDeps{},
			want: statusHealthy,
		},
		{
			name: "feed open",
			deps: healthDeps{feed: fakeFeed{connection.Stats{State: connection.StateOpen, SessionID: uuid.New()}}},
			want: statusHealthy,
		},
		{
			name: "feed connecting",
			deps: healthDeps{feed: fakeFeed{connection.Stats{State: connection.StateConnecting, Attempt: 2}}},
			want: statusDegraded,
		},
		{
			name: "feed closed",
			deps: healthDeps{feed: fakeFeed{connection.Stats{State: connection.StateClosed}}},
			want: statusUnhealthy,
		},
		{
			name: "database down",
			deps: healthDeps{
				feed: fakeFeed{connection.Stats{State: connection.StateOpen}},
				db:   fakePinger{err: errors.New("connection refused")},
			},
			want: statusUnhealthy,
		},
		{
			name: "database down while reconnecting",
			deps: healthDeps{
				feed: fakeFeed{connection.Stats{State: connection.StateConnecting}},
				db:   fakePinger{err: errors.New("connection refused")},
			},
			want: statusUnhealthy,
		},
		{
			name: "database up",
			deps: healthDeps{
				feed: fakeFeed{connection.Stats{State: connection.StateOpen}},
				db:   fakePinger{},
			},
			want: statusHealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.deps.check(context.Background())
			if got.Status != tt.want {
				t.Errorf("Status = %q, want %q (components %v)", got.Status, tt.want, got.Components)
			}
		})
	}
}

func TestHealthCheck_FeedComponent(t *testing.T) {
	id := uuid.New()
	deps := healthDeps{feed: fakeFeed{connection.Stats{
		State:     connection.StateOpen,
		SessionID: id,
		Connects:  3,
	}}}

	report := deps.check(context.Background())
	feed, ok := report.Components["feed"].(map[string]any)
	if !ok {
		t.Fatalf("feed component = %T, want map", report.Components["feed"])
	}
	if feed["state"] != connection.StateOpen.String() {
		t.Errorf("state = %v, want %v", feed["state"], connection.StateOpen.String())
	}
	if feed["session_id"] != id.String() {
		t.Errorf("session_id = %v, want %v", feed["session_id"], id)
	}
	if feed["connects"] != int64(3) {
		t.Errorf("connects = %v, want 3", feed["connects"])
	}
}

func TestHealthHandler(t *testing.T) {
	metricsHit := false
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metricsHit = true
	})

	t.Run("healthy", func(t *testing.T) {
		deps := healthDeps{feed: fakeFeed{connection.Stats{State: connection.StateOpen}}}
		srv := httptest.NewServer(newHealthHandler(deps, "/metrics", metricsHandler, discardLogger()))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/health")
		if err != nil {
			t.Fatalf("GET /health error = %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		var report healthReport
		if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if report.Status != statusHealthy {
			t.Errorf("Status = %q, want %q", report.Status, statusHealthy)
		}
	})

	t.Run("unhealthy", func(t *testing.T) {
		deps := healthDeps{feed: fakeFeed{connection.Stats{State: connection.StateClosed}}}
		srv := httptest.NewServer(newHealthHandler(deps, "/metrics", metricsHandler, discardLogger()))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/health")
		if err != nil {
			t.Fatalf("GET /health error = %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", resp.StatusCode)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		srv := httptest.NewServer(newHealthHandler(healthDeps{}, "/metrics", metricsHandler, discardLogger()))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/metrics")
		if err != nil {
			t.Fatalf("GET /metrics error = %v", err)
		}
		resp.Body.Close()

		if !metricsHit {
			t.Error("metrics handler was not called")
		}
	})
}

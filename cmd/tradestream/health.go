package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/tradestream/internal/connection"
	"github.com/rickgao/tradestream/internal/poller"
	"github.com/rickgao/tradestream/internal/writer"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// feedStatus is the part of *connection.Manager the health check reads.
type feedStatus interface {
	Stats() connection.Stats
}

// pinger is satisfied by *pgxpool.Pool.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthDeps holds the optional components reported on /health. Nil
// components are omitted.
type healthDeps struct {
	feed    feedStatus
	db      pinger
	journal *writer.Journal
	poller  *poller.Poller
}

type healthReport struct {
	Status     string         `json:"status"`
	Components map[string]any `json:"components"`
}

// check builds the report. A closed feed or an unreachable database is
// unhealthy; a feed that is reconnecting or a failing backend poll is
// degraded.
func (d healthDeps) check(ctx context.Context) healthReport {
	report := healthReport{
		Status:     statusHealthy,
		Components: make(map[string]any),
	}
	degrade := func(s string) {
		if report.Status != statusUnhealthy {
			report.Status = s
		}
	}

	if d.feed != nil {
		st := d.feed.Stats()
		feed := map[string]any{
			"state":      st.State.String(),
			"attempt":    st.Attempt,
			"connects":   st.Connects,
			"reconnects": st.Reconnects,
			"frames_in":  st.FramesIn,
			"frames_out": st.FramesOut,
		}
		if st.State == connection.StateOpen {
			feed["session_id"] = st.SessionID.String()
			feed["connected_at"] = st.ConnectedAt
		}
		report.Components["feed"] = feed

		switch st.State {
		case connection.StateOpen:
		case connection.StateClosed:
			report.Status = statusUnhealthy
		default:
			degrade(statusDegraded)
		}
	}

	if d.db != nil {
		if err := d.db.Ping(ctx); err != nil {
			report.Status = statusUnhealthy
			report.Components["timescaledb"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			report.Components["timescaledb"] = "connected"
		}
	}

	if d.journal != nil {
		js := d.journal.Stats()
		report.Components["journal"] = map[string]any{
			"enqueued": js.Enqueued,
			"inserts":  js.Inserts,
			"dupes":    js.Dupes,
			"dropped":  js.Dropped,
			"errors":   js.Errors,
		}
	}

	if d.poller != nil {
		snap := d.poller.Latest()
		backend := map[string]any{
			"healthy":   snap.Healthy(),
			"polled_at": snap.PolledAt,
		}
		if snap.Status != nil {
			backend["trading"] = snap.Status.Trading
			backend["version"] = snap.Status.Version
		}
		backend["strategies"] = len(snap.Strategies)
		backend["open_orders"] = len(snap.OpenOrders)
		if snap.Err != nil {
			backend["error"] = snap.Err.Error()
		}
		report.Components["backend"] = backend

		// Before the first poll completes PolledAt is zero.
		if !snap.PolledAt.IsZero() && !snap.Healthy() {
			degrade(statusDegraded)
		}
	}

	return report
}

// newHealthHandler serves /health and the Prometheus handler at
// metricsPath.
func newHealthHandler(deps healthDeps, metricsPath string, metricsHandler http.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		report := deps.check(ctx)

		w.Header().Set("Content-Type", "application/json")
		if report.Status == statusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(report); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})

	if metricsHandler != nil {
		mux.Handle(metricsPath, metricsHandler)
	}

	return mux
}

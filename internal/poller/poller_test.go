package poller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/tradestream/internal/api"
	"github.com/rickgao/tradestream/internal/classify"
	"github.com/rickgao/tradestream/internal/model"
)

// mockSource returns fixed data and counts calls.
type mockSource struct {
	status     *model.ServiceStatus
	strategies []model.Strategy
	orders     []model.Order
	statusErr  error
	calls      atomic.Int32
	lastOpts   atomic.Value
}

func (m *mockSource) GetStatus(ctx context.Context) (*model.ServiceStatus, error) {
	m.calls.Add(1)
	return m.status, m.statusErr
}

func (m *mockSource) ListStrategies(ctx context.Context) ([]model.Strategy, error) {
	return m.strategies, nil
}

func (m *mockSource) ListAllOrders(ctx context.Context, opts api.ListOrdersOptions) ([]model.Order, error) {
	m.lastOpts.Store(opts)
	return m.orders, nil
}

func TestPoller_Poll(t *testing.T) {
	src := &mockSource{
		status:     &model.ServiceStatus{Healthy: true, Trading: true},
		strategies: []model.Strategy{{Name: "a"}, {Name: "b"}},
		orders:     []model.Order{{Symbol: "BTC-USD", Status: model.OrderOpen}},
	}
	p := New(Config{}, src, nil, nil)

	snap := p.Poll(context.Background())

	if snap.Err != nil {
		t.Fatalf("Err = %v, want nil", snap.Err)
	}
	if !snap.Healthy() {
		t.Error("Healthy() = false, want true")
	}
	if len(snap.Strategies) != 2 {
		t.Errorf("len(Strategies) = %d, want 2", len(snap.Strategies))
	}
	if len(snap.OpenOrders) != 1 {
		t.Errorf("len(OpenOrders) = %d, want 1", len(snap.OpenOrders))
	}
	if opts := src.lastOpts.Load().(api.ListOrdersOptions); opts.Status != model.OrderOpen {
		t.Errorf("orders filter status = %q, want open", opts.Status)
	}
	if snap.PolledAt.IsZero() {
		t.Error("PolledAt should be set")
	}
}

func TestPoller_PollPartialFailure(t *testing.T) {
	src := &mockSource{
		statusErr:  errors.New("connection refused"),
		strategies: []model.Strategy{{Name: "a"}},
	}
	p := New(Config{}, src, nil, nil)

	snap := p.Poll(context.Background())

	if snap.Err == nil || !strings.Contains(snap.Err.Error(), "poll status") {
		t.Fatalf("Err = %v, want status failure", snap.Err)
	}
	if snap.Healthy() {
		t.Error("Healthy() = true, want false")
	}
	if len(snap.Strategies) != 1 {
		t.Error("strategies should still be fetched when status fails")
	}
}

func TestPoller_StartStop(t *testing.T) {
	src := &mockSource{status: &model.ServiceStatus{Healthy: true}}

	var handled atomic.Int32
	handler := SnapshotHandlerFunc(func(s Snapshot) error {
		handled.Add(1)
		return nil
	})

	p := New(Config{Interval: 20 * time.Millisecond}, src, handler, nil)

	if !p.Latest().PolledAt.IsZero() {
		t.Error("Latest() before Start should be empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for handled.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if handled.Load() < 2 {
		t.Errorf("handled = %d, want at least 2 cycles", handled.Load())
	}
	if !p.Latest().Healthy() {
		t.Error("Latest() should hold a healthy snapshot")
	}
}

func TestPoller_WithAPIClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/status":
			w.Write([]byte(`{"status": {"healthy": true, "trading": true}}`))
		case "/strategies":
			w.Write([]byte(`{"strategies": [{"name": "grid", "status": "running"}]}`))
		case "/orders":
			w.Write([]byte(`{"orders": [], "cursor": ""}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := api.NewClient(server.URL, nil, api.WithTimeout(5*time.Second))
	p := New(Config{Timeout: 5 * time.Second}, client, nil, nil)

	snap := p.Poll(context.Background())
	if snap.Err != nil {
		t.Fatalf("Err = %v", snap.Err)
	}
	if !snap.Healthy() || len(snap.Strategies) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestPoller_ServerErrorIsClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/status" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := api.NewClient(server.URL, nil, api.WithRetry(1, time.Millisecond, false))
	snap := New(Config{}, client, nil, nil).Poll(context.Background())

	if got := classify.KindOf(snap.Err); got != classify.KindAuth {
		t.Errorf("KindOf(Err) = %s, want %s", got, classify.KindAuth)
	}
}

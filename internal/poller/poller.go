package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tradestream/internal/api"
	"github.com/rickgao/tradestream/internal/model"
)

// Source is the REST surface the poller reads. *api.Client implements it.
type Source interface {
	GetStatus(ctx context.Context) (*model.ServiceStatus, error)
	ListStrategies(ctx context.Context) ([]model.Strategy, error)
	ListAllOrders(ctx context.Context, opts api.ListOrdersOptions) ([]model.Order, error)
}

// Snapshot is the result of one poll cycle. Fields whose fetch failed keep
// their zero value and the failure is recorded in Err.
type Snapshot struct {
	Status     *model.ServiceStatus
	Strategies []model.Strategy
	OpenOrders []model.Order
	PolledAt   time.Time
	Took       time.Duration
	Err        error
}

// Healthy reports whether the backend answered and says it is healthy.
func (s Snapshot) Healthy() bool {
	return s.Err == nil && s.Status != nil && s.Status.Healthy
}

// SnapshotHandler receives each completed snapshot.
type SnapshotHandler interface {
	HandleSnapshot(snapshot Snapshot) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(Snapshot) error

func (f SnapshotHandlerFunc) HandleSnapshot(s Snapshot) error {
	return f(s)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 1m)
	Concurrency int           // Max concurrent requests (default: 3)
	Timeout     time.Duration // Per-cycle timeout (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		Concurrency: 3,
		Timeout:     30 * time.Second,
	}
}

// Poller periodically fetches backend state via the REST API.
type Poller struct {
	cfg     Config
	source  Source
	handler SnapshotHandler
	logger  *slog.Logger

	mu     sync.RWMutex
	latest Snapshot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. handler may be nil.
func New(cfg Config, source Source, handler SnapshotHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logger.With("component", "poller"),
	}
}

// Start begins the polling loop. The first poll runs immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("status poller started", "interval", p.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("status poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Latest returns the most recent snapshot; PolledAt is zero before the
// first cycle completes.
func (p *Poller) Latest() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.cycle()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.cycle()
		}
	}
}

func (p *Poller) cycle() {
	snap := p.Poll(p.ctx)
	if p.ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	p.latest = snap
	p.mu.Unlock()

	if snap.Err != nil {
		p.logger.Warn("poll cycle failed", "error", snap.Err, "duration", snap.Took)
	} else {
		p.logger.Debug("poll cycle complete",
			"healthy", snap.Status.Healthy,
			"strategies", len(snap.Strategies),
			"open_orders", len(snap.OpenOrders),
			"duration", snap.Took,
		)
	}

	if p.handler != nil {
		if err := p.handler.HandleSnapshot(snap); err != nil {
			p.logger.Warn("snapshot handler failed", "error", err)
		}
	}
}

// Poll runs one cycle. The three fetches run concurrently and one failing
// does not cancel the others.
func (p *Poller) Poll(ctx context.Context) Snapshot {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	var (
		snap                      Snapshot
		statusErr, stratErr, oErr error
	)

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	g.Go(func() error {
		snap.Status, statusErr = p.source.GetStatus(ctx)
		return nil
	})
	g.Go(func() error {
		snap.Strategies, stratErr = p.source.ListStrategies(ctx)
		return nil
	})
	g.Go(func() error {
		snap.OpenOrders, oErr = p.source.ListAllOrders(ctx, api.ListOrdersOptions{Status: model.OrderOpen})
		return nil
	})
	_ = g.Wait()

	snap.Err = errors.Join(
		wrap("status", statusErr),
		wrap("strategies", stratErr),
		wrap("open orders", oErr),
	)
	snap.PolledAt = time.Now()
	snap.Took = snap.PolledAt.Sub(start)
	return snap
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("poll %s: %w", what, err)
}

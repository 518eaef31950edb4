package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tradestream/internal/config"
	"github.com/rickgao/tradestream/internal/connection"
	"github.com/rickgao/tradestream/internal/database"
	"github.com/rickgao/tradestream/internal/metrics"
	"github.com/rickgao/tradestream/internal/poller"
	"github.com/rickgao/tradestream/internal/retry"
	"github.com/rickgao/tradestream/internal/router"
	"github.com/rickgao/tradestream/internal/writer"
)

const shutdownTimeout = 10 * time.Second

// ErrReconnectExhausted is returned by listen when the feed gives up.
var ErrReconnectExhausted = errors.New("feed reconnect attempts exhausted")

func newListenCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Connect to the feed and stream events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return listen(ctx, cfg, logger)
		},
	}
}

// listen runs the feed, the optional journal and poller, and the health
// server until ctx is cancelled or the reconnect budget runs out.
func listen(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger = logger.With("instance_id", cfg.Instance.ID)
	m := metrics.NewCollector()
	r := router.New(logger.With("component", "router"), m)

	creds, err := loadCredentials(cfg.API)
	if err != nil {
		return err
	}

	feedCfg, err := feedConfig(cfg.Feed, creds)
	if err != nil {
		return err
	}
	mgr := connection.NewManager(feedCfg, r, logger.With("component", "feed"), m)
	defer mgr.Disconnect()

	deps := healthDeps{feed: mgr}

	unsubLog := logEvents(r, cfg.Feed.Subscribe, logger)
	defer unsubLog()

	if cfg.Journal.Enabled {
		pool, journal, err := startJournal(ctx, cfg, r, logger, m)
		if err != nil {
			return err
		}
		defer pool.Close()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := journal.Stop(stopCtx); err != nil {
				logger.Warn("journal stop", "error", err)
			}
		}()
		deps.db = pool
		deps.journal = journal
	}

	if cfg.API.RestURL != "" {
		client := newAPIClient(cfg, creds, logger.With("component", "api"), m)
		p := poller.New(poller.DefaultConfig(), client, poller.SnapshotHandlerFunc(func(s poller.Snapshot) error {
			if !s.Healthy() {
				logger.Warn("backend unhealthy", "error", s.Err)
			}
			return nil
		}), logger)
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			p.Stop(stopCtx)
		}()
		deps.poller = p
	}

	exhausted := make(chan int, 1)
	watchFeed(mgr, cfg.Feed.Subscribe, exhausted, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newHealthHandler(deps, cfg.Metrics.Path, m.Handler(), logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Metrics.Port, "metrics_path", cfg.Metrics.Path)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("connecting to feed", "url", cfg.Feed.URL)
		if err := retry.Run(gctx, mgr.Connect, connectRetry(cfg.Feed, logger, m)); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connect feed: %w", err)
		}
		select {
		case <-gctx.Done():
			return nil
		case n := <-exhausted:
			return fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, n)
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		mgr.Disconnect()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	rs := r.Stats()
	logger.Info("tradestream stopped",
		"dispatched", rs.Dispatched,
		"unhandled", rs.Unhandled,
		"parse_errors", rs.ParseErrors,
	)
	return err
}

// watchFeed installs the connection listeners: logging, the subscribe
// request on every connect, and exhaustion reporting.
func watchFeed(mgr *connection.Manager, channels []string, exhausted chan<- int, logger *slog.Logger) {
	mgr.OnConnect(func() {
		logger.Info("feed connected", "session", mgr.SessionID())
		ev, ok := subscribeRequest(channels)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mgr.Send(ctx, ev); err != nil {
			logger.Warn("failed to send subscribe", "error", err)
		}
	})
	mgr.OnDisconnect(func(code int, reason string) {
		logger.Warn("feed closed", "code", code, "reason", reason)
	})
	mgr.OnError(func(err error) {
		logger.Warn("feed error", "error", err)
	})
	mgr.OnReconnecting(func(attempt int, delay time.Duration) {
		logger.Info("feed reconnecting", "attempt", attempt, "delay", delay)
	})
	mgr.OnExhausted(func(attempts int) {
		select {
		case exhausted <- attempts:
		default:
		}
	})
}

// startJournal connects to TimescaleDB, ensures the schema, and attaches
// a running journal to the router.
func startJournal(ctx context.Context, cfg *config.Config, r *router.Router, logger *slog.Logger, m *metrics.Collector) (*pgxpool.Pool, *writer.Journal, error) {
	db := cfg.Database.Timescale
	logger.Info("connecting to database", "host", db.Host, "port", db.Port, "database", db.Name)

	pool, err := database.Connect(ctx, db, cfg.Instance.ID, retry.Options{
		MaxAttempts: 5,
		Delay:       time.Second,
		Backoff:     true,
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	jcfg := writer.DefaultJournalConfig()
	jcfg.InstanceID = cfg.Instance.ID
	jcfg.BatchSize = cfg.Journal.BatchSize
	jcfg.FlushInterval = cfg.Journal.FlushInterval
	jcfg.BufferSize = cfg.Journal.BufferSize

	journal := writer.NewJournal(jcfg, pool, logger, m)
	journal.Attach(r)
	if err := journal.Start(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("start journal: %w", err)
	}
	return pool, journal, nil
}

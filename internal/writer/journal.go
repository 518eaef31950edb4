package writer

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/tradestream/internal/metrics"
	"github.com/rickgao/tradestream/internal/model"
	"github.com/rickgao/tradestream/internal/retry"
	"github.com/rickgao/tradestream/internal/router"
)

// ErrStopped is returned by Start on a journal that has been stopped.
var ErrStopped = errors.New("journal stopped")

const insertEvent = `
	INSERT INTO feed_events (id, instance_id, session_id, event_type, payload, received_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id, received_at) DO NOTHING`

// rowNamespace scopes the name-based row ids.
var rowNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tradestream:feed_events"))

// Batcher is the subset of *pgxpool.Pool the journal writes through.
type Batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// JournalConfig configures batching.
type JournalConfig struct {
	InstanceID    string
	BatchSize     int           // rows per insert batch
	FlushInterval time.Duration // max time a row waits before being written
	BufferSize    int           // initial queue capacity
	Retry         retry.Options // applied to each batch insert
}

// DefaultJournalConfig returns sensible defaults.
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    4096,
		Retry: retry.Options{
			MaxAttempts: 3,
			Delay:       200 * time.Millisecond,
			Backoff:     true,
		},
	}
}

// JournalStats tracks journal activity.
type JournalStats struct {
	Enqueued int64
	Inserts  int64 // rows written by the attempt that succeeded
	Dupes    int64 // rows skipped by ON CONFLICT
	Dropped  int64 // rows lost to failed batches
	Flushes  int64
	Errors   int64
}

// Journal records every dispatched feed event. Handle only enqueues, so a
// slow database never holds up dispatch; a single goroutine drains the
// queue into batches.
type Journal struct {
	cfg     JournalConfig
	db      Batcher
	logger  *slog.Logger
	metrics *metrics.Collector

	input *router.GrowableBuffer[model.JournalEntry]
	batch []model.JournalEntry

	mu          sync.Mutex
	stats       JournalStats
	unsubscribe router.UnsubscribeFunc
	started     bool
	done        chan struct{}
}

// NewJournal creates a journal writing through db.
func NewJournal(cfg JournalConfig, db Batcher, logger *slog.Logger, m *metrics.Collector) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultJournalConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = def.Retry
	}
	cfg.Retry.Logger = logger
	cfg.Retry.Metrics = m
	cfg.Retry.Annotations = map[string]any{"component": "journal"}

	return &Journal{
		cfg:     cfg,
		db:      db,
		logger:  logger.With("component", "journal"),
		metrics: m,
		input:   router.NewGrowableBuffer[model.JournalEntry](cfg.BufferSize),
		batch:   make([]model.JournalEntry, 0, cfg.BatchSize),
		done:    make(chan struct{}),
	}
}

// Attach subscribes the journal to every event type on r.
func (j *Journal) Attach(r *router.Router) {
	unsub := r.SubscribeAll(j.Handle)
	j.mu.Lock()
	j.unsubscribe = unsub
	j.mu.Unlock()
}

// Handle is a router.Handler that queues ev for writing.
func (j *Journal) Handle(_ context.Context, ev router.Event) error {
	receivedAt := ev.ReceivedAt.UnixMicro()
	entry := model.JournalEntry{
		ID:         RowID(ev.SessionID, ev.Type, ev.Data, receivedAt),
		InstanceID: j.cfg.InstanceID,
		SessionID:  ev.SessionID,
		EventType:  ev.Type,
		Payload:    ev.Data,
		ReceivedAt: receivedAt,
	}
	if !j.input.Send(entry) {
		return ErrStopped
	}
	j.mu.Lock()
	j.stats.Enqueued++
	j.mu.Unlock()
	return nil
}

// Start launches the writer goroutine. It runs until ctx is cancelled or
// Stop is called, and writes out everything queued before returning.
func (j *Journal) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		return nil
	}
	if j.input.Closed() {
		return ErrStopped
	}
	j.started = true

	go j.run(ctx)

	j.logger.Info("journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Stop detaches from the router, flushes what is queued and waits for the
// writer goroutine, or for ctx.
func (j *Journal) Stop(ctx context.Context) error {
	j.mu.Lock()
	unsub := j.unsubscribe
	j.unsubscribe = nil
	started := j.started
	j.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	j.input.Close()

	if !started {
		return nil
	}

	select {
	case <-j.done:
		j.logger.Info("journal stopped")
		return nil
	case <-ctx.Done():
		j.logger.Warn("journal stop timed out", "queued", j.input.Len())
		return ctx.Err()
	}
}

// Done is closed once the writer goroutine has exited.
func (j *Journal) Done() <-chan struct{} {
	return j.done
}

// Stats returns a snapshot of the counters.
func (j *Journal) Stats() JournalStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}

func (j *Journal) run(ctx context.Context) {
	defer close(j.done)

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.input.Ready():
			j.collect(ctx)
			if j.input.Closed() {
				j.finish()
				return
			}
		case <-ticker.C:
			j.flush(ctx)
		case <-ctx.Done():
			j.input.Close()
			j.finish()
			return
		}
	}
}

// collect moves queued entries into the batch, flushing each time it fills.
func (j *Journal) collect(ctx context.Context) {
	for {
		items := j.input.DrainTo(j.cfg.BatchSize - len(j.batch))
		if len(items) == 0 {
			return
		}
		j.batch = append(j.batch, items...)
		if len(j.batch) >= j.cfg.BatchSize {
			j.flush(ctx)
		}
	}
}

// finish writes out whatever is left once the queue is closed. The parent
// context may already be cancelled, so the final flush gets its own.
func (j *Journal) finish() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	j.collect(ctx)
	j.flush(ctx)
}

// flush writes the current batch. A batch that still fails after retries is
// dropped and counted.
func (j *Journal) flush(ctx context.Context) {
	if len(j.batch) == 0 {
		return
	}
	rows := j.batch
	j.batch = make([]model.JournalEntry, 0, j.cfg.BatchSize)

	start := time.Now()
	var dupes int
	err := retry.Run(ctx, func(ctx context.Context) error {
		var err error
		dupes, err = j.insert(ctx, rows)
		return err
	}, j.cfg.Retry)
	took := time.Since(start)
	j.metrics.RecordJournalFlush(len(rows), took, err)

	j.mu.Lock()
	if err != nil {
		j.stats.Errors++
		j.stats.Dropped += int64(len(rows))
	} else {
		j.stats.Inserts += int64(len(rows) - dupes)
		j.stats.Dupes += int64(dupes)
		j.stats.Flushes++
	}
	j.mu.Unlock()

	if err != nil {
		j.logger.Error("journal batch dropped", "error", err, "count", len(rows))
		return
	}
	j.logger.Debug("journal flushed",
		"count", len(rows),
		"dupes", dupes,
		"duration", took,
	)
}

func (j *Journal) insert(ctx context.Context, rows []model.JournalEntry) (dupes int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertEvent, r.ID, r.InstanceID, r.SessionID, r.EventType, payload(r.Payload), r.ReceivedAt)
	}

	results := j.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			dupes++
		}
	}
	return dupes, nil
}

// RowID derives the journal row id from the event itself, so writing the
// same event twice hits the primary key. That happens when a batch commits
// but its acknowledgement is lost and the retry sends it again.
func RowID(session uuid.UUID, eventType string, data []byte, receivedAt int64) uuid.UUID {
	name := make([]byte, 0, len(session)+8+len(eventType)+1+len(data))
	name = append(name, session[:]...)
	name = binary.BigEndian.AppendUint64(name, uint64(receivedAt))
	name = append(name, eventType...)
	name = append(name, 0)
	name = append(name, data...)
	return uuid.NewSHA1(rowNamespace, name)
}

// payload maps an absent data field to SQL NULL.
func payload(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

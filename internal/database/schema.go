package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// chunkInterval is one day in microseconds, matching received_at.
const chunkInterval = 86_400_000_000

var schema = []string{
	`CREATE TABLE IF NOT EXISTS feed_events (
		id          UUID        NOT NULL,
		instance_id TEXT        NOT NULL,
		session_id  UUID        NOT NULL,
		event_type  TEXT        NOT NULL,
		payload     JSONB,
		received_at BIGINT      NOT NULL,
		PRIMARY KEY (id, received_at)
	)`,
	fmt.Sprintf(`SELECT create_hypertable('feed_events', 'received_at',
		chunk_time_interval => %d, if_not_exists => TRUE)`, chunkInterval),
	`CREATE INDEX IF NOT EXISTS feed_events_type_idx
		ON feed_events (event_type, received_at DESC)`,
}

// EnsureSchema creates the journal table and hypertable if missing. It is
// safe to run on every start.
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

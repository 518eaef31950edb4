package database

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type recordingExecer struct {
	stmts  []string
	failAt int // 1-indexed; 0 never fails
}

func (r *recordingExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.stmts = append(r.stmts, sql)
	if len(r.stmts) == r.failAt {
		return pgconn.CommandTag{}, errors.New("permission denied")
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func TestEnsureSchema(t *testing.T) {
	db := &recordingExecer{}
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	if len(db.stmts) != len(schema) {
		t.Fatalf("executed %d statements, want %d", len(db.stmts), len(schema))
	}
	if !strings.Contains(db.stmts[0], "CREATE TABLE IF NOT EXISTS feed_events") {
		t.Errorf("first statement = %q, want table creation", db.stmts[0])
	}
	if !strings.Contains(db.stmts[1], "create_hypertable('feed_events', 'received_at'") {
		t.Errorf("second statement = %q, want hypertable", db.stmts[1])
	}
	if !strings.Contains(db.stmts[1], "86400000000") {
		t.Errorf("hypertable chunk interval missing from %q", db.stmts[1])
	}
}

func TestEnsureSchema_StopsOnError(t *testing.T) {
	db := &recordingExecer{failAt: 2}
	err := EnsureSchema(context.Background(), db)
	if err == nil || !strings.Contains(err.Error(), "statement 2") {
		t.Fatalf("EnsureSchema() error = %v, want failure at statement 2", err)
	}
	if len(db.stmts) != 2 {
		t.Errorf("executed %d statements, want 2", len(db.stmts))
	}
}

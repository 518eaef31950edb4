// Package writer implements the event journal.
//
// The journal subscribes to every event type on the router and appends each
// event to the feed_events hypertable in TimescaleDB. Rows are batched by
// size and by interval and written with pgx.Batch; the table is append-only
// (ON CONFLICT DO NOTHING, never update).
package writer

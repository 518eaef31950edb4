// Package database manages the TimescaleDB connection used by the event
// journal.
//
// The journal writes every received feed event into the feed_events
// hypertable, partitioned on received_at.
package database

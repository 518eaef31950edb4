// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Feed connection state, connects, disconnects and reconnect scheduling
//   - Frame rates in both directions, heartbeats sent
//   - Router dispatch counts, parse errors, handler failures
//   - Retry attempts and exhausted operations by error kind
//   - Event journal rows written and flush failures
//
// All Collector methods are safe to call on a nil *Collector, so components
// can run without metrics wired in.
package metrics

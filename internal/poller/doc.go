// Package poller implements the backend status poller.
//
// The poller:
//   - Polls the REST backend on an interval (default 1m)
//   - Fetches service status, strategies and open orders concurrently
//   - Keeps the latest snapshot for the health endpoint
//   - Hands every snapshot to an optional handler
package poller

// Package api is the REST client for the trading backend.
//
// Every call goes through the retry executor: transient failures (network
// errors, timeouts, 5xx and 429 responses) are retried with backoff and the
// final failure wraps a *classify.Error. Requests are signed when
// credentials are configured.
//
// Endpoints:
//   - GET    /status
//   - GET    /orders, /orders/{id}
//   - DELETE /orders/{id}
//   - GET    /strategies
package api

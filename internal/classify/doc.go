// Package classify normalizes raw failures into a fixed error vocabulary.
//
// Rules, first match wins:
//   - plain error whose message points at connectivity: NETWORK, no status
//   - plain error whose message points at a timeout: NETWORK, 408
//   - error carrying an HTTP status: 401 AUTH, 404 NOT_FOUND, >=500 SERVER, else NETWORK
//   - any other error with a message: GENERIC, 500
//   - anything else (recovered panic values, nil): UNKNOWN, 500
package classify

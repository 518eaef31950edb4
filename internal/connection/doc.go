// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns a single websocket transport to the event feed
//   - Joins concurrent Connect calls onto one in-flight attempt
//   - Sends a {"type":"ping"} heartbeat while open
//   - Reconnects after a drop with capped exponential backoff
//   - Hands inbound frames to the Event Router in arrival order
//   - Notifies connect, disconnect, error and reconnecting listeners
//
// State changes happen under one mutex. Timers are owned by the manager
// and tied to an epoch so that Disconnect cancels them deterministically.
package connection

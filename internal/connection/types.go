package connection

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/tradestream/internal/router"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrDisconnected  = errors.New("disconnected while connecting")
	ErrAlreadyClosed = errors.New("already closed")
	ErrNoURL         = errors.New("feed url is required")
)

// Close codes used by the client.
const (
	CloseNormal           = 1000
	CloseAbnormal         = 1006
	CloseHeartbeatTimeout = 4000
)

// State is the lifecycle state of the feed connection.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// FrameRouter consumes inbound frames in arrival order.
type FrameRouter interface {
	Route(ctx context.Context, f router.Frame)
}

// HeaderFunc builds handshake headers for each dial, so signatures carry a
// fresh timestamp.
type HeaderFunc func() (http.Header, error)

// ClientConfig configures a single websocket transport.
type ClientConfig struct {
	URL              string
	Header           HeaderFunc    // optional
	HandshakeTimeout time.Duration // 0 = gorilla default (45s)
	WriteTimeout     time.Duration // write deadline for sends
	BufferSize       int           // initial inbound queue capacity
}

// Config configures the Connection Manager.
type Config struct {
	Client ClientConfig
	Policy ReconnectPolicy

	// HeartbeatInterval is the period between ping frames while open.
	// Zero disables the heartbeat.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout closes the transport when nothing has been read for
	// this long, which then drives a reconnect. Zero disables the check.
	HeartbeatTimeout time.Duration
}

// DefaultConfig returns defaults: 5s base reconnect delay capped at 30s,
// 10 attempts, 30s heartbeat.
func DefaultConfig() Config {
	return Config{
		Client: ClientConfig{
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     5 * time.Second,
			BufferSize:       1024,
		},
		Policy:            DefaultReconnectPolicy(),
		HeartbeatInterval: 30 * time.Second,
	}
}

// Stats is a snapshot of manager state and counters.
type Stats struct {
	State       State
	Attempt     int
	SessionID   uuid.UUID // zero when not open
	ConnectedAt time.Time // zero when not open
	Connects    int64
	Disconnects int64
	Reconnects  int64 // reconnects scheduled
	FramesIn    int64
	FramesOut   int64
	Heartbeats  int64
}

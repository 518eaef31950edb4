package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/tradestream/internal/router"
)

// Client is a single websocket transport. It is used for one connection
// and then discarded; reconnecting creates a new Client.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger
	id     uuid.UUID

	conn   *websocket.Conn
	frames *router.GrowableBuffer[router.Frame]
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	mu          sync.Mutex
	connected   bool
	closing     bool
	closeCode   int
	closeReason string
	readErr     error

	lastActivity atomic.Int64 // unix nanos
	framesIn     atomic.Int64
	framesOut    atomic.Int64
}

// NewClient creates an unconnected client with a fresh session ID.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()
	return &Client{
		cfg:    cfg,
		logger: logger.With("session", id),
		id:     id,
		frames: router.NewGrowableBuffer[router.Frame](cfg.BufferSize),
		done:   make(chan struct{}),
	}
}

// Connect dials the endpoint and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.URL == "" {
		return ErrNoURL
	}

	c.mu.Lock()
	if c.closing || c.connected {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	if c.cfg.Header != nil {
		h, err := c.cfg.Header()
		if err != nil {
			return fmt.Errorf("build handshake headers: %w", err)
		}
		header = h
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return err
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.touch()

	// Control frames count as activity for stale detection.
	conn.SetPingHandler(func(data string) error {
		c.touch()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL)
	return nil
}

// HandshakeError is returned when the server answers the upgrade request
// with a non-101 status.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake: status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error   { return e.Err }
func (e *HandshakeError) HTTPStatus() int { return e.StatusCode }

// Send writes a text frame.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	if !c.connected || c.closing {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	c.framesOut.Add(1)
	return nil
}

// Close sends a close frame with the given code and tears down the
// connection. The read loop then finishes and Done is closed. Safe to call
// multiple times; only the first code is kept.
func (c *Client) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.closeCode = code
	c.closeReason = reason
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		// Never connected; nothing will run the read loop.
		c.frames.Close()
		close(c.done)
		return nil
	}

	// WriteControl may run alongside a blocked Send; closing the conn then
	// fails that write.
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)

	return conn.Close()
}

// Frames returns the inbound queue. It is closed after the last frame once
// the transport has closed.
func (c *Client) Frames() *router.GrowableBuffer[router.Frame] {
	return c.frames
}

// Done is closed when the transport has fully closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// CloseInfo returns the close code and reason. Valid after Done.
func (c *Client) CloseInfo() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// Err returns the read error that ended an abnormal close, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// SessionID identifies this transport in logs and frames.
func (c *Client) SessionID() uuid.UUID {
	return c.id
}

// LastActivity returns when data or a control frame was last received.
func (c *Client) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// IsConnected reports whether the transport is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closing
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// readLoop queues inbound frames until the connection fails or closes,
// then records why and closes the frame queue.
func (c *Client) readLoop() {
	defer close(c.done)
	defer c.frames.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			c.recordClose(err)
			c.conn.Close()
			return
		}

		c.touch()
		c.framesIn.Add(1)
		c.frames.Send(router.Frame{
			Data:       data,
			ReceivedAt: receivedAt,
			SessionID:  c.id,
		})
	}
}

func (c *Client) recordClose(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false

	if c.closing {
		// Local close; keep our code.
		return
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.closeCode = ce.Code
		c.closeReason = ce.Text
		if ce.Code == websocket.CloseAbnormalClosure {
			c.readErr = err
		}
	} else {
		c.closeCode = CloseAbnormal
		c.closeReason = err.Error()
		c.readErr = err
	}
	c.closing = true

	c.logger.Debug("websocket closed", "code", c.closeCode, "reason", c.closeReason)
}

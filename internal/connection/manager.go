package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/tradestream/internal/metrics"
	"github.com/rickgao/tradestream/internal/router"
)

// Manager owns the single feed transport: connect, disconnect, heartbeat
// and reconnect scheduling. Inbound frames go to the FrameRouter in
// arrival order; lifecycle changes go to registered listeners.
//
// All state lives behind mu. Timers capture the epoch they were armed in
// and do nothing if it has moved on, so Disconnect cancels them even when
// a callback is already waiting for the lock.
type Manager struct {
	cfg     Config
	router  FrameRouter
	logger  *slog.Logger
	metrics *metrics.Collector

	mu              sync.Mutex
	state           State
	client          *Client
	pending         *attempt
	reconnectTimer  *time.Timer
	heartbeat       *heartbeat
	epoch           uint64
	attempts        int
	shouldReconnect bool
	connectedAt     time.Time

	onConnect      listeners[func()]
	onDisconnect   listeners[func(code int, reason string)]
	onError        listeners[func(err error)]
	onReconnecting listeners[func(attempt int, delay time.Duration)]
	onExhausted    listeners[func(attempts int)]

	connects    atomic.Int64
	disconnects atomic.Int64
	reconnects  atomic.Int64
	framesIn    atomic.Int64
	framesOut   atomic.Int64
	heartbeats  atomic.Int64
}

// attempt is one in-flight dial. Concurrent Connect calls share it.
type attempt struct {
	ctx       context.Context
	cancel    context.CancelFunc
	reconnect bool

	done chan struct{}
	once sync.Once
	err  error
}

func (a *attempt) finish(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

type heartbeat struct {
	stop chan struct{}
}

// NewManager creates a manager in the CLOSED state.
func NewManager(cfg Config, r FrameRouter, logger *slog.Logger, m *metrics.Collector) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		router:  r,
		logger:  logger,
		metrics: m,
	}
}

// Connect opens the transport. It returns immediately when already open
// and joins the in-flight attempt when one exists. A failed first connect
// is returned to the caller and does not schedule a reconnect. Cancelling
// ctx stops the wait but not the attempt.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateOpen {
		m.mu.Unlock()
		return nil
	}
	m.shouldReconnect = true
	p := m.pending
	if p == nil {
		m.cancelReconnectLocked()
		p = m.beginAttemptLocked(false)
		go m.dial(p)
	}
	m.mu.Unlock()

	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the transport and cancels the heartbeat, any pending
// reconnect and any in-flight attempt. Safe to call repeatedly and from
// any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.shouldReconnect = false
	m.cancelReconnectLocked()
	m.stopHeartbeatLocked()

	p := m.pending
	m.pending = nil
	c := m.client
	m.client = nil
	m.connectedAt = time.Time{}
	if c != nil {
		m.setStateLocked(StateClosing)
	} else {
		m.setStateLocked(StateClosed)
	}
	m.mu.Unlock()

	if p != nil {
		p.cancel()
		p.finish(ErrDisconnected)
	}
	if c == nil {
		return
	}

	if err := c.Close(CloseNormal, "client disconnect"); err != nil {
		m.logger.Debug("close transport", "error", err)
	}

	m.mu.Lock()
	if m.state == StateClosing {
		m.setStateLocked(StateClosed)
	}
	m.mu.Unlock()

	m.logger.Info("feed disconnected", "session", c.SessionID())
}

// Send writes an event to the open transport.
func (m *Manager) Send(ctx context.Context, ev router.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}

	m.mu.Lock()
	if m.state != StateOpen || m.client == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	c := m.client
	m.mu.Unlock()

	if err := c.Send(data); err != nil {
		return err
	}
	m.framesOut.Add(1)
	m.metrics.RecordFrameOut()
	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the reconnect attempt counter.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// SessionID returns the live transport's session ID, or the zero UUID.
func (m *Manager) SessionID() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return uuid.Nil
	}
	return m.client.SessionID()
}

// Stats returns a snapshot of state and counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := Stats{
		State:       m.state,
		Attempt:     m.attempts,
		ConnectedAt: m.connectedAt,
	}
	if m.client != nil {
		s.SessionID = m.client.SessionID()
	}
	m.mu.Unlock()

	s.Connects = m.connects.Load()
	s.Disconnects = m.disconnects.Load()
	s.Reconnects = m.reconnects.Load()
	s.FramesIn = m.framesIn.Load()
	s.FramesOut = m.framesOut.Load()
	s.Heartbeats = m.heartbeats.Load()
	return s
}

// OnConnect registers a listener for successful opens.
func (m *Manager) OnConnect(fn func()) router.UnsubscribeFunc {
	return m.onConnect.add(fn)
}

// OnDisconnect registers a listener for transport closes.
func (m *Manager) OnDisconnect(fn func(code int, reason string)) router.UnsubscribeFunc {
	return m.onDisconnect.add(fn)
}

// OnError registers a listener for transport errors.
func (m *Manager) OnError(fn func(err error)) router.UnsubscribeFunc {
	return m.onError.add(fn)
}

// OnReconnecting registers a listener for scheduled reconnects.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) router.UnsubscribeFunc {
	return m.onReconnecting.add(fn)
}

// OnExhausted registers a listener for the point where the reconnect
// ceiling is reached and the manager gives up.
func (m *Manager) OnExhausted(fn func(attempts int)) router.UnsubscribeFunc {
	return m.onExhausted.add(fn)
}

// beginAttemptLocked registers a new in-flight attempt.
func (m *Manager) beginAttemptLocked(reconnect bool) *attempt {
	var ctx context.Context
	var cancel context.CancelFunc
	if t := m.cfg.Client.HandshakeTimeout; t > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), t)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	p := &attempt{
		ctx:       ctx,
		cancel:    cancel,
		reconnect: reconnect,
		done:      make(chan struct{}),
	}
	m.pending = p
	m.setStateLocked(StateConnecting)
	return p
}

// dial runs one attempt to completion.
func (m *Manager) dial(p *attempt) {
	c := NewClient(m.cfg.Client, m.logger)
	err := c.Connect(p.ctx)
	p.cancel()

	m.mu.Lock()
	if m.pending != p {
		// Disconnect ran while dialing and already finished p.
		m.mu.Unlock()
		if err == nil {
			c.Close(CloseNormal, "client disconnect")
		}
		return
	}
	m.pending = nil

	if err != nil {
		m.setStateLocked(StateClosed)
		delay, token, scheduled := time.Duration(0), uint64(0), false
		if p.reconnect {
			delay, token, scheduled = m.nextReconnectLocked()
		}
		attempts := m.attempts
		m.mu.Unlock()

		m.logger.Warn("feed connect failed",
			"error", err,
			"reconnect", p.reconnect,
			"attempt", attempts,
		)
		m.emitError(err)
		p.finish(err)
		if scheduled {
			m.scheduleReconnect(token, attempts, delay)
		} else if p.reconnect {
			m.logExhausted()
		}
		return
	}

	m.client = c
	m.attempts = 0
	m.connectedAt = time.Now()
	m.setStateLocked(StateOpen)
	m.startHeartbeatLocked(c)
	m.mu.Unlock()

	m.connects.Add(1)
	m.metrics.RecordConnect()
	m.logger.Info("feed connected",
		"session", c.SessionID(),
		"url", m.cfg.Client.URL,
		"reconnect", p.reconnect,
	)

	m.emitConnect()
	p.finish(nil)
	go m.pump(c)
}

// pump delivers frames from c to the router until c closes.
func (m *Manager) pump(c *Client) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := c.Frames()
	for {
		f, ok := frames.Receive()
		if !ok {
			break
		}
		if !m.isCurrent(c) {
			// Locally disconnected; drop what is left.
			continue
		}
		m.framesIn.Add(1)
		m.metrics.RecordFrameIn()
		if m.router != nil {
			m.router.Route(ctx, f)
		}
	}

	<-c.Done()
	m.handleClose(c)
}

func (m *Manager) isCurrent(c *Client) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client == c
}

// handleClose runs once per established transport after it closes.
func (m *Manager) handleClose(c *Client) {
	code, reason := c.CloseInfo()
	readErr := c.Err()

	m.mu.Lock()
	current := m.client == c
	delay, token, scheduled := time.Duration(0), uint64(0), false
	exhausted := false
	if current {
		m.client = nil
		m.connectedAt = time.Time{}
		m.stopHeartbeatLocked()
		m.setStateLocked(StateClosed)
		if m.shouldReconnect {
			delay, token, scheduled = m.nextReconnectLocked()
			exhausted = !scheduled
		}
	}
	attempts := m.attempts
	m.mu.Unlock()

	m.disconnects.Add(1)
	m.metrics.RecordDisconnect(code)
	m.logger.Info("feed transport closed",
		"session", c.SessionID(),
		"code", code,
		"reason", reason,
	)

	if current && readErr != nil {
		m.emitError(readErr)
	}
	m.emitDisconnect(code, reason)

	if scheduled {
		m.scheduleReconnect(token, attempts, delay)
	} else if exhausted {
		m.logExhausted()
	}
}

// nextReconnectLocked advances the attempt counter when another attempt
// is allowed and returns the delay and the epoch to arm the timer with.
func (m *Manager) nextReconnectLocked() (time.Duration, uint64, bool) {
	if m.attempts >= m.cfg.Policy.MaxAttempts {
		return 0, 0, false
	}
	m.attempts++
	return m.cfg.Policy.Delay(m.attempts), m.epoch, true
}

// scheduleReconnect notifies listeners, then arms the timer if the epoch
// is still current.
func (m *Manager) scheduleReconnect(token uint64, attempt int, delay time.Duration) {
	m.reconnects.Add(1)
	m.metrics.RecordReconnectScheduled(delay)
	m.logger.Info("reconnect scheduled",
		"attempt", attempt,
		"max_attempts", m.cfg.Policy.MaxAttempts,
		"delay", delay,
	)
	m.emitReconnecting(attempt, delay)

	m.mu.Lock()
	defer m.mu.Unlock()
	if token != m.epoch || !m.shouldReconnect {
		return
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = time.AfterFunc(delay, func() { m.fireReconnect(token) })
}

func (m *Manager) fireReconnect(token uint64) {
	m.mu.Lock()
	if token != m.epoch || !m.shouldReconnect || m.pending != nil || m.client != nil {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	p := m.beginAttemptLocked(true)
	attempt := m.attempts
	m.mu.Unlock()

	m.logger.Info("reconnecting", "attempt", attempt)
	m.dial(p)
}

// cancelReconnectLocked invalidates any armed or firing reconnect timer.
func (m *Manager) cancelReconnectLocked() {
	m.epoch++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) logExhausted() {
	m.logger.Error("reconnect attempts exhausted",
		"max_attempts", m.cfg.Policy.MaxAttempts,
	)
	m.emitExhausted(m.cfg.Policy.MaxAttempts)
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("feed state", "from", m.state, "to", s)
	m.state = s
	m.metrics.SetConnectionState(int(s))
}

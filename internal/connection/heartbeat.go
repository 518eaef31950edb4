package connection

import (
	"encoding/json"
	"time"

	"github.com/rickgao/tradestream/internal/router"
)

var pingFrame, _ = json.Marshal(router.Event{Type: router.TypePing})

// startHeartbeatLocked starts the ping loop for c. A running heartbeat is
// left alone.
func (m *Manager) startHeartbeatLocked(c *Client) {
	if m.heartbeat != nil || m.cfg.HeartbeatInterval <= 0 {
		return
	}
	hb := &heartbeat{stop: make(chan struct{})}
	m.heartbeat = hb
	go m.runHeartbeat(hb, c)
}

// stopHeartbeatLocked stops the ping loop. Once it returns no new ping
// starts, since every tick re-checks m.heartbeat under the same lock. A ping
// already being written is cut off by the client's close frame, after which
// the connection refuses data frames.
func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeat == nil {
		return
	}
	close(m.heartbeat.stop)
	m.heartbeat = nil
}

func (m *Manager) runHeartbeat(hb *heartbeat, c *Client) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hb.stop:
			return
		case <-ticker.C:
		}

		if !m.beat(hb, c) {
			return
		}
	}
}

// beat sends one ping. It returns false when the heartbeat should end.
// The write happens outside m.mu so a peer that stopped reading cannot
// stall Disconnect or State.
func (m *Manager) beat(hb *heartbeat, c *Client) bool {
	m.mu.Lock()
	if m.heartbeat != hb || m.state != StateOpen || m.client != c {
		m.mu.Unlock()
		return false
	}

	if t := m.cfg.HeartbeatTimeout; t > 0 {
		if idle := time.Since(c.LastActivity()); idle > t {
			m.mu.Unlock()
			m.logger.Warn("feed stale, closing transport",
				"session", c.SessionID(),
				"idle", idle,
				"timeout", t,
			)
			// The close is handled by pump like any other, which schedules
			// the reconnect.
			go c.Close(CloseHeartbeatTimeout, "heartbeat timeout")
			return false
		}
	}
	m.mu.Unlock()

	if err := c.Send(pingFrame); err != nil {
		m.logger.Debug("send ping", "error", err)
		return true
	}
	m.heartbeats.Add(1)
	m.framesOut.Add(1)
	m.metrics.RecordHeartbeat()
	m.metrics.RecordFrameOut()
	return true
}

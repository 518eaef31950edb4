package connection

import (
	"fmt"
	"sync"
	"time"

	"github.com/rickgao/tradestream/internal/router"
)

type listener[F any] struct {
	id uint64
	fn F
}

// listeners is a copy-on-write set of callbacks. Listeners added or
// removed while an emission is running take effect from the next one.
type listeners[F any] struct {
	mu     sync.Mutex
	nextID uint64
	list   []*listener[F]
}

func (l *listeners[F]) add(fn F) router.UnsubscribeFunc {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := &listener[F]{id: l.nextID, fn: fn}
	l.nextID++
	next := make([]*listener[F], len(l.list), len(l.list)+1)
	copy(next, l.list)
	l.list = append(next, entry)

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(entry.id) })
	}
}

func (l *listeners[F]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make([]*listener[F], 0, len(l.list))
	for _, e := range l.list {
		if e.id != id {
			next = append(next, e)
		}
	}
	l.list = next
}

func (l *listeners[F]) snapshot() []*listener[F] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list
}

// notify calls each listener outside any manager lock. A panicking
// listener is logged and does not stop the rest.
func notify[F any](m *Manager, name string, l *listeners[F], call func(F)) {
	for _, e := range l.snapshot() {
		func() {
			defer func() {
				if p := recover(); p != nil {
					m.logger.Error("connection listener panicked",
						"event", name,
						"panic", fmt.Sprint(p),
					)
				}
			}()
			call(e.fn)
		}()
	}
}

func (m *Manager) emitConnect() {
	notify(m, "connect", &m.onConnect, func(fn func()) { fn() })
}

func (m *Manager) emitDisconnect(code int, reason string) {
	notify(m, "disconnect", &m.onDisconnect, func(fn func(int, string)) { fn(code, reason) })
}

func (m *Manager) emitError(err error) {
	m.metrics.RecordTransportError()
	notify(m, "error", &m.onError, func(fn func(error)) { fn(err) })
}

func (m *Manager) emitReconnecting(attempt int, delay time.Duration) {
	notify(m, "reconnecting", &m.onReconnecting, func(fn func(int, time.Duration)) { fn(attempt, delay) })
}

func (m *Manager) emitExhausted(attempts int) {
	notify(m, "exhausted", &m.onExhausted, func(fn func(int)) { fn(attempts) })
}

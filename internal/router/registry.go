package router

import (
	"sync"
	"sync/atomic"
)

// subscription is one registration of a handler.
type subscription struct {
	id      uint64
	handler Handler
	active  atomic.Bool
}

// Registry maps event types to handlers. All methods are concurrent-safe.
//
// Per-type handler slices are never modified in place: subscribe and
// unsubscribe swap in a new slice, so a dispatch iterating an older slice
// is unaffected. A subscription removed mid-dispatch is skipped via its
// active flag; one added mid-dispatch sees only later events.
type Registry struct {
	mu     sync.RWMutex
	byType map[string][]*subscription
	nextID uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[string][]*subscription),
	}
}

// Subscribe registers h for eventType, or for every event when eventType
// is Wildcard. Registering the same function twice creates two independent
// subscriptions.
func (r *Registry) Subscribe(eventType string, h Handler) UnsubscribeFunc {
	if eventType == "" {
		panic("router: empty event type")
	}
	if h == nil {
		panic("router: nil handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &subscription{id: r.nextID, handler: h}
	sub.active.Store(true)
	r.nextID++

	old := r.byType[eventType]
	next := make([]*subscription, len(old), len(old)+1)
	copy(next, old)
	r.byType[eventType] = append(next, sub)

	var once sync.Once
	return func() {
		once.Do(func() { r.unsubscribe(eventType, sub) })
	}
}

func (r *Registry) unsubscribe(eventType string, sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub.active.Store(false)

	old := r.byType[eventType]
	next := make([]*subscription, 0, len(old))
	for _, s := range old {
		if s.id != sub.id {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(r.byType, eventType)
		return
	}
	r.byType[eventType] = next
}

// snapshot returns the current subscriptions for eventType. The slice must
// not be modified.
func (r *Registry) snapshot(eventType string) []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byType[eventType]
}

// Count returns the number of subscriptions for eventType.
func (r *Registry) Count(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType[eventType])
}

// Types returns the event types with at least one subscription.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	return types
}

package hooks

import "sync"

// handlerFunc is the shape every Hub subscriber takes: the emitted
// payload, opaque to the bus itself.
type handlerFunc func(payload any)

// Hub is the host platform's local event bus. Hooks subscribe with On
// and never block emission on each other: Emit snapshots the
// subscriber list under lock, then calls each outside the lock so a
// slow or panicking handler can't wedge a concurrent registration.
//
// This also implements internal/logging.BusSink, so the dual-sink
// logger can Arm itself with a Hub and fan log records out as
// `cluster:log` events once the node is ready.
type Hub struct {
	mu   sync.RWMutex
	subs map[string][]handlerFunc
}

// NewHub returns an empty event bus.
func NewHub() *Hub {
	return &Hub{subs: make(map[string][]handlerFunc)}
}

// On registers fn to run whenever event fires. Returns an unsubscribe
// function.
func (h *Hub) On(event string, fn func(payload any)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[event] = append(h.subs[event], fn)
	idx := len(h.subs[event]) - 1

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		handlers := h.subs[event]
		if idx >= len(handlers) {
			return
		}
		h.subs[event] = append(handlers[:idx], handlers[idx+1:]...)
	}
}

// Emit fires event for every registered subscriber.
func (h *Hub) Emit(event string, payload any) {
	h.mu.RLock()
	handlers := make([]handlerFunc, len(h.subs[event]))
	copy(handlers, h.subs[event])
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(payload)
	}
}

// Publish satisfies internal/logging.BusSink: a log record becomes
// just another event on the same bus, under the `cluster:log` name by
// convention (internal/logging.busCore.Write sets topic itself; this
// method just forwards whatever topic it's given).
func (h *Hub) Publish(topic string, payload any) {
	h.Emit(topic, payload)
}

// Package realtime fans slot attendance snapshots out to live subscribers,
// in process and across API instances.
package realtime

import (
	"context"
	"sync"

	"campverse/internal/attendance"
	"campverse/internal/metrics"
)

// Hub is an in-process fan-out keyed by slot and date. Callbacks run on the
// publishing goroutine and must not block.
type Hub struct {
	mu   sync.RWMutex
	next uint64
	subs map[string]map[uint64]func([]attendance.Record)
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[uint64]func([]attendance.Record){}}
}

// Publish delivers the snapshot to every subscriber of key.
func (h *Hub) Publish(_ context.Context, key attendance.SlotKey, records []attendance.Record) {
	h.deliver(key.String(), records)
}

func (h *Hub) deliver(topic string, records []attendance.Record) {
	h.mu.RLock()
	fns := make([]func([]attendance.Record), 0, len(h.subs[topic]))
	for _, fn := range h.subs[topic] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()
	for _, fn := range fns {
		snapshot := make([]attendance.Record, len(records))
		copy(snapshot, records)
		fn(snapshot)
	}
}

// Subscribe registers fn for key. The returned func is idempotent.
func (h *Hub) Subscribe(key attendance.SlotKey, fn func([]attendance.Record)) func() {
	topic := key.String()
	h.mu.Lock()
	h.next++
	id := h.next
	if h.subs[topic] == nil {
		h.subs[topic] = map[uint64]func([]attendance.Record){}
	}
	h.subs[topic][id] = fn
	h.mu.Unlock()
	metrics.Subscribers.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[topic], id)
			if len(h.subs[topic]) == 0 {
				delete(h.subs, topic)
			}
			h.mu.Unlock()
			metrics.Subscribers.Dec()
		})
	}
}

// Subscribers reports how many callbacks are registered for key.
func (h *Hub) Subscribers(key attendance.SlotKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key.String()])
}

var _ attendance.Broadcaster = (*Hub)(nil)

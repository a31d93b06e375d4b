package jobs

import (
	"sync"
	"time"
)

// ManualTicker is a Ticker advanced explicitly with Tick.
type ManualTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time)}
}

func (m *ManualTicker) C() <-chan time.Time { return m.ch }

func (m *ManualTicker) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

func (m *ManualTicker) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// Tick blocks until the consuming task received the tick, or returns false
// after timeout when nothing is listening.
func (m *ManualTicker) Tick(at time.Time, timeout time.Duration) bool {
	select {
	case m.ch <- at:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Factory returns a ticker constructor handing out m for every interval.
func (m *ManualTicker) Factory() func(time.Duration) Ticker {
	return func(time.Duration) Ticker { return m }
}

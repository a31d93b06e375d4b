package clock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"campverse/internal/jobs"
)

// Synced tracks the offset between a remote clock and the local one. Now
// never performs I/O; a background task refreshes the offset. Until the first
// successful sync, and once the last one is older than staleAfter, readings
// are local time marked untrusted.
type Synced struct {
	fetch      Fetcher
	local      func() time.Time
	staleAfter time.Duration
	log        *zap.Logger

	mu       sync.RWMutex
	offset   time.Duration
	lastSync time.Time
	synced   bool
	degraded bool
}

type SyncedOption func(*Synced)

func WithLocalClock(fn func() time.Time) SyncedOption {
	return func(s *Synced) { s.local = fn }
}

func WithLogger(log *zap.Logger) SyncedOption {
	return func(s *Synced) { s.log = log }
}

func NewSynced(fetch Fetcher, staleAfter time.Duration, opts ...SyncedOption) *Synced {
	s := &Synced{fetch: fetch, local: time.Now, staleAfter: staleAfter, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sync fetches the remote time once and updates the offset, correcting for
// half the round trip. A failed fetch keeps the previous offset.
func (s *Synced) Sync(ctx context.Context) error {
	before := s.local()
	remote, err := s.fetch(ctx)
	after := s.local()
	if err != nil {
		s.mu.Lock()
		wasDegraded := s.degraded
		s.degraded = true
		s.mu.Unlock()
		if !wasDegraded {
			s.log.Warn("server time sync failed, readings may fall back to local clock", zap.Error(err))
		}
		return err
	}
	mid := before.Add(after.Sub(before) / 2)
	s.mu.Lock()
	s.offset = remote.Sub(mid)
	s.lastSync = after
	s.synced = true
	wasDegraded := s.degraded
	s.degraded = false
	s.mu.Unlock()
	if wasDegraded {
		s.log.Info("server time sync recovered")
	}
	return nil
}

func (s *Synced) Now(context.Context) Reading {
	local := s.local()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.synced || local.Sub(s.lastSync) > s.staleAfter {
		return Reading{Time: local, Trusted: false}
	}
	return Reading{Time: local.Add(s.offset), Trusted: true}
}

// Offset is the last measured remote minus local difference.
func (s *Synced) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// Start syncs once immediately and then on every interval.
func (s *Synced) Start(ctx context.Context, r *jobs.Runner, interval time.Duration) *jobs.Task {
	_ = s.Sync(ctx)
	return r.Every(interval, "clock_sync", s.Sync)
}

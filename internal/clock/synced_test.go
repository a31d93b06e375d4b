package clock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campverse/internal/jobs"
)

type fakeLocal struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeLocal) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeLocal) advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestSynced_UntrustedBeforeFirstSync(t *testing.T) {
	local := &fakeLocal{t: base}
	s := NewSynced(func(context.Context) (time.Time, error) { return base, nil }, time.Minute, WithLocalClock(local.now))

	r := s.Now(context.Background())
	assert.False(t, r.Trusted)
	assert.Equal(t, base, r.Time)
}

func TestSynced_AppliesOffset(t *testing.T) {
	local := &fakeLocal{t: base}
	// device clock runs 3 minutes behind the server
	remote := func(context.Context) (time.Time, error) { return local.now().Add(3 * time.Minute), nil }
	s := NewSynced(remote, time.Minute, WithLocalClock(local.now))

	require.NoError(t, s.Sync(context.Background()))
	local.advance(10 * time.Second)

	r := s.Now(context.Background())
	assert.True(t, r.Trusted)
	assert.Equal(t, base.Add(3*time.Minute+10*time.Second), r.Time)
	assert.Equal(t, 3*time.Minute, s.Offset())
}

func TestSynced_FailSoftWhenStale(t *testing.T) {
	local := &fakeLocal{t: base}
	fail := false
	remote := func(context.Context) (time.Time, error) {
		if fail {
			return time.Time{}, errors.New("redis down")
		}
		return local.now().Add(time.Minute), nil
	}
	s := NewSynced(remote, 2*time.Minute, WithLocalClock(local.now))
	require.NoError(t, s.Sync(context.Background()))

	fail = true
	local.advance(time.Minute)
	assert.Error(t, s.Sync(context.Background()))
	assert.True(t, s.Now(context.Background()).Trusted, "last offset still fresh")

	local.advance(2 * time.Minute)
	r := s.Now(context.Background())
	assert.False(t, r.Trusted)
	assert.Equal(t, local.now(), r.Time)
}

func TestSynced_StartSyncsOnTicks(t *testing.T) {
	local := &fakeLocal{t: base}
	var mu sync.Mutex
	calls := 0
	remote := func(context.Context) (time.Time, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return local.now(), nil
	}
	s := NewSynced(remote, time.Minute, WithLocalClock(local.now))

	tick := jobs.NewManualTicker()
	runner := jobs.New(context.Background(), jobs.WithTicker(tick.Factory()))
	task := s.Start(context.Background(), runner, time.Minute)
	require.True(t, tick.Tick(base, time.Second))
	task.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestManual(t *testing.T) {
	m := NewManual(base)
	assert.Equal(t, Reading{Time: base, Trusted: true}, m.Now(context.Background()))
	m.Set(base.Add(time.Hour))
	m.SetTrusted(false)
	assert.Equal(t, Reading{Time: base.Add(time.Hour), Trusted: false}, m.Now(context.Background()))
}

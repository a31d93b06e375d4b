package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvery_RunsOnEachTick(t *testing.T) {
	tick := NewManualTicker()
	r := New(context.Background(), WithTicker(tick.Factory()))

	var runs atomic.Int32
	task := r.Every(time.Second, "count", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	for i := 0; i < 3; i++ {
		require.True(t, tick.Tick(time.Now(), time.Second))
	}
	task.Stop()

	// the third job may still be running when Tick returns, Stop waits for it
	assert.Equal(t, int32(3), runs.Load())
	assert.True(t, tick.Stopped())
}

func TestEvery_ErrorsDoNotStopTask(t *testing.T) {
	tick := NewManualTicker()
	r := New(context.Background(), WithTicker(tick.Factory()))

	var runs atomic.Int32
	task := r.Every(time.Second, "failing", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	})
	defer task.Stop()

	require.True(t, tick.Tick(time.Now(), time.Second))
	require.True(t, tick.Tick(time.Now(), time.Second))
	require.True(t, tick.Tick(time.Now(), time.Second))
	assert.GreaterOrEqual(t, runs.Load(), int32(2))
}

func TestTask_StopIsIdempotentAndReleases(t *testing.T) {
	tick := NewManualTicker()
	r := New(context.Background(), WithTicker(tick.Factory()))
	task := r.Every(time.Second, "noop", func(context.Context) error { return nil })

	task.Stop()
	task.Stop()

	select {
	case <-task.Done():
	default:
		t.Fatal("task goroutine still running after Stop")
	}
	assert.True(t, tick.Stopped())
	assert.False(t, tick.Tick(time.Now(), 20*time.Millisecond), "stopped task must not consume ticks")
}

func TestRunnerContextCancelStopsTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tick := NewManualTicker()
	r := New(ctx, WithTicker(tick.Factory()))
	task := r.Every(time.Second, "noop", func(context.Context) error { return nil })

	cancel()
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task not released on runner cancel")
	}
	assert.True(t, tick.Stopped())
}

func TestEveryWithin_BoundToCallerContext(t *testing.T) {
	reqCtx, cancel := context.WithCancel(context.Background())
	tick := NewManualTicker()
	r := New(context.Background(), WithTicker(tick.Factory()))
	task := r.EveryWithin(reqCtx, time.Second, "countdown", func(context.Context) error { return nil })

	require.True(t, tick.Tick(time.Now(), time.Second))
	cancel()
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task not released when caller context ended")
	}
}

package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Job func(ctx context.Context) error

// Ticker is the part of *time.Ticker the runner needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func realTicker(d time.Duration) Ticker { return timeTicker{t: time.NewTicker(d)} }

type Option func(*Runner)

// WithTicker replaces the wall-clock ticker, mainly for tests.
func WithTicker(fn func(time.Duration) Ticker) Option {
	return func(r *Runner) { r.newTicker = fn }
}

func WithLogger(log *zap.Logger) Option {
	return func(r *Runner) { r.log = log }
}

type Runner struct {
	ctx       context.Context
	newTicker func(time.Duration) Ticker
	log       *zap.Logger
}

func New(ctx context.Context, opts ...Option) *Runner {
	r := &Runner{ctx: ctx, newTicker: realTicker, log: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Task is a running periodic job. Stop releases its ticker and waits for the
// goroutine to exit; it is safe to call more than once.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (t *Task) Stop() {
	t.once.Do(t.cancel)
	<-t.done
}

// Done is closed once the task goroutine has exited.
func (t *Task) Done() <-chan struct{} { return t.done }

// Every runs fn on each tick until the runner context or the task is cancelled.
func (r *Runner) Every(interval time.Duration, name string, fn Job) *Task {
	return r.every(r.ctx, interval, name, fn)
}

// EveryWithin is Every bound additionally to ctx, e.g. an HTTP request.
func (r *Runner) EveryWithin(ctx context.Context, interval time.Duration, name string, fn Job) *Task {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(r.ctx, cancel)
	t := r.every(merged, interval, name, fn)
	go func() {
		<-t.done
		stop()
		cancel()
	}()
	return t
}

func (r *Runner) every(parent context.Context, interval time.Duration, name string, fn Job) *Task {
	ctx, cancel := context.WithCancel(parent)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	tick := r.newTicker(interval)
	go func() {
		defer close(t.done)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C():
				start := time.Now()
				if err := fn(ctx); err != nil {
					jobErrors.WithLabelValues(name).Inc()
					r.log.Warn("job failed", zap.String("job", name), zap.Error(err))
				}
				jobRuns.WithLabelValues(name).Inc()
				jobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			}
		}
	}()
	return t
}

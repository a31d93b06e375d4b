// Package retry runs an operation a bounded number of times with a linearly
// increasing delay between attempts (base, 2*base, 3*base, ...).
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy bounds the attempts of one operation. Attempts counts the first try.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	// Retryable decides whether an error is transient. nil retries everything.
	Retryable func(error) bool
	// OnRetry is called before each delay with the attempt that just failed.
	OnRetry func(attempt int, err error)
}

func (p Policy) backoff() goretry.Backoff {
	var n time.Duration
	linear := goretry.BackoffFunc(func() (time.Duration, bool) {
		n++
		return p.BaseDelay * n, false
	})
	retries := p.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	return goretry.WithMaxRetries(uint64(retries), linear)
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// are used up or ctx ends. The last error from fn is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	return goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt < p.Attempts && p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		return goretry.RetryableError(err)
	})
}

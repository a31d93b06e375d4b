// Package clock supplies the trusted "now" used for marking decisions, so a
// client device with a skewed clock cannot move a slot window.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Reading is a point in time and whether it came from the authoritative
// source. Untrusted readings are the local clock used as a fallback.
type Reading struct {
	Time    time.Time `json:"time"`
	Trusted bool      `json:"trusted"`
}

type Source interface {
	Now(ctx context.Context) Reading
}

// Fetcher reads the authoritative time from a remote system.
type Fetcher func(ctx context.Context) (time.Time, error)

// RedisTime reads server time with the Redis TIME command.
type RedisTime struct {
	client *redis.Client
}

func NewRedisTime(client *redis.Client) *RedisTime {
	return &RedisTime{client: client}
}

func (r *RedisTime) Fetch(ctx context.Context) (time.Time, error) {
	return r.client.Time(ctx).Result()
}

// Now performs a round trip; on failure it falls back to local time.
func (r *RedisTime) Now(ctx context.Context) Reading {
	t, err := r.Fetch(ctx)
	if err != nil {
		return Reading{Time: time.Now(), Trusted: false}
	}
	return Reading{Time: t, Trusted: true}
}

// Manual is a settable source for tests and tooling.
type Manual struct {
	mu      sync.Mutex
	t       time.Time
	trusted bool
}

func NewManual(t time.Time) *Manual { return &Manual{t: t, trusted: true} }

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.t = t
	m.mu.Unlock()
}

func (m *Manual) SetTrusted(trusted bool) {
	m.mu.Lock()
	m.trusted = trusted
	m.mu.Unlock()
}

func (m *Manual) Now(context.Context) Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Reading{Time: m.t, Trusted: m.trusted}
}

package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campverse/internal/attendance"
	"campverse/internal/queue"
	"campverse/internal/retry"
)

type memSink struct {
	mu       sync.Mutex
	entries  []Entry
	failures int
	saved    chan struct{}
}

func (s *memSink) Save(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("db unavailable")
	}
	s.entries = append(s.entries, e)
	s.saved <- struct{}{}
	return nil
}

func entry() Entry {
	return Entry{
		ID:         "3f1c7a8e-0000-4000-8000-000000000001",
		Kind:       attendance.AuditOverride,
		MarkerID:   "adm-1",
		MarkerRole: attendance.RoleAdmin,
		SlotID:     "slot-1",
		Date:       "2026-10-19",
		Category:   attendance.CategoryAcademic,
		StudentIDs: []string{"s01", "s02"},
		Reason:     "Placement Drive",
		At:         time.Date(2026, 10, 19, 10, 16, 0, 0, time.UTC),
		Trusted:    true,
	}
}

func TestPublisherToConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewInMemory(8)
	sink := &memSink{failures: 1, saved: make(chan struct{}, 1)}
	consumer := NewConsumer(q, sink, retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}, nil)
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.NoError(t, q.Publish(ctx, queue.Message{Type: "other"}))
	NewPublisher(q, nil).Audit(ctx, entry())

	select {
	case <-sink.saved:
	case <-time.After(2 * time.Second):
		t.Fatal("entry not stored")
	}
	sink.mu.Lock()
	require.Len(t, sink.entries, 1)
	assert.Equal(t, entry(), sink.entries[0])
	sink.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestPublisher_SurvivesCallerCancellation(t *testing.T) {
	q := queue.NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewPublisher(q, nil).Audit(ctx, entry())

	msgs, err := q.Consume(context.Background())
	require.NoError(t, err)
	select {
	case msg := <-msgs:
		assert.Equal(t, MessageType, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("entry was not queued")
	}
}

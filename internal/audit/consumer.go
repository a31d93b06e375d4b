package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"campverse/internal/metrics"
	"campverse/internal/observability"
	"campverse/internal/queue"
	"campverse/internal/retry"
)

// Consumer drains audit entries from the queue into a Sink.
type Consumer struct {
	q     queue.Queue
	sink  Sink
	retry retry.Policy
	log   *zap.Logger
}

func NewConsumer(q queue.Queue, sink Sink, rp retry.Policy, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{q: q, sink: sink, retry: rp, log: log}
}

// Run processes messages until ctx ends or the queue closes.
func (c *Consumer) Run(ctx context.Context) error {
	messages, err := c.q.Consume(ctx)
	if err != nil {
		return err
	}
	c.log.Info("audit consumer started")
	for msg := range messages {
		if msg.Type != MessageType {
			c.log.Debug("skip message", zap.String("type", msg.Type))
			continue
		}
		c.handle(ctx, msg.Body)
	}
	c.log.Info("audit consumer stopped")
	return nil
}

func (c *Consumer) handle(ctx context.Context, body []byte) {
	var e Entry
	if err := json.Unmarshal(body, &e); err != nil {
		c.log.Warn("drop malformed audit entry", zap.Error(err))
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	err := c.retry.Do(ctx, func(ctx context.Context) error { return c.sink.Save(ctx, e) })
	if err != nil {
		metrics.AuditEntries.WithLabelValues(string(e.Kind), "failed").Inc()
		c.log.Error("store audit entry", zap.String("id", e.ID), zap.Error(err))
		observability.CaptureErr(err, "component", "audit_worker", "kind", string(e.Kind))
		return
	}
	metrics.AuditEntries.WithLabelValues(string(e.Kind), "stored").Inc()
	c.log.Info("audit entry stored",
		zap.String("id", e.ID), zap.String("kind", string(e.Kind)), zap.String("slot", e.SlotID),
		zap.String("marker", e.MarkerID), zap.Int("students", len(e.StudentIDs)))
}

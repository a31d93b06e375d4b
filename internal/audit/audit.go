// Package audit carries override and degraded-clock decisions from the API
// to durable storage through the work queue.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"campverse/internal/attendance"
	"campverse/internal/metrics"
	"campverse/internal/observability"
	"campverse/internal/queue"
)

// MessageType tags audit entries on the queue.
const MessageType = "attendance.audit"

// Entry is one audited decision as stored in attendance_audit.
type Entry = attendance.AuditEvent

// Publisher implements attendance.Auditor by enqueueing entries.
type Publisher struct {
	q       queue.Queue
	log     *zap.Logger
	timeout time.Duration
}

func NewPublisher(q queue.Queue, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{q: q, log: log, timeout: 2 * time.Second}
}

// Audit enqueues e. It outlives the caller's cancellation but not the
// publish timeout; failures are logged and reported, never returned.
func (p *Publisher) Audit(ctx context.Context, e Entry) {
	body, err := json.Marshal(e)
	if err != nil {
		p.fail(e, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.q.Publish(ctx, queue.Message{Type: MessageType, Body: body}); err != nil {
		p.fail(e, err)
		return
	}
	metrics.AuditEntries.WithLabelValues(string(e.Kind), "queued").Inc()
}

func (p *Publisher) fail(e Entry, err error) {
	metrics.AuditEntries.WithLabelValues(string(e.Kind), "dropped").Inc()
	p.log.Error("audit entry dropped",
		zap.String("kind", string(e.Kind)), zap.String("slot", e.SlotID), zap.String("marker", e.MarkerID), zap.Error(err))
	observability.CaptureErr(err, "component", "audit", "kind", string(e.Kind))
}

var _ attendance.Auditor = (*Publisher)(nil)

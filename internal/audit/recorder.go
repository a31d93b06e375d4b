package audit

import (
	"context"
	"database/sql"
	"encoding/json"

	"go.uber.org/zap"
)

// Sink stores audit entries.
type Sink interface {
	Save(ctx context.Context, e Entry) error
}

// Recorder writes entries to the attendance_audit table.
type Recorder struct {
	db *sql.DB
}

func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Save inserts e; redelivered entries are ignored by id.
func (r *Recorder) Save(ctx context.Context, e Entry) error {
	students, err := json.Marshal(e.StudentIDs)
	if err != nil {
		return err
	}
	if e.StudentIDs == nil {
		students = []byte("[]")
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO attendance_audit (id, kind, marker_id, marker_role, slot_id, date, category, student_ids, reason, trusted, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, string(e.Kind), e.MarkerID, string(e.MarkerRole), e.SlotID, e.Date, string(e.Category),
		string(students), e.Reason, e.Trusted, e.At)
	return err
}

// LogSink writes entries to the log when no database is configured.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Save(_ context.Context, e Entry) error {
	s.Log.Info("audit",
		zap.String("id", e.ID), zap.String("kind", string(e.Kind)), zap.String("marker", e.MarkerID),
		zap.String("slot", e.SlotID), zap.String("date", e.Date), zap.Strings("students", e.StudentIDs),
		zap.String("reason", e.Reason), zap.Bool("trusted", e.Trusted))
	return nil
}

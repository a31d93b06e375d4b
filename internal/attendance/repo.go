package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists slots, the roster and attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const slotColumns = `id, number, day, start_min, end_min, subject_code, subject_name, marker_id, cohort_year, cohort_branch, cohort_section`

type scanner interface {
	Scan(dest ...any) error
}

func scanSlot(row scanner) (TimeSlot, error) {
	var s TimeSlot
	var day, start, end int
	err := row.Scan(&s.ID, &s.Number, &day, &start, &end, &s.SubjectCode, &s.SubjectName, &s.MarkerID,
		&s.Cohort.Year, &s.Cohort.Branch, &s.Cohort.Section)
	s.Day, s.Start, s.End = time.Weekday(day), ClockTime(start), ClockTime(end)
	return s, err
}

// GetSlot loads one slot.
func (r *Repository) GetSlot(ctx context.Context, id string) (TimeSlot, error) {
	s, err := scanSlot(r.db.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return TimeSlot{}, ErrSlotNotFound
	}
	return s, err
}

// ListSlots returns a cohort's timetable ordered by day and slot number.
func (r *Repository) ListSlots(ctx context.Context, c Cohort) ([]TimeSlot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE cohort_year = $1 AND cohort_branch = $2 AND cohort_section = $3
		ORDER BY day, number
	`, c.Year, c.Branch, c.Section)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveSlot inserts or replaces a slot.
func (r *Repository) SaveSlot(ctx context.Context, s TimeSlot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO slots (`+slotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			number = EXCLUDED.number, day = EXCLUDED.day,
			start_min = EXCLUDED.start_min, end_min = EXCLUDED.end_min,
			subject_code = EXCLUDED.subject_code, subject_name = EXCLUDED.subject_name,
			marker_id = EXCLUDED.marker_id, cohort_year = EXCLUDED.cohort_year,
			cohort_branch = EXCLUDED.cohort_branch, cohort_section = EXCLUDED.cohort_section
	`, s.ID, s.Number, int(s.Day), int(s.Start), int(s.End), s.SubjectCode, s.SubjectName, s.MarkerID,
		s.Cohort.Year, s.Cohort.Branch, s.Cohort.Section)
	return err
}

// SlotHasRecords reports whether any attendance was written against the slot.
func (r *Repository) SlotHasRecords(ctx context.Context, slotID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM attendance_records WHERE slot_id = $1)`, slotID).Scan(&exists)
	return exists, err
}

// GetStudent loads a roster entry.
func (r *Repository) GetStudent(ctx context.Context, id string) (Student, error) {
	var st Student
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, cohort_year, cohort_branch, cohort_section FROM students WHERE id = $1
	`, id).Scan(&st.ID, &st.Name, &st.Cohort.Year, &st.Cohort.Branch, &st.Cohort.Section)
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, ErrStudentNotFound
	}
	return st, err
}

// SaveStudent inserts or updates a roster entry.
func (r *Repository) SaveStudent(ctx context.Context, st Student) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, name, cohort_year, cohort_branch, cohort_section)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, cohort_year = EXCLUDED.cohort_year,
			cohort_branch = EXCLUDED.cohort_branch, cohort_section = EXCLUDED.cohort_section
	`, st.ID, st.Name, st.Cohort.Year, st.Cohort.Branch, st.Cohort.Section)
	return err
}

const recordColumns = `student_id, slot_id, date, status, category, marker_id, marker_role, subject_code, subject_name,
	cohort_year, cohort_branch, cohort_section, marked_at, override_reason, provisional`

func scanRecord(row scanner) (Record, error) {
	var rec Record
	var reason sql.NullString
	err := row.Scan(&rec.StudentID, &rec.SlotID, &rec.Date, &rec.Status, &rec.Category, &rec.MarkerID, &rec.MarkerRole,
		&rec.SubjectCode, &rec.SubjectName, &rec.Cohort.Year, &rec.Cohort.Branch, &rec.Cohort.Section,
		&rec.MarkedAt, &reason, &rec.Provisional)
	if err != nil {
		return Record{}, err
	}
	rec.Date = DateOf(rec.Date, nil)
	rec.MarkedAt = rec.MarkedAt.UTC()
	rec.Origin = Normal{}
	if reason.Valid {
		if rec.Origin, err = NewOverride(reason.String); err != nil {
			return Record{}, err
		}
	}
	return rec, nil
}

func (r *Repository) queryRecords(ctx context.Context, where string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetRecord loads the record with key, reporting whether it exists.
func (r *Repository) GetRecord(ctx context.Context, k RecordKey) (Record, bool, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = $1 AND slot_id = $2 AND date = $3 AND category = $4
	`, k.StudentID, k.SlotID, k.Date, string(k.Category)))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// PutRecord writes rec, superseding any record with the same key.
func (r *Repository) PutRecord(ctx context.Context, rec Record) error {
	var reason sql.NullString
	if rs, ok := rec.OverrideReason(); ok {
		reason = sql.NullString{String: rs, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (student_id, slot_id, date, category) DO UPDATE SET
			status = EXCLUDED.status, marker_id = EXCLUDED.marker_id, marker_role = EXCLUDED.marker_role,
			subject_code = EXCLUDED.subject_code, subject_name = EXCLUDED.subject_name,
			cohort_year = EXCLUDED.cohort_year, cohort_branch = EXCLUDED.cohort_branch,
			cohort_section = EXCLUDED.cohort_section, marked_at = EXCLUDED.marked_at,
			override_reason = EXCLUDED.override_reason, provisional = EXCLUDED.provisional
	`, rec.StudentID, rec.SlotID, rec.Date, string(rec.Status), string(rec.Category), rec.MarkerID, string(rec.MarkerRole),
		rec.SubjectCode, rec.SubjectName, rec.Cohort.Year, rec.Cohort.Branch, rec.Cohort.Section,
		rec.MarkedAt, reason, rec.Provisional)
	return err
}

// ListSlotRecords returns every record of a slot on date, ordered by student.
func (r *Repository) ListSlotRecords(ctx context.Context, slotID string, date time.Time) ([]Record, error) {
	return r.queryRecords(ctx, `slot_id = $1 AND date = $2 ORDER BY student_id, category`, slotID, date)
}

// ListStudentRecords returns a student's records dated on or after since.
func (r *Repository) ListStudentRecords(ctx context.Context, studentID string, since time.Time) ([]Record, error) {
	return r.queryRecords(ctx, `student_id = $1 AND date >= $2 ORDER BY date, slot_id`, studentID, since)
}

// ListCohortRecords returns every record of a cohort.
func (r *Repository) ListCohortRecords(ctx context.Context, c Cohort) ([]Record, error) {
	return r.queryRecords(ctx, `cohort_year = $1 AND cohort_branch = $2 AND cohort_section = $3 ORDER BY student_id, date`,
		c.Year, c.Branch, c.Section)
}

var _ Store = (*Repository)(nil)

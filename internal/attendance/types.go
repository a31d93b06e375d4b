package attendance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role is the marker's role as asserted by the identity provider.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleFaculty Role = "FACULTY"
	RoleAdmin   Role = "ADMIN"
)

// ParseRole accepts any casing ("faculty", "Faculty", ...).
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleStudent, RoleFaculty, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Category is the kind of activity attendance applies to.
type Category string

const (
	CategoryAcademic Category = "ACADEMIC"
	CategoryEvent    Category = "EVENT"
	CategorySports   Category = "SPORTS"
	CategoryClub     Category = "CLUB"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryAcademic, CategoryEvent, CategorySports, CategoryClub}

func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToUpper(strings.TrimSpace(s))); c {
	case CategoryAcademic, CategoryEvent, CategorySports, CategoryClub:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

// Status is the recorded attendance outcome.
type Status string

const (
	StatusPresent   Status = "PRESENT"
	StatusAbsent    Status = "ABSENT"
	StatusLate      Status = "LATE"
	StatusExcused   Status = "EXCUSED"
	StatusNotMarked Status = "NOT_MARKED"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPresent, StatusAbsent, StatusLate, StatusExcused, StatusNotMarked:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Credited reports whether the status counts toward attendance.
func (s Status) Credited() bool {
	return s == StatusPresent || s == StatusLate || s == StatusExcused
}

// ClockTime is a wall-clock time of day in minutes since midnight.
type ClockTime int

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: clock time %q", ErrInvalidSlot, s)
	}
	return ClockTime(t.Hour()*60 + t.Minute()), nil
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60) }

func (c ClockTime) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *ClockTime) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Cohort identifies a class group: admission year, branch and section.
type Cohort struct {
	Year    int    `json:"year"`
	Branch  string `json:"branch"`
	Section string `json:"section"`
}

func (c Cohort) String() string { return fmt.Sprintf("%d/%s/%s", c.Year, c.Branch, c.Section) }

func (c Cohort) Valid() bool { return c.Year > 0 && c.Branch != "" && c.Section != "" }

// TimeSlot is a scheduled period for one subject of a cohort on a weekday.
type TimeSlot struct {
	ID          string       `json:"id"`
	Number      int          `json:"number"`
	Day         time.Weekday `json:"day"`
	Start       ClockTime    `json:"start"`
	End         ClockTime    `json:"end"`
	SubjectCode string       `json:"subject_code"`
	SubjectName string       `json:"subject_name"`
	MarkerID    string       `json:"marker_id"`
	Cohort      Cohort       `json:"cohort"`
}

// Validate checks the slot on its own; ValidateDay checks it among its siblings.
func (s TimeSlot) Validate() error {
	switch {
	case s.Number < 1:
		return fmt.Errorf("%w: slot number must start at 1", ErrInvalidSlot)
	case s.Day < time.Sunday || s.Day > time.Saturday:
		return fmt.Errorf("%w: day %d", ErrInvalidSlot, s.Day)
	case s.Start < 0 || s.End > 24*60:
		return fmt.Errorf("%w: time out of range", ErrInvalidSlot)
	case s.Start >= s.End:
		return fmt.Errorf("%w: start %s is not before end %s", ErrInvalidSlot, s.Start, s.End)
	case s.SubjectCode == "":
		return fmt.Errorf("%w: subject code required", ErrInvalidSlot)
	case !s.Cohort.Valid():
		return fmt.Errorf("%w: cohort %s incomplete", ErrInvalidSlot, s.Cohort)
	}
	return nil
}

// ValidateDay checks that the slots of one cohort day are numbered 1..n
// without gaps and do not overlap in number order.
func ValidateDay(slots []TimeSlot) error {
	byNumber := make(map[int]TimeSlot, len(slots))
	for _, s := range slots {
		if _, dup := byNumber[s.Number]; dup {
			return fmt.Errorf("%w: duplicate slot number %d", ErrInvalidSlot, s.Number)
		}
		byNumber[s.Number] = s
	}
	for n := 1; n <= len(slots); n++ {
		s, ok := byNumber[n]
		if !ok {
			return fmt.Errorf("%w: slot numbers must be contiguous from 1, missing %d", ErrInvalidSlot, n)
		}
		if prev, ok := byNumber[n-1]; ok && s.Start < prev.End {
			return fmt.Errorf("%w: slot %d starts before slot %d ends", ErrInvalidSlot, n, n-1)
		}
	}
	return nil
}

// Student is a roster entry.
type Student struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Cohort Cohort `json:"cohort"`
}

// Marker is the already-authenticated caller writing attendance.
type Marker struct {
	ID   string
	Role Role
}

// DateLayout is the wire form of calendar dates.
const DateLayout = "2006-01-02"

// DateOf returns the calendar day of t in loc, as midnight UTC.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a DateLayout date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

// Origin distinguishes a normal mark from an admin override. Overrides can
// only be built with NewOverride, so an override always carries a reason.
type Origin interface {
	OverrideReason() (reason string, ok bool)
	origin()
}

// Normal is the origin of a mark made inside the marking window.
type Normal struct{}

func (Normal) OverrideReason() (string, bool) { return "", false }
func (Normal) origin()                        {}

type override struct{ reason string }

func (o override) OverrideReason() (string, bool) { return o.reason, true }
func (override) origin()                          {}

// NewOverride returns an override origin; the reason must not be blank.
func NewOverride(reason string) (Origin, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrOverrideReasonRequired
	}
	return override{reason: reason}, nil
}

// RecordKey is the identity of an AttendanceRecord.
type RecordKey struct {
	StudentID string
	SlotID    string
	Date      time.Time
	Category  Category
}

// Record is one (student, slot, date, category) observation.
type Record struct {
	StudentID   string
	SlotID      string
	Date        time.Time
	Status      Status
	Category    Category
	MarkerID    string
	MarkerRole  Role
	SubjectCode string
	SubjectName string
	Cohort      Cohort
	MarkedAt    time.Time
	Origin      Origin
	// Provisional is set when the write was allowed on an untrusted clock.
	Provisional bool
}

func (r Record) Key() RecordKey {
	return RecordKey{StudentID: r.StudentID, SlotID: r.SlotID, Date: r.Date, Category: r.Category}
}

// IsOverride reports whether the record was written as an admin override.
func (r Record) IsOverride() bool {
	_, ok := r.OverrideReason()
	return ok
}

func (r Record) OverrideReason() (string, bool) {
	if r.Origin == nil {
		return "", false
	}
	return r.Origin.OverrideReason()
}

type recordJSON struct {
	StudentID      string    `json:"student_id"`
	SlotID         string    `json:"slot_id"`
	Date           string    `json:"date"`
	Status         Status    `json:"status"`
	Category       Category  `json:"category"`
	MarkerID       string    `json:"marker_id"`
	MarkerRole     Role      `json:"marker_role"`
	SubjectCode    string    `json:"subject_code"`
	SubjectName    string    `json:"subject_name"`
	Cohort         Cohort    `json:"cohort"`
	MarkedAt       time.Time `json:"marked_at"`
	Override       bool      `json:"override"`
	OverrideReason string    `json:"override_reason,omitempty"`
	Provisional    bool      `json:"provisional,omitempty"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	reason, ok := r.OverrideReason()
	return json.Marshal(recordJSON{
		StudentID:      r.StudentID,
		SlotID:         r.SlotID,
		Date:           r.Date.Format(DateLayout),
		Status:         r.Status,
		Category:       r.Category,
		MarkerID:       r.MarkerID,
		MarkerRole:     r.MarkerRole,
		SubjectCode:    r.SubjectCode,
		SubjectName:    r.SubjectName,
		Cohort:         r.Cohort,
		MarkedAt:       r.MarkedAt,
		Override:       ok,
		OverrideReason: reason,
		Provisional:    r.Provisional,
	})
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var v recordJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	date, err := ParseDate(v.Date)
	if err != nil {
		return err
	}
	var origin Origin = Normal{}
	if v.Override {
		if origin, err = NewOverride(v.OverrideReason); err != nil {
			return err
		}
	}
	*r = Record{
		StudentID:   v.StudentID,
		SlotID:      v.SlotID,
		Date:        date,
		Status:      v.Status,
		Category:    v.Category,
		MarkerID:    v.MarkerID,
		MarkerRole:  v.MarkerRole,
		SubjectCode: v.SubjectCode,
		SubjectName: v.SubjectName,
		Cohort:      v.Cohort,
		MarkedAt:    v.MarkedAt,
		Origin:      origin,
		Provisional: v.Provisional,
	}
	return nil
}

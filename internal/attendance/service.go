package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"campverse/internal/clock"
	"campverse/internal/metrics"
	"campverse/internal/retry"
)

// Store is the persistence boundary for slots, the roster and records.
type Store interface {
	GetSlot(ctx context.Context, id string) (TimeSlot, error)
	ListSlots(ctx context.Context, cohort Cohort) ([]TimeSlot, error)
	SaveSlot(ctx context.Context, slot TimeSlot) error
	SlotHasRecords(ctx context.Context, slotID string) (bool, error)

	GetStudent(ctx context.Context, id string) (Student, error)
	SaveStudent(ctx context.Context, st Student) error

	GetRecord(ctx context.Context, key RecordKey) (Record, bool, error)
	PutRecord(ctx context.Context, rec Record) error
	ListSlotRecords(ctx context.Context, slotID string, date time.Time) ([]Record, error)
	// ListStudentRecords returns the student's records dated on or after
	// since; a zero since returns all of them.
	ListStudentRecords(ctx context.Context, studentID string, since time.Time) ([]Record, error)
	ListCohortRecords(ctx context.Context, cohort Cohort) ([]Record, error)
}

// SlotKey addresses the live attendance of one slot on one date.
type SlotKey struct {
	SlotID string
	Date   time.Time
	Cohort Cohort
}

func (k SlotKey) String() string { return k.SlotID + ":" + k.Date.Format(DateLayout) }

// Broadcaster fans slot snapshots out to live subscribers. Every delivery is
// the latest full snapshot, not a delta.
type Broadcaster interface {
	Publish(ctx context.Context, key SlotKey, records []Record)
	Subscribe(key SlotKey, fn func([]Record)) (unsubscribe func())
}

// AuditKind names the decisions that must leave an audit trail.
type AuditKind string

const (
	AuditOverride        AuditKind = "override"
	AuditDegradedClock   AuditKind = "degraded_clock"
	AuditPermissionCheck AuditKind = "provisional_check"
)

// AuditEvent describes one audited decision.
type AuditEvent struct {
	ID         string    `json:"id"`
	Kind       AuditKind `json:"kind"`
	MarkerID   string    `json:"marker_id"`
	MarkerRole Role      `json:"marker_role"`
	SlotID     string    `json:"slot_id"`
	Date       string    `json:"date"`
	Category   Category  `json:"category"`
	StudentIDs []string  `json:"student_ids,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
	Trusted    bool      `json:"trusted"`
}

// Auditor records audit events; implementations must not block for long.
type Auditor interface {
	Audit(ctx context.Context, e AuditEvent)
}

// Policy is the process-wide marking and reporting configuration.
type Policy struct {
	LockBuffer    time.Duration
	Thresholds    Thresholds
	RollingWindow time.Duration
	Location      *time.Location
}

func DefaultPolicy() Policy {
	return Policy{
		LockBuffer:    15 * time.Minute,
		Thresholds:    DefaultThresholds(),
		RollingWindow: 4 * 7 * 24 * time.Hour,
		Location:      time.UTC,
	}
}

// Service coordinates permission checks, writes, notifications and rollups.
type Service struct {
	store  Store
	clock  clock.Source
	policy Policy
	caps   CapabilityTable
	hub    Broadcaster
	audit  Auditor
	retry  retry.Policy
	log    *zap.Logger
}

type Option func(*Service)

func WithCapabilities(t CapabilityTable) Option { return func(s *Service) { s.caps = t } }
func WithBroadcaster(b Broadcaster) Option     { return func(s *Service) { s.hub = b } }
func WithAuditor(a Auditor) Option             { return func(s *Service) { s.audit = a } }
func WithLogger(l *zap.Logger) Option          { return func(s *Service) { s.log = l } }

// WithRetry sets the write retry policy; transient store errors are retried.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(s *Service) {
		s.retry.Attempts = attempts
		s.retry.BaseDelay = baseDelay
	}
}

// NewService creates a service backed by a store and a trusted clock.
func NewService(store Store, src clock.Source, policy Policy, opts ...Option) *Service {
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	s := &Service{
		store:  store,
		clock:  src,
		policy: policy,
		caps:   DefaultCapabilities(),
		hub:    nopBroadcaster{},
		audit:  nopAuditor{},
		retry:  retry.Policy{Attempts: 3, BaseDelay: 200 * time.Millisecond},
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.retry.Retryable = func(err error) bool { return !permanent(err) }
	s.retry.OnRetry = func(attempt int, err error) {
		metrics.WriteRetries.Inc()
		s.log.Warn("store call failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	return s
}

func (s *Service) Policy() Policy { return s.policy }

// Now returns the current server time reading.
func (s *Service) Now(ctx context.Context) clock.Reading { return s.clock.Now(ctx) }

// Today is the current calendar date in the institutional zone.
func (s *Service) Today(ctx context.Context) time.Time {
	return DateOf(s.clock.Now(ctx).Time, s.policy.Location)
}

// CreateSlot validates and stores a new slot. The slot number must extend
// its cohort day contiguously.
func (s *Service) CreateSlot(ctx context.Context, slot TimeSlot) (TimeSlot, error) {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	if err := s.validateInDay(ctx, slot); err != nil {
		return TimeSlot{}, err
	}
	if err := s.retry.Do(ctx, func(ctx context.Context) error { return s.store.SaveSlot(ctx, slot) }); err != nil {
		return TimeSlot{}, fmt.Errorf("save slot: %w", err)
	}
	return slot, nil
}

// UpdateSlot replaces a slot definition unless attendance was already
// recorded against it.
func (s *Service) UpdateSlot(ctx context.Context, slot TimeSlot) (TimeSlot, error) {
	if _, err := s.GetSlot(ctx, slot.ID); err != nil {
		return TimeSlot{}, err
	}
	locked, err := s.store.SlotHasRecords(ctx, slot.ID)
	if err != nil {
		return TimeSlot{}, err
	}
	if locked {
		return TimeSlot{}, ErrSlotLocked
	}
	if err := s.validateInDay(ctx, slot); err != nil {
		return TimeSlot{}, err
	}
	if err := s.retry.Do(ctx, func(ctx context.Context) error { return s.store.SaveSlot(ctx, slot) }); err != nil {
		return TimeSlot{}, fmt.Errorf("save slot: %w", err)
	}
	return slot, nil
}

func (s *Service) validateInDay(ctx context.Context, slot TimeSlot) error {
	if err := slot.Validate(); err != nil {
		return err
	}
	existing, err := s.store.ListSlots(ctx, slot.Cohort)
	if err != nil {
		return err
	}
	day := []TimeSlot{slot}
	for _, e := range existing {
		if e.Day == slot.Day && e.ID != slot.ID {
			day = append(day, e)
		}
	}
	return ValidateDay(day)
}

func (s *Service) GetSlot(ctx context.Context, id string) (TimeSlot, error) {
	var slot TimeSlot
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		slot, err = s.store.GetSlot(ctx, id)
		return err
	})
	return slot, err
}

func (s *Service) ListSlots(ctx context.Context, cohort Cohort) ([]TimeSlot, error) {
	if !cohort.Valid() {
		return nil, ErrInvalidCohort
	}
	return s.store.ListSlots(ctx, cohort)
}

// GetStudent returns a roster entry.
func (s *Service) GetStudent(ctx context.Context, id string) (Student, error) {
	var st Student
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		st, err = s.store.GetStudent(ctx, id)
		return err
	})
	return st, err
}

// EnrollStudent adds or updates a roster entry.
func (s *Service) EnrollStudent(ctx context.Context, st Student) error {
	if strings.TrimSpace(st.ID) == "" {
		return fmt.Errorf("%w: id required", ErrStudentNotFound)
	}
	if !st.Cohort.Valid() {
		return ErrInvalidCohort
	}
	return s.retry.Do(ctx, func(ctx context.Context) error { return s.store.SaveStudent(ctx, st) })
}

// CheckMarkingPermission loads the slot and server time, then evaluates the
// capability table. Unknown slots are an error; denials are not.
func (s *Service) CheckMarkingPermission(ctx context.Context, marker Marker, slotID string, date time.Time, category Category) (PermissionCheck, error) {
	slot, err := s.GetSlot(ctx, slotID)
	if err != nil {
		return PermissionCheck{}, err
	}
	check, reading := s.evaluate(ctx, marker, slot, date, category)
	if check.Provisional {
		s.audit.Audit(ctx, AuditEvent{
			ID: uuid.NewString(), Kind: AuditPermissionCheck, MarkerID: marker.ID, MarkerRole: marker.Role,
			SlotID: slot.ID, Date: date.Format(DateLayout), Category: category, At: reading.Time,
		})
	}
	return check, nil
}

func (s *Service) evaluate(ctx context.Context, marker Marker, slot TimeSlot, date time.Time, category Category) (PermissionCheck, clock.Reading) {
	reading := s.clock.Now(ctx)
	check := s.caps.Evaluate(PermissionInput{
		Marker:     marker,
		Slot:       slot,
		Date:       date,
		Category:   category,
		Now:        reading.Time,
		Trusted:    reading.Trusted,
		LockBuffer: s.policy.LockBuffer,
		Location:   s.policy.Location,
	})
	if !reading.Trusted {
		metrics.DegradedClock.Inc()
		s.log.Warn("permission evaluated on untrusted clock",
			zap.String("marker", marker.ID), zap.String("slot", slot.ID), zap.Bool("can_mark", check.CanMark))
	}
	if !check.CanMark {
		metrics.PermissionDenials.WithLabelValues(check.Reason).Inc()
	}
	return check, reading
}

// Window returns the absolute marking window of a slot on date.
func (s *Service) Window(ctx context.Context, slotID string, date time.Time) (Window, error) {
	slot, err := s.GetSlot(ctx, slotID)
	if err != nil {
		return Window{}, err
	}
	return MarkingWindow(slot, date, s.policy.LockBuffer, s.policy.Location), nil
}

// MarkRequest is a single attendance write.
type MarkRequest struct {
	StudentID string
	SlotID    string
	Date      time.Time
	Status    Status
	Category  Category
	Marker    Marker
	// Reason is mandatory for admin writes, which are always overrides.
	Reason string
}

// MarkAttendance writes one record. Marking the status the record already
// holds un-marks it (NOT_MARKED); any other status supersedes the record.
func (s *Service) MarkAttendance(ctx context.Context, req MarkRequest) (Record, error) {
	if _, err := ParseStatus(string(req.Status)); err != nil {
		return Record{}, err
	}
	slot, err := s.GetSlot(ctx, req.SlotID)
	if err != nil {
		return Record{}, err
	}
	w, err := s.authorize(ctx, req.Marker, slot, req.Date, req.Category, req.Reason)
	if err != nil {
		return Record{}, err
	}
	rec, err := s.write(ctx, w, req.StudentID, req.Status, true)
	if err != nil {
		metrics.Marks.WithLabelValues(string(req.Marker.Role), string(req.Category), "failed").Inc()
		return Record{}, err
	}
	metrics.Marks.WithLabelValues(string(req.Marker.Role), string(req.Category), "marked").Inc()
	s.afterWrite(ctx, w, []string{rec.StudentID})
	return rec, nil
}

// BulkEntry is one student's status in a bulk write.
type BulkEntry struct {
	StudentID string `json:"student_id"`
	Status    Status `json:"status"`
}

type BulkRequest struct {
	SlotID   string
	Date     time.Time
	Category Category
	Marker   Marker
	Reason   string
	Entries  []BulkEntry
}

// Failure names a student whose write failed and why.
type Failure struct {
	StudentID string `json:"student_id"`
	Reason    string `json:"reason"`
}

// BatchResult reports partial success; callers retry only Failed.
type BatchResult struct {
	MarkedCount int       `json:"marked_count"`
	FailedCount int       `json:"failed_count"`
	Marked      []string  `json:"marked"`
	Failed      []Failure `json:"failed"`
}

// MarkBulkAttendance sets each entry's status (no toggling). The permission
// is checked once for the batch; per-student failures are reported in the
// result rather than failing the batch.
func (s *Service) MarkBulkAttendance(ctx context.Context, req BulkRequest) (BatchResult, error) {
	slot, err := s.GetSlot(ctx, req.SlotID)
	if err != nil {
		return BatchResult{}, err
	}
	w, err := s.authorize(ctx, req.Marker, slot, req.Date, req.Category, req.Reason)
	if err != nil {
		return BatchResult{}, err
	}
	return s.writeBatch(ctx, w, req.Entries), nil
}

// AdminOverrideAttendance is a bulk write restricted to admins; the reason
// is mandatory and every record is stored as an override.
func (s *Service) AdminOverrideAttendance(ctx context.Context, req BulkRequest) (BatchResult, error) {
	if req.Marker.Role != RoleAdmin {
		metrics.PermissionDenials.WithLabelValues(ReasonNotAuthorized).Inc()
		return BatchResult{}, &PermissionError{Check: PermissionCheck{Reason: ReasonNotAuthorized}}
	}
	if strings.TrimSpace(req.Reason) == "" {
		return BatchResult{}, ErrOverrideReasonRequired
	}
	return s.MarkBulkAttendance(ctx, req)
}

// writeCtx carries what an authorized write needs.
type writeCtx struct {
	marker   Marker
	slot     TimeSlot
	date     time.Time
	category Category
	origin   Origin
	reading  clock.Reading
	check    PermissionCheck
}

func (s *Service) authorize(ctx context.Context, marker Marker, slot TimeSlot, date time.Time, category Category, reason string) (writeCtx, error) {
	if _, err := ParseCategory(string(category)); err != nil {
		return writeCtx{}, err
	}
	date = DateOf(date, time.UTC)
	check, reading := s.evaluate(ctx, marker, slot, date, category)
	if !check.CanMark {
		return writeCtx{}, &PermissionError{Check: check}
	}
	var origin Origin = Normal{}
	if check.RequiresOverride {
		o, err := NewOverride(reason)
		if err != nil {
			return writeCtx{}, err
		}
		origin = o
	}
	return writeCtx{
		marker: marker, slot: slot, date: date, category: category,
		origin: origin, reading: reading, check: check,
	}, nil
}

func (s *Service) writeBatch(ctx context.Context, w writeCtx, entries []BulkEntry) BatchResult {
	res := BatchResult{Marked: []string{}, Failed: []Failure{}}
	for _, e := range entries {
		if _, err := s.write(ctx, w, e.StudentID, e.Status, false); err != nil {
			res.Failed = append(res.Failed, Failure{StudentID: e.StudentID, Reason: err.Error()})
			metrics.Marks.WithLabelValues(string(w.marker.Role), string(w.category), "failed").Inc()
			continue
		}
		res.Marked = append(res.Marked, e.StudentID)
		metrics.Marks.WithLabelValues(string(w.marker.Role), string(w.category), "marked").Inc()
	}
	res.MarkedCount = len(res.Marked)
	res.FailedCount = len(res.Failed)
	if res.FailedCount > 0 {
		s.log.Info("bulk attendance partially failed",
			zap.String("slot", w.slot.ID), zap.Int("marked", res.MarkedCount), zap.Int("failed", res.FailedCount))
	}
	if res.MarkedCount > 0 {
		s.afterWrite(ctx, w, res.Marked)
	}
	return res
}

func (s *Service) write(ctx context.Context, w writeCtx, studentID string, status Status, toggle bool) (Record, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return Record{}, err
	}
	if err := s.checkEnrolled(ctx, studentID, w.slot.Cohort); err != nil {
		return Record{}, err
	}
	key := RecordKey{StudentID: studentID, SlotID: w.slot.ID, Date: w.date, Category: w.category}
	var (
		existing Record
		found    bool
	)
	if toggle {
		err := s.retry.Do(ctx, func(ctx context.Context) error {
			var err error
			existing, found, err = s.store.GetRecord(ctx, key)
			return err
		})
		if err != nil {
			return Record{}, err
		}
	}
	// next is fixed before the write so a retried PutRecord cannot flip it again
	next := status
	if toggle && found && existing.Status == status {
		next = StatusNotMarked
	}
	rec := Record{
		StudentID:   studentID,
		SlotID:      w.slot.ID,
		Date:        w.date,
		Status:      next,
		Category:    w.category,
		MarkerID:    w.marker.ID,
		MarkerRole:  w.marker.Role,
		SubjectCode: w.slot.SubjectCode,
		SubjectName: w.slot.SubjectName,
		Cohort:      w.slot.Cohort,
		MarkedAt:    w.reading.Time,
		Origin:      w.origin,
		Provisional: !w.reading.Trusted,
	}
	if err := s.retry.Do(ctx, func(ctx context.Context) error { return s.store.PutRecord(ctx, rec) }); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *Service) checkEnrolled(ctx context.Context, studentID string, cohort Cohort) error {
	if strings.TrimSpace(studentID) == "" {
		return fmt.Errorf("%w: empty id", ErrStudentNotFound)
	}
	var st Student
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		st, err = s.store.GetStudent(ctx, studentID)
		return err
	})
	if err != nil {
		return err
	}
	if st.Cohort != cohort {
		return fmt.Errorf("%w: %s is in %s", ErrStudentNotInCohort, studentID, st.Cohort)
	}
	return nil
}

func (s *Service) afterWrite(ctx context.Context, w writeCtx, studentIDs []string) {
	if reason, ok := w.origin.OverrideReason(); ok {
		s.log.Info("attendance override",
			zap.String("marker", w.marker.ID), zap.String("slot", w.slot.ID),
			zap.String("date", w.date.Format(DateLayout)), zap.Int("students", len(studentIDs)), zap.String("reason", reason))
		s.audit.Audit(ctx, s.auditEvent(AuditOverride, w, studentIDs, reason))
	}
	if !w.reading.Trusted {
		s.audit.Audit(ctx, s.auditEvent(AuditDegradedClock, w, studentIDs, ""))
	}
	s.publishSnapshot(ctx, w.slot, w.date)
}

func (s *Service) auditEvent(kind AuditKind, w writeCtx, studentIDs []string, reason string) AuditEvent {
	return AuditEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		MarkerID:   w.marker.ID,
		MarkerRole: w.marker.Role,
		SlotID:     w.slot.ID,
		Date:       w.date.Format(DateLayout),
		Category:   w.category,
		StudentIDs: append([]string(nil), studentIDs...),
		Reason:     reason,
		At:         w.reading.Time,
		Trusted:    w.reading.Trusted,
	}
}

func (s *Service) publishSnapshot(ctx context.Context, slot TimeSlot, date time.Time) {
	records, err := s.store.ListSlotRecords(ctx, slot.ID, date)
	if err != nil {
		s.log.Warn("snapshot for subscribers failed", zap.String("slot", slot.ID), zap.Error(err))
		return
	}
	s.hub.Publish(ctx, SlotKey{SlotID: slot.ID, Date: date, Cohort: slot.Cohort}, records)
}

// SlotAttendance returns the current records of a slot on date.
func (s *Service) SlotAttendance(ctx context.Context, slotID string, date time.Time) ([]Record, error) {
	if _, err := s.GetSlot(ctx, slotID); err != nil {
		return nil, err
	}
	return s.store.ListSlotRecords(ctx, slotID, DateOf(date, time.UTC))
}

// SubscribeToSlotAttendance registers fn for snapshots of the slot on the
// key's date. The returned func unsubscribes and is safe to call twice.
func (s *Service) SubscribeToSlotAttendance(key SlotKey, fn func([]Record)) (unsubscribe func()) {
	key.Date = DateOf(key.Date, time.UTC)
	return s.hub.Subscribe(key, fn)
}

func (s *Service) studentRecords(ctx context.Context, studentID string, cohort Cohort, since time.Time) ([]Record, error) {
	if !cohort.Valid() {
		return nil, ErrInvalidCohort
	}
	records, err := s.store.ListStudentRecords(ctx, studentID, since)
	if err != nil {
		return nil, err
	}
	return filterRecords(records, func(r Record) bool { return r.Cohort == cohort }), nil
}

// CalculateFourWeekAttendance rolls up the student's academic records over
// the rolling window ending today.
func (s *Service) CalculateFourWeekAttendance(ctx context.Context, studentID string, cohort Cohort) (RollingSummary, error) {
	from, to := RollingRange(s.Today(ctx), s.policy.RollingWindow)
	records, err := s.studentRecords(ctx, studentID, cohort, from)
	if err != nil {
		return RollingSummary{}, err
	}
	records = filterRecords(records, func(r Record) bool {
		return r.Category == CategoryAcademic && !r.Date.Before(from) && !r.Date.After(to)
	})
	return RollingSummary{
		From:    from.Format(DateLayout),
		To:      to.Format(DateLayout),
		Summary: Summarize(records, s.policy.Thresholds),
	}, nil
}

// GetSubjectWiseAttendance returns all-time academic summaries per subject.
func (s *Service) GetSubjectWiseAttendance(ctx context.Context, studentID string, cohort Cohort) ([]SubjectSummary, error) {
	records, err := s.studentRecords(ctx, studentID, cohort, time.Time{})
	if err != nil {
		return nil, err
	}
	records = filterRecords(records, func(r Record) bool { return r.Category == CategoryAcademic })
	return BySubject(records, s.policy.Thresholds), nil
}

// GetCategoryWiseAttendance returns all-time summaries for each category.
func (s *Service) GetCategoryWiseAttendance(ctx context.Context, studentID string, cohort Cohort) ([]CategorySummary, error) {
	records, err := s.studentRecords(ctx, studentID, cohort, time.Time{})
	if err != nil {
		return nil, err
	}
	return ByCategory(records, s.policy.Thresholds), nil
}

// GetCohortAttendance returns all-time academic summaries per student.
func (s *Service) GetCohortAttendance(ctx context.Context, cohort Cohort) ([]StudentSummary, error) {
	if !cohort.Valid() {
		return nil, ErrInvalidCohort
	}
	records, err := s.store.ListCohortRecords(ctx, cohort)
	if err != nil {
		return nil, err
	}
	records = filterRecords(records, func(r Record) bool { return r.Category == CategoryAcademic })
	return ByStudent(records, s.policy.Thresholds), nil
}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(context.Context, SlotKey, []Record)        {}
func (nopBroadcaster) Subscribe(SlotKey, func([]Record)) (unsubscribe func()) { return func() {} }

type nopAuditor struct{}

func (nopAuditor) Audit(context.Context, AuditEvent) {}

package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Draft is the locally edited status of one student on a marking page.
type Draft struct {
	StudentID  string `json:"student_id"`
	Status     Status `json:"status"`
	IsModified bool   `json:"is_modified"`
}

// MarkingSession holds a marker's optimistic edits for one slot and date.
// Local edits win over incoming snapshots until they are saved.
type MarkingSession struct {
	svc      *Service
	slotID   string
	date     time.Time
	category Category
	marker   Marker
	reason   string

	mu     sync.Mutex
	drafts map[string]Draft
}

// NewMarkingSession starts a session; students default to NOT_MARKED.
func (s *Service) NewMarkingSession(slotID string, date time.Time, category Category, marker Marker, studentIDs []string) *MarkingSession {
	ms := &MarkingSession{
		svc:      s,
		slotID:   slotID,
		date:     DateOf(date, time.UTC),
		category: category,
		marker:   marker,
		drafts:   make(map[string]Draft, len(studentIDs)),
	}
	for _, id := range studentIDs {
		ms.drafts[id] = Draft{StudentID: id, Status: StatusNotMarked}
	}
	return ms
}

// WithReason sets the override reason sent with admin saves.
func (ms *MarkingSession) WithReason(reason string) *MarkingSession {
	ms.mu.Lock()
	ms.reason = reason
	ms.mu.Unlock()
	return ms
}

// Toggle selects status for a student, or clears it back to NOT_MARKED when
// it is already selected.
func (ms *MarkingSession) Toggle(studentID string, status Status) Status {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	d := ms.drafts[studentID]
	d.StudentID = studentID
	if d.Status == status {
		d.Status = StatusNotMarked
	} else {
		d.Status = status
	}
	d.IsModified = true
	ms.drafts[studentID] = d
	return d.Status
}

// Set selects status for a student without toggling.
func (ms *MarkingSession) Set(studentID string, status Status) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.drafts[studentID] = Draft{StudentID: studentID, Status: status, IsModified: true}
}

// ApplySnapshot merges stored records into the session. Students with
// unsaved edits keep their local status.
func (ms *MarkingSession) ApplySnapshot(records []Record) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, r := range records {
		if r.SlotID != ms.slotID || !r.Date.Equal(ms.date) || r.Category != ms.category {
			continue
		}
		if d, ok := ms.drafts[r.StudentID]; ok && d.IsModified {
			continue
		}
		ms.drafts[r.StudentID] = Draft{StudentID: r.StudentID, Status: r.Status}
	}
}

// Drafts returns the session state ordered by student id.
func (ms *MarkingSession) Drafts() []Draft {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]Draft, 0, len(ms.drafts))
	for _, d := range ms.drafts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

// Modified lists students with unsaved edits.
func (ms *MarkingSession) Modified() []string {
	var ids []string
	for _, d := range ms.Drafts() {
		if d.IsModified {
			ids = append(ids, d.StudentID)
		}
	}
	return ids
}

// Save bulk-writes the modified drafts. Saved students are cleared; failed
// ones stay modified so a second Save retries only them.
func (ms *MarkingSession) Save(ctx context.Context) (BatchResult, error) {
	ms.mu.Lock()
	req := BulkRequest{
		SlotID:   ms.slotID,
		Date:     ms.date,
		Category: ms.category,
		Marker:   ms.marker,
		Reason:   ms.reason,
	}
	for _, d := range ms.drafts {
		if d.IsModified {
			req.Entries = append(req.Entries, BulkEntry{StudentID: d.StudentID, Status: d.Status})
		}
	}
	ms.mu.Unlock()
	sort.Slice(req.Entries, func(i, j int) bool { return req.Entries[i].StudentID < req.Entries[j].StudentID })

	if len(req.Entries) == 0 {
		return BatchResult{Marked: []string{}, Failed: []Failure{}}, nil
	}
	res, err := ms.svc.MarkBulkAttendance(ctx, req)
	if err != nil {
		return res, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, id := range res.Marked {
		d := ms.drafts[id]
		d.IsModified = false
		ms.drafts[id] = d
	}
	return res, nil
}

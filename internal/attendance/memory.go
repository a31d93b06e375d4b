package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for local development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	slots    map[string]TimeSlot
	students map[string]Student
	records  map[RecordKey]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots:    map[string]TimeSlot{},
		students: map[string]Student{},
		records:  map[RecordKey]Record{},
	}
}

func (m *MemoryStore) GetSlot(_ context.Context, id string) (TimeSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.slots[id]
	if !ok {
		return TimeSlot{}, ErrSlotNotFound
	}
	return s, nil
}

func (m *MemoryStore) ListSlots(_ context.Context, c Cohort) ([]TimeSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []TimeSlot
	for _, s := range m.slots {
		if s.Cohort == c {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

func (m *MemoryStore) SaveSlot(_ context.Context, s TimeSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[s.ID] = s
	return nil
}

func (m *MemoryStore) SlotHasRecords(_ context.Context, slotID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k := range m.records {
		if k.SlotID == slotID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) GetStudent(_ context.Context, id string) (Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.students[id]
	if !ok {
		return Student{}, ErrStudentNotFound
	}
	return st, nil
}

func (m *MemoryStore) SaveStudent(_ context.Context, st Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[st.ID] = st
	return nil
}

func (m *MemoryStore) GetRecord(_ context.Context, k RecordKey) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[k]
	return rec, ok, nil
}

func (m *MemoryStore) PutRecord(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Key()] = rec
	return nil
}

func (m *MemoryStore) ListSlotRecords(_ context.Context, slotID string, date time.Time) ([]Record, error) {
	return m.list(func(r Record) bool { return r.SlotID == slotID && r.Date.Equal(date) }), nil
}

func (m *MemoryStore) ListStudentRecords(_ context.Context, studentID string, since time.Time) ([]Record, error) {
	return m.list(func(r Record) bool { return r.StudentID == studentID && !r.Date.Before(since) }), nil
}

func (m *MemoryStore) ListCohortRecords(_ context.Context, c Cohort) ([]Record, error) {
	return m.list(func(r Record) bool { return r.Cohort == c }), nil
}

// list returns matching records in a stable order.
func (m *MemoryStore) list(keep func(Record) bool) []Record {
	m.mu.RLock()
	out := []Record{}
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.StudentID != b.StudentID:
			return a.StudentID < b.StudentID
		case !a.Date.Equal(b.Date):
			return a.Date.Before(b.Date)
		case a.SlotID != b.SlotID:
			return a.SlotID < b.SlotID
		default:
			return a.Category < b.Category
		}
	})
	return out
}

var _ Store = (*MemoryStore)(nil)

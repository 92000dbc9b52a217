package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store. It backs dev mode and the package tests
// and carries the same atomicity guarantees as the Postgres repository:
// every multi-write operation mutates under one lock, all or nothing.
type MemStore struct {
	mu          sync.RWMutex
	sessions    map[string]Session
	attendance  map[string]map[string]AttendanceRecord
	dismissals  map[string]DismissalRecord
	timetable   []TimetableEntry
	assignments map[string][]string // classID -> instructor IDs
	semesters   map[string]string   // classID -> semester
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions:    make(map[string]Session),
		attendance:  make(map[string]map[string]AttendanceRecord),
		dismissals:  make(map[string]DismissalRecord),
		assignments: make(map[string][]string),
		semesters:   make(map[string]string),
	}
}

// SeedTimetable registers weekly templates for the generator.
func (m *MemStore) SeedTimetable(entries ...TimetableEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timetable = append(m.timetable, entries...)
}

// SeedClass registers class metadata used by listing filters.
func (m *MemStore) SeedClass(classID, semester string, instructorIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.semesters[classID] = semester
	m.assignments[classID] = append(m.assignments[classID], instructorIDs...)
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// insertLocked enforces the overlap backstop before writing, once per
// reserved resource: the class and the booking instructor.
func (m *MemStore) insertLocked(s Session, now time.Time) (Session, error) {
	for _, other := range m.sessions {
		if other.Status.Terminal() || !sameDay(other.Date, s.Date) {
			continue
		}
		if !overlaps(s.StartTime, s.EndTime, other.StartTime, other.EndTime) {
			continue
		}
		if other.ClassID == s.ClassID {
			return Session{}, E(KindConflict, "Another session is already scheduled for this class at this time")
		}
		if other.CreatedBy == s.CreatedBy {
			return Session{}, E(KindConflict, "You have another session scheduled at this time")
		}
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = StatusScheduled
	}
	s.CreatedAt = now
	s.UpdatedAt = now
	m.sessions[s.ID] = s
	return s, nil
}

func (m *MemStore) CreateSession(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(s, time.Now())
}

func (m *MemStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, E(KindNotFound, "Session not found")
	}
	return s, nil
}

func (m *MemStore) matchesLocked(s Session, f Filter) bool {
	if f.ClassID != "" && s.ClassID != f.ClassID {
		return false
	}
	if f.InstructorID != "" {
		found := false
		for _, id := range m.assignments[s.ClassID] {
			if id == f.InstructorID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Semester != "" && m.semesters[s.ClassID] != f.Semester {
		return false
	}
	if !f.Date.IsZero() && !sameDay(s.Date, f.Date) {
		return false
	}
	if !f.DateFrom.IsZero() && s.Date.Before(f.DateFrom) && !sameDay(s.Date, f.DateFrom) {
		return false
	}
	if !f.DateTo.IsZero() && s.Date.After(f.DateTo) && !sameDay(s.Date, f.DateTo) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if s.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ExcludeID != "" && s.ID == f.ExcludeID {
		return false
	}
	return true
}

func (m *MemStore) ListSessions(_ context.Context, f Filter) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Session
	for _, s := range m.sessions {
		if m.matchesLocked(s, f) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].StartAt().After(out[j].StartAt())
	})
	if f.Limit > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
		if len(out) > f.Limit {
			out = out[:f.Limit]
		}
	}
	return out, nil
}

func (m *MemStore) SessionExists(_ context.Context, classID string, date time.Time, start TimeOfDay) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.ClassID == classID && sameDay(s.Date, date) && s.StartTime.String() == start.String() {
			return true, nil
		}
	}
	return false, nil
}

func appendNote(notes, line string) string {
	if line == "" {
		return notes
	}
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

func (m *MemStore) transitionLocked(id string, from, to Status, noteLine string) error {
	s, ok := m.sessions[id]
	if !ok {
		return E(KindNotFound, "Session not found")
	}
	if s.Status != from {
		return E(KindInvalidState, "Session is %s, expected %s", s.Status, from)
	}
	s.Status = to
	s.Notes = appendNote(s.Notes, noteLine)
	s.UpdatedAt = time.Now()
	m.sessions[id] = s
	return nil
}

func (m *MemStore) TransitionSession(_ context.Context, id string, from, to Status, noteLine string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(id, from, to, noteLine)
}

func (m *MemStore) StartSession(_ context.Context, id string, studentIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transitionLocked(id, StatusScheduled, StatusOngoing, ""); err != nil {
		return err
	}
	recs := m.attendance[id]
	if recs == nil {
		recs = make(map[string]AttendanceRecord)
		m.attendance[id] = recs
	}
	for _, studentID := range studentIDs {
		if _, exists := recs[studentID]; exists {
			continue
		}
		recs[studentID] = AttendanceRecord{
			StudentID: studentID,
			SessionID: id,
			Status:    AttendanceAbsent,
			Method:    MethodPending,
		}
	}
	return nil
}

func (m *MemStore) DismissSession(_ context.Context, rec DismissalRecord, replacement *Session) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[rec.SessionID]
	if !ok {
		return nil, E(KindNotFound, "Session not found")
	}
	if s.Status != StatusScheduled && s.Status != StatusOngoing {
		return nil, E(KindInvalidState, "Cannot dismiss %s session", s.Status)
	}

	// Dismiss first so the replacement's overlap check does not see the old
	// slot as active; a conflict restores the original state.
	prior := s
	s.Status = StatusDismissed
	s.UpdatedAt = time.Now()
	m.sessions[s.ID] = s

	var created *Session
	if replacement != nil {
		ins, err := m.insertLocked(*replacement, time.Now())
		if err != nil {
			m.sessions[prior.ID] = prior
			return nil, err
		}
		created = &ins
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.dismissals[rec.SessionID] = rec
	return created, nil
}

func (m *MemStore) CompleteSession(_ context.Context, id string, records []AttendanceRecord, arrivals int, noteLine string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return E(KindNotFound, "Session not found")
	}
	if s.Status != StatusOngoing {
		return E(KindInvalidState, "Session is %s, expected %s", s.Status, StatusOngoing)
	}

	recs := m.attendance[id]
	if recs == nil {
		recs = make(map[string]AttendanceRecord)
		m.attendance[id] = recs
	}
	for _, rec := range records {
		recs[rec.StudentID] = rec
	}

	s.Status = StatusCompleted
	s.AttendanceCount = arrivals
	s.Notes = appendNote(s.Notes, noteLine)
	s.UpdatedAt = time.Now()
	m.sessions[id] = s
	return nil
}

func (m *MemStore) UpsertAttendance(_ context.Context, rec AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.attendance[rec.SessionID]
	if recs == nil {
		recs = make(map[string]AttendanceRecord)
		m.attendance[rec.SessionID] = recs
	}
	recs[rec.StudentID] = rec
	return nil
}

func (m *MemStore) ListAttendance(_ context.Context, sessionID string) ([]AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.attendance[sessionID]
	out := make([]AttendanceRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (m *MemStore) ActiveTimetableEntries(_ context.Context, classID string) ([]TimetableEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []TimetableEntry
	for _, e := range m.timetable {
		if !e.IsActive {
			continue
		}
		if classID != "" && e.ClassID != classID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// DismissalForSession returns the dismissal record for a session, or nil.
func (m *MemStore) DismissalForSession(_ context.Context, sessionID string) (*DismissalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.dismissals[sessionID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

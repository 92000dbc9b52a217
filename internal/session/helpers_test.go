package session

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type fakeRoster struct {
	students []Student
}

func (f fakeRoster) ExpectedStudents(context.Context, string) ([]Student, error) {
	return f.students, nil
}

func (f fakeRoster) StudentCount(context.Context, string) (int, error) {
	return len(f.students), nil
}

func rosterOf(n int) fakeRoster {
	students := make([]Student, n)
	for i := range students {
		students[i] = Student{ID: fmt.Sprintf("s%02d", i+1), Name: fmt.Sprintf("Student %d", i+1)}
	}
	return fakeRoster{students: students}
}

type fakeDirectory struct {
	assignments map[string][]Assignment
	semesters   map[string]string
}

func (f fakeDirectory) InstructorsForClass(_ context.Context, classID string) ([]Assignment, error) {
	return f.assignments[classID], nil
}

func (f fakeDirectory) ClassSemester(_ context.Context, classID string) (string, error) {
	sem, ok := f.semesters[classID]
	if !ok {
		return "", E(KindNotFound, "Class not found")
	}
	return sem, nil
}

type notifyEvent struct {
	Kind      string
	SessionID string
	Payload   map[string]any
}

type captureNotifier struct {
	events []notifyEvent
}

func (c *captureNotifier) Notify(_ context.Context, kind, sessionID string, payload map[string]any) error {
	c.events = append(c.events, notifyEvent{Kind: kind, SessionID: sessionID, Payload: payload})
	return nil
}

func (c *captureNotifier) ofKind(kind string) []notifyEvent {
	var out []notifyEvent
	for _, e := range c.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// date returns midnight on the given day.
func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// at pins a wall-clock string onto a date.
func at(day time.Time, clock string) time.Time {
	return MustTimeOfDay(clock).On(day)
}

type testEnv struct {
	store    *MemStore
	svc      *Service
	notifier *captureNotifier
	now      time.Time
}

// newTestEnv wires a service over the in-memory store with class c1 taught
// by instructor t1 in semester "2" and a roster of n students. The clock is
// controlled through env.setNow.
func newTestEnv(n int) *testEnv {
	store := NewMemStore()
	store.SeedClass("c1", "2", "t1")
	dir := fakeDirectory{
		assignments: map[string][]Assignment{
			"c1": {{InstructorID: "t1", AssignedDate: date(2025, 9, 1)}},
		},
		semesters: map[string]string{"c1": "2"},
	}
	notifier := &captureNotifier{}
	svc := NewService(store, rosterOf(n), dir, DefaultConfig(), notifier, nil)

	env := &testEnv{store: store, svc: svc, notifier: notifier}
	svc.now = func() time.Time { return env.now }
	return env
}

func (env *testEnv) setNow(t time.Time) { env.now = t }

// mustCreate schedules a session for c1 or fails the test.
func (env *testEnv) mustCreate(t *testing.T, day time.Time, start, end string) Session {
	t.Helper()
	s, err := env.svc.Create(context.Background(), CreateInput{
		ClassID:      "c1",
		Date:         day,
		StartTime:    MustTimeOfDay(start),
		EndTime:      MustTimeOfDay(end),
		InstructorID: "t1",
	})
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	return s
}

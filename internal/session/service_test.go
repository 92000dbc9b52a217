package session

import (
	"context"
	"strings"
	"testing"
	"time"
)

// TestLifecycleFullSession walks one session from creation through
// finalization: 30 expected students, three arrivals, one past the late
// threshold.
func TestLifecycleFullSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(30)
	monday := date(2026, 3, 2)

	s := env.mustCreate(t, monday, "09:00", "10:00")
	if s.Status != StatusScheduled {
		t.Fatalf("created status = %s, want %s", s.Status, StatusScheduled)
	}
	if s.TotalStudents != 30 {
		t.Fatalf("total students = %d, want 30", s.TotalStudents)
	}

	env.setNow(at(monday, "09:00"))
	started, err := env.svc.Start(ctx, s.ID, "t1")
	if err != nil {
		t.Fatalf("starting: %v", err)
	}
	if started.Status != StatusOngoing {
		t.Fatalf("started status = %s, want %s", started.Status, StatusOngoing)
	}

	placeholders, err := env.store.ListAttendance(ctx, s.ID)
	if err != nil {
		t.Fatalf("listing placeholders: %v", err)
	}
	if len(placeholders) != 30 {
		t.Fatalf("placeholders = %d, want 30", len(placeholders))
	}
	for _, rec := range placeholders {
		if rec.Status != AttendanceAbsent || rec.Method != MethodPending {
			t.Fatalf("placeholder %s = %s/%s, want Absent/pending", rec.StudentID, rec.Status, rec.Method)
		}
	}

	for _, arrival := range []struct {
		student string
		clock   string
	}{
		{"s01", "09:03"},
		{"s02", "09:07"},
		{"s03", "09:16"},
	} {
		env.setNow(at(monday, arrival.clock))
		err := env.svc.Mark(ctx, MarkInput{
			SessionID: s.ID,
			StudentID: arrival.student,
			Status:    AttendancePresent,
			Method:    MethodManual,
			ActorID:   "t1",
		})
		if err != nil {
			t.Fatalf("marking %s: %v", arrival.student, err)
		}
	}

	env.setNow(at(monday, "10:00"))
	stats, err := env.svc.End(ctx, s.ID, "t1", "covered chapter 4")
	if err != nil {
		t.Fatalf("ending: %v", err)
	}

	// Late threshold is 10 minutes, so the 09:16 arrival flips to Late.
	want := Statistics{TotalExpected: 30, Present: 2, Late: 1, Absent: 27, AttendanceRate: 10}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}

	final, err := env.store.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("reloading: %v", err)
	}
	if final.Status != StatusCompleted {
		t.Errorf("final status = %s, want %s", final.Status, StatusCompleted)
	}
	if final.AttendanceCount != 3 {
		t.Errorf("attendance count = %d, want 3", final.AttendanceCount)
	}
	if !strings.Contains(final.Notes, "End notes: covered chapter 4") {
		t.Errorf("notes %q missing end notes", final.Notes)
	}

	// 10%% attendance is under the 70%% threshold.
	low := env.notifier.ofKind(NotifyLowAttendance)
	if len(low) != 1 {
		t.Fatalf("low attendance notifications = %d, want 1", len(low))
	}
	if low[0].SessionID != s.ID {
		t.Errorf("notification session = %s, want %s", low[0].SessionID, s.ID)
	}
	if rate, _ := low[0].Payload["attendance_rate"].(float64); rate != 10 {
		t.Errorf("notification rate = %v, want 10", low[0].Payload["attendance_rate"])
	}
}

func TestStartOutsideWindow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(5)
	monday := date(2026, 3, 2)
	s := env.mustCreate(t, monday, "09:00", "10:00")

	env.setNow(at(monday, "08:00"))
	if _, err := env.svc.Start(ctx, s.ID, "t1"); !IsKind(err, KindNotEligible) {
		t.Fatalf("early start = %v, want not_eligible", err)
	}

	env.setNow(at(monday, "09:30"))
	_, err := env.svc.Start(ctx, s.ID, "t1")
	if !IsKind(err, KindNotEligible) {
		t.Fatalf("late start = %v, want not_eligible", err)
	}
	if !strings.Contains(err.Error(), "window has passed") {
		t.Errorf("reason %q should mention the window", err.Error())
	}
}

func TestSweepMissed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(5)
	monday := date(2026, 3, 2)
	s := env.mustCreate(t, monday, "09:00", "10:00")

	// Still inside the window: nothing to sweep.
	env.setNow(at(monday, "09:10"))
	if n := env.svc.SweepMissed(ctx); n != 0 {
		t.Fatalf("early sweep = %d, want 0", n)
	}

	env.setNow(at(monday, "09:20"))
	if n := env.svc.SweepMissed(ctx); n != 1 {
		t.Fatalf("sweep = %d, want 1", n)
	}

	missed, err := env.store.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("reloading: %v", err)
	}
	if missed.Status != StatusMissed {
		t.Fatalf("status = %s, want %s", missed.Status, StatusMissed)
	}
	if !strings.Contains(missed.Notes, "[auto] Session marked as missed") {
		t.Errorf("notes %q missing the auto-missed marker", missed.Notes)
	}
	if got := env.notifier.ofKind(NotifySessionMissed); len(got) != 1 {
		t.Errorf("missed notifications = %d, want 1", len(got))
	}

	// Re-running does not double count.
	if n := env.svc.SweepMissed(ctx); n != 0 {
		t.Errorf("second sweep = %d, want 0", n)
	}

	// Starting after the sweep is an eligibility failure, not a state one.
	_, err = env.svc.Start(ctx, s.ID, "t1")
	if !IsKind(err, KindNotEligible) {
		t.Fatalf("start after sweep = %v, want not_eligible", err)
	}
}

// sweepRaceStore flips the session to missed between the service's status
// read and its StartSession call, reproducing a sweep winning that window.
type sweepRaceStore struct {
	*MemStore
}

func (s *sweepRaceStore) StartSession(ctx context.Context, id string, studentIDs []string) error {
	_ = s.MemStore.TransitionSession(ctx, id, StatusScheduled, StatusMissed, "")
	return s.MemStore.StartSession(ctx, id, studentIDs)
}

func TestStartLosesRaceToSweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	store.SeedClass("c1", "2", "t1")
	dir := fakeDirectory{
		assignments: map[string][]Assignment{
			"c1": {{InstructorID: "t1", AssignedDate: date(2025, 9, 1)}},
		},
		semesters: map[string]string{"c1": "2"},
	}
	svc := NewService(&sweepRaceStore{MemStore: store}, rosterOf(5), dir, DefaultConfig(), nil, nil)

	monday := date(2026, 3, 2)
	s, err := svc.Create(ctx, CreateInput{
		ClassID:      "c1",
		Date:         monday,
		StartTime:    MustTimeOfDay("09:00"),
		EndTime:      MustTimeOfDay("10:00"),
		InstructorID: "t1",
	})
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}

	// Inside the window, so the gate approves before the store says no.
	svc.now = func() time.Time { return at(monday, "09:00") }
	_, err = svc.Start(ctx, s.ID, "t1")
	if !IsKind(err, KindNotEligible) {
		t.Fatalf("start losing the sweep race = %v, want not_eligible", err)
	}
	if !strings.Contains(err.Error(), "window has passed") {
		t.Errorf("reason %q should point at the window", err.Error())
	}

	swept, err := store.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("reloading: %v", err)
	}
	if swept.Status != StatusMissed {
		t.Errorf("status = %s, want %s", swept.Status, StatusMissed)
	}
}

func TestDismissWithoutReschedule(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(5)
	monday := date(2026, 3, 2)
	s := env.mustCreate(t, monday, "09:00", "10:00")

	env.setNow(at(monday, "08:00"))
	created, err := env.svc.Dismiss(ctx, DismissInput{
		SessionID:    s.ID,
		InstructorID: "t1",
		Reason:       "instructor ill",
	})
	if err != nil {
		t.Fatalf("dismissing: %v", err)
	}
	if created != nil {
		t.Fatalf("replacement = %+v, want nil", created)
	}

	dismissed, err := env.store.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("reloading: %v", err)
	}
	if dismissed.Status != StatusDismissed {
		t.Fatalf("status = %s, want %s", dismissed.Status, StatusDismissed)
	}

	rec, err := env.store.DismissalForSession(ctx, s.ID)
	if err != nil || rec == nil {
		t.Fatalf("dismissal record = %v, %v", rec, err)
	}
	if rec.Status != DismissalDismissed || rec.Reason != "instructor ill" {
		t.Errorf("record = %+v", rec)
	}

	// Terminal: a second dismissal fails.
	if _, err := env.svc.Dismiss(ctx, DismissInput{
		SessionID: s.ID, InstructorID: "t1", Reason: "again",
	}); !IsKind(err, KindInvalidState) {
		t.Errorf("second dismiss = %v, want invalid_state", err)
	}
}

func TestDismissWithReschedule(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(5)
	monday := date(2026, 3, 2)
	wednesday := date(2026, 3, 4)
	s := env.mustCreate(t, monday, "09:00", "10:30")

	env.setNow(at(monday, "08:00"))
	newDate := wednesday
	newTime := MustTimeOfDay("14:00")
	replacement, err := env.svc.Dismiss(ctx, DismissInput{
		SessionID:      s.ID,
		InstructorID:   "t1",
		Reason:         "room maintenance",
		RescheduleDate: &newDate,
		RescheduleTime: &newTime,
	})
	if err != nil {
		t.Fatalf("dismissing: %v", err)
	}
	if replacement == nil {
		t.Fatal("expected a replacement session")
	}
	if replacement.ID == s.ID {
		t.Error("replacement must be a new session")
	}
	if replacement.Status != StatusScheduled {
		t.Errorf("replacement status = %s, want %s", replacement.Status, StatusScheduled)
	}
	// The 90-minute duration carries over to the new slot.
	if got := replacement.EndTime.String(); got != "15:30" {
		t.Errorf("replacement end = %s, want 15:30", got)
	}
	if !strings.Contains(replacement.Notes, "Rescheduled from 2026-03-02") {
		t.Errorf("replacement notes %q missing origin", replacement.Notes)
	}

	rec, err := env.store.DismissalForSession(ctx, s.ID)
	if err != nil || rec == nil {
		t.Fatalf("dismissal record = %v, %v", rec, err)
	}
	if rec.Status != DismissalRescheduled {
		t.Errorf("record status = %s, want %s", rec.Status, DismissalRescheduled)
	}
}

func TestDismissRescheduleConflictRollsBack(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(5)
	monday := date(2026, 3, 2)
	wednesday := date(2026, 3, 4)
	s := env.mustCreate(t, monday, "09:00", "10:00")
	env.mustCreate(t, wednesday, "14:00", "15:00")

	env.setNow(at(monday, "08:00"))
	newDate := wednesday
	newTime := MustTimeOfDay("14:30")
	_, err := env.svc.Dismiss(ctx, DismissInput{
		SessionID:      s.ID,
		InstructorID:   "t1",
		Reason:         "room maintenance",
		RescheduleDate: &newDate,
		RescheduleTime: &newTime,
	})
	if !IsKind(err, KindConflict) {
		t.Fatalf("dismiss with clashing reschedule = %v, want conflict", err)
	}

	// The whole operation rolled back: original untouched, no record.
	still, err := env.store.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("reloading: %v", err)
	}
	if still.Status != StatusScheduled {
		t.Errorf("original status = %s, want %s", still.Status, StatusScheduled)
	}
	rec, err := env.store.DismissalForSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("dismissal lookup: %v", err)
	}
	if rec != nil {
		t.Errorf("dismissal record = %+v, want none", rec)
	}
}

func TestPermissionDenied(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(5)
	monday := date(2026, 3, 2)
	s := env.mustCreate(t, monday, "09:00", "10:00")
	env.setNow(at(monday, "09:00"))

	if _, err := env.svc.Create(ctx, CreateInput{
		ClassID:      "c1",
		Date:         monday,
		StartTime:    MustTimeOfDay("11:00"),
		EndTime:      MustTimeOfDay("12:00"),
		InstructorID: "t2",
	}); !IsKind(err, KindPermissionDenied) {
		t.Errorf("create by outsider = %v, want permission_denied", err)
	}
	if _, err := env.svc.Start(ctx, s.ID, "t2"); !IsKind(err, KindPermissionDenied) {
		t.Errorf("start by outsider = %v, want permission_denied", err)
	}
	if _, err := env.svc.Dismiss(ctx, DismissInput{
		SessionID: s.ID, InstructorID: "t2", Reason: "nope",
	}); !IsKind(err, KindPermissionDenied) {
		t.Errorf("dismiss by outsider = %v, want permission_denied", err)
	}
	if err := env.svc.Mark(ctx, MarkInput{
		SessionID: s.ID, StudentID: "s01", Status: AttendancePresent,
		Method: MethodManual, ActorID: "t2",
	}); err == nil {
		t.Error("manual mark on a scheduled session should fail")
	}
}

func TestMarkRequiresOngoing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(5)
	monday := date(2026, 3, 2)
	s := env.mustCreate(t, monday, "09:00", "10:00")
	env.setNow(at(monday, "09:00"))

	err := env.svc.Mark(ctx, MarkInput{
		SessionID: s.ID, StudentID: "s01", Status: AttendancePresent,
		Method: MethodManual, ActorID: "t1",
	})
	if !IsKind(err, KindInvalidState) {
		t.Fatalf("mark before start = %v, want invalid_state", err)
	}
}

func TestEndRequiresOngoing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(5)
	monday := date(2026, 3, 2)
	s := env.mustCreate(t, monday, "09:00", "10:00")
	env.setNow(at(monday, "10:00"))

	if _, err := env.svc.End(ctx, s.ID, "t1", ""); !IsKind(err, KindInvalidState) {
		t.Fatalf("end before start = %v, want invalid_state", err)
	}
}

func TestCreateRejectsInvertedTimes(t *testing.T) {
	env := newTestEnv(5)
	_, err := env.svc.Create(context.Background(), CreateInput{
		ClassID:      "c1",
		Date:         date(2026, 3, 2),
		StartTime:    MustTimeOfDay("10:00"),
		EndTime:      MustTimeOfDay("09:00"),
		InstructorID: "t1",
	})
	if !IsKind(err, KindInvalidState) {
		t.Fatalf("inverted times = %v, want invalid_state", err)
	}
}

func TestListByInstructorSweepsFirst(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(5)
	monday := date(2026, 3, 2)
	env.mustCreate(t, monday, "09:00", "10:00")

	env.setNow(at(monday, "11:00"))
	sessions, err := env.svc.ListByInstructor(ctx, "t1", Filter{})
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if sessions[0].Status != StatusMissed {
		t.Errorf("listed status = %s, want %s", sessions[0].Status, StatusMissed)
	}
}

func TestExpectedStudentsWithStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(3)
	monday := date(2026, 3, 2)
	s := env.mustCreate(t, monday, "09:00", "10:00")

	env.setNow(at(monday, "09:00"))
	if _, err := env.svc.Start(ctx, s.ID, "t1"); err != nil {
		t.Fatalf("starting: %v", err)
	}
	env.setNow(at(monday, "09:05"))
	if err := env.svc.Mark(ctx, MarkInput{
		SessionID: s.ID, StudentID: "s02", Status: AttendancePresent,
		Method: MethodManual, ActorID: "t1",
	}); err != nil {
		t.Fatalf("marking: %v", err)
	}

	statuses, err := env.svc.ExpectedStudentsWithStatus(ctx, s.ID)
	if err != nil {
		t.Fatalf("listing statuses: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("statuses = %d, want 3", len(statuses))
	}
	byID := map[string]StudentStatus{}
	for _, st := range statuses {
		byID[st.ID] = st
	}
	if byID["s02"].Status != AttendancePresent {
		t.Errorf("s02 = %s, want Present", byID["s02"].Status)
	}
	if byID["s02"].Timestamp == nil {
		t.Error("s02 should carry a mark timestamp")
	}
	if byID["s01"].Status != AttendanceAbsent || byID["s03"].Status != AttendanceAbsent {
		t.Error("unmarked students should read as Absent")
	}
}

func TestNoInstructorAssigned(t *testing.T) {
	env := newTestEnv(5)
	env.store.SeedClass("c9", "2")

	svc := env.svc
	_, err := svc.primaryInstructor(context.Background(), "c9")
	if !IsKind(err, KindConfigurationError) {
		t.Fatalf("primaryInstructor = %v, want configuration_error", err)
	}
}

func TestPrimaryInstructorTieBreak(t *testing.T) {
	store := NewMemStore()
	assigned := date(2025, 9, 1)
	dir := fakeDirectory{
		assignments: map[string][]Assignment{
			"c1": {
				{InstructorID: "t2", AssignedDate: assigned},
				{InstructorID: "t1", AssignedDate: assigned},
				{InstructorID: "t3", AssignedDate: date(2025, 8, 1)},
			},
		},
		semesters: map[string]string{"c1": "2"},
	}
	svc := NewService(store, rosterOf(1), dir, DefaultConfig(), nil, nil)

	got, err := svc.primaryInstructor(context.Background(), "c1")
	if err != nil {
		t.Fatalf("primaryInstructor: %v", err)
	}
	if got != "t3" {
		t.Errorf("primaryInstructor = %s, want t3 (earliest assignment)", got)
	}
}

package session

import (
	"context"
	"log"
	"time"

	"rollcall/internal/calendar"
)

// Notification kinds emitted through the Notifier.
const (
	NotifySessionStarted   = "session_started"
	NotifySessionMissed    = "session_missed"
	NotifySessionDismissed = "session_dismissed"
	NotifyLowAttendance    = "low_attendance"
)

// Service is the lifecycle controller. It orchestrates conflict and
// eligibility checks around the session store and triggers attendance
// finalization when a session ends.
type Service struct {
	store    Store
	roster   Roster
	dir      Directory
	detector *Detector
	gate     Gate
	cfg      Config
	notifier Notifier
	activity ActivityLogger
	now      func() time.Time
}

// NewService wires the lifecycle controller. A nil notifier or activity
// logger is replaced with a no-op.
func NewService(store Store, roster Roster, dir Directory, cfg Config, notifier Notifier, activity ActivityLogger) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if activity == nil {
		activity = nopActivity{}
	}
	return &Service{
		store:    store,
		roster:   roster,
		dir:      dir,
		detector: NewDetector(store),
		gate:     Gate{Window: time.Duration(cfg.StartWindowMinutes) * time.Minute},
		cfg:      cfg,
		notifier: notifier,
		activity: activity,
		now:      time.Now,
	}
}

// Detector exposes the conflict detector for callers that check availability
// without mutating anything (e.g. reschedule suggestions).
func (svc *Service) Detector() *Detector { return svc.detector }

// owns reports whether the instructor is assigned to the class. Any
// co-assigned instructor may manage a session, not just its creator.
func (svc *Service) owns(ctx context.Context, instructorID, classID string) (bool, error) {
	assignments, err := svc.dir.InstructorsForClass(ctx, classID)
	if err != nil {
		return false, err
	}
	for _, a := range assignments {
		if a.InstructorID == instructorID {
			return true, nil
		}
	}
	return false, nil
}

// primaryInstructor resolves the class's assigned instructor with the lowest
// assigned date; ties break on instructor id to stay deterministic.
func (svc *Service) primaryInstructor(ctx context.Context, classID string) (string, error) {
	assignments, err := svc.dir.InstructorsForClass(ctx, classID)
	if err != nil {
		return "", err
	}
	if len(assignments) == 0 {
		return "", E(KindConfigurationError, "No instructor assigned to %s", classID)
	}
	best := assignments[0]
	for _, a := range assignments[1:] {
		if a.AssignedDate.Before(best.AssignedDate) ||
			(a.AssignedDate.Equal(best.AssignedDate) && a.InstructorID < best.InstructorID) {
			best = a
		}
	}
	return best.InstructorID, nil
}

// CreateInput describes a new session slot.
type CreateInput struct {
	ClassID      string    `json:"class_id" validate:"required"`
	Date         time.Time `json:"date" validate:"required"`
	StartTime    TimeOfDay `json:"start_time"`
	EndTime      TimeOfDay `json:"end_time"`
	InstructorID string    `json:"instructor_id" validate:"required"`
	Notes        string    `json:"notes"`
}

// Create inserts a scheduled session after ownership and conflict checks,
// snapshotting the expected roster size.
func (svc *Service) Create(ctx context.Context, in CreateInput) (Session, error) {
	if err := validate.Struct(in); err != nil {
		return Session{}, err
	}
	if in.StartTime.IsZero() || in.EndTime.IsZero() || !in.StartTime.Time.Before(in.EndTime.Time) {
		return Session{}, E(KindInvalidState, "Session start time must be before end time")
	}

	ok, err := svc.owns(ctx, in.InstructorID, in.ClassID)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, E(KindPermissionDenied, "You don't have permission to create sessions for this class")
	}

	if err := svc.detector.Check(ctx, in.ClassID, in.InstructorID, in.Date, in.StartTime, in.EndTime, ""); err != nil {
		if IsKind(err, KindConflict) {
			metricConflictsDetected.Inc()
		}
		return Session{}, err
	}

	total, err := svc.roster.StudentCount(ctx, in.ClassID)
	if err != nil {
		return Session{}, err
	}

	created, err := svc.store.CreateSession(ctx, Session{
		ClassID:       in.ClassID,
		Date:          in.Date,
		StartTime:     in.StartTime,
		EndTime:       in.EndTime,
		Status:        StatusScheduled,
		CreatedBy:     in.InstructorID,
		TotalStudents: total,
		Notes:         in.Notes,
	})
	if err != nil {
		if IsKind(err, KindConflict) {
			metricConflictsDetected.Inc()
		}
		return Session{}, err
	}

	metricSessionsCreated.Inc()
	svc.activity.Log(ctx, in.InstructorID, "session_created",
		"Created session for class "+in.ClassID+" on "+in.Date.Format("2006-01-02"))
	return created, nil
}

// Start transitions a session to ongoing inside its eligibility window and
// seeds one Absent/pending attendance placeholder per expected student.
func (svc *Service) Start(ctx context.Context, sessionID, instructorID string) (Session, error) {
	sess, err := svc.store.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}

	ok, err := svc.owns(ctx, instructorID, sess.ClassID)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, E(KindPermissionDenied, "You don't have permission to start this session")
	}

	now := svc.now()
	if allowed, reason := svc.gate.CanStart(sess, now); !allowed {
		// Window violations and auto-missed sessions are eligibility
		// failures; every other status is a state-machine violation.
		kind := KindInvalidState
		if sess.Status == StatusScheduled || sess.Status == StatusMissed {
			kind = KindNotEligible
		}
		return Session{}, E(kind, "%s", reason)
	}

	students, err := svc.roster.ExpectedStudents(ctx, sess.ClassID)
	if err != nil {
		return Session{}, err
	}
	ids := make([]string, len(students))
	for i, st := range students {
		ids[i] = st.ID
	}

	if err := svc.store.StartSession(ctx, sessionID, ids); err != nil {
		// The missed-sweep may have won the race after our status read;
		// whichever side lands first is authoritative.
		if IsKind(err, KindInvalidState) {
			if cur, gerr := svc.store.GetSession(ctx, sessionID); gerr == nil && cur.Status == StatusMissed {
				return Session{}, E(KindNotEligible, "Session start window has passed. Please reschedule.")
			}
		}
		return Session{}, err
	}

	metricSessionsStarted.Inc()
	svc.activity.Log(ctx, instructorID, "session_started",
		"Started session "+sessionID+" for class "+sess.ClassID)
	if err := svc.notifier.Notify(ctx, NotifySessionStarted, sessionID, map[string]any{"class_id": sess.ClassID}); err != nil {
		log.Printf("notify %s failed: %v", NotifySessionStarted, err)
	}

	return svc.store.GetSession(ctx, sessionID)
}

// End finalizes attendance and completes the session: unmarked records are
// forced Absent, late arrivals past the threshold are reclassified, and the
// arrival count is cached atomically with the status change.
func (svc *Service) End(ctx context.Context, sessionID, instructorID, notes string) (Statistics, error) {
	sess, err := svc.store.GetSession(ctx, sessionID)
	if err != nil {
		return Statistics{}, err
	}

	ok, err := svc.owns(ctx, instructorID, sess.ClassID)
	if err != nil {
		return Statistics{}, err
	}
	if !ok {
		return Statistics{}, E(KindPermissionDenied, "You don't have permission to end this session")
	}
	if sess.Status != StatusOngoing {
		return Statistics{}, E(KindInvalidState, "Session is not ongoing")
	}

	records, err := svc.store.ListAttendance(ctx, sessionID)
	if err != nil {
		return Statistics{}, err
	}

	now := svc.now()
	cutoff := sess.StartAt().Add(time.Duration(svc.cfg.LateThresholdMinutes) * time.Minute)
	finalized := finalizeRecords(records, cutoff, now)
	stats := computeStatistics(finalized)

	noteLine := ""
	if notes != "" {
		noteLine = "End notes: " + notes
	}
	if err := svc.store.CompleteSession(ctx, sessionID, finalized, stats.Arrivals(), noteLine); err != nil {
		return Statistics{}, err
	}

	metricSessionsFinalized.Inc()
	svc.activity.Log(ctx, instructorID, "session_ended",
		"Ended session "+sessionID)

	if stats.AttendanceRate < float64(svc.cfg.LowAttendanceThresholdPercent) {
		payload := map[string]any{
			"attendance_rate": stats.AttendanceRate,
			"instructor_id":   sess.CreatedBy,
		}
		if err := svc.notifier.Notify(ctx, NotifyLowAttendance, sessionID, payload); err != nil {
			log.Printf("notify %s failed: %v", NotifyLowAttendance, err)
		}
	}
	return stats, nil
}

// DismissInput describes a dismissal with an optional replacement slot.
type DismissInput struct {
	SessionID      string     `json:"session_id" validate:"required"`
	InstructorID   string     `json:"instructor_id" validate:"required"`
	Reason         string     `json:"reason" validate:"required"`
	RescheduleDate *time.Time `json:"reschedule_date,omitempty"`
	RescheduleTime *TimeOfDay `json:"reschedule_time,omitempty"`
}

// Dismiss terminates a scheduled or ongoing session, recording the audit
// trail. When a reschedule slot is supplied, a brand-new scheduled session is
// created in the same unit; a conflict there fails the whole call and the
// original session stays untouched.
func (svc *Service) Dismiss(ctx context.Context, in DismissInput) (*Session, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	sess, err := svc.store.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}

	ok, err := svc.owns(ctx, in.InstructorID, sess.ClassID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, E(KindPermissionDenied, "You don't have permission to dismiss this session")
	}
	if sess.Status != StatusScheduled && sess.Status != StatusOngoing {
		return nil, E(KindInvalidState, "Cannot dismiss %s session", sess.Status)
	}

	rec := DismissalRecord{
		SessionID:    in.SessionID,
		InstructorID: in.InstructorID,
		Reason:       in.Reason,
		Status:       DismissalDismissed,
		DismissedAt:  svc.now(),
	}

	var replacement *Session
	if in.RescheduleDate != nil && in.RescheduleTime != nil {
		rec.Status = DismissalRescheduled
		rec.RescheduledTo = in.RescheduleDate
		rec.RescheduledTime = in.RescheduleTime

		start := *in.RescheduleTime
		duration := sess.EndTime.Time.Sub(sess.StartTime.Time)
		end := TimeOfDay{Time: start.Time.Add(duration)}

		if err := svc.detector.Check(ctx, sess.ClassID, in.InstructorID, *in.RescheduleDate, start, end, in.SessionID); err != nil {
			if IsKind(err, KindConflict) {
				metricConflictsDetected.Inc()
			}
			return nil, err
		}

		total, err := svc.roster.StudentCount(ctx, sess.ClassID)
		if err != nil {
			return nil, err
		}
		replacement = &Session{
			ClassID:       sess.ClassID,
			Date:          *in.RescheduleDate,
			StartTime:     start,
			EndTime:       end,
			Status:        StatusScheduled,
			CreatedBy:     in.InstructorID,
			TotalStudents: total,
			Notes:         "Rescheduled from " + sess.Date.Format("2006-01-02") + ". Reason: " + in.Reason,
		}
	}

	created, err := svc.store.DismissSession(ctx, rec, replacement)
	if err != nil {
		if IsKind(err, KindConflict) {
			metricConflictsDetected.Inc()
		}
		return nil, err
	}

	svc.activity.Log(ctx, in.InstructorID, "session_dismissed",
		"Dismissed session "+in.SessionID+". Reason: "+in.Reason)
	payload := map[string]any{"reason": in.Reason}
	if in.RescheduleDate != nil {
		payload["rescheduled_to"] = in.RescheduleDate.Format("2006-01-02")
	}
	if err := svc.notifier.Notify(ctx, NotifySessionDismissed, in.SessionID, payload); err != nil {
		log.Printf("notify %s failed: %v", NotifySessionDismissed, err)
	}
	return created, nil
}

// SweepMissed transitions every scheduled session whose start window has
// passed to missed. It is idempotent and never aborts on an individual
// session; failures are logged and skipped.
func (svc *Service) SweepMissed(ctx context.Context) int {
	now := svc.now()
	candidates, err := svc.store.ListSessions(ctx, Filter{
		Statuses: []Status{StatusScheduled},
		DateTo:   now,
	})
	if err != nil {
		log.Printf("missed sweep: listing scheduled sessions failed: %v", err)
		return 0
	}

	count := 0
	for _, s := range candidates {
		if !svc.gate.Overdue(s, now) {
			continue
		}
		note := "[auto] Session marked as missed on " + now.Format("2006-01-02 15:04")
		if err := svc.store.TransitionSession(ctx, s.ID, StatusScheduled, StatusMissed, note); err != nil {
			// A concurrent start may have won the race; skip and continue.
			log.Printf("missed sweep: session %s: %v", s.ID, err)
			continue
		}
		count++
		metricSessionsMissed.Inc()
		svc.activity.Log(ctx, s.CreatedBy, "session_auto_missed",
			"Session "+s.ID+" automatically marked as missed")
		if err := svc.notifier.Notify(ctx, NotifySessionMissed, s.ID, map[string]any{"class_id": s.ClassID}); err != nil {
			log.Printf("notify %s failed: %v", NotifySessionMissed, err)
		}
	}
	return count
}

// ListByInstructor returns the instructor's sessions for the current
// semester, sweeping overdue sessions first so listings never show a stale
// scheduled status.
func (svc *Service) ListByInstructor(ctx context.Context, instructorID string, f Filter) ([]Session, error) {
	svc.SweepMissed(ctx)

	f.InstructorID = instructorID
	if f.Semester == "" {
		f.Semester = string(calendar.SemesterFor(svc.now()))
	}
	return svc.store.ListSessions(ctx, f)
}

// Statistics recomputes the attendance summary for a session from its
// current records.
func (svc *Service) Statistics(ctx context.Context, sessionID string) (Statistics, error) {
	if _, err := svc.store.GetSession(ctx, sessionID); err != nil {
		return Statistics{}, err
	}
	records, err := svc.store.ListAttendance(ctx, sessionID)
	if err != nil {
		return Statistics{}, err
	}
	return computeStatistics(records), nil
}

// StudentStatus pairs an expected student with their current mark.
type StudentStatus struct {
	Student
	Status     AttendanceStatus `json:"attendance_status"`
	Timestamp  *time.Time       `json:"attendance_time,omitempty"`
	Confidence *float64         `json:"confidence_score,omitempty"`
}

// ExpectedStudentsWithStatus merges the class roster with the session's
// attendance records; students without a record read as Absent.
func (svc *Service) ExpectedStudentsWithStatus(ctx context.Context, sessionID string) ([]StudentStatus, error) {
	sess, err := svc.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	students, err := svc.roster.ExpectedStudents(ctx, sess.ClassID)
	if err != nil {
		return nil, err
	}
	records, err := svc.store.ListAttendance(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	byStudent := make(map[string]AttendanceRecord, len(records))
	for _, r := range records {
		byStudent[r.StudentID] = r
	}

	out := make([]StudentStatus, 0, len(students))
	for _, st := range students {
		ss := StudentStatus{Student: st, Status: AttendanceAbsent}
		if r, ok := byStudent[st.ID]; ok {
			ss.Status = r.Status
			ss.Confidence = r.Confidence
			if !r.Timestamp.IsZero() {
				ts := r.Timestamp
				ss.Timestamp = &ts
			}
		}
		out = append(out, ss)
	}
	return out, nil
}

// MarkInput records one student's arrival for an ongoing session.
type MarkInput struct {
	SessionID  string           `json:"session_id" validate:"required"`
	StudentID  string           `json:"student_id" validate:"required"`
	Status     AttendanceStatus `json:"status" validate:"required,oneof=Present Late Absent Excused"`
	Method     MarkMethod       `json:"method" validate:"required,oneof=manual face_recognition"`
	ActorID    string           `json:"actor_id"`
	Confidence *float64         `json:"confidence_score,omitempty"`
}

// Mark upserts an attendance record while the session is ongoing. Manual
// marks require the actor to own the session; recognition marks are trusted
// from the authenticated capture device.
func (svc *Service) Mark(ctx context.Context, in MarkInput) error {
	if err := validate.Struct(in); err != nil {
		return err
	}
	sess, err := svc.store.GetSession(ctx, in.SessionID)
	if err != nil {
		return err
	}
	if sess.Status != StatusOngoing {
		return E(KindInvalidState, "Session is not ongoing")
	}
	if in.Method == MethodManual {
		ok, err := svc.owns(ctx, in.ActorID, sess.ClassID)
		if err != nil {
			return err
		}
		if !ok {
			return E(KindPermissionDenied, "You don't have permission to mark attendance for this session")
		}
	}
	return svc.store.UpsertAttendance(ctx, AttendanceRecord{
		StudentID:  in.StudentID,
		SessionID:  in.SessionID,
		Status:     in.Status,
		Timestamp:  svc.now(),
		Method:     in.Method,
		Confidence: in.Confidence,
	})
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, string, map[string]any) error { return nil }

type nopActivity struct{}

func (nopActivity) Log(context.Context, string, string, string) {}

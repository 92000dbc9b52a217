package session

import (
	"context"
	"time"
)

// Filter narrows session listings. Zero values are ignored. InstructorID
// matches any class the instructor is assigned to, not just created_by.
type Filter struct {
	ClassID      string
	InstructorID string
	Date         time.Time
	DateFrom     time.Time
	DateTo       time.Time
	Statuses     []Status
	Semester     string
	ExcludeID    string
	Limit        int
	Offset       int
}

// Store is the Session Store contract the engine runs against. The Postgres
// implementation lives in repo.go; memstore.go backs tests and dev mode.
//
// Atomicity requirements carried by implementations:
//   - CreateSession enforces the no-overlap backstop for active sessions of
//     the same class and returns a Conflict error on violation.
//   - StartSession transitions scheduled->ongoing and seeds attendance
//     placeholders as one unit; a session not in scheduled state fails the
//     whole call.
//   - DismissSession writes the dismissal record, the status change and the
//     optional replacement session as one unit; any failure rolls back all.
//   - CompleteSession transitions ongoing->completed, rewrites the finalized
//     attendance rows and caches the arrival count as one unit, so readers
//     never observe a completed session with partial counts.
type Store interface {
	CreateSession(ctx context.Context, s Session) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context, f Filter) ([]Session, error)
	// SessionExists reports whether a session keyed by (class, date, start
	// time) exists; the recurring generator uses it for idempotent re-runs.
	SessionExists(ctx context.Context, classID string, date time.Time, start TimeOfDay) (bool, error)
	// TransitionSession is a compare-and-set status change. It fails with an
	// InvalidState error when the current status differs from `from`, which
	// makes the missed-sweep / manual-start race authoritative for whichever
	// side lands first. A non-empty noteLine is appended to the notes.
	TransitionSession(ctx context.Context, id string, from, to Status, noteLine string) error

	StartSession(ctx context.Context, id string, studentIDs []string) error
	DismissSession(ctx context.Context, rec DismissalRecord, replacement *Session) (*Session, error)
	CompleteSession(ctx context.Context, id string, records []AttendanceRecord, arrivals int, noteLine string) error

	UpsertAttendance(ctx context.Context, rec AttendanceRecord) error
	ListAttendance(ctx context.Context, sessionID string) ([]AttendanceRecord, error)

	// ActiveTimetableEntries returns active weekly templates, optionally
	// scoped to one class (classID == "" means all).
	ActiveTimetableEntries(ctx context.Context, classID string) ([]TimetableEntry, error)
}

// Student is the roster provider's view of one expected attendee.
type Student struct {
	ID           string `json:"student_id"`
	Name         string `json:"name"`
	FaceEnrolled bool   `json:"face_enrolled"`
}

// Roster supplies the expected attendees of a class.
type Roster interface {
	ExpectedStudents(ctx context.Context, classID string) ([]Student, error)
	StudentCount(ctx context.Context, classID string) (int, error)
}

// Assignment links an instructor to a class; AssignedDate drives the
// deterministic "lowest assigned date wins" tie-break.
type Assignment struct {
	InstructorID string    `json:"instructor_id"`
	AssignedDate time.Time `json:"assigned_date"`
}

// Directory supplies class metadata the engine reads but never writes.
type Directory interface {
	InstructorsForClass(ctx context.Context, classID string) ([]Assignment, error)
	ClassSemester(ctx context.Context, classID string) (string, error)
}

// Notifier is a fire-and-forget sink; failures are logged and swallowed by
// the engine, never propagated into operation results.
type Notifier interface {
	Notify(ctx context.Context, kind, sessionID string, payload map[string]any) error
}

// ActivityLogger records audit events best-effort.
type ActivityLogger interface {
	Log(ctx context.Context, actorID, eventType, description string)
}

// Settings reads runtime integer settings, falling back to the default when
// the key is missing or unreadable.
type Settings interface {
	GetInt(ctx context.Context, key string, def int) int
}

package session

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
	StatusDismissed Status = "dismissed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further lifecycle transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusMissed, StatusDismissed, StatusCancelled:
		return true
	}
	return false
}

// Session is one scheduled meeting of a class on a specific date.
type Session struct {
	ID              string    `json:"session_id"`
	ClassID         string    `json:"class_id"`
	Date            time.Time `json:"date"`
	StartTime       TimeOfDay `json:"start_time"`
	EndTime         TimeOfDay `json:"end_time"`
	Status          Status    `json:"status"`
	CreatedBy       string    `json:"created_by"`
	AttendanceCount int       `json:"attendance_count"`
	TotalStudents   int       `json:"total_students"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// StartAt combines the session date with its scheduled start time.
func (s Session) StartAt() time.Time { return s.StartTime.On(s.Date) }

// EndAt combines the session date with its scheduled end time.
func (s Session) EndAt() time.Time { return s.EndTime.On(s.Date) }

// TimetableEntry is a recurring weekly slot used as a generation template.
// DayOfWeek uses the 0=Sunday..6=Saturday convention.
type TimetableEntry struct {
	ID            string     `json:"id"`
	ClassID       string     `json:"class_id"`
	DayOfWeek     int        `json:"day_of_week"`
	StartTime     TimeOfDay  `json:"start_time"`
	EndTime       TimeOfDay  `json:"end_time"`
	IsActive      bool       `json:"is_active"`
	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
}

// CoversDate reports whether the entry's optional effective bounds include date.
func (e TimetableEntry) CoversDate(date time.Time) bool {
	if e.EffectiveFrom != nil && date.Before(*e.EffectiveFrom) {
		return false
	}
	if e.EffectiveTo != nil && date.After(*e.EffectiveTo) {
		return false
	}
	return true
}

// DismissalStatus distinguishes a plain dismissal from one with a replacement slot.
type DismissalStatus string

const (
	DismissalDismissed   DismissalStatus = "dismissed"
	DismissalRescheduled DismissalStatus = "rescheduled"
)

// DismissalRecord is the audit trail row created exactly once per dismissal.
type DismissalRecord struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"session_id"`
	InstructorID    string          `json:"instructor_id"`
	Reason          string          `json:"reason"`
	Status          DismissalStatus `json:"status"`
	DismissedAt     time.Time       `json:"dismissed_at"`
	RescheduledTo   *time.Time      `json:"rescheduled_to,omitempty"`
	RescheduledTime *TimeOfDay      `json:"rescheduled_time,omitempty"`
}

// AttendanceStatus is a student's final outcome for a session.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "Present"
	AttendanceLate    AttendanceStatus = "Late"
	AttendanceAbsent  AttendanceStatus = "Absent"
	AttendanceExcused AttendanceStatus = "Excused"
)

// MarkMethod records how an attendance outcome was produced.
type MarkMethod string

const (
	MethodPending MarkMethod = "pending"
	MethodManual  MarkMethod = "manual"
	MethodFace    MarkMethod = "face_recognition"
	MethodAuto    MarkMethod = "auto"
)

// AttendanceRecord is one student's outcome for one session. At most one
// record exists per (student, session); writes are upserts.
type AttendanceRecord struct {
	StudentID  string           `json:"student_id"`
	SessionID  string           `json:"session_id"`
	Status     AttendanceStatus `json:"status"`
	Timestamp  time.Time        `json:"timestamp,omitempty"`
	Method     MarkMethod       `json:"method"`
	Confidence *float64         `json:"confidence_score,omitempty"`
}

// Arrived reports whether the student showed up, on time or not.
func (r AttendanceRecord) Arrived() bool {
	return r.Status == AttendancePresent || r.Status == AttendanceLate
}

// Statistics is the finalized attendance summary for a session.
type Statistics struct {
	TotalExpected  int     `json:"total_expected"`
	Present        int     `json:"present"`
	Late           int     `json:"late"`
	Absent         int     `json:"absent"`
	Excused        int     `json:"excused"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// Arrivals is the cached attendance_count value: present plus late.
func (st Statistics) Arrivals() int { return st.Present + st.Late }

// TimeOfDay is a wall-clock time with no date component, stored against
// Postgres TIME columns as "HH:MM:SS".
type TimeOfDay struct {
	time.Time
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	return t, t.parse(s)
}

// MustTimeOfDay is a convenience for fixtures and defaults; it panics on bad input.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *TimeOfDay) parse(s string) error {
	s = strings.TrimSpace(s)
	if len(s) == 5 {
		s += ":00"
	}
	parsed, err := time.Parse("15:04:05", s)
	if err != nil {
		return fmt.Errorf("time of day %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

// On pins the wall-clock time onto a calendar date.
func (t TimeOfDay) On(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(),
		t.Hour(), t.Minute(), t.Second(), 0, date.Location())
}

func (t TimeOfDay) String() string {
	return t.Format("15:04")
}

// IsZero reports whether the value was never set.
func (t TimeOfDay) IsZero() bool { return t.Time.IsZero() }

// Scan accepts TIME column values as time.Time, string or []byte.
func (t *TimeOfDay) Scan(v any) error {
	switch x := v.(type) {
	case time.Time:
		t.Time = time.Date(0, 1, 1, x.Hour(), x.Minute(), x.Second(), 0, time.UTC)
		return nil
	case string:
		return t.parse(x)
	case []byte:
		return t.parse(string(x))
	case nil:
		t.Time = time.Time{}
		return nil
	}
	return fmt.Errorf("time of day: unsupported Scan type %T", v)
}

// Value serializes as "HH:MM:SS" for Postgres TIME columns.
func (t TimeOfDay) Value() (driver.Value, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.Format("15:04:05"), nil
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	return t.parse(strings.Trim(string(b), `"`))
}

package session

import (
	"fmt"
	"time"
)

// Gate decides whether a session may be started at a point in time. The
// window is symmetric around the scheduled start and both bounds are
// inclusive: a call landing exactly on a bound is allowed.
type Gate struct {
	Window time.Duration
}

// CanStart returns whether the session may be started now, with a reason
// string distinct enough to render directly.
func (g Gate) CanStart(s Session, now time.Time) (bool, string) {
	switch s.Status {
	case StatusOngoing:
		return false, "Session is already ongoing"
	case StatusCompleted, StatusCancelled, StatusDismissed, StatusMissed:
		return false, fmt.Sprintf("Session is already %s", s.Status)
	}

	earliest := s.StartAt().Add(-g.Window)
	latest := s.StartAt().Add(g.Window)

	if now.Before(earliest) {
		minutes := int(earliest.Sub(now).Minutes())
		return false, fmt.Sprintf("Too early. Session can be started in %d minutes", minutes)
	}
	if now.After(latest) {
		return false, "Session start window has passed. Please reschedule."
	}
	return true, "Session can be started"
}

// Overdue reports whether the latest start boundary has passed, so the
// session can no longer be started and should be swept to missed.
func (g Gate) Overdue(s Session, now time.Time) bool {
	return now.After(s.StartAt().Add(g.Window))
}

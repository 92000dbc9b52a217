package session

import (
	"context"
	"time"
)

// Detector finds overlapping active reservations for a resource (a class or
// an instructor) on a given date. It returns on the first conflict found.
type Detector struct {
	store Store
}

// NewDetector creates a conflict detector over the session store.
func NewDetector(store Store) *Detector {
	return &Detector{store: store}
}

// overlaps treats intervals as half-open: one session ending exactly when
// another starts is not a conflict.
func overlaps(s1, e1, s2, e2 TimeOfDay) bool {
	return s1.Time.Before(e2.Time) && e1.Time.After(s2.Time)
}

// ClassConflict reports whether an active session of the same class overlaps
// the candidate slot. excludeID skips one session when re-checking an update.
func (d *Detector) ClassConflict(ctx context.Context, classID string, date time.Time, start, end TimeOfDay, excludeID string) (bool, error) {
	existing, err := d.store.ListSessions(ctx, Filter{
		ClassID:   classID,
		Date:      date,
		Statuses:  []Status{StatusScheduled, StatusOngoing},
		ExcludeID: excludeID,
	})
	if err != nil {
		return false, err
	}
	for _, s := range existing {
		if overlaps(start, end, s.StartTime, s.EndTime) {
			return true, nil
		}
	}
	return false, nil
}

// InstructorConflict reports whether the instructor already has an active
// overlapping session that day in any of their classes.
func (d *Detector) InstructorConflict(ctx context.Context, instructorID string, date time.Time, start, end TimeOfDay, excludeID string) (*Session, error) {
	existing, err := d.store.ListSessions(ctx, Filter{
		InstructorID: instructorID,
		Date:         date,
		Statuses:     []Status{StatusScheduled, StatusOngoing},
		ExcludeID:    excludeID,
	})
	if err != nil {
		return nil, err
	}
	for i, s := range existing {
		if overlaps(start, end, s.StartTime, s.EndTime) {
			return &existing[i], nil
		}
	}
	return nil, nil
}

// Check runs both resource scopes for a candidate slot and returns a typed
// Conflict error naming the clash, or nil when the slot is free.
func (d *Detector) Check(ctx context.Context, classID, instructorID string, date time.Time, start, end TimeOfDay, excludeID string) error {
	clash, err := d.ClassConflict(ctx, classID, date, start, end, excludeID)
	if err != nil {
		return err
	}
	if clash {
		return E(KindConflict, "Another session is already scheduled for this class at this time")
	}
	other, err := d.InstructorConflict(ctx, instructorID, date, start, end, excludeID)
	if err != nil {
		return err
	}
	if other != nil {
		return E(KindConflict, "You have another session scheduled at this time for class %s", other.ClassID)
	}
	return nil
}

package session

import (
	"context"
	"fmt"
	"time"

	"rollcall/internal/calendar"
)

// generatedNote marks sessions expanded from the weekly timetable.
const generatedNote = "Auto-generated from timetable"

// Generator expands active weekly timetable entries into concrete dated
// sessions across a date window. Generation is best-effort: conflicting
// slots are skipped silently, while missing instructors and create failures
// are collected so one bad entry cannot abort the rest of the semester.
type Generator struct {
	store Store
	svc   *Service
	dir   Directory
	now   func() time.Time
}

// NewGenerator wires the recurring generator around the lifecycle service.
func NewGenerator(store Store, svc *Service, dir Directory) *Generator {
	return &Generator{store: store, svc: svc, dir: dir, now: time.Now}
}

// GenerateRequest bounds a generation run. ClassID and InstructorID are
// optional filters.
type GenerateRequest struct {
	StartDate    time.Time `json:"start_date" validate:"required"`
	EndDate      time.Time `json:"end_date" validate:"required"`
	ClassID      string    `json:"class_id"`
	InstructorID string    `json:"instructor_id"`
}

// GenerateResult reports partial success.
type GenerateResult struct {
	Created int      `json:"created"`
	Errors  []string `json:"errors,omitempty"`
}

// Generate walks every date in [StartDate, EndDate] inclusive, skipping
// holidays and off-semester days, and creates a session for each matching
// timetable entry of a class in the current semester. Re-runs over the same
// range are idempotent.
func (g *Generator) Generate(ctx context.Context, cal calendar.Calendar, req GenerateRequest) (GenerateResult, error) {
	var res GenerateResult
	if err := validate.Struct(req); err != nil {
		return res, err
	}
	if req.EndDate.Before(req.StartDate) {
		return res, E(KindInvalidState, "Generation end date is before start date")
	}

	entries, err := g.store.ActiveTimetableEntries(ctx, req.ClassID)
	if err != nil {
		return res, err
	}
	currentSemester := string(calendar.SemesterFor(g.now()))

	// Class semesters rarely repeat across entries; memoize the lookups.
	semesters := map[string]string{}

	for date := req.StartDate; !date.After(req.EndDate); date = date.AddDate(0, 0, 1) {
		if cal.IsHoliday(date) || !calendar.InSemester(date) {
			continue
		}
		dow := int(date.Weekday()) // 0=Sunday, matching the timetable convention

		for _, entry := range entries {
			if entry.DayOfWeek != dow || !entry.CoversDate(date) {
				continue
			}

			sem, ok := semesters[entry.ClassID]
			if !ok {
				sem, err = g.dir.ClassSemester(ctx, entry.ClassID)
				if err != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("class %s: %v", entry.ClassID, err))
					semesters[entry.ClassID] = ""
					continue
				}
				semesters[entry.ClassID] = sem
			}
			if sem != currentSemester {
				continue
			}

			exists, err := g.store.SessionExists(ctx, entry.ClassID, date, entry.StartTime)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("class %s on %s: %v", entry.ClassID, date.Format("2006-01-02"), err))
				continue
			}
			if exists {
				continue
			}

			instructorID, err := g.svc.primaryInstructor(ctx, entry.ClassID)
			if err != nil {
				res.Errors = append(res.Errors, err.Error())
				continue
			}
			if req.InstructorID != "" && instructorID != req.InstructorID {
				continue
			}

			if err := g.svc.detector.Check(ctx, entry.ClassID, instructorID, date, entry.StartTime, entry.EndTime, ""); err != nil {
				if IsKind(err, KindConflict) {
					continue // occupied slot, skip silently
				}
				res.Errors = append(res.Errors, fmt.Sprintf("class %s on %s: %v", entry.ClassID, date.Format("2006-01-02"), err))
				continue
			}

			_, err = g.svc.Create(ctx, CreateInput{
				ClassID:      entry.ClassID,
				Date:         date,
				StartTime:    entry.StartTime,
				EndTime:      entry.EndTime,
				InstructorID: instructorID,
				Notes:        generatedNote,
			})
			if err != nil {
				if IsKind(err, KindConflict) {
					continue // lost a race for the slot, still not an error
				}
				res.Errors = append(res.Errors, fmt.Sprintf("class %s on %s: %v", entry.ClassID, date.Format("2006-01-02"), err))
				continue
			}
			res.Created++
		}
	}
	return res, nil
}

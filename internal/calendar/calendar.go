// Package calendar resolves academic semesters and holidays. Semester
// resolution is a pure function of the date; holiday lookup runs against an
// explicit Calendar value built per call, never process-wide state.
package calendar

import (
	"fmt"
	"time"
)

// Semester identifies an academic semester.
type Semester string

const (
	Semester1 Semester = "1"
	Semester2 Semester = "2"
)

// SemesterFor maps a date to its semester: September-December is semester 1,
// January-April is semester 2. May-August is the holiday period and resolves
// to semester 2, the last active one.
func SemesterFor(t time.Time) Semester {
	if m := t.Month(); m >= time.September && m <= time.December {
		return Semester1
	}
	return Semester2
}

// InSemester reports whether the date's month falls inside a teaching
// semester rather than the May-August break.
func InSemester(t time.Time) bool {
	m := t.Month()
	return (m >= time.January && m <= time.April) || (m >= time.September && m <= time.December)
}

// SemesterDateRange returns the fixed date range of a semester within an
// academic year (the year the academic year starts in). An unknown semester
// id is a fatal configuration error for callers, not something to retry.
func SemesterDateRange(sem Semester, academicYear int) (time.Time, time.Time, error) {
	switch sem {
	case Semester1:
		return date(academicYear, time.September, 1), date(academicYear, time.December, 31), nil
	case Semester2:
		return date(academicYear+1, time.January, 1), date(academicYear+1, time.April, 30), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("unknown semester %q", sem)
}

// AcademicYearFor returns the academic year a date belongs to; academic
// years start in September.
func AcademicYearFor(t time.Time) int {
	if t.Month() >= time.September {
		return t.Year()
	}
	return t.Year() - 1
}

// Holiday is a non-teaching date. Recurring holidays repeat every year on
// the same month and day.
type Holiday struct {
	Name      string    `json:"name"`
	Date      time.Time `json:"date"`
	Recurring bool      `json:"recurring"`
}

// Calendar is a value object holding the holiday set for lookups.
type Calendar struct {
	holidays []Holiday
}

// New builds a calendar from an explicit holiday set.
func New(holidays []Holiday) Calendar {
	return Calendar{holidays: holidays}
}

// IsHoliday reports whether the date exactly matches a holiday, or shares
// month and day with a recurring one.
func (c Calendar) IsHoliday(t time.Time) bool {
	for _, h := range c.holidays {
		if h.Recurring {
			if h.Date.Month() == t.Month() && h.Date.Day() == t.Day() {
				return true
			}
			continue
		}
		if sameDate(h.Date, t) {
			return true
		}
	}
	return false
}

// Holidays returns the underlying set, for reporting callers.
func (c Calendar) Holidays() []Holiday { return c.holidays }

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

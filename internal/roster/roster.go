// Package roster resolves class membership: expected students and instructor
// assignments. The engine only reads this data; enrollment itself is managed
// by the admin surface.
package roster

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"rollcall/internal/session"
)

// PG reads rosters and class assignments from Postgres.
type PG struct {
	db *sql.DB
}

// NewPG creates a Postgres-backed provider.
func NewPG(db *sql.DB) *PG {
	return &PG{db: db}
}

// ExpectedStudents returns the students enrolled in a class.
func (p *PG) ExpectedStudents(ctx context.Context, classID string) ([]session.Student, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT s.student_id, s.name, s.face_enrolled
		FROM students s
		JOIN class_students cs ON cs.student_id = s.student_id
		WHERE cs.class_id = $1
		ORDER BY s.student_id
	`, classID)
	if err != nil {
		return nil, errors.Wrap(err, "listing class students")
	}
	defer rows.Close()

	var out []session.Student
	for rows.Next() {
		var st session.Student
		if err := rows.Scan(&st.ID, &st.Name, &st.FaceEnrolled); err != nil {
			return nil, errors.Wrap(err, "scanning student")
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// StudentCount returns the enrollment size of a class.
func (p *PG) StudentCount(ctx context.Context, classID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM class_students WHERE class_id = $1`, classID).Scan(&n)
	return n, errors.Wrap(err, "counting class students")
}

// SetFaceEnrolled flips a student's gallery-enrollment flag after the face
// service accepts their reference photo.
func (p *PG) SetFaceEnrolled(ctx context.Context, studentID string, enrolled bool) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE students SET face_enrolled = $2 WHERE student_id = $1`, studentID, enrolled)
	if err != nil {
		return errors.Wrap(err, "updating face enrollment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.E(session.KindNotFound, "Student not found")
	}
	return nil
}

// InstructorsForClass returns the instructors assigned to a class with their
// assignment dates.
func (p *PG) InstructorsForClass(ctx context.Context, classID string) ([]session.Assignment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT instructor_id, assigned_date
		FROM class_instructors
		WHERE class_id = $1
		ORDER BY assigned_date, instructor_id
	`, classID)
	if err != nil {
		return nil, errors.Wrap(err, "listing class instructors")
	}
	defer rows.Close()

	var out []session.Assignment
	for rows.Next() {
		var a session.Assignment
		if err := rows.Scan(&a.InstructorID, &a.AssignedDate); err != nil {
			return nil, errors.Wrap(err, "scanning assignment")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ClassSemester returns the semester a class belongs to.
func (p *PG) ClassSemester(ctx context.Context, classID string) (string, error) {
	var sem string
	err := p.db.QueryRowContext(ctx,
		`SELECT semester FROM classes WHERE class_id = $1`, classID).Scan(&sem)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", session.E(session.KindNotFound, "Class not found")
		}
		return "", errors.Wrap(err, "reading class semester")
	}
	return sem, nil
}

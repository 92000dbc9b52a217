package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// Repository persists sessions, attendance and dismissals in Postgres. The
// schema carries an exclusion constraint over (class_id, date, time range)
// for active sessions as the store-layer backstop against concurrent
// overlapping creates.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// execer lets session inserts run against either the pool or a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const sessionColumns = `id, class_id, date, start_time, end_time, status, created_by,
	attendance_count, total_students, COALESCE(notes, ''), created_at, updated_at`

const sessionColumnsAliased = `s.id, s.class_id, s.date, s.start_time, s.end_time, s.status, s.created_by,
	s.attendance_count, s.total_students, COALESCE(s.notes, ''), s.created_at, s.updated_at`

func scanSession(scan func(...any) error) (Session, error) {
	var s Session
	err := scan(&s.ID, &s.ClassID, &s.Date, &s.StartTime, &s.EndTime, &s.Status,
		&s.CreatedBy, &s.AttendanceCount, &s.TotalStudents, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// overlapViolation detects the schema backstop firing: the class or
// instructor exclusion constraint, or a uniqueness violation. The returned
// Conflict error names the clashing resource.
func overlapViolation(err error) *Error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	if pgErr.Code != "23P01" && pgErr.Code != "23505" {
		return nil
	}
	if pgErr.ConstraintName == "sessions_no_instructor_overlap" {
		return E(KindConflict, "You have another session scheduled at this time")
	}
	return E(KindConflict, "Another session is already scheduled for this class at this time")
}

func insertSession(ctx context.Context, ex execer, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = StatusScheduled
	}
	row := ex.QueryRowContext(ctx, `
		INSERT INTO sessions (id, class_id, date, start_time, end_time, status, created_by, total_students, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''))
		RETURNING created_at, updated_at
	`, s.ID, s.ClassID, s.Date, s.StartTime, s.EndTime, s.Status, s.CreatedBy, s.TotalStudents, s.Notes)
	if err := row.Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
		if conflict := overlapViolation(err); conflict != nil {
			return Session{}, conflict
		}
		return Session{}, errors.Wrap(err, "inserting session")
	}
	return s, nil
}

// CreateSession inserts a new session row.
func (r *Repository) CreateSession(ctx context.Context, s Session) (Session, error) {
	return insertSession(ctx, r.db, s)
}

// GetSession returns a single session by id.
func (r *Repository) GetSession(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, E(KindNotFound, "Session not found")
		}
		return Session{}, errors.Wrap(err, "getting session")
	}
	return s, nil
}

// ListSessions applies the filter fields that are set. InstructorID joins
// the class-instructor assignments so co-assigned instructors see the same
// sessions.
func (r *Repository) ListSessions(ctx context.Context, f Filter) ([]Session, error) {
	query := `SELECT ` + sessionColumnsAliased + ` FROM sessions s`
	var (
		clauses []string
		args    []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.InstructorID != "" {
		query += ` JOIN class_instructors ci ON ci.class_id = s.class_id AND ci.instructor_id = ` + arg(f.InstructorID)
	}
	if f.Semester != "" {
		query += ` JOIN classes c ON c.class_id = s.class_id AND c.semester = ` + arg(f.Semester)
	}
	if f.ClassID != "" {
		clauses = append(clauses, "s.class_id = "+arg(f.ClassID))
	}
	if !f.Date.IsZero() {
		clauses = append(clauses, "s.date = "+arg(f.Date))
	}
	if !f.DateFrom.IsZero() {
		clauses = append(clauses, "s.date >= "+arg(f.DateFrom))
	}
	if !f.DateTo.IsZero() {
		clauses = append(clauses, "s.date <= "+arg(f.DateTo))
	}
	if len(f.Statuses) > 0 {
		in := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			in[i] = arg(string(st))
		}
		clauses = append(clauses, "s.status IN ("+strings.Join(in, ",")+")")
	}
	if f.ExcludeID != "" {
		clauses = append(clauses, "s.id <> "+arg(f.ExcludeID))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY s.date DESC, s.start_time DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit) + " OFFSET " + arg(f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing sessions")
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(err, "scanning session")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SessionExists reports whether a session keyed by class, date and start
// time exists.
func (r *Repository) SessionExists(ctx context.Context, classID string, date time.Time, start TimeOfDay) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM sessions WHERE class_id = $1 AND date = $2 AND start_time = $3)
	`, classID, date, start).Scan(&exists)
	return exists, errors.Wrap(err, "probing session")
}

const transitionSQL = `
	UPDATE sessions
	SET status = $3,
	    notes = CASE WHEN $4 <> '' THEN COALESCE(notes || E'\n', '') || $4 ELSE notes END,
	    updated_at = NOW()
	WHERE id = $1 AND status = $2`

// TransitionSession is a compare-and-set status change; the losing side of a
// sweep/start race gets an InvalidState error.
func (r *Repository) TransitionSession(ctx context.Context, id string, from, to Status, noteLine string) error {
	res, err := r.db.ExecContext(ctx, transitionSQL, id, from, to, noteLine)
	if err != nil {
		return errors.Wrap(err, "transitioning session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.transitionMiss(ctx, id, from)
	}
	return nil
}

func (r *Repository) transitionMiss(ctx context.Context, id string, from Status) error {
	cur, err := r.GetSession(ctx, id)
	if err != nil {
		return err
	}
	return E(KindInvalidState, "Session is %s, expected %s", cur.Status, from)
}

// StartSession transitions scheduled->ongoing and seeds one Absent/pending
// placeholder per expected student, all in one transaction.
func (r *Repository) StartSession(ctx context.Context, id string, studentIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting session tx")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, transitionSQL, id, StatusScheduled, StatusOngoing, "")
	if err != nil {
		return errors.Wrap(err, "starting session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.transitionMiss(ctx, id, StatusScheduled)
	}

	for _, studentID := range studentIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attendance (student_id, session_id, status, method)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (student_id, session_id) DO NOTHING
		`, studentID, id, AttendanceAbsent, MethodPending); err != nil {
			return errors.Wrap(err, "seeding attendance placeholder")
		}
	}
	return errors.Wrap(tx.Commit(), "committing session start")
}

// DismissSession writes the status change, the dismissal record and the
// optional replacement session as one unit. Any failure, including the
// overlap backstop firing on the replacement, rolls back everything.
func (r *Repository) DismissSession(ctx context.Context, rec DismissalRecord, replacement *Session) (*Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dismissing session tx")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
	`, rec.SessionID, StatusDismissed, StatusScheduled, StatusOngoing)
	if err != nil {
		return nil, errors.Wrap(err, "dismissing session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		cur, err := r.GetSession(ctx, rec.SessionID)
		if err != nil {
			return nil, err
		}
		return nil, E(KindInvalidState, "Cannot dismiss %s session", cur.Status)
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_dismissals (id, session_id, instructor_id, reason, status, dismissed_at, rescheduled_to, rescheduled_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, rec.ID, rec.SessionID, rec.InstructorID, rec.Reason, rec.Status, rec.DismissedAt, rec.RescheduledTo, rec.RescheduledTime); err != nil {
		return nil, errors.Wrap(err, "inserting dismissal record")
	}

	var created *Session
	if replacement != nil {
		s, err := insertSession(ctx, tx, *replacement)
		if err != nil {
			return nil, err
		}
		created = &s
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing dismissal")
	}
	return created, nil
}

// CompleteSession rewrites the finalized attendance rows, caches the arrival
// count and transitions ongoing->completed in one transaction so readers
// never see a completed session with partial counts.
func (r *Repository) CompleteSession(ctx context.Context, id string, records []AttendanceRecord, arrivals int, noteLine string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "completing session tx")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET status = $3, attendance_count = $4,
		    notes = CASE WHEN $5 <> '' THEN COALESCE(notes || E'\n', '') || $5 ELSE notes END,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, StatusOngoing, StatusCompleted, arrivals, noteLine)
	if err != nil {
		return errors.Wrap(err, "completing session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.transitionMiss(ctx, id, StatusOngoing)
	}

	for _, rec := range records {
		if err := upsertAttendance(ctx, tx, rec); err != nil {
			return err
		}
	}
	return errors.Wrap(tx.Commit(), "committing session completion")
}

func upsertAttendance(ctx context.Context, ex execer, rec AttendanceRecord) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO attendance (student_id, session_id, status, marked_at, method, confidence_score)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (student_id, session_id) DO UPDATE SET
			status = EXCLUDED.status,
			marked_at = EXCLUDED.marked_at,
			method = EXCLUDED.method,
			confidence_score = EXCLUDED.confidence_score
	`, rec.StudentID, rec.SessionID, rec.Status, nullTime(rec.Timestamp), rec.Method, rec.Confidence)
	return errors.Wrap(err, "upserting attendance")
}

// UpsertAttendance writes one student's mark for a session.
func (r *Repository) UpsertAttendance(ctx context.Context, rec AttendanceRecord) error {
	return upsertAttendance(ctx, r.db, rec)
}

// ListAttendance returns all records for a session.
func (r *Repository) ListAttendance(ctx context.Context, sessionID string) ([]AttendanceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id, session_id, status, marked_at, method, confidence_score
		FROM attendance WHERE session_id = $1 ORDER BY student_id
	`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "listing attendance")
	}
	defer rows.Close()

	var out []AttendanceRecord
	for rows.Next() {
		var (
			rec      AttendanceRecord
			markedAt sql.NullTime
		)
		if err := rows.Scan(&rec.StudentID, &rec.SessionID, &rec.Status, &markedAt, &rec.Method, &rec.Confidence); err != nil {
			return nil, errors.Wrap(err, "scanning attendance")
		}
		if markedAt.Valid {
			rec.Timestamp = markedAt.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ActiveTimetableEntries returns active weekly templates, optionally scoped
// to one class.
func (r *Repository) ActiveTimetableEntries(ctx context.Context, classID string) ([]TimetableEntry, error) {
	query := `
		SELECT id, class_id, day_of_week, start_time, end_time, is_active, effective_from, effective_to
		FROM timetable WHERE is_active`
	args := []any{}
	if classID != "" {
		query += " AND class_id = $1"
		args = append(args, classID)
	}
	query += " ORDER BY class_id, day_of_week, start_time"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing timetable entries")
	}
	defer rows.Close()

	var out []TimetableEntry
	for rows.Next() {
		var e TimetableEntry
		if err := rows.Scan(&e.ID, &e.ClassID, &e.DayOfWeek, &e.StartTime, &e.EndTime, &e.IsActive, &e.EffectiveFrom, &e.EffectiveTo); err != nil {
			return nil, errors.Wrap(err, "scanning timetable entry")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DismissalForSession returns the dismissal record for a session, or nil.
func (r *Repository) DismissalForSession(ctx context.Context, sessionID string) (*DismissalRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, instructor_id, reason, status, dismissed_at, rescheduled_to, rescheduled_time
		FROM session_dismissals WHERE session_id = $1
	`, sessionID)
	var rec DismissalRecord
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.InstructorID, &rec.Reason, &rec.Status,
		&rec.DismissedAt, &rec.RescheduledTo, &rec.RescheduledTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "getting dismissal")
	}
	return &rec, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

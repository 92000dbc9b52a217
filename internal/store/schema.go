package store

import (
	"context"

	"github.com/pkg/errors"
)

// Schema is the full DDL, applied idempotently at startup. The sessions
// exclusion constraints are the authoritative backstop against concurrent
// overlapping creates, one per reserved resource (the class and the
// instructor who books it): the application-level conflict detector races,
// the constraints do not.
const Schema = `
CREATE EXTENSION IF NOT EXISTS btree_gist;

CREATE TABLE IF NOT EXISTS classes (
	class_id   TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	semester   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS students (
	student_id    TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	face_enrolled BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS class_students (
	class_id   TEXT NOT NULL REFERENCES classes(class_id) ON DELETE CASCADE,
	student_id TEXT NOT NULL REFERENCES students(student_id) ON DELETE CASCADE,
	PRIMARY KEY (class_id, student_id)
);

CREATE TABLE IF NOT EXISTS class_instructors (
	class_id      TEXT NOT NULL REFERENCES classes(class_id) ON DELETE CASCADE,
	instructor_id TEXT NOT NULL,
	assigned_date DATE NOT NULL DEFAULT CURRENT_DATE,
	PRIMARY KEY (class_id, instructor_id)
);

CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	class_id         TEXT NOT NULL REFERENCES classes(class_id),
	date             DATE NOT NULL,
	start_time       TIME NOT NULL,
	end_time         TIME NOT NULL,
	status           TEXT NOT NULL DEFAULT 'scheduled',
	created_by       TEXT NOT NULL,
	attendance_count INTEGER NOT NULL DEFAULT 0,
	total_students   INTEGER NOT NULL DEFAULT 0,
	notes            TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT sessions_time_order CHECK (start_time < end_time),
	CONSTRAINT sessions_no_overlap EXCLUDE USING gist (
		class_id WITH =,
		date WITH =,
		numrange(
			EXTRACT(EPOCH FROM start_time)::numeric,
			EXTRACT(EPOCH FROM end_time)::numeric
		) WITH &&
	) WHERE (status IN ('scheduled', 'ongoing')),
	CONSTRAINT sessions_no_instructor_overlap EXCLUDE USING gist (
		created_by WITH =,
		date WITH =,
		numrange(
			EXTRACT(EPOCH FROM start_time)::numeric,
			EXTRACT(EPOCH FROM end_time)::numeric
		) WITH &&
	) WHERE (status IN ('scheduled', 'ongoing'))
);

CREATE INDEX IF NOT EXISTS idx_sessions_class_date ON sessions (class_id, date);
CREATE INDEX IF NOT EXISTS idx_sessions_status_date ON sessions (status, date);

CREATE TABLE IF NOT EXISTS timetable (
	id             TEXT PRIMARY KEY,
	class_id       TEXT NOT NULL REFERENCES classes(class_id) ON DELETE CASCADE,
	day_of_week    INTEGER NOT NULL CHECK (day_of_week BETWEEN 0 AND 6),
	start_time     TIME NOT NULL,
	end_time       TIME NOT NULL,
	is_active      BOOLEAN NOT NULL DEFAULT TRUE,
	effective_from DATE,
	effective_to   DATE
);

CREATE TABLE IF NOT EXISTS attendance (
	student_id       TEXT NOT NULL REFERENCES students(student_id),
	session_id       TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	status           TEXT NOT NULL DEFAULT 'Absent',
	marked_at        TIMESTAMPTZ,
	method           TEXT NOT NULL DEFAULT 'pending',
	confidence_score DOUBLE PRECISION,
	PRIMARY KEY (student_id, session_id)
);

CREATE TABLE IF NOT EXISTS session_dismissals (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL UNIQUE REFERENCES sessions(id),
	instructor_id    TEXT NOT NULL,
	reason           TEXT NOT NULL,
	status           TEXT NOT NULL,
	dismissed_at     TIMESTAMPTZ NOT NULL,
	rescheduled_to   DATE,
	rescheduled_time TIME
);

CREATE TABLE IF NOT EXISTS holidays (
	name         TEXT NOT NULL,
	date         DATE NOT NULL,
	is_recurring BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (name, date)
);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS activity_log (
	id          TEXT PRIMARY KEY,
	actor_id    TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	description TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	session_id TEXT NOT NULL,
	payload    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate applies the schema.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.Client.ExecContext(ctx, Schema)
	return errors.Wrap(err, "applying schema")
}

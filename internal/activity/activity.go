// Package activity records audit events. Logging is best-effort: a failed
// write is logged and dropped so it can never fail the operation it audits.
package activity

import (
	"context"
	"database/sql"
	"log"

	"github.com/google/uuid"
)

// PG writes activity rows to Postgres.
type PG struct {
	db *sql.DB
}

// NewPG creates a Postgres-backed logger.
func NewPG(db *sql.DB) *PG {
	return &PG{db: db}
}

// Log records one audit event.
func (p *PG) Log(ctx context.Context, actorID, eventType, description string) {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, actor_id, event_type, description)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), actorID, eventType, description)
	if err != nil {
		log.Printf("activity log %s by %s: %v", eventType, actorID, err)
	}
}

// Event is one audit row as read back for the admin dashboard.
type Event struct {
	ID          string `json:"id"`
	ActorID     string `json:"actor_id"`
	EventType   string `json:"event_type"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

// Recent lists up to limit events, newest first.
func (p *PG) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, actor_id, event_type, description, created_at::text
		FROM activity_log ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.ActorID, &e.EventType, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

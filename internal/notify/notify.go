// Package notify fans session events out through the work queue. The API
// process publishes envelopes; the worker drains them and persists
// notification rows for the instructor-facing feed.
package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"rollcall/internal/queue"
)

// Envelope is the queued representation of one session event.
type Envelope struct {
	Kind      string         `json:"kind"`
	SessionID string         `json:"session_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	At        time.Time      `json:"at"`
}

// Publisher sends session events to the queue.
type Publisher struct {
	q queue.Queue
}

// NewPublisher wraps a queue as a notifier.
func NewPublisher(q queue.Queue) *Publisher {
	return &Publisher{q: q}
}

// Notify enqueues one event envelope.
func (p *Publisher) Notify(ctx context.Context, kind, sessionID string, payload map[string]any) error {
	body, err := json.Marshal(Envelope{
		Kind:      kind,
		SessionID: sessionID,
		Payload:   payload,
		At:        time.Now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "encoding notification")
	}
	return p.q.Publish(ctx, queue.Message{Type: kind, Body: body})
}

// Store persists delivered notifications for the feed endpoints.
type Store struct {
	db *sql.DB
}

// NewStore creates a Postgres-backed notification store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save writes one notification row from a consumed envelope.
func (s *Store) Save(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return errors.Wrap(err, "encoding payload")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, kind, session_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), env.Kind, env.SessionID, payload, env.At)
	return errors.Wrap(err, "inserting notification")
}

// Notification is one feed entry.
type Notification struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Recent lists the newest notifications.
func (s *Store) Recent(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, session_id, payload, created_at
		FROM notifications ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing notifications")
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Kind, &n.SessionID, &n.Payload, &n.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning notification")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

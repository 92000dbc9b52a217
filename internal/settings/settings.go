// Package settings reads admin-managed runtime settings from the settings
// table. Reads are best-effort: a missing key or an unreachable database
// yields the caller's default, never an error.
package settings

import (
	"context"
	"database/sql"
	"log"
	"strconv"

	"github.com/pkg/errors"
)

// PG reads settings from Postgres.
type PG struct {
	db *sql.DB
}

// NewPG creates a Postgres-backed provider.
func NewPG(db *sql.DB) *PG {
	return &PG{db: db}
}

// Get returns the raw value for a key.
func (p *PG) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		return "", errors.Wrap(err, "reading setting")
	}
	return value, nil
}

// GetInt returns the integer value for a key, or def when the key is missing
// or unparsable.
func (p *PG) GetInt(ctx context.Context, key string, def int) int {
	raw, err := p.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("setting %s: %v, using default %d", key, err, def)
		}
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("setting %s: %q is not an integer, using default %d", key, raw, def)
		return def
	}
	return n
}

// Set upserts a setting value.
func (p *PG) Set(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	return errors.Wrap(err, "writing setting")
}

// Static is a fixed in-memory provider for dev mode and tests.
type Static map[string]int

// GetInt returns the mapped value or def.
func (s Static) GetInt(_ context.Context, key string, def int) int {
	if v, ok := s[key]; ok {
		return v
	}
	return def
}

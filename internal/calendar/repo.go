package calendar

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// Repository loads the holiday set from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a holiday repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Load fetches all holidays and returns a ready Calendar value.
func (r *Repository) Load(ctx context.Context) (Calendar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, date, is_recurring FROM holidays ORDER BY date
	`)
	if err != nil {
		return Calendar{}, errors.Wrap(err, "loading holidays")
	}
	defer rows.Close()

	var holidays []Holiday
	for rows.Next() {
		var h Holiday
		if err := rows.Scan(&h.Name, &h.Date, &h.Recurring); err != nil {
			return Calendar{}, errors.Wrap(err, "scanning holiday")
		}
		holidays = append(holidays, h)
	}
	return New(holidays), rows.Err()
}

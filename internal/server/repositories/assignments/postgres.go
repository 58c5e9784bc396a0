// Package assignments reads the counselor roster.
package assignments

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// IsAssigned reports whether an assignment covering the date on exists.
// An open-ended assignment has a NULL ends_on.
func (r *PostgresRepository) IsAssigned(ctx context.Context, counselorID, subjectID string, on time.Time) (bool, error) {
	query :=
		`SELECT EXISTS (
		   SELECT 1 FROM counselor_assignments
		   WHERE counselor_id = $1 AND subject_id = $2
		     AND starts_on <= $3 AND (ends_on IS NULL OR ends_on >= $3)
		 )`

	var ok bool
	if err := r.db.QueryRowContext(ctx, query, counselorID, subjectID, on).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepository) Assign(ctx context.Context, counselorID, subjectID string, startsOn time.Time, endsOn *time.Time) error {
	query :=
		`INSERT INTO counselor_assignments (counselor_id, subject_id, starts_on, ends_on)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (counselor_id, subject_id, starts_on) DO UPDATE SET ends_on = EXCLUDED.ends_on`

	if _, err := r.db.ExecContext(ctx, query, counselorID, subjectID, startsOn, endsOn); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

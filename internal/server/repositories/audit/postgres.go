// Package audit stores the hash-chained audit trail in PostgreSQL.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/dbx"
	auditlog "github.com/dmitrijs2005/counselkeeper/internal/server/audit"
	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
)

// PostgresRepository appends entries in their own transaction, so a failed
// audit write never rolls back the record change it describes.
type PostgresRepository struct {
	db    *sql.DB
	chain *auditlog.Chain
}

func NewPostgresRepository(db *sql.DB, chain *auditlog.Chain) *PostgresRepository {
	return &PostgresRepository{db: db, chain: chain}
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (r *PostgresRepository) Append(ctx context.Context, e *models.AuditEntry) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var prev string
		err := tx.QueryRowContext(ctx,
			`SELECT hash FROM audit_chain_head WHERE singleton FOR UPDATE`).Scan(&prev)
		if err != nil {
			return fmt.Errorf("lock chain head: %w", err)
		}

		r.chain.Link(prev, e)

		var actor sql.NullString
		if e.ActorID != nil {
			actor = sql.NullString{String: *e.ActorID, Valid: true}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO audit_entries
			   (id, actor_id, action, entity_type, entity_id, before_state, after_state, occurred_at, hash_prev, hash_curr)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.ID, actor, e.Action, e.EntityType, e.EntityID,
			nullableJSON(e.BeforeState), nullableJSON(e.AfterState), e.OccurredAt,
			e.HashPrev, e.HashCurr)
		if err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE audit_chain_head SET hash = $1 WHERE singleton`, e.HashCurr)
		if err != nil {
			return fmt.Errorf("advance chain head: %w", err)
		}
		return dbx.ExpectOneRow(res)
	})
}

const selectColumns = `id, actor_id, action, entity_type, entity_id, before_state, after_state, occurred_at, hash_prev, hash_curr`

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*models.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditEntry
	for rows.Next() {
		e := &models.AuditEntry{}
		var actor sql.NullString
		var before, after []byte
		if err := rows.Scan(&e.ID, &actor, &e.Action, &e.EntityType, &e.EntityID,
			&before, &after, &e.OccurredAt, &e.HashPrev, &e.HashCurr); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		if actor.Valid {
			a := actor.String
			e.ActorID = &a
		}
		if len(before) > 0 {
			e.BeforeState = json.RawMessage(before)
		}
		if len(after) > 0 {
			e.AfterState = json.RawMessage(after)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// ListByDay returns the entries of one UTC day in append order.
func (r *PostgresRepository) ListByDay(ctx context.Context, day time.Time) ([]*models.AuditEntry, error) {
	y, m, d := day.UTC().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return r.query(ctx,
		`SELECT `+selectColumns+` FROM audit_entries
		 WHERE occurred_at >= $1 AND occurred_at < $2
		 ORDER BY seq`,
		start, start.AddDate(0, 0, 1))
}

// ListByEntity returns the history of one entity in append order.
func (r *PostgresRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]*models.AuditEntry, error) {
	return r.query(ctx,
		`SELECT `+selectColumns+` FROM audit_entries
		 WHERE entity_type = $1 AND entity_id = $2
		 ORDER BY seq`,
		entityType, entityID)
}

// DayBounds returns the hash the first entry of day must link to and the
// hash its last entry must produce. They come from the neighbouring entries,
// or from GENESIS and the chain head at the ends of the trail, so removing
// rows at either edge of the day breaks verification.
func (r *PostgresRepository) DayBounds(ctx context.Context, day time.Time) (string, string, error) {
	y, m, d := day.UTC().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	prev := auditlog.Genesis
	err := r.db.QueryRowContext(ctx,
		`SELECT hash_curr FROM audit_entries WHERE occurred_at < $1 ORDER BY seq DESC LIMIT 1`,
		start).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("db error: %w", err)
	}

	var next string
	err = r.db.QueryRowContext(ctx,
		`SELECT hash_prev FROM audit_entries WHERE occurred_at >= $1 ORDER BY seq LIMIT 1`,
		end).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		err = r.db.QueryRowContext(ctx, `SELECT hash FROM audit_chain_head WHERE singleton`).Scan(&next)
	}
	if err != nil {
		return "", "", fmt.Errorf("db error: %w", err)
	}
	return prev, next, nil
}

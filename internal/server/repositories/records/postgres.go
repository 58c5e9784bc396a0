package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/common"
	"github.com/dmitrijs2005/counselkeeper/internal/dbx"
	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, subject_id, owner_id, occurred_on, ciphertext, nonce, auth_tag, created_at, updated_at, deleted_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.Record, error) {
	r := &models.Record{}
	var deletedAt sql.NullTime
	if err := s.Scan(&r.ID, &r.SubjectID, &r.OwnerID, &r.OccurredOn,
		&r.Ciphertext, &r.Nonce, &r.AuthTag, &r.CreatedAt, &r.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		r.DeletedAt = &t
	}
	return r, nil
}

func (r *PostgresRepository) Create(ctx context.Context, rec *models.Record) error {
	query :=
		`INSERT INTO confidential_records
		   (id, subject_id, owner_id, occurred_on, ciphertext, nonce, auth_tag, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.SubjectID, rec.OwnerID, rec.OccurredOn,
		rec.Ciphertext, rec.Nonce, rec.AuthTag, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM confidential_records WHERE id = $1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

// Update rewrites subject, date and the encrypted triple of a live record
// owned by rec.OwnerID. Zero matching rows is common.ErrorNotFound.
func (r *PostgresRepository) Update(ctx context.Context, rec *models.Record) error {
	query :=
		`UPDATE confidential_records
		 SET subject_id = $1, occurred_on = $2, ciphertext = $3, nonce = $4, auth_tag = $5, updated_at = $6
		 WHERE id = $7 AND owner_id = $8 AND deleted_at IS NULL`

	res, err := r.db.ExecContext(ctx, query,
		rec.SubjectID, rec.OccurredOn, rec.Ciphertext, rec.Nonce, rec.AuthTag, rec.UpdatedAt,
		rec.ID, rec.OwnerID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res)
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, id, ownerID string, at time.Time) error {
	query :=
		`UPDATE confidential_records
		 SET deleted_at = $1, updated_at = $1
		 WHERE id = $2 AND owner_id = $3 AND deleted_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, at, id, ownerID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res)
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string, f models.RecordFilter) ([]*models.Record, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + selectColumns + ` FROM confidential_records WHERE owner_id = $1 AND deleted_at IS NULL`)
	args := []any{ownerID}

	add := func(cond string, v any) {
		args = append(args, v)
		fmt.Fprintf(&sb, " AND %s $%d", cond, len(args))
	}
	if f.SubjectID != "" {
		add("subject_id =", f.SubjectID)
	}
	if f.OccurredFrom != nil {
		add("occurred_on >=", *f.OccurredFrom)
	}
	if f.OccurredTo != nil {
		add("occurred_on <=", *f.OccurredTo)
	}

	sb.WriteString(" ORDER BY occurred_on DESC, created_at DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

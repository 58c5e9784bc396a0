package records

import (
	"context"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
)

// Repository persists confidential records. Content only ever arrives here
// as the encrypted triple.
type Repository interface {
	Create(ctx context.Context, r *models.Record) error
	// GetByID returns the record whether or not it is soft-deleted.
	GetByID(ctx context.Context, id string) (*models.Record, error)
	Update(ctx context.Context, r *models.Record) error
	SoftDelete(ctx context.Context, id, ownerID string, at time.Time) error
	// ListByOwner returns live records of ownerID, newest first.
	ListByOwner(ctx context.Context, ownerID string, f models.RecordFilter) ([]*models.Record, error)
}

package audit

import (
	"context"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
)

// Repository is the persistent audit trail. It satisfies audit.Store.
type Repository interface {
	Append(ctx context.Context, e *models.AuditEntry) error
	ListByDay(ctx context.Context, day time.Time) ([]*models.AuditEntry, error)
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*models.AuditEntry, error)
	DayBounds(ctx context.Context, day time.Time) (prev, next string, err error)
}

package assignments

import (
	"context"
	"time"
)

// Repository answers roster questions: does a counselor currently have
// standing to write about a subject.
type Repository interface {
	IsAssigned(ctx context.Context, counselorID, subjectID string, on time.Time) (bool, error)
	// Assign records a roster entry. A nil endsOn leaves it open-ended.
	Assign(ctx context.Context, counselorID, subjectID string, startsOn time.Time, endsOn *time.Time) error
}

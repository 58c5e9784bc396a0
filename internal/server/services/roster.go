package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/clock"
	"github.com/dmitrijs2005/counselkeeper/internal/common"
	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
	"github.com/dmitrijs2005/counselkeeper/internal/server/repositories/repomanager"
)

// RosterService maintains counselor assignments.
type RosterService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewRosterService(db *sql.DB, m repomanager.RepositoryManager) *RosterService {
	return &RosterService{db: db, repomanager: m}
}

// Assign gives a counselor standing for subjectID from startsOn until
// endsOn (inclusive, nil for open-ended).
func (s *RosterService) Assign(ctx context.Context, counselorID, subjectID string, startsOn time.Time, endsOn *time.Time) error {
	if strings.TrimSpace(subjectID) == "" {
		return fmt.Errorf("%w: subject id is required", common.ErrorInvalidInput)
	}
	startsOn = clock.DateOf(startsOn)
	if endsOn != nil {
		end := clock.DateOf(*endsOn)
		if end.Before(startsOn) {
			return fmt.Errorf("%w: assignment ends before it starts", common.ErrorInvalidInput)
		}
		endsOn = &end
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, counselorID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("%w: unknown counselor", common.ErrorInvalidInput)
		}
		return fmt.Errorf("error loading counselor: %w", err)
	}
	if user.Role != models.RoleCounselor {
		return fmt.Errorf("%w: user %s is not a counselor", common.ErrorInvalidInput, counselorID)
	}

	if err := s.repomanager.Assignments(s.db).Assign(ctx, counselorID, subjectID, startsOn, endsOn); err != nil {
		return fmt.Errorf("error saving assignment: %w", err)
	}
	return nil
}

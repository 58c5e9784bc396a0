// Package services holds the server's business logic: the confidential
// record lifecycle, identity resolution and roster upkeep.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/common"
	"github.com/dmitrijs2005/counselkeeper/internal/server/access"
	"github.com/dmitrijs2005/counselkeeper/internal/server/auth"
	"github.com/dmitrijs2005/counselkeeper/internal/server/config"
	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
	"github.com/dmitrijs2005/counselkeeper/internal/server/repositories/repomanager"
)

// IdentityService turns access tokens into callers. The users table, not
// the token, is authoritative for role and active status.
type IdentityService struct {
	db                          *sql.DB
	repomanager                 repomanager.RepositoryManager
	jwtSecret                   []byte
	accessTokenValidityDuration time.Duration
}

func NewIdentityService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *IdentityService {
	return &IdentityService{
		db:                          db,
		repomanager:                 m,
		jwtSecret:                   []byte(cfg.SecretKey),
		accessTokenValidityDuration: cfg.AccessTokenValidityDuration,
	}
}

// Resolve verifies token and loads its user. Unknown or inactive users get
// common.ErrorUnauthorized.
func (s *IdentityService) Resolve(ctx context.Context, token string) (*access.Caller, error) {
	if token == "" {
		return nil, common.ErrorUnauthorized
	}

	claims, err := auth.ParseToken(token, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorUnauthorized, err)
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	if !user.Active {
		return nil, common.ErrorUnauthorized
	}

	return &access.Caller{ID: user.ID, Role: user.Role}, nil
}

// IssueToken mints an access token for an active user.
func (s *IdentityService) IssueToken(ctx context.Context, userName string) (string, error) {
	user, err := s.repomanager.Users(s.db).GetUserByLogin(ctx, userName)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", common.ErrorUnauthorized
		}
		return "", fmt.Errorf("error loading user: %w", err)
	}
	if !user.Active {
		return "", common.ErrorUnauthorized
	}

	token, err := auth.GenerateToken(user.ID, user.Role, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return "", common.ErrorInternal
	}
	return token, nil
}

// RegisterUser creates an active user with one of the known roles.
func (s *IdentityService) RegisterUser(ctx context.Context, userName, role string) (*models.User, error) {
	userName = strings.TrimSpace(userName)
	if userName == "" {
		return nil, fmt.Errorf("%w: username is required", common.ErrorInvalidInput)
	}
	switch role {
	case models.RoleCounselor, models.RoleAdmin, models.RoleTeacher, models.RoleStudent:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", common.ErrorInvalidInput, role)
	}

	user, err := s.repomanager.Users(s.db).Create(ctx, &models.User{UserName: userName, Role: role, Active: true})
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return user, nil
}

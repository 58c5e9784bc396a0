package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/common"
	"github.com/dmitrijs2005/counselkeeper/internal/server/auth"
	"github.com/dmitrijs2005/counselkeeper/internal/server/config"
	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("identity-secret")

func newIdentity(t *testing.T, users *fakeUsersRepo) *IdentityService {
	t.Helper()
	cfg := &config.Config{SecretKey: string(testSecret), AccessTokenValidityDuration: time.Minute}
	return NewIdentityService(newSQLMockDB(t), &fakeRepoManager{u: users}, cfg)
}

func seededUsers() *fakeUsersRepo {
	return &fakeUsersRepo{byID: map[string]*models.User{
		counselorA: {ID: counselorA, UserName: "alice", Role: models.RoleCounselor, Active: true},
		adminID:    {ID: adminID, UserName: "root", Role: models.RoleAdmin, Active: true},
		"gone":     {ID: "gone", UserName: "bob", Role: models.RoleCounselor, Active: false},
	}}
}

func TestIdentity_IssueAndResolve(t *testing.T) {
	svc := newIdentity(t, seededUsers())

	token, err := svc.IssueToken(context.Background(), "alice")
	require.NoError(t, err)

	caller, err := svc.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, counselorA, caller.ID)
	assert.Equal(t, models.RoleCounselor, caller.Role)
}

func TestIdentity_RoleComesFromUserRow(t *testing.T) {
	users := seededUsers()
	svc := newIdentity(t, users)

	// token claims admin but the row says counselor
	token, err := auth.GenerateToken(counselorA, models.RoleAdmin, testSecret, time.Minute)
	require.NoError(t, err)

	caller, err := svc.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleCounselor, caller.Role)
}

func TestIdentity_ResolveRejects(t *testing.T) {
	expired, err := auth.GenerateToken(counselorA, models.RoleCounselor, testSecret, -time.Minute)
	require.NoError(t, err)
	foreign, err := auth.GenerateToken(counselorA, models.RoleCounselor, []byte("other"), time.Minute)
	require.NoError(t, err)
	inactive, err := auth.GenerateToken("gone", models.RoleCounselor, testSecret, time.Minute)
	require.NoError(t, err)
	unknown, err := auth.GenerateToken("nobody", models.RoleCounselor, testSecret, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"expired", expired},
		{"wrong secret", foreign},
		{"inactive user", inactive},
		{"unknown user", unknown},
	}

	svc := newIdentity(t, seededUsers())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller, err := svc.Resolve(context.Background(), tt.token)
			assert.Nil(t, caller)
			assert.ErrorIs(t, err, common.ErrorUnauthorized)
		})
	}
}

func TestIdentity_ResolveStoreError(t *testing.T) {
	token, err := auth.GenerateToken(counselorA, models.RoleCounselor, testSecret, time.Minute)
	require.NoError(t, err)

	users := seededUsers()
	users.err = errors.New("db down")
	_, err = newIdentity(t, users).Resolve(context.Background(), token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrorUnauthorized)
}

func TestIdentity_IssueTokenRejects(t *testing.T) {
	svc := newIdentity(t, seededUsers())

	_, err := svc.IssueToken(context.Background(), "bob")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	_, err = svc.IssueToken(context.Background(), "mallory")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestIdentity_RegisterUser(t *testing.T) {
	users := seededUsers()
	svc := newIdentity(t, users)

	u, err := svc.RegisterUser(context.Background(), "  carol ", models.RoleCounselor)
	require.NoError(t, err)
	assert.Equal(t, "new-user", u.ID)
	assert.Equal(t, "carol", u.UserName)
	assert.True(t, u.Active)

	_, err = svc.RegisterUser(context.Background(), "dave", "janitor")
	assert.ErrorIs(t, err, common.ErrorInvalidInput)
	_, err = svc.RegisterUser(context.Background(), " ", models.RoleAdmin)
	assert.ErrorIs(t, err, common.ErrorInvalidInput)
	assert.Len(t, users.created, 1)
}

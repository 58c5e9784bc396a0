package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	auditlog "github.com/dmitrijs2005/counselkeeper/internal/server/audit"
	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2024, 11, 1, 10, 0, 0, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *auditlog.Chain) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	chain := auditlog.NewChain([]byte("chain-key"))
	return NewPostgresRepository(db, chain), mock, chain
}

func entry() *models.AuditEntry {
	actor := "c1"
	return &models.AuditEntry{
		ID:         "a1",
		ActorID:    &actor,
		Action:     "READ",
		EntityType: "confidential_record",
		EntityID:   "r1",
		AfterState: json.RawMessage(`{"id":"r1"}`),
		OccurredAt: at,
	}
}

func TestAppend_LinksToLockedHead(t *testing.T) {
	repo, mock, chain := newRepoWithMock(t)

	e := entry()
	want := *e
	chain.Link("prev-hash", &want)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT hash FROM audit_chain_head WHERE singleton FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"hash"}).AddRow("prev-hash"))
	mock.ExpectExec(`(?s)INSERT\s+INTO\s+audit_entries`).
		WithArgs("a1", "c1", "READ", "confidential_record", "r1", nil, `{"id":"r1"}`, at, "prev-hash", want.HashCurr).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE audit_chain_head SET hash = \$1 WHERE singleton`).
		WithArgs(want.HashCurr).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Append(context.Background(), e))
	assert.Equal(t, "prev-hash", e.HashPrev)
	assert.Equal(t, want.HashCurr, e.HashCurr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_AnonymousActorIsNull(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	e := entry()
	e.ActorID = nil

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM audit_chain_head`).
		WillReturnRows(sqlmock.NewRows([]string{"hash"}).AddRow(auditlog.Genesis))
	mock.ExpectExec(`INSERT\s+INTO\s+audit_entries`).
		WithArgs("a1", nil, "READ", "confidential_record", "r1", nil, sqlmock.AnyArg(), at, auditlog.Genesis, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE audit_chain_head`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Append(context.Background(), e))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_InsertFailureRollsBack(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM audit_chain_head`).
		WillReturnRows(sqlmock.NewRows([]string{"hash"}).AddRow(auditlog.Genesis))
	mock.ExpectExec(`INSERT\s+INTO\s+audit_entries`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Append(context.Background(), entry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert audit entry: disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_MissingHeadRowFails(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM audit_chain_head`).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.Append(context.Background(), entry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock chain head")
}

var cols = []string{"id", "actor_id", "action", "entity_type", "entity_id", "before_state", "after_state", "occurred_at", "hash_prev", "hash_curr"}

func TestListByDay(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	start := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(cols).
		AddRow("a1", "c1", "CREATE", "confidential_record", "r1", nil, []byte(`{"id":"r1"}`), at, "GENESIS", "h1").
		AddRow("a2", nil, "UNAUTHORIZED_ACCESS_ATTEMPT", "confidential_record", "r1", nil, []byte(`{"reason":"unauthenticated"}`), at, "h1", "h2")

	mock.ExpectQuery(`(?s)FROM\s+audit_entries\s+WHERE\s+occurred_at\s*>=\s*\$1\s+AND\s+occurred_at\s*<\s*\$2\s+ORDER\s+BY\s+seq`).
		WithArgs(start, start.AddDate(0, 0, 1)).
		WillReturnRows(rows)

	got, err := repo.ListByDay(context.Background(), at)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].ActorID)
	assert.Equal(t, "c1", *got[0].ActorID)
	assert.Nil(t, got[0].BeforeState)
	assert.Nil(t, got[1].ActorID)
	assert.JSONEq(t, `{"reason":"unauthenticated"}`, string(got[1].AfterState))
}

func TestListByEntity_DBError(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+audit_entries`).
		WithArgs("confidential_record", "r1").
		WillReturnError(errors.New("down"))

	_, err := repo.ListByEntity(context.Background(), "confidential_record", "r1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error")
}

func TestDayBounds_NeighbouringEntries(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	start := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT\s+hash_curr\s+FROM\s+audit_entries\s+WHERE\s+occurred_at\s*<\s*\$1\s+ORDER\s+BY\s+seq\s+DESC\s+LIMIT\s+1`).
		WithArgs(start).
		WillReturnRows(sqlmock.NewRows([]string{"hash_curr"}).AddRow("h0"))
	mock.ExpectQuery(`SELECT\s+hash_prev\s+FROM\s+audit_entries\s+WHERE\s+occurred_at\s*>=\s*\$1\s+ORDER\s+BY\s+seq\s+LIMIT\s+1`).
		WithArgs(start.AddDate(0, 0, 1)).
		WillReturnRows(sqlmock.NewRows([]string{"hash_prev"}).AddRow("h9"))

	prev, next, err := repo.DayBounds(context.Background(), at)
	require.NoError(t, err)
	assert.Equal(t, "h0", prev)
	assert.Equal(t, "h9", next)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDayBounds_EdgesOfTrail(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT\s+hash_curr\s+FROM\s+audit_entries`).
		WillReturnRows(sqlmock.NewRows([]string{"hash_curr"}))
	mock.ExpectQuery(`SELECT\s+hash_prev\s+FROM\s+audit_entries`).
		WillReturnRows(sqlmock.NewRows([]string{"hash_prev"}))
	mock.ExpectQuery(`SELECT\s+hash\s+FROM\s+audit_chain_head`).
		WillReturnRows(sqlmock.NewRows([]string{"hash"}).AddRow("head"))

	prev, next, err := repo.DayBounds(context.Background(), at)
	require.NoError(t, err)
	assert.Equal(t, auditlog.Genesis, prev)
	assert.Equal(t, "head", next)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDayBounds_DBError(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT\s+hash_curr\s+FROM\s+audit_entries`).
		WillReturnError(errors.New("down"))

	_, _, err := repo.DayBounds(context.Background(), at)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error")
}

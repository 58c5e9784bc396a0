package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/counselkeeper/internal/clock"
	"github.com/dmitrijs2005/counselkeeper/internal/common"
	"github.com/dmitrijs2005/counselkeeper/internal/cryptox"
	"github.com/dmitrijs2005/counselkeeper/internal/dbx"
	"github.com/dmitrijs2005/counselkeeper/internal/logging"
	"github.com/dmitrijs2005/counselkeeper/internal/server/access"
	"github.com/dmitrijs2005/counselkeeper/internal/server/audit"
	"github.com/dmitrijs2005/counselkeeper/internal/server/config"
	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
	"github.com/dmitrijs2005/counselkeeper/internal/server/repositories/assignments"
	"github.com/dmitrijs2005/counselkeeper/internal/server/repositories/records"
	"github.com/dmitrijs2005/counselkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/counselkeeper/internal/server/repositories/users"
)

// -------- test fakes --------

type fakeRecordsRepo struct {
	records.Repository
	mu        sync.Mutex
	rows      map[string]*models.Record
	createErr error
	getErr    error
}

func newFakeRecordsRepo() *fakeRecordsRepo {
	return &fakeRecordsRepo{rows: map[string]*models.Record{}}
}

func (f *fakeRecordsRepo) Create(_ context.Context, r *models.Record) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.rows[r.ID] = &cp
	return nil
}

func (f *fakeRecordsRepo) GetByID(_ context.Context, id string) (*models.Record, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRecordsRepo) Update(_ context.Context, r *models.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.rows[r.ID]
	if !ok || cur.OwnerID != r.OwnerID || cur.DeletedAt != nil {
		return common.ErrorNotFound
	}
	cp := *r
	f.rows[r.ID] = &cp
	return nil
}

func (f *fakeRecordsRepo) SoftDelete(_ context.Context, id, ownerID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.rows[id]
	if !ok || cur.OwnerID != ownerID || cur.DeletedAt != nil {
		return common.ErrorNotFound
	}
	cur.DeletedAt = &at
	cur.UpdatedAt = at
	return nil
}

func (f *fakeRecordsRepo) ListByOwner(_ context.Context, ownerID string, flt models.RecordFilter) ([]*models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Record
	for _, r := range f.rows {
		if r.OwnerID != ownerID || r.DeletedAt != nil {
			continue
		}
		if flt.SubjectID != "" && r.SubjectID != flt.SubjectID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredOn.Equal(out[j].OccurredOn) {
			return out[i].OccurredOn.After(out[j].OccurredOn)
		}
		return out[i].ID < out[j].ID
	})
	if flt.Limit > 0 && len(out) > flt.Limit {
		out = out[:flt.Limit]
	}
	return out, nil
}

// tamper overwrites stored fields of a record, simulating storage corruption.
func (f *fakeRecordsRepo) tamper(id string, fn func(r *models.Record)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.rows[id])
}

type assignmentKey struct{ counselor, subject string }

type fakeAssignmentsRepo struct {
	assignments.Repository
	assigned map[assignmentKey]bool
	err      error
	saved    []assignmentKey
}

func (f *fakeAssignmentsRepo) IsAssigned(_ context.Context, counselorID, subjectID string, _ time.Time) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.assigned[assignmentKey{counselorID, subjectID}], nil
}

func (f *fakeAssignmentsRepo) Assign(_ context.Context, counselorID, subjectID string, _ time.Time, _ *time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, assignmentKey{counselorID, subjectID})
	return nil
}

type fakeUsersRepo struct {
	users.Repository
	byID    map[string]*models.User
	err     error
	created []*models.User
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (f *fakeUsersRepo) GetUserByLogin(_ context.Context, login string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.byID {
		if u.UserName == login {
			return u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u.ID = "new-user"
	f.created = append(f.created, u)
	return u, nil
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	r *fakeRecordsRepo
	a *fakeAssignmentsRepo
	u *fakeUsersRepo
}

func (m *fakeRepoManager) Records(dbx.DBTX) records.Repository         { return m.r }
func (m *fakeRepoManager) Assignments(dbx.DBTX) assignments.Repository { return m.a }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository             { return m.u }

type failingAuditStore struct{ calls int }

func (f *failingAuditStore) Append(context.Context, *models.AuditEntry) error {
	f.calls++
	return errors.New("audit db down")
}

type countingObserver struct {
	ops       map[string]int
	denied    map[string]int
	integrity int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{ops: map[string]int{}, denied: map[string]int{}}
}

func (c *countingObserver) ObserveOperation(op, result string) { c.ops[op+"/"+result]++ }
func (c *countingObserver) AccessDenied(reason string)         { c.denied[reason]++ }
func (c *countingObserver) IntegrityFailure()                  { c.integrity++ }

// -------- helpers --------

const (
	counselorA = "counselor-a"
	counselorB = "counselor-b"
	adminID    = "admin-1"
	subject1   = "student-1"
	subject2   = "student-2"
)

var (
	now        = time.Date(2024, 11, 5, 14, 0, 0, 0, time.UTC)
	yesterday  = time.Date(2024, 11, 4, 0, 0, 0, 0, time.UTC)
	callerA    = &access.Caller{ID: counselorA, Role: models.RoleCounselor}
	callerB    = &access.Caller{ID: counselorB, Role: models.RoleCounselor}
	callerRoot = &access.Caller{ID: adminID, Role: models.RoleAdmin}
)

type harness struct {
	svc     *RecordService
	repo    *fakeRecordsRepo
	assign  *fakeAssignmentsRepo
	trail   *audit.InMemoryStore
	metrics *countingObserver
	clock   *clock.Fixed
}

func newSQLMockDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testEngine(t *testing.T) *cryptox.Engine {
	t.Helper()
	key := make(cryptox.StaticKey, cryptox.KeySize)
	for i := range key {
		key[i] = byte(i + 1)
	}
	e, err := cryptox.NewEngine(key)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func newHarness(t *testing.T, store audit.Store) *harness {
	t.Helper()

	h := &harness{
		repo: newFakeRecordsRepo(),
		assign: &fakeAssignmentsRepo{assigned: map[assignmentKey]bool{
			{counselorA, subject1}: true,
			{counselorB, subject1}: true,
			{counselorB, subject2}: true,
		}},
		metrics: newCountingObserver(),
		clock:   clock.NewFixed(now),
	}
	if store == nil {
		h.trail = audit.NewInMemoryStore(audit.NewChain([]byte("chain")))
		store = h.trail
	}

	cfg := &config.Config{MinContentLength: 10, MaxContentLength: 200}
	m := &fakeRepoManager{r: h.repo, a: h.assign, u: &fakeUsersRepo{}}
	auditor := audit.NewLogger(store, logging.Nop{}, audit.WithClock(h.clock))

	h.svc = NewRecordService(newSQLMockDB(t), m, testEngine(t), auditor, cfg,
		WithRecordClock(h.clock),
		WithRecordObserver(h.metrics),
		WithRecordLogger(logging.Nop{}),
	)
	return h
}

func (h *harness) create(t *testing.T, caller *access.Caller, subject, content string) string {
	t.Helper()
	id, err := h.svc.Create(context.Background(), caller, CreateParams{
		SubjectID: subject, OccurredOn: yesterday, Content: content,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id
}

func (h *harness) entries() []*models.AuditEntry {
	return h.trail.Entries()
}

func (h *harness) entriesFor(action audit.Action) []*models.AuditEntry {
	var out []*models.AuditEntry
	for _, e := range h.trail.Entries() {
		if e.Action == string(action) {
			out = append(out, e)
		}
	}
	return out
}

func decodeState(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode state %q: %v", raw, err)
	}
	return m
}

package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/counselkeeper/internal/clock"
	"github.com/dmitrijs2005/counselkeeper/internal/common"
	"github.com/dmitrijs2005/counselkeeper/internal/cryptox"
	"github.com/dmitrijs2005/counselkeeper/internal/logging"
	"github.com/dmitrijs2005/counselkeeper/internal/server/access"
	"github.com/dmitrijs2005/counselkeeper/internal/server/audit"
	"github.com/dmitrijs2005/counselkeeper/internal/server/config"
	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
	"github.com/dmitrijs2005/counselkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// RecordCipher seals and opens record content. cryptox.Engine implements it.
type RecordCipher interface {
	Encrypt(plaintext string) (cryptox.Sealed, error)
	Decrypt(s cryptox.Sealed) (string, error)
}

type Authorizer interface {
	Authorize(caller *access.Caller, record *models.Record) access.Decision
	AuthorizeRole(caller *access.Caller) access.Decision
}

type AuditRecorder interface {
	Record(ctx context.Context, ev audit.Event)
}

// RecordObserver receives operational counters. metrics.Metrics implements it.
type RecordObserver interface {
	ObserveOperation(operation, result string)
	AccessDenied(reason string)
	IntegrityFailure()
}

type noopObserver struct{}

func (noopObserver) ObserveOperation(string, string) {}
func (noopObserver) AccessDenied(string)             {}
func (noopObserver) IntegrityFailure()               {}

type CreateParams struct {
	SubjectID  string
	OccurredOn time.Time
	Content    string
}

// UpdateParams replaces the content. SubjectID and OccurredOn are left
// unchanged when nil.
type UpdateParams struct {
	SubjectID  *string
	OccurredOn *time.Time
	Content    string
}

// RecordView is a decrypted record with its non-sensitive metadata.
type RecordView struct {
	ID         string
	SubjectID  string
	OwnerID    string
	OccurredOn time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Content    string
}

type ContentStatus string

const (
	ContentOK            ContentStatus = "ok"
	ContentUndecryptable ContentStatus = "undecryptable"
)

// ListItem is one listed record. Content is empty unless Status is
// ContentOK.
type ListItem struct {
	RecordView
	Status ContentStatus
}

// RecordService owns the confidential record lifecycle: every operation
// authorizes, touches the cipher and the store, then writes one audit entry
// per outcome.
type RecordService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cipher      RecordCipher
	guard       Authorizer
	audit       AuditRecorder
	clock       clock.Clock
	metrics     RecordObserver
	log         logging.Logger
	minContent  int
	maxContent  int
}

type RecordServiceOption func(*RecordService)

func WithRecordClock(c clock.Clock) RecordServiceOption {
	return func(s *RecordService) { s.clock = c }
}

func WithRecordObserver(o RecordObserver) RecordServiceOption {
	return func(s *RecordService) { s.metrics = o }
}

func WithRecordLogger(l logging.Logger) RecordServiceOption {
	return func(s *RecordService) { s.log = l }
}

func WithAuthorizer(a Authorizer) RecordServiceOption {
	return func(s *RecordService) { s.guard = a }
}

func NewRecordService(db *sql.DB, m repomanager.RepositoryManager, cipher RecordCipher, auditor AuditRecorder, cfg *config.Config, opts ...RecordServiceOption) *RecordService {
	s := &RecordService{
		db:          db,
		repomanager: m,
		cipher:      cipher,
		guard:       access.NewGuard(),
		audit:       auditor,
		clock:       clock.RealClock{},
		metrics:     noopObserver{},
		log:         logging.Nop{},
		minContent:  cfg.MinContentLength,
		maxContent:  cfg.MaxContentLength,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("module", "records")
	return s
}

// Create stores a new record owned by caller and returns its id.
func (s *RecordService) Create(ctx context.Context, caller *access.Caller, p CreateParams) (id string, err error) {
	defer func() { s.observe("create", err) }()

	if d := s.guard.AuthorizeRole(caller); !d.Allowed {
		return "", s.deny(ctx, caller, "create", "", p.SubjectID, d.Reason)
	}
	if strings.TrimSpace(p.SubjectID) == "" {
		return "", fmt.Errorf("%w: subject id is required", common.ErrorInvalidInput)
	}
	if err := s.checkAssigned(ctx, caller, "create", "", p.SubjectID); err != nil {
		return "", err
	}

	occurredOn, err := s.validateDate(p.OccurredOn)
	if err != nil {
		return "", err
	}
	if err := s.validateContent(p.Content); err != nil {
		return "", err
	}

	sealed, err := s.cipher.Encrypt(p.Content)
	if err != nil {
		return "", err
	}

	now := s.clock.Now()
	rec := &models.Record{
		ID:         uuid.NewString(),
		SubjectID:  p.SubjectID,
		OwnerID:    caller.ID,
		OccurredOn: occurredOn,
		Ciphertext: sealed.Ciphertext,
		Nonce:      sealed.Nonce,
		AuthTag:    sealed.AuthTag,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repomanager.Records(s.db).Create(ctx, rec); err != nil {
		return "", fmt.Errorf("error creating record: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:    caller.ID,
		Action:     audit.ActionCreate,
		EntityType: audit.EntityConfidentialRecord,
		EntityID:   rec.ID,
		After:      audit.RecordStateOf(rec),
	})
	s.log.Info(ctx, "record created", "record_id", rec.ID, "owner_id", rec.OwnerID)

	return rec.ID, nil
}

// Read decrypts a live record for its owner.
func (s *RecordService) Read(ctx context.Context, caller *access.Caller, id string) (view *RecordView, err error) {
	defer func() { s.observe("read", err) }()

	rec, err := s.fetchAuthorized(ctx, caller, "read", id)
	if err != nil {
		return nil, err
	}

	content, err := s.open(ctx, rec)
	if err != nil {
		s.audit.Record(ctx, s.integrityEvent(caller, rec))
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:    caller.ID,
		Action:     audit.ActionRead,
		EntityType: audit.EntityConfidentialRecord,
		EntityID:   rec.ID,
		After:      audit.RecordStateOf(rec),
	})

	v := viewOf(rec, content)
	return &v, nil
}

// Update re-encrypts the record under a fresh nonce. Ownership never changes.
func (s *RecordService) Update(ctx context.Context, caller *access.Caller, id string, p UpdateParams) (err error) {
	defer func() { s.observe("update", err) }()

	rec, err := s.fetchAuthorized(ctx, caller, "update", id)
	if err != nil {
		return err
	}

	subjectID := rec.SubjectID
	if p.SubjectID != nil {
		subjectID = *p.SubjectID
	}
	if strings.TrimSpace(subjectID) == "" {
		return fmt.Errorf("%w: subject id is required", common.ErrorInvalidInput)
	}
	if err := s.checkAssigned(ctx, caller, "update", id, subjectID); err != nil {
		return err
	}

	occurredOn := rec.OccurredOn
	if p.OccurredOn != nil {
		if occurredOn, err = s.validateDate(*p.OccurredOn); err != nil {
			return err
		}
	}
	if err := s.validateContent(p.Content); err != nil {
		return err
	}

	sealed, err := s.cipher.Encrypt(p.Content)
	if err != nil {
		return err
	}

	updated := *rec
	updated.SubjectID = subjectID
	updated.OccurredOn = occurredOn
	updated.Ciphertext = sealed.Ciphertext
	updated.Nonce = sealed.Nonce
	updated.AuthTag = sealed.AuthTag
	updated.UpdatedAt = s.clock.Now()

	if err := s.repomanager.Records(s.db).Update(ctx, &updated); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("error updating record: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:    caller.ID,
		Action:     audit.ActionUpdate,
		EntityType: audit.EntityConfidentialRecord,
		EntityID:   rec.ID,
		Before:     audit.RecordStateOf(rec),
		After:      audit.RecordStateOf(&updated),
	})
	s.log.Info(ctx, "record updated", "record_id", rec.ID)

	return nil
}

// Delete soft-deletes the record. The row stays for the audit trail.
func (s *RecordService) Delete(ctx context.Context, caller *access.Caller, id string) (err error) {
	defer func() { s.observe("delete", err) }()

	rec, err := s.fetchAuthorized(ctx, caller, "delete", id)
	if err != nil {
		return err
	}

	if err := s.repomanager.Records(s.db).SoftDelete(ctx, rec.ID, caller.ID, s.clock.Now()); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("error deleting record: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:    caller.ID,
		Action:     audit.ActionDelete,
		EntityType: audit.EntityConfidentialRecord,
		EntityID:   rec.ID,
		Before:     audit.RecordStateOf(rec),
	})
	s.log.Info(ctx, "record deleted", "record_id", rec.ID)

	return nil
}

// List returns the caller's live records. A record that fails to decrypt is
// returned as ContentUndecryptable instead of failing the whole list.
func (s *RecordService) List(ctx context.Context, caller *access.Caller, f models.RecordFilter) (items []ListItem, err error) {
	defer func() { s.observe("list", err) }()

	if d := s.guard.AuthorizeRole(caller); !d.Allowed {
		return nil, s.deny(ctx, caller, "list", "", f.SubjectID, d.Reason)
	}

	switch {
	case f.Limit < 0 || f.Offset < 0:
		return nil, fmt.Errorf("%w: limit and offset must not be negative", common.ErrorInvalidInput)
	case f.Limit > MaxListLimit:
		return nil, fmt.Errorf("%w: limit exceeds %d", common.ErrorInvalidInput, MaxListLimit)
	case f.Limit == 0:
		f.Limit = DefaultListLimit
	}
	if f.OccurredFrom != nil && f.OccurredTo != nil && f.OccurredTo.Before(*f.OccurredFrom) {
		return nil, fmt.Errorf("%w: empty date range", common.ErrorInvalidInput)
	}

	recs, err := s.repomanager.Records(s.db).ListByOwner(ctx, caller.ID, f)
	if err != nil {
		return nil, fmt.Errorf("error listing records: %w", err)
	}

	items = make([]ListItem, 0, len(recs))
	for _, rec := range recs {
		content, err := s.open(ctx, rec)
		if err != nil {
			s.audit.Record(ctx, s.integrityEvent(caller, rec))
			items = append(items, ListItem{RecordView: viewOf(rec, ""), Status: ContentUndecryptable})
			continue
		}

		s.audit.Record(ctx, audit.Event{
			ActorID:    caller.ID,
			Action:     audit.ActionRead,
			EntityType: audit.EntityConfidentialRecord,
			EntityID:   rec.ID,
			After:      audit.RecordStateOf(rec),
		})
		items = append(items, ListItem{RecordView: viewOf(rec, content), Status: ContentOK})
	}

	return items, nil
}

// fetchAuthorized loads a live record and checks the caller owns it.
// Missing and soft-deleted records are common.ErrorNotFound, and so are ids
// that are not UUIDs since no record can carry one.
func (s *RecordService) fetchAuthorized(ctx context.Context, caller *access.Caller, op, id string) (*models.Record, error) {
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return nil, common.ErrorNotFound
	}

	rec, err := s.repomanager.Records(s.db).GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("error fetching record: %w", err)
	}
	if rec.IsDeleted() {
		return nil, common.ErrorNotFound
	}

	if d := s.guard.Authorize(caller, rec); !d.Allowed {
		return nil, s.deny(ctx, caller, op, rec.ID, rec.SubjectID, d.Reason)
	}
	return rec, nil
}

func (s *RecordService) checkAssigned(ctx context.Context, caller *access.Caller, op, recordID, subjectID string) error {
	ok, err := s.repomanager.Assignments(s.db).IsAssigned(ctx, caller.ID, subjectID, clock.Today(s.clock))
	if err != nil {
		return fmt.Errorf("error checking assignment: %w", err)
	}
	if ok {
		return nil
	}

	s.metrics.AccessDenied(string(access.ReasonNotAssigned))
	s.audit.Record(ctx, audit.Event{
		ActorID:    caller.ID,
		Action:     audit.ActionUnauthorizedAccessAttempt,
		EntityType: audit.EntityConfidentialRecord,
		EntityID:   recordID,
		After: audit.AccessAttemptState{
			Operation:  op,
			Reason:     string(access.ReasonNotAssigned),
			CallerRole: caller.Role,
			SubjectID:  subjectID,
		},
	})
	return common.ErrorNotAssigned
}

// deny records the attempt with its reason and returns the one generic
// error callers ever see.
func (s *RecordService) deny(ctx context.Context, caller *access.Caller, op, recordID, subjectID string, reason access.Reason) error {
	var actorID, role string
	if caller != nil {
		actorID, role = caller.ID, caller.Role
	}

	s.metrics.AccessDenied(string(reason))
	s.audit.Record(ctx, audit.Event{
		ActorID:    actorID,
		Action:     audit.ActionUnauthorizedAccessAttempt,
		EntityType: audit.EntityConfidentialRecord,
		EntityID:   recordID,
		After: audit.AccessAttemptState{
			Operation:  op,
			Reason:     string(reason),
			CallerRole: role,
			SubjectID:  subjectID,
		},
	})
	s.log.Warn(ctx, "access denied", "operation", op, "record_id", recordID, "actor_id", actorID, "reason", string(reason))

	return common.ErrorPermissionDenied
}

// open decrypts rec. Format and authentication failures both surface as
// common.ErrorDataIntegrity and are never retried.
func (s *RecordService) open(ctx context.Context, rec *models.Record) (string, error) {
	content, err := s.cipher.Decrypt(cryptox.Sealed{
		Ciphertext: rec.Ciphertext,
		Nonce:      rec.Nonce,
		AuthTag:    rec.AuthTag,
	})
	if err == nil {
		return content, nil
	}

	s.metrics.IntegrityFailure()
	s.log.Error(ctx, "record failed integrity check", "record_id", rec.ID, "error", err)
	if errors.Is(err, common.ErrorFormat) || errors.Is(err, common.ErrorAuthentication) {
		return "", fmt.Errorf("%w: record %s", common.ErrorDataIntegrity, rec.ID)
	}
	return "", fmt.Errorf("%w: record %s: %v", common.ErrorDataIntegrity, rec.ID, err)
}

func (s *RecordService) integrityEvent(caller *access.Caller, rec *models.Record) audit.Event {
	state := audit.RecordStateOf(rec)
	state.Outcome = audit.OutcomeIntegrityFailure
	return audit.Event{
		ActorID:    caller.ID,
		Action:     audit.ActionRead,
		EntityType: audit.EntityConfidentialRecord,
		EntityID:   rec.ID,
		After:      state,
	}
}

func (s *RecordService) validateContent(content string) error {
	if utf8.RuneCountInString(strings.TrimSpace(content)) < s.minContent {
		return fmt.Errorf("%w: content must be at least %d characters", common.ErrorInvalidInput, s.minContent)
	}
	if s.maxContent > 0 && utf8.RuneCountInString(content) > s.maxContent {
		return fmt.Errorf("%w: content must be at most %d characters", common.ErrorInvalidInput, s.maxContent)
	}
	return nil
}

// validateDate truncates d to its UTC date and rejects future dates.
func (s *RecordService) validateDate(d time.Time) (time.Time, error) {
	if d.IsZero() {
		return time.Time{}, fmt.Errorf("%w: occurred on date is required", common.ErrorInvalidInput)
	}
	day := clock.DateOf(d)
	if day.After(clock.Today(s.clock)) {
		return time.Time{}, fmt.Errorf("%w: occurred on date is in the future", common.ErrorInvalidInput)
	}
	return day, nil
}

func (s *RecordService) observe(op string, err error) {
	s.metrics.ObserveOperation(op, resultOf(err))
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrorPermissionDenied):
		return "denied"
	case errors.Is(err, common.ErrorNotAssigned):
		return "not_assigned"
	case errors.Is(err, common.ErrorNotFound):
		return "not_found"
	case errors.Is(err, common.ErrorInvalidInput):
		return "invalid_input"
	case errors.Is(err, common.ErrorDataIntegrity):
		return "integrity"
	default:
		return "error"
	}
}

func viewOf(rec *models.Record, content string) RecordView {
	return RecordView{
		ID:         rec.ID,
		SubjectID:  rec.SubjectID,
		OwnerID:    rec.OwnerID,
		OccurredOn: rec.OccurredOn,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
		Content:    content,
	}
}

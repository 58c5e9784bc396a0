// Package audit records who touched which confidential record and how.
//
// Writes are best-effort: a failing store never fails the operation that
// produced the event. Failures are logged and counted instead.
package audit

import (
	"context"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/clock"
	"github.com/dmitrijs2005/counselkeeper/internal/logging"
	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
	"github.com/google/uuid"
)

// Store appends entries to the trail. Implementations own chain linking.
type Store interface {
	Append(ctx context.Context, e *models.AuditEntry) error
}

// FailureObserver is notified when an entry could not be persisted.
type FailureObserver interface {
	AuditWriteFailed()
}

// Event is one audited occurrence. ActorID is empty for unauthenticated
// callers. Before and After may be nil.
type Event struct {
	ActorID    string
	Action     Action
	EntityType string
	EntityID   string
	Before     State
	After      State
}

type Logger struct {
	store    Store
	log      logging.Logger
	clock    clock.Clock
	observer FailureObserver
}

type Option func(*Logger)

func WithFailureObserver(o FailureObserver) Option {
	return func(l *Logger) { l.observer = o }
}

func WithClock(c clock.Clock) Option {
	return func(l *Logger) { l.clock = c }
}

func NewLogger(store Store, log logging.Logger, opts ...Option) *Logger {
	l := &Logger{
		store: store,
		log:   log.With("module", "audit"),
		clock: clock.RealClock{},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Record persists ev. It never returns an error.
func (l *Logger) Record(ctx context.Context, ev Event) {
	if !ev.Action.Valid() {
		l.fail(ctx, ev, "unknown audit action", nil)
		return
	}

	entry := &models.AuditEntry{
		ID:         uuid.NewString(),
		Action:     string(ev.Action),
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		OccurredAt: l.clock.Now().UTC().Truncate(time.Microsecond),
	}
	if ev.ActorID != "" {
		actor := ev.ActorID
		entry.ActorID = &actor
	}

	var err error
	if entry.BeforeState, err = Encode(ev.Before); err != nil {
		l.fail(ctx, ev, "encode before state", err)
		return
	}
	if entry.AfterState, err = Encode(ev.After); err != nil {
		l.fail(ctx, ev, "encode after state", err)
		return
	}

	if err := l.store.Append(ctx, entry); err != nil {
		l.fail(ctx, ev, "audit write failed", err)
	}
}

func (l *Logger) fail(ctx context.Context, ev Event, msg string, err error) {
	args := []any{"action", string(ev.Action), "entity_type", ev.EntityType, "entity_id", ev.EntityID}
	if err != nil {
		args = append(args, "error", err)
	}
	l.log.Error(ctx, msg, args...)
	if l.observer != nil {
		l.observer.AuditWriteFailed()
	}
}

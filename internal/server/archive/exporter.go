// Package archive exports a day of the audit trail to object storage as
// JSON lines. Entries are already redacted when they are written, so an
// archive never carries record content.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/clock"
	"github.com/dmitrijs2005/counselkeeper/internal/common"
	"github.com/dmitrijs2005/counselkeeper/internal/logging"
	"github.com/dmitrijs2005/counselkeeper/internal/server/access"
	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
	"github.com/google/uuid"
)

const contentType = "application/x-ndjson"

// EntrySource lists audit entries in chain order.
type EntrySource interface {
	ListByDay(ctx context.Context, day time.Time) ([]*models.AuditEntry, error)
}

// ObjectStore is the write side of the archive bucket. S3Store implements it.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte) error
	DownloadURL(ctx context.Context, key string) (string, error)
}

// Export describes one uploaded archive object.
type Export struct {
	Key         string
	Entries     int
	DownloadURL string
}

type Exporter struct {
	source EntrySource
	store  ObjectStore
	clock  clock.Clock
	log    logging.Logger
}

func NewExporter(source EntrySource, store ObjectStore, c clock.Clock, log logging.Logger) *Exporter {
	return &Exporter{source: source, store: store, clock: c, log: log.With("module", "archive")}
}

type line struct {
	ID          string          `json:"id"`
	ActorID     *string         `json:"actor_id"`
	Action      string          `json:"action"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	BeforeState json.RawMessage `json:"before_state"`
	AfterState  json.RawMessage `json:"after_state"`
	OccurredAt  time.Time       `json:"occurred_at"`
	HashPrev    string          `json:"hash_prev"`
	HashCurr    string          `json:"hash_curr"`
}

// ExportDay uploads every entry of day (UTC) and returns where it went.
// Only administrators may export; the day must not be in the future.
func (e *Exporter) ExportDay(ctx context.Context, caller *access.Caller, day time.Time) (*Export, error) {
	if caller == nil || caller.ID == "" || caller.Role != models.RoleAdmin {
		return nil, common.ErrorPermissionDenied
	}

	day = clock.DateOf(day)
	if day.After(clock.Today(e.clock)) {
		return nil, fmt.Errorf("%w: day is in the future", common.ErrorInvalidInput)
	}

	entries, err := e.source.ListByDay(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("error listing audit entries: %w", err)
	}

	body, err := encodeLines(entries)
	if err != nil {
		return nil, err
	}

	key := ObjectKey(day, uuid.NewString())
	if err := e.store.Put(ctx, key, body); err != nil {
		return nil, err
	}

	url, err := e.store.DownloadURL(ctx, key)
	if err != nil {
		return nil, err
	}

	e.log.Info(ctx, "audit day exported", "day", day.Format(time.DateOnly), "key", key, "entries", len(entries), "actor_id", caller.ID)
	return &Export{Key: key, Entries: len(entries), DownloadURL: url}, nil
}

// ObjectKey lays archives out as audit/YYYY/MM/DD/<id>.jsonl.
func ObjectKey(day time.Time, id string) string {
	return fmt.Sprintf("audit/%04d/%02d/%02d/%s.jsonl", day.Year(), int(day.Month()), day.Day(), id)
}

func encodeLines(entries []*models.AuditEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, a := range entries {
		err := enc.Encode(line{
			ID:          a.ID,
			ActorID:     a.ActorID,
			Action:      a.Action,
			EntityType:  a.EntityType,
			EntityID:    a.EntityID,
			BeforeState: a.BeforeState,
			AfterState:  a.AfterState,
			OccurredAt:  a.OccurredAt.UTC(),
			HashPrev:    a.HashPrev,
			HashCurr:    a.HashCurr,
		})
		if err != nil {
			return nil, fmt.Errorf("encode audit entry %s: %w", a.ID, err)
		}
	}
	return buf.Bytes(), nil
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
)

// InMemoryStore is a chained Store kept in process memory.
type InMemoryStore struct {
	mu      sync.Mutex
	chain   *Chain
	entries []*models.AuditEntry
}

func NewInMemoryStore(chain *Chain) *InMemoryStore {
	return &InMemoryStore{chain: chain}
}

func (s *InMemoryStore) Append(ctx context.Context, e *models.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := Genesis
	if n := len(s.entries); n > 0 {
		prev = s.entries[n-1].HashCurr
	}
	cp := *e
	s.chain.Link(prev, &cp)
	s.entries = append(s.entries, &cp)
	return nil
}

// Entries returns a snapshot in append order.
func (s *InMemoryStore) Entries() []*models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.AuditEntry, len(s.entries))
	for i, e := range s.entries {
		cp := *e
		out[i] = &cp
	}
	return out
}

// ListByDay returns entries whose OccurredAt falls on day (UTC).
func (s *InMemoryStore) ListByDay(_ context.Context, day time.Time) ([]*models.AuditEntry, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	var out []*models.AuditEntry
	for _, e := range s.Entries() {
		at := e.OccurredAt.UTC()
		if !at.Before(start) && at.Before(end) {
			out = append(out, e)
		}
	}
	return out, nil
}

// DayBounds returns the hash day's first entry links to and the hash its
// last entry must produce: the neighbouring entries, or Genesis and the
// current head at the ends of the trail.
func (s *InMemoryStore) DayBounds(_ context.Context, day time.Time) (string, string, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	entries := s.Entries()
	prev, next := Genesis, Genesis
	if n := len(entries); n > 0 {
		next = entries[n-1].HashCurr
	}
	for _, e := range entries {
		if e.OccurredAt.UTC().Before(start) {
			prev = e.HashCurr
		}
	}
	for _, e := range entries {
		if !e.OccurredAt.UTC().Before(end) {
			next = e.HashPrev
			break
		}
	}
	return prev, next, nil
}

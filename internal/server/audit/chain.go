package audit

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
)

// Genesis is the HashPrev of the first entry in a trail.
const Genesis = "GENESIS"

var ErrChainBroken = errors.New("audit chain broken")

// Chain links entries with an HMAC over the previous hash and the entry
// body, so rows cannot be edited or removed without the key noticing.
type Chain struct {
	key []byte
}

func NewChain(key []byte) *Chain {
	k := make([]byte, len(key))
	copy(k, key)
	return &Chain{key: k}
}

// Hash computes HashCurr for e given the hash of its predecessor. The
// timestamp is taken at microsecond precision and states in canonical JSON,
// so an entry read back from TIMESTAMPTZ and JSONB columns hashes the same.
func (c *Chain) Hash(prev string, e *models.AuditEntry) string {
	actor := "-"
	if e.ActorID != nil {
		actor = *e.ActorID
	}
	payload := strings.Join([]string{
		prev,
		e.ID,
		e.OccurredAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
		actor,
		e.Action,
		e.EntityType,
		e.EntityID,
		hex.EncodeToString(canonicalJSON(e.BeforeState)),
		hex.EncodeToString(canonicalJSON(e.AfterState)),
	}, "|")

	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalJSON re-encodes raw compactly with object keys sorted. Numbers
// keep their literal form. Input that does not parse is returned as is.
func canonicalJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

// Link fills HashPrev and HashCurr of e. An empty prev starts a new chain.
func (c *Chain) Link(prev string, e *models.AuditEntry) {
	if prev == "" {
		prev = Genesis
	}
	e.HashPrev = prev
	e.HashCurr = c.Hash(prev, e)
}

// Verify walks entries in append order from the start of the trail and
// reports the first break.
func (c *Chain) Verify(entries []*models.AuditEntry) error {
	return c.VerifyFrom(Genesis, entries)
}

// VerifyFrom checks a contiguous segment whose first entry links to prev.
func (c *Chain) VerifyFrom(prev string, entries []*models.AuditEntry) error {
	for i, e := range entries {
		if e.HashPrev != prev {
			return fmt.Errorf("%w: entry %d (%s) prev hash mismatch", ErrChainBroken, i, e.ID)
		}
		want := c.Hash(prev, e)
		if !hmac.Equal([]byte(want), []byte(e.HashCurr)) {
			return fmt.Errorf("%w: entry %d (%s) hash mismatch", ErrChainBroken, i, e.ID)
		}
		prev = e.HashCurr
	}
	return nil
}

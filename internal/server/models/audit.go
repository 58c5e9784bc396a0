package models

import (
	"encoding/json"
	"time"
)

// AuditEntry is one persisted audit row. BeforeState and AfterState are
// already redacted JSON objects (or nil). ActorID nil means the system
// acted.
type AuditEntry struct {
	ID          string
	ActorID     *string
	Action      string
	EntityType  string
	EntityID    string
	BeforeState json.RawMessage
	AfterState  json.RawMessage
	OccurredAt  time.Time

	// Chain fields, filled by the store on append.
	HashPrev string
	HashCurr string
}

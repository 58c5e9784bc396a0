package audit

import (
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/common"
	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
)

// Action is the closed set of audited operations.
type Action string

const (
	ActionCreate                    Action = "CREATE"
	ActionRead                      Action = "READ"
	ActionUpdate                    Action = "UPDATE"
	ActionDelete                    Action = "DELETE"
	ActionUnauthorizedAccessAttempt Action = "UNAUTHORIZED_ACCESS_ATTEMPT"
)

// Valid reports whether a is one of the defined actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionUnauthorizedAccessAttempt:
		return true
	}
	return false
}

// EntityConfidentialRecord is the entity type of confidential records.
const EntityConfidentialRecord = "confidential_record"

// Outcomes carried in RecordState.Outcome.
const (
	OutcomeIntegrityFailure = "integrity_failure"
)

// State is a typed before/after payload. Every payload type classifies its
// own sensitive fields: Redact returns a copy in which each of them holds
// common.RedactedValue. Keys are never dropped.
type State interface {
	Redact() State
}

// RecordState mirrors the persisted record row. The encrypted triple is
// kept in the shape so diffs line up, but always redacted.
type RecordState struct {
	ID         string     `json:"id"`
	SubjectID  string     `json:"subject_id"`
	OwnerID    string     `json:"owner_id"`
	OccurredOn string     `json:"occurred_on"`
	HasContent bool       `json:"has_content"`
	Ciphertext string     `json:"ciphertext"`
	Nonce      string     `json:"nonce"`
	AuthTag    string     `json:"auth_tag"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at"`
	Outcome    string     `json:"outcome,omitempty"`
}

func (s RecordState) Redact() State {
	s.Ciphertext = common.RedactedValue
	s.Nonce = common.RedactedValue
	s.AuthTag = common.RedactedValue
	return s
}

// RecordStateOf captures the metadata of r. Content presence is recorded,
// its size is not.
func RecordStateOf(r *models.Record) RecordState {
	return RecordState{
		ID:         r.ID,
		SubjectID:  r.SubjectID,
		OwnerID:    r.OwnerID,
		OccurredOn: r.OccurredOn.Format(time.DateOnly),
		HasContent: r.Ciphertext != "",
		Ciphertext: r.Ciphertext,
		Nonce:      r.Nonce,
		AuthTag:    r.AuthTag,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		DeletedAt:  r.DeletedAt,
	}
}

// AccessAttemptState describes a denied attempt. Reason is recorded here
// even though callers only ever see a generic denial.
type AccessAttemptState struct {
	Operation  string `json:"operation"`
	Reason     string `json:"reason"`
	CallerRole string `json:"caller_role"`
	SubjectID  string `json:"subject_id,omitempty"`
}

func (s AccessAttemptState) Redact() State {
	return s
}

// Package models defines server-side data models persisted in the database.
package models

import "time"

// Record is a stored confidential record. Content is held only as the
// encrypted triple; Ciphertext, Nonce and AuthTag always come from one
// encryption call.
type Record struct {
	ID         string
	SubjectID  string
	OwnerID    string
	OccurredOn time.Time

	Ciphertext string
	Nonce      string
	AuthTag    string

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// IsDeleted reports whether the record has been soft-deleted.
func (r *Record) IsDeleted() bool {
	return r.DeletedAt != nil
}

// RecordFilter narrows an owner's listing. Owner scoping is applied by the
// service, never taken from the filter.
type RecordFilter struct {
	SubjectID    string
	OccurredFrom *time.Time
	OccurredTo   *time.Time
	Limit        int
	Offset       int
}

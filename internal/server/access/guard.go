// Package access decides whether a caller may touch a confidential record.
//
// Only the counselor who authored a record may read, change or delete it.
// Administrators get no override.
package access

import (
	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
)

// Caller is the authenticated principal of a request. A nil *Caller is an
// unauthenticated request.
type Caller struct {
	ID   string
	Role string
}

// Reason explains a denial. It goes to the audit trail, never to the caller.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonWrongRole       Reason = "wrong_role"
	ReasonNotOwner        Reason = "not_owner"
	// ReasonNotAssigned is set by callers after a failed roster check.
	ReasonNotAssigned Reason = "not_assigned"
)

type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision { return Decision{Allowed: true} }

func deny(r Reason) Decision { return Decision{Reason: r} }

// Guard is stateless and safe for concurrent use.
type Guard struct{}

func NewGuard() *Guard {
	return &Guard{}
}

// AuthorizeRole checks the caller may act as a counselor at all.
func (g *Guard) AuthorizeRole(caller *Caller) Decision {
	if caller == nil || caller.ID == "" {
		return deny(ReasonUnauthenticated)
	}
	if caller.Role != models.RoleCounselor {
		return deny(ReasonWrongRole)
	}
	return allow()
}

// Authorize checks the caller may access record. Only the owner passes,
// regardless of role.
func (g *Guard) Authorize(caller *Caller, record *models.Record) Decision {
	if d := g.AuthorizeRole(caller); !d.Allowed {
		return d
	}
	if record == nil || record.OwnerID != caller.ID {
		return deny(ReasonNotOwner)
	}
	return allow()
}

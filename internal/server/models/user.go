package models

import "time"

// Role values stored in users.role. Only RoleCounselor may own
// confidential records.
const (
	RoleCounselor = "counselor"
	RoleAdmin     = "admin"
	RoleTeacher   = "teacher"
	RoleStudent   = "student"
)

// User is the identity row consulted to confirm a token's subject.
type User struct {
	ID        string
	UserName  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

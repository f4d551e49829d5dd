package model

import "time"

// Role names seeded at startup.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Role is a named permission bundle from the `roles` table.
type Role struct {
	ID          uint64
	Name        string
	Description string
	IsSystem    bool
	CreatedAt   time.Time
}

// RoleGrant is a full replacement of a user's role set. Primary is mirrored
// into users.role.
type RoleGrant struct {
	Roles     []Role
	Primary   string
	GrantedBy uint64
}

// Permission is a (resource, action) pair from the `permissions` table.
type Permission struct {
	ID          uint64
	Resource    string
	Action      string
	Description string
	Category    string
}

// Name returns the "resource:action" form.
func (p Permission) Name() string { return p.Resource + ":" + p.Action }

// UserRole is a row of the `user_roles` join. GrantedBy is a weak reference
// to the granting user and may be nil for seeded or self-service grants.
type UserRole struct {
	UserID    uint64
	RoleID    uint64
	GrantedAt time.Time
	GrantedBy *uint64
}

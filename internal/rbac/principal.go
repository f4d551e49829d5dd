// Package rbac evaluates the flat role/permission model and the per-action
// policies built on top of it.
//
// A principal's permission set is the union of the permissions of every role
// granted to it. Roles do not inherit from each other. Policies combine
// ownership, the permission check and action-specific rules, and always run
// before the target resource is loaded so that a denial says nothing about
// whether the target exists.
package rbac

import (
	"context"

	"github.com/iliyamo/guardian-auth/internal/model"
)

// Principal is an authenticated actor and its effective grants.
type Principal struct {
	UserID      uint64
	roles       map[string]struct{}
	permissions map[string]struct{}
}

// NewPrincipal builds a principal from role names and "resource:action"
// permission names.
func NewPrincipal(userID uint64, roles, permissions []string) *Principal {
	p := &Principal{
		UserID:      userID,
		roles:       make(map[string]struct{}, len(roles)),
		permissions: make(map[string]struct{}, len(permissions)),
	}
	for _, r := range roles {
		p.roles[r] = struct{}{}
	}
	for _, perm := range permissions {
		p.permissions[perm] = struct{}{}
	}
	return p
}

func (p *Principal) HasRole(name string) bool {
	if p == nil {
		return false
	}
	_, ok := p.roles[name]
	return ok
}

func (p *Principal) HasPermission(resource, action string) bool {
	if p == nil {
		return false
	}
	_, ok := p.permissions[resource+":"+action]
	return ok
}

func (p *Principal) IsAdmin() bool { return p.HasRole(model.RoleAdmin) }

// Owns reports whether the principal is the user identified by id.
func (p *Principal) Owns(id uint64) bool { return p != nil && p.UserID != 0 && p.UserID == id }

// Roles returns the granted role names in no particular order.
func (p *Principal) Roles() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.roles))
	for r := range p.roles {
		out = append(out, r)
	}
	return out
}

// GrantStore loads role and permission names for a user.
type GrantStore interface {
	RolesForUser(ctx context.Context, userID uint64) ([]string, error)
	PermissionsForUser(ctx context.Context, userID uint64) ([]string, error)
}

// Load reads a user's grants from the store.
func Load(ctx context.Context, store GrantStore, userID uint64) (*Principal, error) {
	roles, err := store.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	perms, err := store.PermissionsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NewPrincipal(userID, roles, perms), nil
}

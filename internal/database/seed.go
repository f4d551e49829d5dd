package database

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/guardian-auth/internal/model"
)

type seedPermission struct {
	resource, action, description, category string
}

var seedPermissions = []seedPermission{
	{"users", "create", "Create users", "user_management"},
	{"users", "read", "Read any user", "user_management"},
	{"users", "update", "Update any user", "user_management"},
	{"users", "delete", "Delete users", "user_management"},
	{"users", "read_own", "Read own profile", "user_management"},
	{"users", "update_own", "Update own profile", "user_management"},
	{"users", "list", "List users", "user_management"},
	{"roles", "create", "Create roles", "role_management"},
	{"roles", "read", "Read roles", "role_management"},
	{"roles", "update", "Update roles", "role_management"},
	{"roles", "delete", "Delete roles", "role_management"},
	{"roles", "assign", "Assign roles to users", "role_management"},
	{"system", "admin", "System administration", "system"},
	{"system", "health_check", "Health checks", "system"},
	{"audit_logs", "read", "Read audit logs", "system"},
}

var userRolePermissions = []string{"users:read_own", "users:update_own", "system:health_check"}

// SeedRBAC inserts the system roles and permission catalog. The admin role
// gets every permission; the user role gets self-service ones. Existing rows
// are left untouched.
func SeedRBAC(ctx context.Context, db *sql.DB) error {
	roles := []struct{ name, desc string }{
		{model.RoleAdmin, "Administrator with full access"},
		{model.RoleUser, "Regular user"},
	}
	for _, r := range roles {
		if _, err := db.ExecContext(ctx,
			"INSERT IGNORE INTO roles (name, description, is_system) VALUES (?,?,1)", r.name, r.desc); err != nil {
			return err
		}
	}
	for _, p := range seedPermissions {
		if _, err := db.ExecContext(ctx,
			"INSERT IGNORE INTO permissions (resource, action, description, category) VALUES (?,?,?,?)",
			p.resource, p.action, p.description, p.category); err != nil {
			return err
		}
	}
	if _, err := db.ExecContext(ctx,
		`INSERT IGNORE INTO role_permissions (role_id, permission_id)
		 SELECT r.id, p.id FROM roles r CROSS JOIN permissions p WHERE r.name=?`, model.RoleAdmin); err != nil {
		return err
	}
	for _, name := range userRolePermissions {
		resource, action, _ := strings.Cut(name, ":")
		if _, err := db.ExecContext(ctx,
			`INSERT IGNORE INTO role_permissions (role_id, permission_id)
			 SELECT r.id, p.id FROM roles r JOIN permissions p ON p.resource=? AND p.action=? WHERE r.name=?`,
			resource, action, model.RoleUser); err != nil {
			return err
		}
	}
	return nil
}

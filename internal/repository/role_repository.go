package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/guardian-auth/internal/model"
)

// RoleRepo reads the role/permission graph and manages user role grants.
type RoleRepo struct{ DB *sql.DB }

func NewRoleRepo(db *sql.DB) *RoleRepo { return &RoleRepo{DB: db} }

// RolesForUser returns the names of every role granted to the user.
func (r *RoleRepo) RolesForUser(ctx context.Context, userID uint64) ([]string, error) {
	return r.names(ctx,
		`SELECT ro.name FROM user_roles ur JOIN roles ro ON ro.id=ur.role_id
		 WHERE ur.user_id=? ORDER BY ro.name`, userID)
}

// PermissionsForUser returns the flat union of permissions over all of the
// user's roles, in "resource:action" form.
func (r *RoleRepo) PermissionsForUser(ctx context.Context, userID uint64) ([]string, error) {
	return r.names(ctx,
		`SELECT DISTINCT CONCAT(p.resource, ':', p.action) FROM user_roles ur
		 JOIN role_permissions rp ON rp.role_id=ur.role_id
		 JOIN permissions p ON p.id=rp.permission_id
		 WHERE ur.user_id=? ORDER BY 1`, userID)
}

func (r *RoleRepo) names(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ByNames returns the catalog roles whose names are in names.
func (r *RoleRepo) ByNames(ctx context.Context, names []string) ([]model.Role, error) {
	if len(names) == 0 {
		return nil, nil
	}
	ph := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, name, description, is_system, created_at FROM roles WHERE name IN ("+ph+") ORDER BY name", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Role
	for rows.Next() {
		var ro model.Role
		if err := rows.Scan(&ro.ID, &ro.Name, &ro.Description, &ro.IsSystem, &ro.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ro)
	}
	return out, rows.Err()
}

// ReplaceUserRoles swaps the user's grants for roles and mirrors primary
// into users.role, all in one transaction.
func (r *RoleRepo) ReplaceUserRoles(ctx context.Context, userID uint64, roles []model.Role, primary string, grantedBy uint64, now time.Time) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := writeGrants(ctx, tx, userID, model.RoleGrant{Roles: roles, Primary: primary, GrantedBy: grantedBy}, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// writeGrants mirrors g.Primary into users.role and rewrites user_roles.
// It expects to run inside a transaction.
func writeGrants(ctx context.Context, ex execer, userID uint64, g model.RoleGrant, now time.Time) error {
	res, err := ex.ExecContext(ctx, "UPDATE users SET role=?, updated_at=? WHERE id=?", g.Primary, now, userID)
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, "DELETE FROM user_roles WHERE user_id=?", userID); err != nil {
		return err
	}
	for _, ro := range g.Roles {
		if _, err := ex.ExecContext(ctx,
			"INSERT INTO user_roles (user_id, role_id, granted_at, granted_by) VALUES (?,?,?,?)",
			userID, ro.ID, now, g.GrantedBy); err != nil {
			return err
		}
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/guardian-auth/internal/model"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id,email,password_hash,first_name,last_name,role,is_active," +
	"tokens_valid_after,profile_updated_at,last_login_at," +
	"password_reset_attempts,last_password_reset_at,password_reset_locked_until," +
	"created_at,updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanUser(row rowScanner) (model.User, error) {
	var (
		u                                       model.User
		validAfter, profileAt, loginAt, resetAt sql.NullTime
		lockedUntil                             sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role, &u.IsActive,
		&validAfter, &profileAt, &loginAt,
		&u.PasswordResetAttempts, &resetAt, &lockedUntil,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, err
	}
	u.TokensValidAfter = timePtr(validAfter)
	u.ProfileUpdatedAt = timePtr(profileAt)
	u.LastLoginAt = timePtr(loginAt)
	u.LastPasswordResetAt = timePtr(resetAt)
	u.PasswordResetLockedUntil = timePtr(lockedUntil)
	return u, nil
}

// Create inserts the user and grants roleName in one transaction. It
// returns the new ID, or ErrEmailExists when the email is taken.
func (r *UserRepo) Create(ctx context.Context, u model.User, roleName string, now time.Time) (uint64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, first_name, last_name, role, created_at, updated_at) VALUES (?,?,?,?,?,?,?)",
		strings.ToLower(strings.TrimSpace(u.Email)), u.PasswordHash, u.FirstName, u.LastName, roleName, now, now)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO user_roles (user_id, role_id, granted_at) SELECT ?, id, ? FROM roles WHERE name=?",
		id, now, roleName); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return uint64(id), nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
	return u, notFound(err)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
	return u, notFound(err)
}

// List returns users matching f ordered by id.
func (r *UserRepo) List(ctx context.Context, f model.UserFilter) ([]model.User, error) {
	var (
		where []string
		args  []any
	)
	if f.Role != "" {
		where = append(where, "EXISTS (SELECT 1 FROM user_roles ur JOIN roles ro ON ro.id=ur.role_id WHERE ur.user_id=users.id AND ro.name=?)")
		args = append(args, f.Role)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + escapeLike(s) + "%"
		where = append(where, "(email LIKE ? OR first_name LIKE ? OR last_name LIKE ?)")
		args = append(args, like, like, like)
	}
	if f.CreatedAfter != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.CreatedAfter.UTC())
	}
	if f.CreatedBefore != nil {
		where = append(where, "created_at <= ?")
		args = append(args, f.CreatedBefore.UTC())
	}

	q := "SELECT " + userColumns + " FROM users"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, clampLimit(f.Limit), max(f.Offset, 0))

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateProfile writes the non-nil fields of ch. When touchCadence is set
// profile_updated_at is advanced to now as well.
func (r *UserRepo) UpdateProfile(ctx context.Context, id uint64, ch model.ProfileChanges, touchCadence bool, now time.Time) error {
	return updateProfile(ctx, r.DB, id, ch, touchCadence, now)
}

// UpdateProfileAndRoles applies ch and replaces the user's roles in one
// transaction. Either both land or neither does.
func (r *UserRepo) UpdateProfileAndRoles(ctx context.Context, id uint64, ch model.ProfileChanges, touchCadence bool, g model.RoleGrant, now time.Time) error {
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

	if !ch.Empty() {
		if err := updateProfile(ctx, tx, id, ch, touchCadence, now); err != nil {
			return err
		}
	}
	if err := writeGrants(ctx, tx, id, g, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func updateProfile(ctx context.Context, ex execer, id uint64, ch model.ProfileChanges, touchCadence bool, now time.Time) error {
	sets := []string{"updated_at=?"}
	args := []any{now}
	if ch.Email != nil {
		sets = append(sets, "email=?")
		args = append(args, strings.ToLower(strings.TrimSpace(*ch.Email)))
	}
	if ch.FirstName != nil {
		sets = append(sets, "first_name=?")
		args = append(args, *ch.FirstName)
	}
	if ch.LastName != nil {
		sets = append(sets, "last_name=?")
		args = append(args, *ch.LastName)
	}
	if touchCadence {
		sets = append(sets, "profile_updated_at=?")
		args = append(args, now)
	}
	args = append(args, id)
	res, err := ex.ExecContext(ctx, "UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id=?", args...)
	if err != nil {
		if isDuplicate(err) {
			return ErrEmailExists
		}
		return err
	}
	return requireRow(res)
}

// UpdatePassword stores a new hash and advances the token watermark so every
// JWT issued before validAfter stops authenticating.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uint64, hash string, validAfter time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET password_hash=?, tokens_valid_after=?, updated_at=? WHERE id=?",
		hash, validAfter.UTC(), validAfter.UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetTokensValidAfter moves the watermark for a user.
func (r *UserRepo) SetTokensValidAfter(ctx context.Context, id uint64, t time.Time) error {
	res, err := r.DB.ExecContext(ctx, "UPDATE users SET tokens_valid_after=? WHERE id=?", t.UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// TouchLastLogin records a successful login or refresh.
func (r *UserRepo) TouchLastLogin(ctx context.Context, id uint64, t time.Time) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE users SET last_login_at=? WHERE id=?", t.UTC(), id)
	return err
}

// SetResetLock locks password reset requests for a user until the given time.
func (r *UserRepo) SetResetLock(ctx context.Context, id uint64, until time.Time) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE users SET password_reset_locked_until=? WHERE id=?", until.UTC(), id)
	return err
}

// Delete removes a user. Join rows cascade through foreign keys.
func (r *UserRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM users WHERE id=?", id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return 50
	case n > 100:
		return 100
	}
	return n
}

package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/guardian-auth/internal/model"
)

// ResetTokenRepo persists password reset tokens. Raw tokens never reach the
// database, only their SHA-256 digests.
type ResetTokenRepo struct{ DB *sql.DB }

func NewResetTokenRepo(db *sql.DB) *ResetTokenRepo { return &ResetTokenRepo{DB: db} }

// CountSince returns how many reset tokens were issued to the user at or
// after since.
func (r *ResetTokenRepo) CountSince(ctx context.Context, userID uint64, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM password_reset_tokens WHERE user_id=? AND created_at >= ?",
		userID, since.UTC()).Scan(&n)
	return n, err
}

// Issue stores a new token and retires every other active token of the same
// user. The user row is locked first so concurrent requests for one user are
// serialized and at most one active token survives.
func (r *ResetTokenRepo) Issue(ctx context.Context, t model.PasswordResetToken, now time.Time) (uint64, error) {
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

	var locked uint64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM users WHERE id=? FOR UPDATE", t.UserID).Scan(&locked); err != nil {
		return 0, notFound(err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE password_reset_tokens SET used=1, used_at=? WHERE user_id=? AND used=0 AND expires_at > ?",
		now.UTC(), t.UserID, now.UTC()); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO password_reset_tokens (user_id, token_hash, expires_at, used, ip_address, user_agent, created_at)
		 VALUES (?,?,?,0,?,?,?)`,
		t.UserID, t.TokenHash, t.ExpiresAt.UTC(), t.IPAddress, t.UserAgent, now.UTC())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE users SET password_reset_attempts=password_reset_attempts+1, last_password_reset_at=? WHERE id=?",
		now.UTC(), t.UserID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return uint64(id), nil
}

// FindActive returns the unused, unexpired token with the given digest.
func (r *ResetTokenRepo) FindActive(ctx context.Context, tokenHash string, now time.Time) (model.PasswordResetToken, error) {
	var (
		t      model.PasswordResetToken
		usedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, expires_at, used, used_at, ip_address, user_agent, created_at
		 FROM password_reset_tokens WHERE token_hash=? AND used=0 AND expires_at > ? LIMIT 1`,
		tokenHash, now.UTC()).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.Used, &usedAt,
		&t.IPAddress, &t.UserAgent, &t.CreatedAt)
	if err != nil {
		return model.PasswordResetToken{}, notFound(err)
	}
	t.UsedAt = timePtr(usedAt)
	return t, nil
}

// Consume marks the token used and sets the user's new password hash and
// token watermark in one transaction. If the token was consumed or expired
// in the meantime nothing changes and ErrNotFound is returned.
func (r *ResetTokenRepo) Consume(ctx context.Context, tokenID, userID uint64, passwordHash string, now time.Time) error {
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

	res, err := tx.ExecContext(ctx,
		"UPDATE password_reset_tokens SET used=1, used_at=? WHERE id=? AND user_id=? AND used=0 AND expires_at > ?",
		now.UTC(), tokenID, userID, now.UTC())
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		return err
	}
	res, err = tx.ExecContext(ctx,
		"UPDATE users SET password_hash=?, tokens_valid_after=?, updated_at=? WHERE id=?",
		passwordHash, now.UTC(), now.UTC(), userID)
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// DeleteExpired removes tokens past their expiry.
func (r *ResetTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM password_reset_tokens WHERE expires_at < ?", now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

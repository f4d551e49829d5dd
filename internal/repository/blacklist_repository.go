package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/guardian-auth/internal/model"
)

// BlacklistRepo persists revoked JWT identifiers (single 'jti' column).
type BlacklistRepo struct{ DB *sql.DB }

func NewBlacklistRepo(db *sql.DB) *BlacklistRepo { return &BlacklistRepo{DB: db} }

// Add inserts a revocation row. Revoking an already revoked jti is a no-op.
func (r *BlacklistRepo) Add(ctx context.Context, t model.BlacklistedToken) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT IGNORE INTO token_blacklist (jti, user_id, reason, expires_at, created_at) VALUES (?,?,?,?,?)",
		t.JTI, t.UserID, string(t.Reason), t.ExpiresAt.UTC(), t.CreatedAt.UTC())
	return err
}

// Contains reports whether jti has been revoked.
func (r *BlacklistRepo) Contains(ctx context.Context, jti string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, "SELECT 1 FROM token_blacklist WHERE jti=? LIMIT 1", jti).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteExpired removes rows whose token has expired by now.
func (r *BlacklistRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM token_blacklist WHERE expires_at < ?", now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

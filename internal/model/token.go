package model

import "time"

// RevocationReason explains why a JWT was blacklisted.
type RevocationReason string

const (
	ReasonLogout         RevocationReason = "logout"
	ReasonPasswordChange RevocationReason = "password_change"
	ReasonSecurityBreach RevocationReason = "security_breach"
	ReasonAdminLogout    RevocationReason = "admin_logout"
)

// Valid reports whether r is one of the known reasons.
func (r RevocationReason) Valid() bool {
	switch r {
	case ReasonLogout, ReasonPasswordChange, ReasonSecurityBreach, ReasonAdminLogout:
		return true
	}
	return false
}

// BlacklistedToken models a row of `token_blacklist`. ExpiresAt mirrors the
// revoked token's own expiry so the row can be swept once it passes.
type BlacklistedToken struct {
	ID        uint64
	JTI       string
	UserID    uint64
	Reason    RevocationReason
	ExpiresAt time.Time
	CreatedAt time.Time
}

// PasswordResetToken models a row of `password_reset_tokens`. Only the
// SHA-256 digest of the raw token is stored.
type PasswordResetToken struct {
	ID        uint64
	UserID    uint64
	TokenHash string
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// Active reports whether the token is unused and unexpired at now.
func (t PasswordResetToken) Active(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}

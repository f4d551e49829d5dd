package model

import (
	"strings"
	"time"
)

// User represents an application user record as stored in the `users`
// table. The json tags are omitted because handlers define their own
// response types.
//
// Fields:
//
//	ID                       – primary key identifier of the user.
//	Email                    – unique, lower-cased email address.
//	PasswordHash             – bcrypt hashed password.
//	FirstName, LastName      – display names.
//	Role                     – primary role name, mirrored from user_roles.
//	IsActive                 – placeholder flag, not enforced.
//	TokensValidAfter         – watermark; JWTs issued before it are invalid.
//	ProfileUpdatedAt         – last change of email or names (cadence rule).
//	LastLoginAt              – last successful login or refresh.
//	PasswordResetAttempts    – number of reset tokens ever issued.
//	LastPasswordResetAt      – time of the last issued reset token.
//	PasswordResetLockedUntil – reset requests are refused until this time.
type User struct {
	ID                       uint64
	Email                    string
	PasswordHash             string
	FirstName                string
	LastName                 string
	Role                     string
	IsActive                 bool
	TokensValidAfter         *time.Time
	ProfileUpdatedAt         *time.Time
	LastLoginAt              *time.Time
	PasswordResetAttempts    int
	LastPasswordResetAt      *time.Time
	PasswordResetLockedUntil *time.Time
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// ResetLocked reports whether password reset requests are locked at now.
func (u User) ResetLocked(now time.Time) bool {
	return u.PasswordResetLockedUntil != nil && now.Before(*u.PasswordResetLockedUntil)
}

// UserFilter narrows user listings. Zero values mean "no filter".
type UserFilter struct {
	Role          string
	Search        string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// ProfileChanges holds the identity fields an update may touch. Nil means
// "leave unchanged".
type ProfileChanges struct {
	Email     *string
	FirstName *string
	LastName  *string
}

// Empty reports whether no field is set.
func (p ProfileChanges) Empty() bool {
	return p.Email == nil && p.FirstName == nil && p.LastName == nil
}

// Diff returns the subset of p that differs from u, keyed by column name
// with [old, new] values.
func (p ProfileChanges) Diff(u User) map[string][2]string {
	out := map[string][2]string{}
	if p.Email != nil && !strings.EqualFold(*p.Email, u.Email) {
		out["email"] = [2]string{u.Email, *p.Email}
	}
	if p.FirstName != nil && *p.FirstName != u.FirstName {
		out["first_name"] = [2]string{u.FirstName, *p.FirstName}
	}
	if p.LastName != nil && *p.LastName != u.LastName {
		out["last_name"] = [2]string{u.LastName, *p.LastName}
	}
	return out
}

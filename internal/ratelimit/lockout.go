package ratelimit

import "time"

const (
	// ResetAttemptWindow is the trailing window reset attempts are counted in.
	ResetAttemptWindow = time.Hour
	// ResetLockThreshold is the attempt count at which requests lock.
	ResetLockThreshold = 3
)

// ResetLockout returns how long a user must be locked out of password reset
// requests after the given number of attempts in the trailing window, or 0
// when no lock applies.
func ResetLockout(attempts int) time.Duration {
	switch {
	case attempts < ResetLockThreshold:
		return 0
	case attempts <= 5:
		return time.Hour
	case attempts <= 10:
		return 3 * time.Hour
	}
	return 24 * time.Hour
}

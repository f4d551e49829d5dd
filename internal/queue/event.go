// Package queue carries password reset emails over RabbitMQ: the reset
// workflow publishes a PasswordResetEmail and a background consumer renders
// and sends it.
package queue

import (
	"strings"
	"time"
)

// ResetEmailQueue is the durable queue reset emails travel on.
const ResetEmailQueue = "auth.password_reset_email"

// PasswordResetEmail is published when a reset token is issued. ResetURL
// embeds the raw token; it only ever lives in this message and the email.
type PasswordResetEmail struct {
	UserID      uint64    `json:"user_id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	ResetURL    string    `json:"reset_url"`
	ExpiresAt   time.Time `json:"expires_at"`
	RequestedAt time.Time `json:"requested_at"`
	RequestID   string    `json:"request_id,omitempty"`
}

// ResetURL builds the link a user follows to choose a new password.
func ResetURL(frontendURL, rawToken string) string {
	if frontendURL == "" {
		frontendURL = "http://localhost:3000"
	}
	return strings.TrimRight(frontendURL, "/") + "/reset-password?token=" + rawToken
}

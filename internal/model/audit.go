package model

import "time"

// AuditLog is an immutable row of `audit_logs`.
type AuditLog struct {
	ID           uint64
	UserID       *uint64
	Action       string
	ResourceType string
	ResourceID   *uint64
	Result       string
	IPAddress    string
	UserAgent    string
	RequestID    string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// AuditFilter narrows audit log listings.
type AuditFilter struct {
	UserID        *uint64
	Action        string
	ResourceType  string
	Result        string
	IPAddress     string
	FailureReason string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

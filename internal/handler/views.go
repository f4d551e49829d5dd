package handler

import (
	"time"

	"github.com/iliyamo/guardian-auth/internal/model"
	"github.com/iliyamo/guardian-auth/internal/service"
	"github.com/iliyamo/guardian-auth/internal/tokens"
)

// ----- response views -----

type userView struct {
	ID          uint64     `json:"id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	FullName    string     `json:"full_name"`
	Role        string     `json:"role"`
	Roles       []string   `json:"roles,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func newUserView(u model.User, roles []string) userView {
	return userView{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		FullName:    u.FullName(),
		Role:        u.Role,
		Roles:       roles,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

type tokenView struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type authView struct {
	User  userView  `json:"user"`
	Token tokenView `json:"token"`
}

func newAuthView(s service.Session) authView {
	return authView{
		User:  newUserView(s.User, nil),
		Token: newTokenView(s.Token),
	}
}

func newTokenView(t tokens.Token) tokenView {
	return tokenView{Token: t.Raw, ExpiresAt: t.ExpiresAt}
}

type auditLogView struct {
	ID           uint64         `json:"id"`
	UserID       *uint64        `json:"user_id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   *uint64        `json:"resource_id"`
	Result       string         `json:"result"`
	IPAddress    string         `json:"ip_address"`
	UserAgent    string         `json:"user_agent"`
	RequestID    string         `json:"request_id"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

func newAuditLogView(l model.AuditLog) auditLogView {
	return auditLogView{
		ID:           l.ID,
		UserID:       l.UserID,
		Action:       l.Action,
		ResourceType: l.ResourceType,
		ResourceID:   l.ResourceID,
		Result:       l.Result,
		IPAddress:    l.IPAddress,
		UserAgent:    l.UserAgent,
		RequestID:    l.RequestID,
		Metadata:     l.Metadata,
		CreatedAt:    l.CreatedAt,
	}
}

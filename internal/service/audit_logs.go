package service

import (
	"context"
	"time"

	"github.com/iliyamo/guardian-auth/internal/apperr"
	"github.com/iliyamo/guardian-auth/internal/audit"
	"github.com/iliyamo/guardian-auth/internal/model"
	"github.com/iliyamo/guardian-auth/internal/rbac"
	"github.com/iliyamo/guardian-auth/internal/reqctx"
)

// MaxAuditPage caps the number of audit rows returned per call.
const MaxAuditPage = 100

// AuditReader lists persisted audit rows.
type AuditReader interface {
	List(ctx context.Context, f model.AuditFilter) ([]model.AuditLog, error)
}

// AuditQuery is an audit filter plus a relative time bound.
type AuditQuery struct {
	model.AuditFilter
	RecentHours int
}

type AuditService struct {
	logs  AuditReader
	audit audit.Sink
	now   func() time.Time
}

func NewAuditService(logs AuditReader, sink audit.Sink) *AuditService {
	if sink == nil {
		sink = audit.NoOpSink{}
	}
	return &AuditService{logs: logs, audit: sink, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock replaces the service's time source.
func (s *AuditService) SetClock(now func() time.Time) { s.now = now }

// List returns audit rows newest first. RecentHours narrows CreatedAfter
// when it is the tighter bound.
func (s *AuditService) List(ctx context.Context, rc reqctx.Request, q AuditQuery) ([]model.AuditLog, error) {
	if err := rbac.CanReadAuditLogs(rc.Principal()); err != nil {
		if apperr.CodeOf(err) == apperr.CodeForbidden {
			s.audit.Emit(ctx, audit.New(rc, audit.ActionAccessDenied, "AuditLog", audit.ResultBlocked).
				Because("insufficient_permissions").
				With("operation", "audit_logs"))
		}
		return nil, err
	}
	f := q.AuditFilter
	if q.RecentHours > 0 {
		since := s.now().Add(-time.Duration(q.RecentHours) * time.Hour)
		if f.CreatedAfter == nil || f.CreatedAfter.Before(since) {
			f.CreatedAfter = &since
		}
	}
	switch {
	case f.Limit <= 0:
		f.Limit = 50
	case f.Limit > MaxAuditPage:
		f.Limit = MaxAuditPage
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	logs, err := s.logs.List(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return logs, nil
}

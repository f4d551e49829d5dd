package service

import (
	"context"
	"testing"
	"time"

	"github.com/iliyamo/guardian-auth/internal/apperr"
	"github.com/iliyamo/guardian-auth/internal/audit"
	"github.com/iliyamo/guardian-auth/internal/model"
	"github.com/iliyamo/guardian-auth/internal/reqctx"
)

type captureReader struct {
	got model.AuditFilter
}

func (c *captureReader) List(_ context.Context, f model.AuditFilter) ([]model.AuditLog, error) {
	c.got = f
	return []model.AuditLog{{ID: 1, Action: audit.ActionLogin}}, nil
}

func TestAuditListRequiresPermission(t *testing.T) {
	reader := &captureReader{}
	sink := &audit.MemorySink{}
	s := NewAuditService(reader, sink)

	rc := reqctx.Request{Actor: &reqctx.Actor{User: model.User{ID: 99}, Principal: principalOf(model.RoleUser)}}
	if _, err := s.List(context.Background(), rc, AuditQuery{}); apperr.CodeOf(err) != apperr.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, ok := sink.Find(audit.ActionAccessDenied, audit.ResultBlocked); !ok {
		t.Fatalf("denial not audited")
	}
	if _, err := s.List(context.Background(), reqctx.Request{}, AuditQuery{}); apperr.CodeOf(err) != apperr.CodeAuthenticationRequired {
		t.Fatalf("expected authentication required, got %v", err)
	}
}

func TestAuditListFilters(t *testing.T) {
	reader := &captureReader{}
	s := NewAuditService(reader, nil)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	rc := reqctx.Request{Actor: &reqctx.Actor{User: model.User{ID: 99}, Principal: principalOf("auditor")}}

	old := now.Add(-48 * time.Hour)
	logs, err := s.List(context.Background(), rc, AuditQuery{
		AuditFilter: model.AuditFilter{Action: audit.ActionLogin, CreatedAfter: &old, Limit: 500},
		RecentHours: 2,
	})
	if err != nil || len(logs) != 1 {
		t.Fatalf("list: %v", err)
	}
	if reader.got.Limit != MaxAuditPage {
		t.Fatalf("limit %d, want %d", reader.got.Limit, MaxAuditPage)
	}
	if want := now.Add(-2 * time.Hour); !reader.got.CreatedAfter.Equal(want) {
		t.Fatalf("created_after %v, want %v", reader.got.CreatedAfter, want)
	}
	if reader.got.Action != audit.ActionLogin {
		t.Fatalf("action filter dropped")
	}

	if _, err := s.List(context.Background(), rc, AuditQuery{}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if reader.got.Limit != 50 || reader.got.CreatedAfter != nil {
		t.Fatalf("unexpected defaults %+v", reader.got)
	}
}

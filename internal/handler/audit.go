package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/guardian-auth/internal/apperr"
	"github.com/iliyamo/guardian-auth/internal/middleware"
	"github.com/iliyamo/guardian-auth/internal/model"
	"github.com/iliyamo/guardian-auth/internal/reqctx"
	"github.com/iliyamo/guardian-auth/internal/service"
)

// AuditAPI reads the audit trail. *service.AuditService implements it.
type AuditAPI interface {
	List(ctx context.Context, rc reqctx.Request, q service.AuditQuery) ([]model.AuditLog, error)
}

type AuditHandler struct {
	Audit AuditAPI
}

func NewAuditHandler(a AuditAPI) *AuditHandler {
	return &AuditHandler{Audit: a}
}

// List returns audit rows newest first. Filters: user_id, action,
// resource_type, result, ip_address, failure_reason, created_after,
// created_before, recent_hours, limit, offset.
func (h *AuditHandler) List(c echo.Context) error {
	var (
		q             service.AuditQuery
		userID        uint64
		after, before time.Time
	)
	err := echo.QueryParamsBinder(c).
		Uint64("user_id", &userID).
		String("action", &q.Action).
		String("resource_type", &q.ResourceType).
		String("result", &q.Result).
		String("ip_address", &q.IPAddress).
		String("failure_reason", &q.FailureReason).
		Time("created_after", &after, time.RFC3339).
		Time("created_before", &before, time.RFC3339).
		Int("recent_hours", &q.RecentHours).
		Int("limit", &q.Limit).
		Int("offset", &q.Offset).
		BindError()
	if err != nil {
		return apperr.Field("query", "Invalid query parameters")
	}
	if userID != 0 {
		q.UserID = &userID
	}
	q.CreatedAfter, q.CreatedBefore = optionalTime(after), optionalTime(before)

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	logs, err := h.Audit.List(ctx, middleware.Request(c), q)
	if err != nil {
		return err
	}
	out := make([]auditLogView, 0, len(logs))
	for _, l := range logs {
		out = append(out, newAuditLogView(l))
	}
	return ok(c, http.StatusOK, out)
}

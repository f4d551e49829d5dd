package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/iliyamo/guardian-auth/internal/model"
)

// AuditRepo appends and queries audit_logs. Rows are never updated.
type AuditRepo struct{ DB *sql.DB }

func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{DB: db} }

// Insert appends one audit row. Metadata is stored as JSON.
func (r *AuditRepo) Insert(ctx context.Context, l model.AuditLog) error {
	meta := []byte("{}")
	if len(l.Metadata) > 0 {
		b, err := json.Marshal(l.Metadata)
		if err != nil {
			return err
		}
		meta = b
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO audit_logs (user_id, action, resource_type, resource_id, result, ip_address, user_agent, request_id, metadata, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		nullUint(l.UserID), l.Action, l.ResourceType, nullUint(l.ResourceID), l.Result,
		l.IPAddress, l.UserAgent, l.RequestID, string(meta), l.CreatedAt.UTC())
	return err
}

// List returns audit rows matching f, newest first.
func (r *AuditRepo) List(ctx context.Context, f model.AuditFilter) ([]model.AuditLog, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != nil {
		where = append(where, "user_id=?")
		args = append(args, *f.UserID)
	}
	if f.Action != "" {
		where = append(where, "action=?")
		args = append(args, f.Action)
	}
	if f.ResourceType != "" {
		where = append(where, "resource_type=?")
		args = append(args, f.ResourceType)
	}
	if f.Result != "" {
		where = append(where, "result=?")
		args = append(args, f.Result)
	}
	if f.IPAddress != "" {
		where = append(where, "ip_address=?")
		args = append(args, f.IPAddress)
	}
	if f.FailureReason != "" {
		where = append(where, "JSON_UNQUOTE(JSON_EXTRACT(metadata, '$.failure_reason'))=?")
		args = append(args, f.FailureReason)
	}
	if f.CreatedAfter != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.CreatedAfter.UTC())
	}
	if f.CreatedBefore != nil {
		where = append(where, "created_at <= ?")
		args = append(args, f.CreatedBefore.UTC())
	}

	q := `SELECT id, user_id, action, resource_type, resource_id, result, ip_address, user_agent, request_id, metadata, created_at
	      FROM audit_logs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, clampLimit(f.Limit), max(f.Offset, 0))

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AuditLog
	for rows.Next() {
		var (
			l           model.AuditLog
			userID, res sql.NullInt64
			meta        sql.NullString
		)
		if err := rows.Scan(&l.ID, &userID, &l.Action, &l.ResourceType, &res, &l.Result,
			&l.IPAddress, &l.UserAgent, &l.RequestID, &meta, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.UserID = uintPtr(userID)
		l.ResourceID = uintPtr(res)
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &l.Metadata)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// DeleteOlderThan purges rows created before cutoff.
func (r *AuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM audit_logs WHERE created_at < ?", cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Package audit records security-relevant outcomes. Services call a Sink
// explicitly after each operation; the Dispatcher moves events off the
// request path and the StoreSink appends them to audit_logs.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/guardian-auth/internal/logging"
	"github.com/iliyamo/guardian-auth/internal/model"
	"github.com/iliyamo/guardian-auth/internal/reqctx"
)

// Actions.
const (
	ActionLogin                = "login"
	ActionLogout               = "logout"
	ActionLogoutAll            = "logout_all"
	ActionTokenRefresh         = "token_refresh"
	ActionRegister             = "register"
	ActionUpdate               = "update"
	ActionPasswordChange       = "password_change"
	ActionPasswordResetRequest = "password_reset_request"
	ActionPasswordReset        = "password_reset"
	ActionRoleChange           = "role_change"
	ActionUserDeletion         = "user_deletion"
	ActionAccessDenied         = "access_denied"
	ActionRateLimited          = "rate_limited"
)

// Resource types.
const (
	ResourceUser  = "User"
	ResourceToken = "Token"
	ResourceRole  = "Role"
)

// Results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultBlocked = "blocked"
)

// Event is one audit record before persistence.
type Event struct {
	Timestamp     time.Time
	Action        string
	Resource      string
	ResourceID    *uint64
	UserID        *uint64
	Result        string
	IP            string
	UserAgent     string
	RequestID     string
	FailureReason string
	Metadata      map[string]any
}

// New starts an event attributed to the request in rc. The acting user, if
// any, becomes the event's user.
func New(rc reqctx.Request, action, resource, result string) Event {
	e := Event{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Resource:  resource,
		Result:    result,
		IP:        rc.IP,
		UserAgent: rc.UserAgent,
		RequestID: rc.ID,
	}
	if id := rc.ActorID(); id != 0 {
		e.UserID = &id
	}
	return e
}

// ForUser sets the event's user.
func (e Event) ForUser(id uint64) Event {
	if id != 0 {
		e.UserID = &id
	}
	return e
}

// On sets the resource id.
func (e Event) On(id uint64) Event {
	if id != 0 {
		e.ResourceID = &id
	}
	return e
}

// Because records a failure reason.
func (e Event) Because(reason string) Event {
	e.FailureReason = reason
	return e
}

// Blocked marks the event as refused by a protective rule.
func (e Event) Blocked() Event {
	e.Result = ResultBlocked
	return e
}

// Succeeded marks the event successful.
func (e Event) Succeeded() Event {
	e.Result = ResultSuccess
	return e
}

// With adds a metadata entry.
func (e Event) With(key string, value any) Event {
	m := make(map[string]any, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		m[k] = v
	}
	m[key] = value
	e.Metadata = m
	return e
}

// Log converts the event into the persisted form. Attribution fields are
// also mirrored into metadata so they survive in exports of that column.
func (e Event) Log() model.AuditLog {
	meta := make(map[string]any, len(e.Metadata)+4)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	if e.IP != "" {
		meta["ip_address"] = e.IP
	}
	if e.UserAgent != "" {
		meta["user_agent"] = e.UserAgent
	}
	if e.RequestID != "" {
		meta["request_id"] = e.RequestID
	}
	if e.FailureReason != "" {
		meta["failure_reason"] = e.FailureReason
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return model.AuditLog{
		UserID:       e.UserID,
		Action:       e.Action,
		ResourceType: e.Resource,
		ResourceID:   e.ResourceID,
		Result:       e.Result,
		IPAddress:    e.IP,
		UserAgent:    e.UserAgent,
		RequestID:    e.RequestID,
		Metadata:     meta,
		CreatedAt:    ts,
	}
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// Store persists audit rows.
type Store interface {
	Insert(ctx context.Context, l model.AuditLog) error
}

// StoreSink writes events to a Store. Write failures are logged and
// swallowed.
type StoreSink struct {
	store Store
	log   logging.Logger
}

func NewStoreSink(store Store, log logging.Logger) *StoreSink {
	if log == nil {
		log = logging.Discard()
	}
	return &StoreSink{store: store, log: log}
}

func (s *StoreSink) Emit(ctx context.Context, event Event) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.store.Insert(ctx, event.Log()); err != nil {
		s.log.Errorf("audit: insert action=%s result=%s: %v", event.Action, event.Result, err)
	}
}

// LogSink writes failure and blocked events to the security log.
type LogSink struct {
	log logging.Logger
}

func NewLogSink(log logging.Logger) *LogSink { return &LogSink{log: log} }

func (s *LogSink) Emit(_ context.Context, e Event) {
	if e.Result == ResultSuccess {
		s.log.Debugf("audit: %s %s ip=%s request_id=%s", e.Action, e.Result, e.IP, e.RequestID)
		return
	}
	var uid uint64
	if e.UserID != nil {
		uid = *e.UserID
	}
	s.log.Warnf("security: %s %s user=%d ip=%s reason=%q request_id=%s",
		e.Action, e.Result, uid, e.IP, e.FailureReason, e.RequestID)
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemorySink) Emit(_ context.Context, e Event) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

// Events returns a copy of everything emitted so far.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Find returns the last event with the given action and result.
func (m *MemorySink) Find(action, result string) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].Action == action && m.events[i].Result == result {
			return m.events[i], true
		}
	}
	return Event{}, false
}

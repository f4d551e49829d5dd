// Package reset implements the password reset workflow: issuing single-use
// tokens, peeking at them, and consuming them to set a new password.
//
// Requests always produce the same public payload. Whether a user exists,
// is locked out or hit an internal error is only visible in the audit trail
// and the server log.
package reset

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/iliyamo/guardian-auth/internal/apperr"
	"github.com/iliyamo/guardian-auth/internal/audit"
	"github.com/iliyamo/guardian-auth/internal/logging"
	"github.com/iliyamo/guardian-auth/internal/model"
	"github.com/iliyamo/guardian-auth/internal/queue"
	"github.com/iliyamo/guardian-auth/internal/ratelimit"
	"github.com/iliyamo/guardian-auth/internal/repository"
	"github.com/iliyamo/guardian-auth/internal/reqctx"
	"github.com/iliyamo/guardian-auth/internal/utils"
	"github.com/iliyamo/guardian-auth/internal/validation"
)

// TokenTTL is the absolute lifetime of a reset token.
const TokenTTL = time.Hour

// PublicMessage is returned for every syntactically valid request.
const PublicMessage = "If the email exists, you will receive instructions to reset your password."

// Status is the true, server-side outcome of a request.
type Status string

const (
	StatusIssued       Status = "issued"
	StatusUnknownEmail Status = "unknown_email"
	StatusLockedOut    Status = "locked_out"
	StatusRateLimited  Status = "rate_limited"
	StatusFailed       Status = "failed"
)

// Payload is what callers see after a request.
type Payload struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ExpiresInHours int    `json:"expires_in_hours"`
}

func publicPayload() Payload {
	return Payload{Success: true, Message: PublicMessage, ExpiresInHours: int(TokenTTL / time.Hour)}
}

// Outcome pairs the public payload with the real status.
type Outcome struct {
	Payload Payload
	Status  Status
}

// Validation describes an active token found by Validate.
type Validation struct {
	Valid            bool
	User             model.User
	ExpiresAt        time.Time
	MinutesRemaining int
}

// UserStore is the slice of the user repository the workflow needs.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	SetResetLock(ctx context.Context, id uint64, until time.Time) error
}

// TokenStore persists reset tokens.
type TokenStore interface {
	CountSince(ctx context.Context, userID uint64, since time.Time) (int, error)
	Issue(ctx context.Context, t model.PasswordResetToken, now time.Time) (uint64, error)
	FindActive(ctx context.Context, tokenHash string, now time.Time) (model.PasswordResetToken, error)
	Consume(ctx context.Context, tokenID, userID uint64, passwordHash string, now time.Time) error
}

// Mailer enqueues reset emails for delivery.
type Mailer interface {
	PublishResetEmail(ctx context.Context, ev queue.PasswordResetEmail) error
}

// Config holds workflow settings.
type Config struct {
	FrontendURL string
	BcryptCost  int
}

type Service struct {
	cfg      Config
	users    UserStore
	tokens   TokenStore
	mailer   Mailer
	audit    audit.Sink
	validate *validation.Validator
	log      logging.Logger
	now      func() time.Time
	wg       sync.WaitGroup
}

func NewService(cfg Config, users UserStore, tokens TokenStore, mailer Mailer, sink audit.Sink, v *validation.Validator, log logging.Logger) *Service {
	if sink == nil {
		sink = audit.NoOpSink{}
	}
	if v == nil {
		v = validation.New()
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Service{
		cfg:      cfg,
		users:    users,
		tokens:   tokens,
		mailer:   mailer,
		audit:    sink,
		validate: v,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the service's time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Wait blocks until every queued email handoff has finished.
func (s *Service) Wait() { s.wg.Wait() }

type requestInput struct {
	Email string `json:"email" validate:"required,email_addr"`
}

// Request starts a reset for email. Only a malformed email is reported as
// an error; every other outcome returns the same payload.
func (s *Service) Request(ctx context.Context, rc reqctx.Request, email string) (Outcome, error) {
	in := requestInput{Email: validation.NormalizeEmail(email)}
	if err := s.validate.Struct(in); err != nil {
		return Outcome{}, err
	}
	out := Outcome{Payload: publicPayload()}
	out.Status = s.request(ctx, rc, in.Email)
	return out, nil
}

func (s *Service) request(ctx context.Context, rc reqctx.Request, email string) Status {
	ev := audit.New(rc, audit.ActionPasswordResetRequest, audit.ResourceUser, audit.ResultFailure).
		With("email", email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.audit.Emit(ctx, ev.Because("unknown_email"))
			return StatusUnknownEmail
		}
		s.log.Errorf("reset: lookup email: %v", err)
		s.audit.Emit(ctx, ev.Because("internal_error"))
		return StatusFailed
	}
	ev = ev.ForUser(user.ID).On(user.ID)
	now := s.now()

	if user.ResetLocked(now) {
		s.audit.Emit(ctx, ev.Because("locked_out").With("locked_until", user.PasswordResetLockedUntil.UTC()).Blocked())
		return StatusLockedOut
	}

	recent, err := s.tokens.CountSince(ctx, user.ID, now.Add(-ratelimit.ResetAttemptWindow))
	if err != nil {
		s.log.Errorf("reset: count attempts for user=%d: %v", user.ID, err)
		s.audit.Emit(ctx, ev.Because("internal_error"))
		return StatusFailed
	}
	attempts := recent + 1
	if d := ratelimit.ResetLockout(attempts); d > 0 {
		until := now.Add(d)
		if err := s.users.SetResetLock(ctx, user.ID, until); err != nil {
			s.log.Errorf("reset: lock user=%d: %v", user.ID, err)
		}
		s.log.Warnf("reset: user=%d locked until %s after %d attempts", user.ID, until.Format(time.RFC3339), attempts)
		s.audit.Emit(ctx, ev.Because("too_many_attempts").
			With("attempts", attempts).
			With("lockout_seconds", int(d.Seconds())).Blocked())
		return StatusRateLimited
	}

	raw, err := utils.RandomToken(utils.ResetTokenBytes)
	if err != nil {
		s.log.Errorf("reset: generate token: %v", err)
		s.audit.Emit(ctx, ev.Because("internal_error"))
		return StatusFailed
	}
	expires := now.Add(TokenTTL)
	if _, err := s.tokens.Issue(ctx, model.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: utils.HashToken(raw),
		ExpiresAt: expires,
		IPAddress: rc.IP,
		UserAgent: rc.UserAgent,
	}, now); err != nil {
		s.log.Errorf("reset: issue token for user=%d: %v", user.ID, err)
		s.audit.Emit(ctx, ev.Because("internal_error"))
		return StatusFailed
	}

	s.enqueue(ctx, queue.PasswordResetEmail{
		UserID:      user.ID,
		Email:       user.Email,
		FirstName:   user.FirstName,
		ResetURL:    queue.ResetURL(s.cfg.FrontendURL, raw),
		ExpiresAt:   expires,
		RequestedAt: now,
		RequestID:   rc.ID,
	})
	s.audit.Emit(ctx, ev.Succeeded())
	return StatusIssued
}

// enqueue hands the email to the broker without blocking the request. A
// failed handoff is logged but leaves the issued token in place.
func (s *Service) enqueue(ctx context.Context, msg queue.PasswordResetEmail) {
	if s.mailer == nil {
		s.log.Warnf("reset: no mailer configured; email for user=%d dropped", msg.UserID)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.mailer.PublishResetEmail(pubCtx, msg); err != nil {
			s.log.Errorf("security: reset email handoff failed for user=%d: %v", msg.UserID, err)
		}
	}()
}

func invalidToken() error {
	return apperr.Field("token", "Invalid or expired token")
}

// Validate looks up an active token by its raw value without using it.
func (s *Service) Validate(ctx context.Context, raw string) (Validation, error) {
	tok, user, err := s.lookup(ctx, raw)
	if err != nil {
		return Validation{}, err
	}
	remaining := tok.ExpiresAt.Sub(s.now())
	return Validation{
		Valid:            true,
		User:             user,
		ExpiresAt:        tok.ExpiresAt,
		MinutesRemaining: int(math.Ceil(remaining.Minutes())),
	}, nil
}

func (s *Service) lookup(ctx context.Context, raw string) (model.PasswordResetToken, model.User, error) {
	if raw == "" {
		return model.PasswordResetToken{}, model.User{}, apperr.Field("token", "Token is required")
	}
	tok, err := s.tokens.FindActive(ctx, utils.HashToken(raw), s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.PasswordResetToken{}, model.User{}, invalidToken()
		}
		return model.PasswordResetToken{}, model.User{}, apperr.Internal(err)
	}
	user, err := s.users.GetByID(ctx, tok.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.PasswordResetToken{}, model.User{}, invalidToken()
		}
		return model.PasswordResetToken{}, model.User{}, apperr.Internal(err)
	}
	return tok, user, nil
}

type consumeInput struct {
	NewPassword     string `json:"new_password" validate:"required,password,not_common"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=NewPassword"`
}

// Consume sets a new password using raw. The token is marked used in the
// same transaction as the password change and the watermark advance, so
// every token issued before the reset stops working. Nothing changes on
// failure.
func (s *Service) Consume(ctx context.Context, rc reqctx.Request, raw, newPassword, confirmPassword string) (model.User, error) {
	ev := audit.New(rc, audit.ActionPasswordReset, audit.ResourceUser, audit.ResultFailure)

	tok, user, err := s.lookup(ctx, raw)
	if err != nil {
		s.audit.Emit(ctx, ev.Because("invalid_token"))
		return model.User{}, err
	}
	ev = ev.ForUser(user.ID).On(user.ID)

	if err := s.validate.Struct(consumeInput{NewPassword: newPassword, ConfirmPassword: confirmPassword}); err != nil {
		s.audit.Emit(ctx, ev.Because("weak_password"))
		return model.User{}, err
	}
	if validation.ResemblesIdentity(newPassword, user.Email, user.FirstName, user.LastName) {
		s.audit.Emit(ctx, ev.Because("password_resembles_identity"))
		return model.User{}, apperr.BusinessRule("new_password", "Password must not contain your name or email")
	}

	hash, err := utils.HashPassword(newPassword, s.cfg.BcryptCost)
	if err != nil {
		return model.User{}, apperr.Internal(err)
	}
	now := s.now().Truncate(time.Millisecond)
	if err := s.tokens.Consume(ctx, tok.ID, user.ID, hash, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.audit.Emit(ctx, ev.Because("invalid_token"))
			return model.User{}, invalidToken()
		}
		s.audit.Emit(ctx, ev.Because("internal_error"))
		return model.User{}, apperr.Internal(err)
	}

	user.PasswordHash = hash
	user.TokensValidAfter = &now
	s.audit.Emit(ctx, ev.Succeeded().With("tokens_valid_after", now))
	s.log.Infof("security: password reset completed for user=%d; prior tokens invalidated", user.ID)
	return user, nil
}

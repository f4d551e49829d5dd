// Package service implements the account operations exposed over HTTP.
// Every operation takes an explicit reqctx.Request for attribution, returns
// apperr errors, and records its outcome through an audit.Sink after the
// durable write has happened.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/guardian-auth/internal/apperr"
	"github.com/iliyamo/guardian-auth/internal/audit"
	"github.com/iliyamo/guardian-auth/internal/logging"
	"github.com/iliyamo/guardian-auth/internal/model"
	"github.com/iliyamo/guardian-auth/internal/rbac"
	"github.com/iliyamo/guardian-auth/internal/repository"
	"github.com/iliyamo/guardian-auth/internal/reqctx"
	"github.com/iliyamo/guardian-auth/internal/tokens"
	"github.com/iliyamo/guardian-auth/internal/utils"
	"github.com/iliyamo/guardian-auth/internal/validation"
)

// invalidCredentials is shared by every login failure so responses never
// reveal whether the email is registered.
const invalidCredentials = "Invalid email or password"

// AccountStore is the slice of the user repository AuthService needs.
type AccountStore interface {
	Create(ctx context.Context, u model.User, roleName string, now time.Time) (uint64, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	UpdatePassword(ctx context.Context, id uint64, hash string, validAfter time.Time) error
	TouchLastLogin(ctx context.Context, id uint64, t time.Time) error
}

// TokenEngine is implemented by *tokens.Engine.
type TokenEngine interface {
	Encode(userID uint64, role string, ttl time.Duration) (tokens.Token, error)
	Validate(ctx context.Context, raw string) (*tokens.Claims, model.User, error)
	BlacklistToken(ctx context.Context, raw string, userID uint64, reason model.RevocationReason) error
	BlacklistAllForUser(ctx context.Context, userID uint64, reason model.RevocationReason) (time.Time, error)
	Refresh(ctx context.Context, raw string) (tokens.Token, model.User, error)
}

// FailureTracker counts failed logins per IP. *ratelimit.Blocker satisfies it.
type FailureTracker interface {
	RecordFailure(ctx context.Context, ip string)
	Reset(ctx context.Context, ip string)
}

// Session is a signed token and the user it belongs to.
type Session struct {
	User  model.User
	Token tokens.Token
}

type AuthConfig struct {
	BcryptCost int
}

type AuthService struct {
	cfg      AuthConfig
	users    AccountStore
	grants   rbac.GrantStore
	engine   TokenEngine
	failures FailureTracker
	audit    audit.Sink
	validate *validation.Validator
	log      logging.Logger
	now      func() time.Time
}

func NewAuthService(cfg AuthConfig, users AccountStore, grants rbac.GrantStore, engine TokenEngine,
	failures FailureTracker, sink audit.Sink, v *validation.Validator, log logging.Logger) *AuthService {
	if sink == nil {
		sink = audit.NoOpSink{}
	}
	if v == nil {
		v = validation.New()
	}
	if log == nil {
		log = logging.Discard()
	}
	return &AuthService{
		cfg:      cfg,
		users:    users,
		grants:   grants,
		engine:   engine,
		failures: failures,
		audit:    sink,
		validate: v,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the service's time source.
func (s *AuthService) SetClock(now func() time.Time) { s.now = now }

// Authenticate resolves a raw bearer token into an actor. Every failure mode
// collapses into InvalidToken; the precise reason is only logged.
func (s *AuthService) Authenticate(ctx context.Context, raw string) (*reqctx.Actor, error) {
	if raw == "" {
		return nil, apperr.AuthenticationRequired()
	}
	claims, user, err := s.engine.Validate(ctx, raw)
	if err != nil {
		s.log.Debugf("auth: token rejected: %v", err)
		return nil, apperr.InvalidToken().Wrap(err)
	}
	p, err := rbac.Load(ctx, s.grants, user.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &reqctx.Actor{User: user, Principal: p, Claims: claims, RawToken: raw}, nil
}

type RegisterInput struct {
	Email     string `json:"email" validate:"required,email_addr"`
	Password  string `json:"password" validate:"required,password,not_common"`
	FirstName string `json:"first_name" validate:"required,person_name"`
	LastName  string `json:"last_name" validate:"required,person_name"`
}

func (in *RegisterInput) normalize() {
	in.Email = validation.NormalizeEmail(in.Email)
	in.FirstName = validation.Sanitize(in.FirstName)
	in.LastName = validation.Sanitize(in.LastName)
}

// Register creates an account holding the user role and signs a first
// token for it.
func (s *AuthService) Register(ctx context.Context, rc reqctx.Request, in RegisterInput) (Session, error) {
	in.normalize()
	ev := audit.New(rc, audit.ActionRegister, audit.ResourceUser, audit.ResultFailure).With("email", in.Email)

	if err := s.validate.Struct(in); err != nil {
		s.audit.Emit(ctx, ev.Because("validation_failed"))
		return Session{}, err
	}
	if validation.ResemblesIdentity(in.Password, in.Email, in.FirstName, in.LastName) {
		s.audit.Emit(ctx, ev.Because("password_resembles_identity"))
		return Session{}, apperr.BusinessRule("password", "Password must not contain your name or email")
	}

	hash, err := utils.HashPassword(in.Password, s.cfg.BcryptCost)
	if err != nil {
		return Session{}, apperr.Internal(err)
	}
	now := s.now()
	u := model.User{
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         model.RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	id, err := s.users.Create(ctx, u, model.RoleUser, now)
	if err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			s.audit.Emit(ctx, ev.Because("email_taken"))
			return Session{}, apperr.Field("email", "Email has already been taken")
		}
		s.audit.Emit(ctx, ev.Because("internal_error"))
		return Session{}, apperr.Internal(err)
	}
	u.ID = id

	tok, err := s.engine.Encode(u.ID, u.Role, 0)
	if err != nil {
		return Session{}, apperr.Internal(err)
	}
	s.audit.Emit(ctx, ev.ForUser(id).On(id).Succeeded())
	s.log.Infof("auth: registered user=%d", id)
	return Session{User: u, Token: tok}, nil
}

type loginInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login verifies credentials. Unknown emails still pay for a bcrypt
// comparison so response times do not separate them from wrong passwords.
func (s *AuthService) Login(ctx context.Context, rc reqctx.Request, email, password string) (Session, error) {
	in := loginInput{Email: validation.NormalizeEmail(email), Password: password}
	ev := audit.New(rc, audit.ActionLogin, audit.ResourceUser, audit.ResultFailure).With("email", in.Email)

	if err := s.validate.Struct(in); err != nil {
		s.audit.Emit(ctx, ev.Because("validation_failed"))
		return Session{}, err
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.audit.Emit(ctx, ev.Because("internal_error"))
		return Session{}, apperr.Internal(err)
	}
	if err != nil {
		utils.BurnPasswordCheck(in.Password, s.cfg.BcryptCost)
		s.loginFailed(ctx, rc, ev.Because("unknown_email"))
		return Session{}, apperr.Field("email", invalidCredentials)
	}
	ev = ev.ForUser(user.ID).On(user.ID)
	if !utils.VerifyPassword(user.PasswordHash, in.Password) {
		s.loginFailed(ctx, rc, ev.Because("invalid_password"))
		return Session{}, apperr.Field("email", invalidCredentials)
	}

	tok, err := s.engine.Encode(user.ID, user.Role, 0)
	if err != nil {
		return Session{}, apperr.Internal(err)
	}
	now := s.now()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.log.Warnf("auth: touch last login for user=%d: %v", user.ID, err)
	}
	user.LastLoginAt = &now
	if s.failures != nil {
		s.failures.Reset(ctx, rc.IP)
	}
	s.audit.Emit(ctx, ev.Succeeded())
	return Session{User: user, Token: tok}, nil
}

func (s *AuthService) loginFailed(ctx context.Context, rc reqctx.Request, ev audit.Event) {
	if s.failures != nil {
		s.failures.RecordFailure(ctx, rc.IP)
	}
	s.audit.Emit(ctx, ev)
}

// Refresh exchanges raw for a new token inside the refresh window. The old
// token is not revoked and can be refreshed again until the window closes.
func (s *AuthService) Refresh(ctx context.Context, rc reqctx.Request, raw string) (Session, error) {
	ev := audit.New(rc, audit.ActionTokenRefresh, audit.ResourceToken, audit.ResultFailure)
	if raw == "" {
		s.audit.Emit(ctx, ev.Because("missing_token"))
		return Session{}, apperr.Field("token", "Token is required")
	}
	tok, user, err := s.engine.Refresh(ctx, raw)
	if err != nil {
		s.log.Debugf("auth: refresh rejected: %v", err)
		s.audit.Emit(ctx, ev.Because(refreshFailure(err)))
		return Session{}, apperr.InvalidToken().Wrap(err)
	}
	s.audit.Emit(ctx, ev.ForUser(user.ID).On(user.ID).Succeeded())
	return Session{User: user, Token: tok}, nil
}

func refreshFailure(err error) string {
	switch {
	case errors.Is(err, tokens.ErrRefreshWindow):
		return "refresh_window_elapsed"
	case errors.Is(err, tokens.ErrRevoked):
		return "token_revoked"
	case errors.Is(err, tokens.ErrSuperseded):
		return "token_superseded"
	case errors.Is(err, tokens.ErrUnknownSubject):
		return "unknown_user"
	}
	return "invalid_token"
}

// Logout revokes the token the caller authenticated with.
func (s *AuthService) Logout(ctx context.Context, rc reqctx.Request) error {
	if !rc.Authenticated() {
		return apperr.AuthenticationRequired()
	}
	uid := rc.ActorID()
	ev := audit.New(rc, audit.ActionLogout, audit.ResourceToken, audit.ResultFailure)
	if c := rc.Actor.Claims; c != nil {
		ev = ev.With("jti", c.ID)
	}
	if err := s.engine.BlacklistToken(ctx, rc.Actor.RawToken, uid, model.ReasonLogout); err != nil {
		s.audit.Emit(ctx, ev.Because("internal_error"))
		return apperr.Internal(err)
	}
	s.audit.Emit(ctx, ev.Succeeded())
	return nil
}

// LogoutAll advances the caller's watermark after reconfirming the password.
func (s *AuthService) LogoutAll(ctx context.Context, rc reqctx.Request, password string) (time.Time, error) {
	if !rc.Authenticated() {
		return time.Time{}, apperr.AuthenticationRequired()
	}
	user := rc.Actor.User
	ev := audit.New(rc, audit.ActionLogoutAll, audit.ResourceUser, audit.ResultFailure).On(user.ID)

	if password == "" {
		s.audit.Emit(ctx, ev.Because("missing_password"))
		return time.Time{}, apperr.Field("password", "Password is required")
	}
	if !utils.VerifyPassword(user.PasswordHash, password) {
		s.audit.Emit(ctx, ev.Because("invalid_password"))
		return time.Time{}, apperr.Field("password", "Invalid password")
	}
	at, err := s.engine.BlacklistAllForUser(ctx, user.ID, model.ReasonSecurityBreach)
	if err != nil {
		s.audit.Emit(ctx, ev.Because("internal_error"))
		return time.Time{}, apperr.Internal(err)
	}
	s.audit.Emit(ctx, ev.Succeeded().With("tokens_valid_after", at))
	return at, nil
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,password,not_common,nefield=CurrentPassword"`
}

// ChangePassword replaces the caller's password and invalidates every token
// issued before the change. The returned session carries a token issued
// after the new watermark so the caller stays signed in.
func (s *AuthService) ChangePassword(ctx context.Context, rc reqctx.Request, in ChangePasswordInput) (Session, error) {
	if !rc.Authenticated() {
		return Session{}, apperr.AuthenticationRequired()
	}
	user := rc.Actor.User
	ev := audit.New(rc, audit.ActionPasswordChange, audit.ResourceUser, audit.ResultFailure).On(user.ID)

	if in.CurrentPassword == "" || !utils.VerifyPassword(user.PasswordHash, in.CurrentPassword) {
		s.audit.Emit(ctx, ev.Because("invalid_current_password"))
		return Session{}, apperr.Field("current_password", "Current password is incorrect")
	}
	if err := s.validate.Struct(in); err != nil {
		s.audit.Emit(ctx, ev.Because("weak_password"))
		return Session{}, err
	}
	if validation.ResemblesIdentity(in.NewPassword, user.Email, user.FirstName, user.LastName) {
		s.audit.Emit(ctx, ev.Because("password_resembles_identity"))
		return Session{}, apperr.BusinessRule("new_password", "Password must not contain your name or email")
	}

	hash, err := utils.HashPassword(in.NewPassword, s.cfg.BcryptCost)
	if err != nil {
		return Session{}, apperr.Internal(err)
	}
	at := s.now().Truncate(time.Millisecond)
	if err := s.users.UpdatePassword(ctx, user.ID, hash, at); err != nil {
		s.audit.Emit(ctx, ev.Because("internal_error"))
		return Session{}, apperr.Internal(err)
	}
	user.PasswordHash = hash
	user.TokensValidAfter = &at

	tok, err := s.engine.Encode(user.ID, user.Role, 0)
	if err != nil {
		return Session{}, apperr.Internal(err)
	}
	s.audit.Emit(ctx, ev.Succeeded().With("tokens_valid_after", at))
	s.log.Infof("security: password changed for user=%d; prior tokens invalidated", user.ID)
	return Session{User: user, Token: tok}, nil
}

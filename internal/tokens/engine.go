// Package tokens issues, validates and revokes signed access tokens.
//
// A token is valid when its HS256 signature and expiry check out, its jti is
// not blacklisted, and it was issued at or after the owner's
// tokens_valid_after watermark. Blacklist and watermark lookups always go to
// the durable store.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iliyamo/guardian-auth/internal/logging"
	"github.com/iliyamo/guardian-auth/internal/model"
)

var (
	ErrExpired          = errors.New("token expired")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrMalformed        = errors.New("token malformed")
	ErrRevoked          = errors.New("token revoked")
	ErrSuperseded       = errors.New("token issued before watermark")
	ErrRefreshWindow    = errors.New("token outside refresh window")
	ErrUnknownSubject   = errors.New("token subject not found")
)

// DefaultRefreshWindow bounds how long after expiry a token may still be
// exchanged for a new one.
const DefaultRefreshWindow = 7 * 24 * time.Hour

// Claims are the JWT claims carried by every access token. IssuedAtMillis
// duplicates iat at millisecond precision so watermark comparisons are not
// rounded to whole seconds.
type Claims struct {
	Role           string `json:"role"`
	IssuedAtMillis int64  `json:"iat_ms,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (uint64, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrMalformed
	}
	return id, nil
}

// IssuedAtTime returns the issue instant, preferring the millisecond claim.
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAtMillis > 0 {
		return time.UnixMilli(c.IssuedAtMillis).UTC()
	}
	if c.IssuedAt != nil {
		return c.IssuedAt.Time.UTC()
	}
	return time.Time{}
}

// Token is a freshly signed JWT.
type Token struct {
	Raw       string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// BlacklistStore persists revoked token identifiers.
type BlacklistStore interface {
	Add(ctx context.Context, t model.BlacklistedToken) error
	Contains(ctx context.Context, jti string) (bool, error)
}

// UserStore is the slice of the user repository the engine needs.
type UserStore interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
	SetTokensValidAfter(ctx context.Context, id uint64, t time.Time) error
	TouchLastLogin(ctx context.Context, id uint64, t time.Time) error
}

// Config holds signing parameters.
type Config struct {
	Secret        string
	TTL           time.Duration
	RefreshWindow time.Duration
	Issuer        string
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg       Config
	key       []byte
	blacklist BlacklistStore
	users     UserStore
	log       logging.Logger
	now       func() time.Time
}

func NewEngine(cfg Config, blacklist BlacklistStore, users UserStore, log logging.Logger) *Engine {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = DefaultRefreshWindow
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Engine{
		cfg:       cfg,
		key:       []byte(cfg.Secret),
		blacklist: blacklist,
		users:     users,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the engine's time source.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// TTL is the lifetime of tokens issued by Encode with ttl <= 0.
func (e *Engine) TTL() time.Duration { return e.cfg.TTL }

// Encode signs a new token for userID with a fresh jti. A non-positive ttl
// uses the configured default.
func (e *Engine) Encode(userID uint64, role string, ttl time.Duration) (Token, error) {
	if ttl <= 0 {
		ttl = e.cfg.TTL
	}
	now := e.now()
	exp := now.Add(ttl)
	jti := uuid.New().String()
	claims := Claims{
		Role:           role,
		IssuedAtMillis: now.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			Issuer:    e.cfg.Issuer,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(e.key)
	if err != nil {
		return Token{}, err
	}
	return Token{Raw: signed, JTI: jti, IssuedAt: now, ExpiresAt: exp}, nil
}

func (e *Engine) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ErrInvalidSignature
	}
	return e.key, nil
}

func (e *Engine) parse(raw string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(e.now),
		jwt.WithExpirationRequired(),
	)
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, e.keyFunc, opts...)
	if err != nil {
		return nil, classify(err)
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

// Decode verifies signature and expiry. The returned error is one of
// ErrExpired, ErrInvalidSignature or ErrMalformed and is meant for logs
// only; callers should answer with a generic authentication error.
func (e *Engine) Decode(raw string) (*Claims, error) {
	return e.parse(raw)
}

// DecodeAllowingExpired verifies the signature but ignores expiry. It is for
// the refresh flow only and must never back an authorization decision.
func (e *Engine) DecodeAllowingExpired(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, e.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, classify(err)
	}
	return claims, nil
}

// Validate runs the full authentication gate: decode, blacklist, watermark.
// On success it returns the claims and the token's owner.
func (e *Engine) Validate(ctx context.Context, raw string) (*Claims, model.User, error) {
	claims, err := e.Decode(raw)
	if err != nil {
		return nil, model.User{}, err
	}
	user, err := e.checkRevocation(ctx, claims)
	if err != nil {
		return nil, model.User{}, err
	}
	return claims, user, nil
}

func (e *Engine) checkRevocation(ctx context.Context, claims *Claims) (model.User, error) {
	if claims.ID == "" {
		return model.User{}, ErrMalformed
	}
	revoked, err := e.blacklist.Contains(ctx, claims.ID)
	if err != nil {
		return model.User{}, fmt.Errorf("blacklist lookup: %w", err)
	}
	if revoked {
		return model.User{}, ErrRevoked
	}
	uid, _ := claims.UserID()
	user, err := e.users.GetByID(ctx, uid)
	if err != nil {
		return model.User{}, fmt.Errorf("%w: %v", ErrUnknownSubject, err)
	}
	if user.TokensValidAfter != nil && claims.IssuedAtTime().Before(user.TokensValidAfter.Truncate(time.Millisecond)) {
		return model.User{}, ErrSuperseded
	}
	return user, nil
}

// IsValid reports whether raw passes Validate. Store failures count as
// invalid.
func (e *Engine) IsValid(ctx context.Context, raw string) bool {
	_, _, err := e.Validate(ctx, raw)
	if err != nil {
		e.log.Debugf("tokens: rejected token: %v", err)
	}
	return err == nil
}

// Authenticate returns the owner of a valid token, or nil.
func (e *Engine) Authenticate(ctx context.Context, raw string) *model.User {
	_, user, err := e.Validate(ctx, raw)
	if err != nil {
		e.log.Debugf("tokens: authentication failed: %v", err)
		return nil
	}
	return &user
}

// BlacklistToken revokes a single token. The signature is not required to
// verify, so expired or otherwise unusable tokens can still be revoked.
// Revoking the same token twice is not an error.
func (e *Engine) BlacklistToken(ctx context.Context, raw string, userID uint64, reason model.RevocationReason) error {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return ErrMalformed
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return ErrMalformed
	}
	if userID == 0 {
		if id, err := claims.UserID(); err == nil {
			userID = id
		}
	}
	if !reason.Valid() {
		reason = model.ReasonLogout
	}
	return e.blacklist.Add(ctx, model.BlacklistedToken{
		JTI:       claims.ID,
		UserID:    userID,
		Reason:    reason,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
		CreatedAt: e.now(),
	})
}

// BlacklistAllForUser advances the user's watermark to now, invalidating
// every token issued before this instant. It returns the new watermark.
func (e *Engine) BlacklistAllForUser(ctx context.Context, userID uint64, reason model.RevocationReason) (time.Time, error) {
	now := e.now().Truncate(time.Millisecond)
	if err := e.users.SetTokensValidAfter(ctx, userID, now); err != nil {
		return time.Time{}, err
	}
	e.log.Infof("tokens: all tokens revoked for user=%d reason=%s", userID, reason)
	return now, nil
}

// Refresh exchanges a token, expired or not, for a new one as long as its
// expiry lies within the refresh window. Revoked and superseded tokens are
// refused like they are for authentication. The presented token is not
// revoked; it may be refreshed again until the window closes.
func (e *Engine) Refresh(ctx context.Context, raw string) (Token, model.User, error) {
	claims, err := e.DecodeAllowingExpired(raw)
	if err != nil {
		return Token{}, model.User{}, err
	}
	if claims.Subject == "" || claims.ExpiresAt == nil {
		return Token{}, model.User{}, ErrMalformed
	}
	if _, err := claims.UserID(); err != nil {
		return Token{}, model.User{}, err
	}
	now := e.now()
	if claims.ExpiresAt.Time.Before(now.Add(-e.cfg.RefreshWindow)) {
		return Token{}, model.User{}, ErrRefreshWindow
	}
	user, err := e.checkRevocation(ctx, claims)
	if err != nil {
		return Token{}, model.User{}, err
	}
	tok, err := e.Encode(user.ID, user.Role, 0)
	if err != nil {
		return Token{}, model.User{}, err
	}
	if err := e.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		e.log.Warnf("tokens: touch last login for user=%d: %v", user.ID, err)
	}
	return tok, user, nil
}

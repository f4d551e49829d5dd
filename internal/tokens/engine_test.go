package tokens

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/guardian-auth/internal/model"
)

type fakeBlacklist struct {
	mu   sync.Mutex
	rows map[string]model.BlacklistedToken
}

func (f *fakeBlacklist) Add(_ context.Context, t model.BlacklistedToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[t.JTI]; !ok {
		f.rows[t.JTI] = t
	}
	return nil
}

func (f *fakeBlacklist) Contains(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[jti]
	return ok, nil
}

type fakeUsers struct {
	mu      sync.Mutex
	users   map[uint64]model.User
	touched map[uint64]time.Time
}

func (f *fakeUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return model.User{}, errors.New("not found")
	}
	return u, nil
}

func (f *fakeUsers) SetTokensValidAfter(_ context.Context, id uint64, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[id]
	u.TokensValidAfter = &t
	f.users[id] = u
	return nil
}

func (f *fakeUsers) TouchLastLogin(_ context.Context, id uint64, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[id] = t
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine(t *testing.T) (*Engine, *fakeBlacklist, *fakeUsers, *clock) {
	t.Helper()
	bl := &fakeBlacklist{rows: map[string]model.BlacklistedToken{}}
	users := &fakeUsers{
		users: map[uint64]model.User{
			1: {ID: 1, Email: "a@x.com", Role: "user"},
			2: {ID: 2, Email: "b@x.com", Role: "admin"},
		},
		touched: map[uint64]time.Time{},
	}
	clk := &clock{t: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	e := NewEngine(Config{Secret: "test-secret", TTL: time.Hour}, bl, users, nil)
	e.SetClock(clk.now)
	return e, bl, users, clk
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e, _, _, clk := newTestEngine(t)
	tok, err := e.Encode(1, "user", 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !tok.ExpiresAt.Equal(clk.t.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", tok.ExpiresAt)
	}
	claims, err := e.Decode(tok.Raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if id, _ := claims.UserID(); id != 1 || claims.Role != "user" || claims.ID != tok.JTI {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.IssuedAtTime().Equal(clk.t) {
		t.Fatalf("iat = %v, want %v", claims.IssuedAtTime(), clk.t)
	}
}

func TestEncodeUsesUniqueJTI(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	a, _ := e.Encode(1, "user", 0)
	b, _ := e.Encode(1, "user", 0)
	if a.JTI == b.JTI || a.Raw == b.Raw {
		t.Fatalf("expected distinct tokens")
	}
}

func TestDecodeFailureModes(t *testing.T) {
	e, _, _, clk := newTestEngine(t)
	tok, _ := e.Encode(1, "user", time.Minute)

	other := NewEngine(Config{Secret: "other-secret"}, nil, nil, nil)
	other.SetClock(clk.now)
	foreign, _ := other.Encode(1, "user", time.Minute)

	if _, err := e.Decode(foreign.Raw); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("foreign secret: got %v", err)
	}
	if _, err := e.Decode("not-a-jwt"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("garbage: got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "1", "exp": clk.t.Add(time.Hour).Unix()})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := e.Decode(unsigned); err == nil {
		t.Fatalf("alg=none must be rejected")
	}

	clk.advance(2 * time.Minute)
	if _, err := e.Decode(tok.Raw); !errors.Is(err, ErrExpired) {
		t.Fatalf("expired: got %v", err)
	}
	if _, err := e.DecodeAllowingExpired(tok.Raw); err != nil {
		t.Fatalf("DecodeAllowingExpired: %v", err)
	}
}

func TestTamperedTokenAlwaysFails(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	tok, _ := e.Encode(1, "user", 0)
	raw := []byte(tok.Raw)
	for i := range raw {
		if raw[i] == '.' {
			continue
		}
		flipped := make([]byte, len(raw))
		copy(flipped, raw)
		flipped[i] ^= 0x01
		if string(flipped) == tok.Raw {
			continue
		}
		if _, err := e.Decode(string(flipped)); err == nil {
			// A flip in the final base64 character's padding bits can decode
			// to identical bytes; anything else must fail.
			if i != len(raw)-1 {
				t.Fatalf("tampered token at byte %d decoded successfully", i)
			}
		}
	}
}

func TestBlacklistTokenInvalidates(t *testing.T) {
	e, bl, _, _ := newTestEngine(t)
	ctx := context.Background()
	tok, _ := e.Encode(1, "user", 0)
	if !e.IsValid(ctx, tok.Raw) {
		t.Fatalf("fresh token should be valid")
	}
	if err := e.BlacklistToken(ctx, tok.Raw, 1, model.ReasonLogout); err != nil {
		t.Fatalf("BlacklistToken: %v", err)
	}
	if err := e.BlacklistToken(ctx, tok.Raw, 1, model.ReasonLogout); err != nil {
		t.Fatalf("second BlacklistToken should be idempotent: %v", err)
	}
	if e.IsValid(ctx, tok.Raw) {
		t.Fatalf("blacklisted token should be invalid")
	}
	row := bl.rows[tok.JTI]
	if !row.ExpiresAt.Equal(tok.ExpiresAt.Truncate(time.Second)) || row.Reason != model.ReasonLogout {
		t.Fatalf("unexpected blacklist row %+v", row)
	}
	if _, _, err := e.Validate(ctx, tok.Raw); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestBlacklistTokenAcceptsExpiredAndForeignTokens(t *testing.T) {
	e, bl, _, clk := newTestEngine(t)
	tok, _ := e.Encode(1, "user", time.Minute)
	clk.advance(time.Hour)
	if err := e.BlacklistToken(context.Background(), tok.Raw, 0, model.ReasonSecurityBreach); err != nil {
		t.Fatalf("expired token should be revocable: %v", err)
	}
	if bl.rows[tok.JTI].UserID != 1 {
		t.Fatalf("user id should default to the subject claim")
	}
	if err := e.BlacklistToken(context.Background(), "garbage", 1, model.ReasonLogout); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestBlacklistAllForUserOnlyAffectsThatUser(t *testing.T) {
	e, _, _, clk := newTestEngine(t)
	ctx := context.Background()
	a1, _ := e.Encode(1, "user", 0)
	b1, _ := e.Encode(2, "admin", 0)

	clk.advance(5 * time.Millisecond)
	if _, err := e.BlacklistAllForUser(ctx, 1, model.ReasonAdminLogout); err != nil {
		t.Fatalf("BlacklistAllForUser: %v", err)
	}
	clk.advance(5 * time.Millisecond)
	a2, _ := e.Encode(1, "user", 0)

	if e.IsValid(ctx, a1.Raw) {
		t.Fatalf("token issued before watermark must be invalid")
	}
	if _, _, err := e.Validate(ctx, a1.Raw); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	if !e.IsValid(ctx, a2.Raw) {
		t.Fatalf("token issued after watermark must be valid")
	}
	if !e.IsValid(ctx, b1.Raw) {
		t.Fatalf("other users' tokens must be unaffected")
	}
}

func TestValidateUnknownSubject(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	tok, _ := e.Encode(99, "user", 0)
	if u := e.Authenticate(context.Background(), tok.Raw); u != nil {
		t.Fatalf("expected nil user for unknown subject")
	}
}

func TestRefreshWithinWindow(t *testing.T) {
	e, bl, users, clk := newTestEngine(t)
	ctx := context.Background()
	tok, _ := e.Encode(1, "user", time.Hour)

	clk.advance(3 * 24 * time.Hour)
	fresh, user, err := e.Refresh(ctx, tok.Raw)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if user.ID != 1 || fresh.JTI == tok.JTI {
		t.Fatalf("unexpected refresh result %+v %+v", user, fresh)
	}
	if !fresh.ExpiresAt.Equal(clk.t.Add(time.Hour)) {
		t.Fatalf("fresh token should have a new expiry")
	}
	if !users.touched[1].Equal(clk.t) {
		t.Fatalf("last login not touched")
	}
	if _, revoked := bl.rows[tok.JTI]; revoked {
		t.Fatalf("refresh must not revoke the presented token")
	}
	// the same token stays refreshable inside the window
	if _, _, err := e.Refresh(ctx, tok.Raw); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
}

func TestRefreshOutsideWindow(t *testing.T) {
	e, _, _, clk := newTestEngine(t)
	tok, _ := e.Encode(1, "user", time.Hour)
	clk.advance(time.Hour + DefaultRefreshWindow + time.Second)
	if _, _, err := e.Refresh(context.Background(), tok.Raw); !errors.Is(err, ErrRefreshWindow) {
		t.Fatalf("expected ErrRefreshWindow, got %v", err)
	}
}

func TestRefreshRejectsTamperedAndRevoked(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	tok, _ := e.Encode(1, "user", 0)

	parts := strings.Split(tok.Raw, ".")
	parts[2] = strings.Repeat("A", len(parts[2]))
	if _, _, err := e.Refresh(ctx, strings.Join(parts, ".")); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	_ = e.BlacklistToken(ctx, tok.Raw, 1, model.ReasonLogout)
	if _, _, err := e.Refresh(ctx, tok.Raw); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestRefreshUnknownSubject(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	tok, _ := e.Encode(42, "user", 0)
	if _, _, err := e.Refresh(context.Background(), tok.Raw); !errors.Is(err, ErrUnknownSubject) {
		t.Fatalf("expected ErrUnknownSubject, got %v", err)
	}
}

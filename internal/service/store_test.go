package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/guardian-auth/internal/audit"
	"github.com/iliyamo/guardian-auth/internal/model"
	"github.com/iliyamo/guardian-auth/internal/rbac"
	"github.com/iliyamo/guardian-auth/internal/repository"
	"github.com/iliyamo/guardian-auth/internal/reqctx"
	"github.com/iliyamo/guardian-auth/internal/tokens"
	"github.com/iliyamo/guardian-auth/internal/utils"
)

var rolePermissions = map[string][]string{
	model.RoleAdmin: {
		"users:create", "users:read", "users:update", "users:delete", "users:read_own", "users:update_own", "users:list",
		"roles:create", "roles:read", "roles:update", "roles:delete", "roles:assign",
		"system:admin", "system:health_check", "audit_logs:read",
	},
	model.RoleUser: {"users:read_own", "users:update_own", "system:health_check"},
	"auditor":      {"audit_logs:read"},
}

// memDB stands in for the user, role and blacklist repositories.
type memDB struct {
	mu        sync.Mutex
	users     map[uint64]model.User
	grants    map[uint64][]string
	blacklist map[string]model.BlacklistedToken
	nextID    uint64
	// failGrants, when set, fails every role write before anything changes.
	failGrants error
}

func newMemDB() *memDB {
	return &memDB{
		users:     map[uint64]model.User{},
		grants:    map[uint64][]string{},
		blacklist: map[string]model.BlacklistedToken{},
	}
}

func (m *memDB) Create(_ context.Context, u model.User, roleName string, now time.Time) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return 0, repository.ErrEmailExists
		}
	}
	m.nextID++
	u.ID = m.nextID
	u.Role = roleName
	u.CreatedAt, u.UpdatedAt = now, now
	m.users[u.ID] = u
	m.grants[u.ID] = []string{roleName}
	return u.ID, nil
}

func (m *memDB) GetByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (m *memDB) GetByID(_ context.Context, id uint64) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (m *memDB) List(_ context.Context, f model.UserFilter) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.User
	for _, u := range m.users {
		if f.Search != "" && !strings.Contains(u.Email, f.Search) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memDB) UpdateProfile(_ context.Context, id uint64, ch model.ProfileChanges, touch bool, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.changedProfile(id, ch, touch, now)
	if err != nil {
		return err
	}
	m.users[id] = u
	return nil
}

func (m *memDB) UpdateProfileAndRoles(_ context.Context, id uint64, ch model.ProfileChanges, touch bool, g model.RoleGrant, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGrants != nil {
		return m.failGrants
	}
	u, err := m.changedProfile(id, ch, touch, now)
	if err != nil {
		return err
	}
	u.Role = g.Primary
	m.users[id] = u
	m.grants[id] = roleNames(g.Roles)
	return nil
}

// changedProfile returns the user with ch applied without storing it.
func (m *memDB) changedProfile(id uint64, ch model.ProfileChanges, touch bool, now time.Time) (model.User, error) {
	u, ok := m.users[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	if ch.Email != nil {
		for oid, other := range m.users {
			if oid != id && strings.EqualFold(other.Email, *ch.Email) {
				return model.User{}, repository.ErrEmailExists
			}
		}
		u.Email = *ch.Email
	}
	if ch.FirstName != nil {
		u.FirstName = *ch.FirstName
	}
	if ch.LastName != nil {
		u.LastName = *ch.LastName
	}
	if touch {
		u.ProfileUpdatedAt = &now
	}
	u.UpdatedAt = now
	return u, nil
}

func (m *memDB) UpdatePassword(_ context.Context, id uint64, hash string, validAfter time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = hash
	u.TokensValidAfter = &validAfter
	m.users[id] = u
	return nil
}

func (m *memDB) SetTokensValidAfter(_ context.Context, id uint64, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.TokensValidAfter = &t
	m.users[id] = u
	return nil
}

func (m *memDB) TouchLastLogin(_ context.Context, id uint64, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[id]
	u.LastLoginAt = &t
	m.users[id] = u
	return nil
}

func (m *memDB) Delete(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.users, id)
	delete(m.grants, id)
	return nil
}

func (m *memDB) RolesForUser(_ context.Context, id uint64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.grants[id]...), nil
}

func (m *memDB) PermissionsForUser(_ context.Context, id uint64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, r := range m.grants[id] {
		out = append(out, rolePermissions[r]...)
	}
	return out, nil
}

func (m *memDB) ByNames(_ context.Context, names []string) ([]model.Role, error) {
	var out []model.Role
	for i, n := range names {
		if _, ok := rolePermissions[n]; ok {
			out = append(out, model.Role{ID: uint64(i + 1), Name: n})
		}
	}
	return out, nil
}

func (m *memDB) ReplaceUserRoles(_ context.Context, id uint64, roles []model.Role, primary string, _ uint64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	if m.failGrants != nil {
		return m.failGrants
	}
	m.grants[id] = roleNames(roles)
	u.Role = primary
	m.users[id] = u
	return nil
}

func roleNames(roles []model.Role) []string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names
}

func (m *memDB) Add(_ context.Context, t model.BlacklistedToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blacklist[t.JTI]; !ok {
		m.blacklist[t.JTI] = t
	}
	return nil
}

func (m *memDB) Contains(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blacklist[jti]
	return ok, nil
}

// seed inserts a user with the given roles and password.
func (m *memDB) seed(t *testing.T, email, password, first, last string, roles ...string) model.User {
	t.Helper()
	hash, err := utils.HashPassword(password, 4)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u := model.User{ID: m.nextID, Email: email, PasswordHash: hash, FirstName: first, LastName: last, Role: PrimaryRole(roles)}
	m.users[u.ID] = u
	m.grants[u.ID] = roles
	return u
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type failureLog struct {
	mu       sync.Mutex
	failures map[string]int
	resets   int
}

func (f *failureLog) RecordFailure(_ context.Context, ip string) {
	f.mu.Lock()
	f.failures[ip]++
	f.mu.Unlock()
}

func (f *failureLog) Reset(_ context.Context, ip string) {
	f.mu.Lock()
	delete(f.failures, ip)
	f.resets++
	f.mu.Unlock()
}

type fixture struct {
	db       *memDB
	clock    *clock
	engine   *tokens.Engine
	auth     *AuthService
	users    *UserService
	logs     *AuditService
	sink     *audit.MemorySink
	failures *failureLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newMemDB()
	clk := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	engine := tokens.NewEngine(tokens.Config{Secret: "test-secret", TTL: time.Hour}, db, db, nil)
	engine.SetClock(clk.now)
	sink := &audit.MemorySink{}
	failures := &failureLog{failures: map[string]int{}}

	auth := NewAuthService(AuthConfig{BcryptCost: 4}, db, db, engine, failures, sink, nil, nil)
	auth.SetClock(clk.now)
	users := NewUserService(db, db, sink, nil, nil)
	users.SetClock(clk.now)
	return &fixture{db: db, clock: clk, engine: engine, auth: auth, users: users, sink: sink, failures: failures}
}

// as builds a request context authenticated as u.
func (f *fixture) as(t *testing.T, u model.User) reqctx.Request {
	t.Helper()
	tok, err := f.engine.Encode(u.ID, u.Role, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	actor, err := f.auth.Authenticate(context.Background(), tok.Raw)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	return reqctx.Request{ID: "req-1", IP: "203.0.113.9", UserAgent: "test", Actor: actor}
}

func principalOf(roles ...string) *rbac.Principal {
	var perms []string
	for _, r := range roles {
		perms = append(perms, rolePermissions[r]...)
	}
	return rbac.NewPrincipal(99, roles, perms)
}

package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/guardian-auth/internal/apperr"
	"github.com/iliyamo/guardian-auth/internal/audit"
	"github.com/iliyamo/guardian-auth/internal/logging"
	"github.com/iliyamo/guardian-auth/internal/model"
	"github.com/iliyamo/guardian-auth/internal/rbac"
	"github.com/iliyamo/guardian-auth/internal/repository"
	"github.com/iliyamo/guardian-auth/internal/reqctx"
	"github.com/iliyamo/guardian-auth/internal/validation"
)

// UserStore is the slice of the user repository UserService needs.
type UserStore interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
	List(ctx context.Context, f model.UserFilter) ([]model.User, error)
	UpdateProfile(ctx context.Context, id uint64, ch model.ProfileChanges, touchCadence bool, now time.Time) error
	UpdateProfileAndRoles(ctx context.Context, id uint64, ch model.ProfileChanges, touchCadence bool, g model.RoleGrant, now time.Time) error
	Delete(ctx context.Context, id uint64) error
}

// RoleStore is the slice of the role repository UserService needs.
type RoleStore interface {
	rbac.GrantStore
	ByNames(ctx context.Context, names []string) ([]model.Role, error)
	ReplaceUserRoles(ctx context.Context, userID uint64, roles []model.Role, primary string, grantedBy uint64, now time.Time) error
}

// Profile is a user together with its granted role names.
type Profile struct {
	User  model.User
	Roles []string
}

// ProfileInput carries the identity fields a caller may change. Nil fields
// are left untouched.
type ProfileInput struct {
	Email     *string `json:"email" validate:"omitempty,email_addr"`
	FirstName *string `json:"first_name" validate:"omitempty,person_name"`
	LastName  *string `json:"last_name" validate:"omitempty,person_name"`
}

func (in *ProfileInput) normalize() {
	if in.Email != nil {
		e := validation.NormalizeEmail(*in.Email)
		in.Email = &e
	}
	if in.FirstName != nil {
		n := validation.Sanitize(*in.FirstName)
		in.FirstName = &n
	}
	if in.LastName != nil {
		n := validation.Sanitize(*in.LastName)
		in.LastName = &n
	}
}

func (in ProfileInput) changes() model.ProfileChanges {
	return model.ProfileChanges{Email: in.Email, FirstName: in.FirstName, LastName: in.LastName}
}

// UserUpdateInput is ProfileInput plus the role field, which only admins
// may set.
type UserUpdateInput struct {
	ProfileInput
	Role *string `json:"role"`
}

type UserService struct {
	users    UserStore
	roles    RoleStore
	audit    audit.Sink
	validate *validation.Validator
	log      logging.Logger
	now      func() time.Time
}

func NewUserService(users UserStore, roles RoleStore, sink audit.Sink, v *validation.Validator, log logging.Logger) *UserService {
	if sink == nil {
		sink = audit.NoOpSink{}
	}
	if v == nil {
		v = validation.New()
	}
	if log == nil {
		log = logging.Discard()
	}
	return &UserService{
		users:    users,
		roles:    roles,
		audit:    sink,
		validate: v,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the service's time source.
func (s *UserService) SetClock(now func() time.Time) { s.now = now }

// denied records a refused authorization and passes err through.
func (s *UserService) denied(ctx context.Context, rc reqctx.Request, operation string, targetID uint64, err error) error {
	if apperr.CodeOf(err) == apperr.CodeForbidden {
		s.audit.Emit(ctx, audit.New(rc, audit.ActionAccessDenied, audit.ResourceUser, audit.ResultBlocked).
			On(targetID).
			Because("insufficient_permissions").
			With("operation", operation))
	}
	return err
}

func (s *UserService) load(ctx context.Context, id uint64) (model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.User{}, apperr.NotFound("User")
		}
		return model.User{}, apperr.Internal(err)
	}
	return u, nil
}

func (s *UserService) profile(ctx context.Context, u model.User) (Profile, error) {
	roles, err := s.roles.RolesForUser(ctx, u.ID)
	if err != nil {
		return Profile{}, apperr.Internal(err)
	}
	return Profile{User: u, Roles: roles}, nil
}

// Me returns the caller's own record.
func (s *UserService) Me(ctx context.Context, rc reqctx.Request) (Profile, error) {
	if !rc.Authenticated() {
		return Profile{}, apperr.AuthenticationRequired()
	}
	u, err := s.load(ctx, rc.ActorID())
	if err != nil {
		return Profile{}, err
	}
	return s.profile(ctx, u)
}

// GetUser returns a user the caller may view.
func (s *UserService) GetUser(ctx context.Context, rc reqctx.Request, id uint64) (Profile, error) {
	if err := rbac.CanViewUser(rc.Principal(), id); err != nil {
		return Profile{}, s.denied(ctx, rc, "user", id, err)
	}
	u, err := s.load(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	return s.profile(ctx, u)
}

// ListUsers returns users matching f.
func (s *UserService) ListUsers(ctx context.Context, rc reqctx.Request, f model.UserFilter) ([]model.User, error) {
	if err := rbac.CanListUsers(rc.Principal()); err != nil {
		return nil, s.denied(ctx, rc, "users", 0, err)
	}
	f.Search = validation.Sanitize(f.Search)
	f.Role = strings.TrimSpace(f.Role)
	users, err := s.users.List(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return users, nil
}

// UpdateOwnProfile changes the caller's identity fields.
func (s *UserService) UpdateOwnProfile(ctx context.Context, rc reqctx.Request, in ProfileInput) (Profile, error) {
	if !rc.Authenticated() {
		return Profile{}, apperr.AuthenticationRequired()
	}
	return s.UpdateUser(ctx, rc, rc.ActorID(), UserUpdateInput{ProfileInput: in})
}

// UpdateUser changes id's identity fields and, for admins, its role.
// Non-admins may change their identity fields once per ProfileCadence;
// submissions that repeat the current values do not count.
func (s *UserService) UpdateUser(ctx context.Context, rc reqctx.Request, id uint64, in UserUpdateInput) (Profile, error) {
	p := rc.Principal()
	if err := rbac.CanUpdateUser(p, id); err != nil {
		return Profile{}, s.denied(ctx, rc, "update_user", id, err)
	}
	if in.Role != nil {
		if err := rbac.CanAssignRoles(p); err != nil {
			return Profile{}, s.denied(ctx, rc, "update_user", id, err)
		}
	}
	in.normalize()
	if err := s.validate.Struct(in); err != nil {
		return Profile{}, err
	}

	target, err := s.load(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	ev := audit.New(rc, audit.ActionUpdate, audit.ResourceUser, audit.ResultFailure).On(id)
	changes := in.changes()
	now := s.now()

	if err := rbac.CheckProfileCadence(p, target, changes, now); err != nil {
		s.audit.Emit(ctx, ev.Because("profile_update_too_frequent"))
		return Profile{}, err
	}

	var (
		newRoles []model.Role
		names    []string
		roleEv   audit.Event
	)
	if in.Role != nil {
		name := strings.TrimSpace(*in.Role)
		newRoles, err = s.roles.ByNames(ctx, []string{name})
		if err != nil {
			return Profile{}, apperr.Internal(err)
		}
		if err := rbac.CheckRoleNames([]string{name}, newRoles); err != nil {
			return Profile{}, apperr.Field("role", "Invalid role")
		}
		previous, err := s.roles.RolesForUser(ctx, id)
		if err != nil {
			return Profile{}, apperr.Internal(err)
		}
		names = []string{newRoles[0].Name}
		roleEv = roleChangeEvent(rc, id, previous, names)
	}

	// Profile fields and roles are written in one transaction, and nothing
	// is audited as a success until it has committed.
	diff := changes.Diff(target)
	touch := rbac.TracksCadence(p, target, changes)
	var writeErr error
	switch {
	case in.Role != nil:
		g := model.RoleGrant{Roles: newRoles, Primary: PrimaryRole(names), GrantedBy: rc.ActorID()}
		writeErr = s.users.UpdateProfileAndRoles(ctx, id, changes, touch, g, now)
	case !changes.Empty():
		writeErr = s.users.UpdateProfile(ctx, id, changes, touch, now)
	}
	if err := writeErr; err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailExists):
			s.audit.Emit(ctx, ev.Because("email_taken"))
			return Profile{}, apperr.Field("email", "Email has already been taken")
		case errors.Is(err, repository.ErrNotFound):
			return Profile{}, apperr.NotFound("User")
		}
		s.audit.Emit(ctx, ev.Because("internal_error"))
		if in.Role != nil {
			s.audit.Emit(ctx, roleEv.Because("internal_error"))
		}
		return Profile{}, apperr.Internal(err)
	}
	if len(diff) > 0 {
		s.audit.Emit(ctx, ev.Succeeded().With("changes", changeSet(diff)))
	}
	if in.Role != nil {
		s.audit.Emit(ctx, roleEv.Succeeded())
		s.log.Infof("security: roles for user=%d set to %v by user=%d", id, names, rc.ActorID())
	}

	updated, err := s.load(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	return s.profile(ctx, updated)
}

func changeSet(diff map[string][2]string) map[string]map[string]string {
	out := make(map[string]map[string]string, len(diff))
	for field, v := range diff {
		out[field] = map[string]string{"previous": v[0], "new": v[1]}
	}
	return out
}

// DeleteUser removes a user. Admins cannot delete themselves.
func (s *UserService) DeleteUser(ctx context.Context, rc reqctx.Request, id uint64) error {
	if err := rbac.CanDeleteUser(rc.Principal(), id); err != nil {
		return s.denied(ctx, rc, "delete_user", id, err)
	}
	target, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	ev := audit.New(rc, audit.ActionUserDeletion, audit.ResourceUser, audit.ResultFailure).
		On(id).
		With("email", target.Email)
	if err := s.users.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("User")
		}
		s.audit.Emit(ctx, ev.Because("internal_error"))
		return apperr.Internal(err)
	}
	s.audit.Emit(ctx, ev.Succeeded())
	s.log.Infof("users: user=%d deleted by user=%d", id, rc.ActorID())
	return nil
}

// UpdateUserRoles replaces every role granted to userID. The first role in
// names becomes the mirrored primary role unless admin is among them.
func (s *UserService) UpdateUserRoles(ctx context.Context, rc reqctx.Request, userID uint64, names []string) (Profile, error) {
	if err := rbac.CanAssignRoles(rc.Principal()); err != nil {
		return Profile{}, s.denied(ctx, rc, "update_user_role", userID, err)
	}
	names = uniqueNames(names)
	target, err := s.load(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	known, err := s.roles.ByNames(ctx, names)
	if err != nil {
		return Profile{}, apperr.Internal(err)
	}
	if err := rbac.CheckRoleNames(names, known); err != nil {
		s.audit.Emit(ctx, audit.New(rc, audit.ActionRoleChange, audit.ResourceUser, audit.ResultFailure).
			On(userID).
			Because("unknown_role").
			With("requested_roles", names))
		return Profile{}, err
	}
	primary, err := s.replaceRoles(ctx, rc, target, names, known, s.now())
	if err != nil {
		return Profile{}, err
	}
	target.Role = primary
	return Profile{User: target, Roles: names}, nil
}

func (s *UserService) replaceRoles(ctx context.Context, rc reqctx.Request, target model.User, names []string, roles []model.Role, now time.Time) (string, error) {
	previous, err := s.roles.RolesForUser(ctx, target.ID)
	if err != nil {
		return "", apperr.Internal(err)
	}
	primary := PrimaryRole(names)
	ev := roleChangeEvent(rc, target.ID, previous, names)
	if err := s.roles.ReplaceUserRoles(ctx, target.ID, roles, primary, rc.ActorID(), now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", apperr.NotFound("User")
		}
		s.audit.Emit(ctx, ev.Because("internal_error"))
		return "", apperr.Internal(err)
	}
	s.audit.Emit(ctx, ev.Succeeded())
	s.log.Infof("security: roles for user=%d set to %v by user=%d", target.ID, names, rc.ActorID())
	return primary, nil
}

func roleChangeEvent(rc reqctx.Request, userID uint64, previous, names []string) audit.Event {
	return audit.New(rc, audit.ActionRoleChange, audit.ResourceUser, audit.ResultFailure).
		On(userID).
		With("previous_roles", previous).
		With("new_roles", names)
}

// PrimaryRole picks the role mirrored into users.role.
func PrimaryRole(names []string) string {
	for _, n := range names {
		if n == model.RoleAdmin {
			return n
		}
	}
	if len(names) == 0 {
		return model.RoleUser
	}
	return names[0]
}

func uniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

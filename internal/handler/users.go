package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/guardian-auth/internal/apperr"
	"github.com/iliyamo/guardian-auth/internal/middleware"
	"github.com/iliyamo/guardian-auth/internal/model"
	"github.com/iliyamo/guardian-auth/internal/reqctx"
	"github.com/iliyamo/guardian-auth/internal/service"
)

// UserAPI is the user management surface. *service.UserService implements it.
type UserAPI interface {
	Me(ctx context.Context, rc reqctx.Request) (service.Profile, error)
	GetUser(ctx context.Context, rc reqctx.Request, id uint64) (service.Profile, error)
	ListUsers(ctx context.Context, rc reqctx.Request, f model.UserFilter) ([]model.User, error)
	UpdateOwnProfile(ctx context.Context, rc reqctx.Request, in service.ProfileInput) (service.Profile, error)
	UpdateUser(ctx context.Context, rc reqctx.Request, id uint64, in service.UserUpdateInput) (service.Profile, error)
	DeleteUser(ctx context.Context, rc reqctx.Request, id uint64) error
	UpdateUserRoles(ctx context.Context, rc reqctx.Request, userID uint64, names []string) (service.Profile, error)
}

type UserHandler struct {
	Users UserAPI
}

func NewUserHandler(u UserAPI) *UserHandler {
	return &UserHandler{Users: u}
}

type updateRolesReq struct {
	Roles []string `json:"roles"`
}

func profileView(p service.Profile) userView {
	return newUserView(p.User, p.Roles)
}

// userID parses the :id path parameter. Malformed ids cannot name a user.
func userID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.NotFound("User")
	}
	return id, nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Me returns the caller's own profile.
func (h *UserHandler) Me(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	p, err := h.Users.Me(ctx, middleware.Request(c))
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, profileView(p))
}

// UpdateMe changes the caller's email or names.
func (h *UserHandler) UpdateMe(c echo.Context) error {
	var req service.ProfileInput
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	p, err := h.Users.UpdateOwnProfile(ctx, middleware.Request(c), req)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, profileView(p))
}

// List supports ?role=&search=&created_after=&created_before=&limit=&offset=.
// Timestamps are RFC 3339.
func (h *UserHandler) List(c echo.Context) error {
	var (
		f             model.UserFilter
		after, before time.Time
	)
	err := echo.QueryParamsBinder(c).
		String("role", &f.Role).
		String("search", &f.Search).
		Time("created_after", &after, time.RFC3339).
		Time("created_before", &before, time.RFC3339).
		Int("limit", &f.Limit).
		Int("offset", &f.Offset).
		BindError()
	if err != nil {
		return apperr.Field("query", "Invalid query parameters")
	}
	f.CreatedAfter, f.CreatedBefore = optionalTime(after), optionalTime(before)

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	users, err := h.Users.ListUsers(ctx, middleware.Request(c), f)
	if err != nil {
		return err
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, newUserView(u, nil))
	}
	return ok(c, http.StatusOK, out)
}

// Get returns one user with its roles.
func (h *UserHandler) Get(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	p, err := h.Users.GetUser(ctx, middleware.Request(c), id)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, profileView(p))
}

// Update applies a partial update to a user; role is admin-only.
func (h *UserHandler) Update(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	var req service.UserUpdateInput
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	p, err := h.Users.UpdateUser(ctx, middleware.Request(c), id, req)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, profileView(p))
}

// Delete removes a user permanently.
func (h *UserHandler) Delete(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	if err := h.Users.DeleteUser(ctx, middleware.Request(c), id); err != nil {
		return err
	}
	return ok(c, http.StatusOK, echo.Map{"success": true, "message": "User deleted"})
}

// UpdateRoles replaces the full role set of a user.
func (h *UserHandler) UpdateRoles(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	var req updateRolesReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	p, err := h.Users.UpdateUserRoles(ctx, middleware.Request(c), id, req.Roles)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, profileView(p))
}

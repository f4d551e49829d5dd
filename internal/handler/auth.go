package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/guardian-auth/internal/middleware"
	"github.com/iliyamo/guardian-auth/internal/reqctx"
	"github.com/iliyamo/guardian-auth/internal/service"
)

// AuthAPI is the account session surface. *service.AuthService implements it.
type AuthAPI interface {
	Register(ctx context.Context, rc reqctx.Request, in service.RegisterInput) (service.Session, error)
	Login(ctx context.Context, rc reqctx.Request, email, password string) (service.Session, error)
	Refresh(ctx context.Context, rc reqctx.Request, raw string) (service.Session, error)
	Logout(ctx context.Context, rc reqctx.Request) error
	LogoutAll(ctx context.Context, rc reqctx.Request, password string) (time.Time, error)
	ChangePassword(ctx context.Context, rc reqctx.Request, in service.ChangePasswordInput) (service.Session, error)
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Auth AuthAPI
}

func NewAuthHandler(a AuthAPI) *AuthHandler {
	return &AuthHandler{Auth: a}
}

// ----- DTOs -----

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type refreshReq struct {
	Token string `json:"token"`
}
type logoutAllReq struct {
	Password string `json:"password"`
}

// Register: create user and return a token immediately.
func (h *AuthHandler) Register(c echo.Context) error {
	var req service.RegisterInput
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	s, err := h.Auth.Register(ctx, middleware.Request(c), req)
	if err != nil {
		return err
	}
	return ok(c, http.StatusCreated, newAuthView(s))
}

// Login: verify credentials and return a new token.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	s, err := h.Auth.Login(ctx, middleware.Request(c), req.Email, req.Password)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, newAuthView(s))
}

// Refresh: exchange a token, possibly expired, for a new one. The token may
// come in the body or as a bearer header.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Token == "" {
		req.Token = middleware.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	s, err := h.Auth.Refresh(ctx, middleware.Request(c), req.Token)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, newAuthView(s))
}

// Logout: revoke the token used for this request.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	if err := h.Auth.Logout(ctx, middleware.Request(c)); err != nil {
		return err
	}
	return ok(c, http.StatusOK, echo.Map{"success": true, "message": "Logged out successfully"})
}

// LogoutAll: revoke every token of the caller after reconfirming the password.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	var req logoutAllReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	at, err := h.Auth.LogoutAll(ctx, middleware.Request(c), req.Password)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, echo.Map{
		"success":            true,
		"message":            "Logged out from all devices",
		"tokens_valid_after": at,
	})
}

// ChangePassword: replace the password and return a token that survives
// the revocation of every older one.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	var req service.ChangePasswordInput
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	s, err := h.Auth.ChangePassword(ctx, middleware.Request(c), req)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, newAuthView(s))
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/guardian-auth/internal/middleware"
	"github.com/iliyamo/guardian-auth/internal/model"
	"github.com/iliyamo/guardian-auth/internal/reqctx"
	"github.com/iliyamo/guardian-auth/internal/reset"
)

// ResetAPI is the password reset workflow. *reset.Service implements it.
type ResetAPI interface {
	Request(ctx context.Context, rc reqctx.Request, email string) (reset.Outcome, error)
	Validate(ctx context.Context, raw string) (reset.Validation, error)
	Consume(ctx context.Context, rc reqctx.Request, raw, newPassword, confirmPassword string) (model.User, error)
}

type ResetHandler struct {
	Reset ResetAPI
}

func NewResetHandler(r ResetAPI) *ResetHandler {
	return &ResetHandler{Reset: r}
}

type resetRequestReq struct {
	Email string `json:"email"`
}

type resetValidateReq struct {
	Token string `json:"token"`
}

type resetConfirmReq struct {
	Token           string `json:"token"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

type resetValidationView struct {
	Valid            bool      `json:"valid"`
	Email            string    `json:"email"`
	ExpiresAt        time.Time `json:"expires_at"`
	MinutesRemaining int       `json:"minutes_remaining"`
}

// Request always answers with the same payload for well-formed input,
// whether or not the email belongs to an account.
func (h *ResetHandler) Request(c echo.Context) error {
	var req resetRequestReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	out, err := h.Reset.Request(ctx, middleware.Request(c), req.Email)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, out.Payload)
}

// Validate reports whether the token in the body is still usable.
func (h *ResetHandler) Validate(c echo.Context) error {
	var req resetValidateReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	v, err := h.Reset.Validate(ctx, req.Token)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, resetValidationView{
		Valid:            v.Valid,
		Email:            v.User.Email,
		ExpiresAt:        v.ExpiresAt,
		MinutesRemaining: v.MinutesRemaining,
	})
}

// Confirm consumes the token and sets the new password.
func (h *ResetHandler) Confirm(c echo.Context) error {
	var req resetConfirmReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	u, err := h.Reset.Consume(ctx, middleware.Request(c), req.Token, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, echo.Map{
		"success": true,
		"message": "Password has been reset successfully",
		"user":    newUserView(u, nil),
	})
}

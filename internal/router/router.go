// Package router wires handlers and middleware to the HTTP routes.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/guardian-auth/internal/audit"
	"github.com/iliyamo/guardian-auth/internal/config"
	"github.com/iliyamo/guardian-auth/internal/handler"
	"github.com/iliyamo/guardian-auth/internal/middleware"
	"github.com/iliyamo/guardian-auth/internal/ratelimit"
)

// Deps is everything the routes need.
type Deps struct {
	Auth      *handler.AuthHandler
	Reset     *handler.ResetHandler
	Users     *handler.UserHandler
	Audit     *handler.AuditHandler
	Checks    map[string]handler.Check
	Tokens    middleware.Authenticator
	Limiter   middleware.Counter
	Blocker   middleware.Gate
	RateLimit config.RateLimitConfig
	Sink      audit.Sink
}

// Register mounts every route on e.
func Register(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(d.Checks))

	limit := func(op string) echo.MiddlewareFunc {
		return middleware.RateLimit(d.Limiter, d.RateLimit, op, d.Sink)
	}
	authn := middleware.Authenticate(d.Tokens)

	a := e.Group("/v1/auth")
	a.POST("/register", d.Auth.Register, limit(ratelimit.OpRegister))
	a.POST("/login", d.Auth.Login, middleware.BlockIPs(d.Blocker, d.Sink), limit(ratelimit.OpLogin))
	a.POST("/refresh", d.Auth.Refresh, limit(ratelimit.OpRefresh))
	a.POST("/logout", d.Auth.Logout, authn)
	a.POST("/logout-all", d.Auth.LogoutAll, authn, limit(ratelimit.OpLogoutAll))
	a.POST("/change-password", d.Auth.ChangePassword, authn, limit(ratelimit.OpChangePassword))

	a.POST("/password-reset", d.Reset.Request, limit(ratelimit.OpRequestPasswordReset))
	a.POST("/password-reset/validate", d.Reset.Validate, limit(ratelimit.OpResetPassword))
	a.POST("/password-reset/confirm", d.Reset.Confirm, limit(ratelimit.OpResetPassword))

	v1 := e.Group("/v1", authn)
	v1.GET("/me", d.Users.Me)
	v1.PATCH("/me", d.Users.UpdateMe)

	v1.GET("/users", d.Users.List, middleware.RequirePermission(d.Sink, "users", "list"))
	v1.GET("/users/:id", d.Users.Get)
	v1.PATCH("/users/:id", d.Users.Update)
	v1.DELETE("/users/:id", d.Users.Delete)
	v1.PUT("/users/:id/roles", d.Users.UpdateRoles)

	v1.GET("/audit-logs", d.Audit.List, middleware.RequirePermission(d.Sink, "audit_logs", "read"))
}

package middleware

import (
	"context"
	"regexp"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/guardian-auth/internal/apperr"
	"github.com/iliyamo/guardian-auth/internal/audit"
	"github.com/iliyamo/guardian-auth/internal/reqctx"
)

var bearerRegex = regexp.MustCompile(`(?i)^bearer\s+(\S+)\s*$`)

// Authenticator resolves a raw bearer token into an actor.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*reqctx.Actor, error)
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(header string) string {
	m := bearerRegex.FindStringSubmatch(header)
	if m == nil {
		return ""
	}
	return m[1]
}

// Authenticate rejects requests without a valid bearer token and stores the
// resolved actor for Request and the handlers.
func Authenticate(a Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if raw == "" {
				return apperr.AuthenticationRequired()
			}
			actor, err := a.Authenticate(c.Request().Context(), raw)
			if err != nil {
				return err
			}
			c.Set(actorKey, actor)
			return next(c)
		}
	}
}

// RequirePermission allows the request only when the actor holds
// resource:action. It must run after Authenticate.
func RequirePermission(sink audit.Sink, resource, action string) echo.MiddlewareFunc {
	if sink == nil {
		sink = audit.NoOpSink{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := ActorFrom(c)
			if actor == nil {
				return apperr.AuthenticationRequired()
			}
			if !actor.Principal.HasPermission(resource, action) {
				sink.Emit(c.Request().Context(),
					audit.New(Request(c), audit.ActionAccessDenied, resource, audit.ResultBlocked).
						Because("insufficient_permissions").
						With("permission", resource+":"+action).
						With("path", c.Path()))
				return apperr.Forbidden("")
			}
			return next(c)
		}
	}
}

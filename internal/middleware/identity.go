package middleware

// identity.go builds the explicit request context handed to services. The
// client IP comes from the server's IPExtractor, so forwarding headers only
// count when they arrive through a trusted proxy.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/guardian-auth/internal/reqctx"
)

const actorKey = "actor"

// ActorFrom returns the authenticated actor, or nil.
func ActorFrom(c echo.Context) *reqctx.Actor {
	a, _ := c.Get(actorKey).(*reqctx.Actor)
	return a
}

// Request builds the request context for c.
func Request(c echo.Context) reqctx.Request {
	req := c.Request()
	id := c.Response().Header().Get(echo.HeaderXRequestID)
	if id == "" {
		id = req.Header.Get(echo.HeaderXRequestID)
	}
	return reqctx.Request{
		ID:        id,
		IP:        c.RealIP(),
		UserAgent: req.UserAgent(),
		Actor:     ActorFrom(c),
	}
}

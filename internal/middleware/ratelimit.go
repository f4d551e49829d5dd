package middleware

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/guardian-auth/internal/apperr"
	"github.com/iliyamo/guardian-auth/internal/audit"
	"github.com/iliyamo/guardian-auth/internal/config"
	"github.com/iliyamo/guardian-auth/internal/ratelimit"
)

// Counter is implemented by *ratelimit.Limiter.
type Counter interface {
	CheckAndIncrement(ctx context.Context, op, id string, limit int, window time.Duration) (ratelimit.Result, error)
}

// Gate reports whether an IP is currently blocked. *ratelimit.Blocker
// satisfies it.
type Gate interface {
	Blocked(ctx context.Context, ip string) (bool, time.Duration)
}

func passthrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

func retrySeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// RateLimit throttles op with the rule from cfg. User-keyed rules need
// Authenticate to run first; without an actor they fall back to the IP.
// Every counted request gets X-RateLimit-* headers and denials also get
// Retry-After.
func RateLimit(counter Counter, cfg config.RateLimitConfig, op string, sink audit.Sink) echo.MiddlewareFunc {
	rule, ok := cfg.Rule(op)
	if !cfg.Enabled || !ok || counter == nil {
		return passthrough
	}
	if sink == nil {
		sink = audit.NoOpSink{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rc := Request(c)
			if cfg.Whitelisted(rc.IP) {
				return next(c)
			}
			id := ratelimit.Identifier(rule.By, rc.IP, rc.ActorID())
			ctx := c.Request().Context()

			res, err := counter.CheckAndIncrement(ctx, op, id, rule.Limit, rule.Window)
			if err != nil {
				return apperr.Unavailable(err)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				retry := res.RetryAfter(time.Now())
				h.Set("Retry-After", strconv.Itoa(retrySeconds(retry)))
				c.Logger().Warnf("[ratelimit] block op=%s id=%s reset=%s", op, id, res.ResetAt.UTC().Format(time.RFC3339))
				sink.Emit(ctx, audit.New(rc, audit.ActionRateLimited, "Operation", audit.ResultBlocked).
					Because("rate_limit_exceeded").
					With("operation", op).
					With("identifier", id).
					With("limit", res.Limit))
				return apperr.RateLimited(res.ResetAt, retry)
			}
			return next(c)
		}
	}
}

// BlockIPs refuses requests from IPs the blocker has locked out.
func BlockIPs(gate Gate, sink audit.Sink) echo.MiddlewareFunc {
	if gate == nil {
		return passthrough
	}
	if sink == nil {
		sink = audit.NoOpSink{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rc := Request(c)
			blocked, ttl := gate.Blocked(c.Request().Context(), rc.IP)
			if !blocked {
				return next(c)
			}
			c.Response().Header().Set("Retry-After", strconv.Itoa(retrySeconds(ttl)))
			sink.Emit(c.Request().Context(), audit.New(rc, audit.ActionRateLimited, "Operation", audit.ResultBlocked).
				Because("ip_blocked").
				With("path", c.Path()).
				With("retry_after", retrySeconds(ttl)))
			return apperr.RateLimited(time.Now().Add(ttl), ttl)
		}
	}
}

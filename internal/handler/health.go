package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Check probes one dependency; a nil error means it is reachable.
type Check func(ctx context.Context) error

// Health is a liveness probe for load balancers. It never touches a
// dependency.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Ready runs every check and answers 503 when any of them fails.
func Ready(checks map[string]Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		return c.JSON(status, echo.Map{"status": http.StatusText(status), "checks": results})
	}
}

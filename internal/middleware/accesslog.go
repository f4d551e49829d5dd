package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/guardian-auth/internal/logging"
)

// AccessLog writes one line per request. It logs the matched route pattern,
// never the raw URI, so path parameters and query strings stay out of logs.
func AccessLog(log logging.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogRoutePath: true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			path := v.RoutePath
			if path == "" {
				path = "-"
			}
			log.Infof("%s %s %d %s ip=%s id=%s", v.Method, path, v.Status, v.Latency, v.RemoteIP, v.RequestID)
			return nil
		},
	})
}

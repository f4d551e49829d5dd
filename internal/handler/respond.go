package handler

import (
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/guardian-auth/internal/apperr"
	"github.com/iliyamo/guardian-auth/internal/logging"
)

// requestTimeout bounds the store calls made by one handler.
const requestTimeout = 5 * time.Second

// envelope is the uniform body of every operation. Errors hold field-level
// validation and business-rule failures; it is empty on success.
type envelope struct {
	Data   any                 `json:"data"`
	Errors []apperr.FieldError `json:"errors"`
}

type errorBody struct {
	Code       apperr.Code `json:"code"`
	Message    string      `json:"message"`
	RetryAfter *int        `json:"retry_after,omitempty"`
	ResetAt    *time.Time  `json:"reset_at,omitempty"`
}

func ok(c echo.Context, status int, data any) error {
	return c.JSON(status, envelope{Data: data, Errors: []apperr.FieldError{}})
}

// bind decodes the request body into v.
func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return apperr.Field("body", "Invalid request body")
	}
	return nil
}

// ErrorHandler renders errors returned by handlers and middleware.
// Validation and business-rule errors use the envelope with status 422;
// everything else is a request-level {"error": {...}} body. Internal detail
// is only included when diagnostics is set.
func ErrorHandler(diagnostics bool, log logging.Logger) echo.HTTPErrorHandler {
	if log == nil {
		log = logging.Discard()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if errors.As(err, &he) {
			err = fromHTTPError(he)
		}
		e := apperr.As(err)
		switch e.Code {
		case apperr.CodeInternal, apperr.CodeUnavailable:
			log.Errorf("http: %s %s: %v", c.Request().Method, c.Path(), err)
		}
		pub := apperr.Public(e, diagnostics)
		status := pub.Code.HTTPStatus()

		var werr error
		switch {
		case c.Request().Method == http.MethodHead:
			werr = c.NoContent(status)
		case !pub.Code.RequestLevel():
			werr = c.JSON(status, envelope{Data: nil, Errors: fieldErrors(pub)})
		default:
			body := errorBody{Code: pub.Code, Message: pub.Message}
			if pub.Code == apperr.CodeRateLimited {
				secs := int(math.Ceil(pub.RetryAfter.Seconds()))
				body.RetryAfter = &secs
				if !pub.ResetAt.IsZero() {
					reset := pub.ResetAt.UTC()
					body.ResetAt = &reset
				}
			}
			werr = c.JSON(status, echo.Map{"error": body})
		}
		if werr != nil {
			log.Errorf("http: write error response: %v", werr)
		}
	}
}

func fieldErrors(e *apperr.Error) []apperr.FieldError {
	if len(e.Fields) > 0 {
		return e.Fields
	}
	return []apperr.FieldError{{Field: "base", Message: e.Message, Code: string(e.Code)}}
}

func fromHTTPError(he *echo.HTTPError) error {
	switch he.Code {
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return apperr.NotFound("Route")
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
		return apperr.Field("body", "Invalid request body")
	case http.StatusUnauthorized:
		return apperr.AuthenticationRequired()
	case http.StatusForbidden:
		return apperr.Forbidden("")
	case http.StatusTooManyRequests:
		return apperr.RateLimited(time.Time{}, 0)
	case http.StatusServiceUnavailable:
		return apperr.Unavailable(he)
	}
	return apperr.Internal(he)
}

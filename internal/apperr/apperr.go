// Package apperr defines the error taxonomy shared by services and the HTTP
// layer. Request-level errors (authentication, authorization, rate limits)
// abort an operation; validation and business-rule errors are returned as
// structured results alongside it.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies an error class.
type Code string

const (
	CodeAuthenticationRequired Code = "AUTHENTICATION_REQUIRED"
	CodeInvalidToken           Code = "INVALID_TOKEN"
	CodeForbidden              Code = "INSUFFICIENT_PERMISSIONS"
	CodeValidation             Code = "VALIDATION_FAILED"
	CodeNotFound               Code = "NOT_FOUND"
	CodeRateLimited            Code = "RATE_LIMITED"
	CodeBusinessRule           Code = "BUSINESS_RULE_VIOLATION"
	CodeUnavailable            Code = "SERVICE_UNAVAILABLE"
	CodeInternal               Code = "INTERNAL_ERROR"
)

// HTTPStatus maps a code to the status the transport should use.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeAuthenticationRequired, CodeInvalidToken:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeValidation, CodeBusinessRule:
		return http.StatusUnprocessableEntity
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// RequestLevel reports whether errors of this code gate the whole request
// rather than being reported inside the operation result.
func (c Code) RequestLevel() bool {
	return c != CodeValidation && c != CodeBusinessRule
}

// FieldError is a single field-level problem.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Error is the structured error returned by services.
type Error struct {
	Code       Code
	Message    string
	Fields     []FieldError
	ResetAt    time.Time
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Wrap attaches an underlying cause for logging. The cause is never shown
// to callers.
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

func AuthenticationRequired() *Error {
	return &Error{Code: CodeAuthenticationRequired, Message: "Authentication required"}
}

// InvalidToken is the generic answer for every JWT failure mode.
func InvalidToken() *Error {
	return &Error{Code: CodeInvalidToken, Message: "Invalid or expired token"}
}

func Forbidden(msg string) *Error {
	if msg == "" {
		msg = "You are not authorized to perform this action"
	}
	return &Error{Code: CodeForbidden, Message: msg}
}

func NotFound(resource string) *Error {
	return &Error{Code: CodeNotFound, Message: resource + " not found"}
}

func Validation(fields ...FieldError) *Error {
	msg := "Validation failed"
	if len(fields) == 1 {
		msg = fields[0].Message
	}
	return &Error{Code: CodeValidation, Message: msg, Fields: fields}
}

// Field is shorthand for a single-field validation error.
func Field(field, message string) *Error {
	return Validation(FieldError{Field: field, Message: message})
}

func BusinessRule(field, message string) *Error {
	return &Error{
		Code:    CodeBusinessRule,
		Message: message,
		Fields:  []FieldError{{Field: field, Message: message, Code: string(CodeBusinessRule)}},
	}
}

func RateLimited(resetAt time.Time, retryAfter time.Duration) *Error {
	return &Error{
		Code:       CodeRateLimited,
		Message:    "Rate limit exceeded. Please try again later.",
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}
}

func Unavailable(cause error) *Error {
	return (&Error{Code: CodeUnavailable, Message: "Service temporarily unavailable"}).Wrap(cause)
}

func Internal(cause error) *Error {
	return (&Error{Code: CodeInternal, Message: "Something went wrong. Please try again."}).Wrap(cause)
}

// As extracts an *Error from err. Errors of any other type become
// InternalError.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// CodeOf returns the code of err, or "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return As(err).Code
}

// Public returns the view of err safe to show a caller. Internal errors keep
// their cause in the message only when diagnostics are enabled.
func Public(err error, diagnostics bool) *Error {
	e := As(err)
	if e == nil {
		return nil
	}
	out := *e
	out.cause = nil
	if e.Code == CodeInternal && diagnostics && e.cause != nil {
		out.Message = e.Message + " (" + e.cause.Error() + ")"
	}
	return &out
}

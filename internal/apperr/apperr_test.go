package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestAsWrapsUnknownErrorsAsInternal(t *testing.T) {
	e := As(errors.New("boom"))
	if e.Code != CodeInternal {
		t.Fatalf("expected internal, got %s", e.Code)
	}
	if As(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestAsFindsWrappedError(t *testing.T) {
	err := fmt.Errorf("handler: %w", Forbidden(""))
	if CodeOf(err) != CodeForbidden {
		t.Fatalf("expected forbidden, got %s", CodeOf(err))
	}
}

func TestPublicMasksInternalCause(t *testing.T) {
	err := Internal(errors.New("dial tcp 10.0.0.1:3306: refused"))

	prod := Public(err, false)
	if strings.Contains(prod.Message, "10.0.0.1") {
		t.Fatalf("production message leaked cause: %q", prod.Message)
	}
	if prod.Unwrap() != nil {
		t.Fatalf("public error must not carry a cause")
	}

	dev := Public(err, true)
	if !strings.Contains(dev.Message, "refused") {
		t.Fatalf("diagnostic message should include cause: %q", dev.Message)
	}
}

func TestCodeMapping(t *testing.T) {
	cases := []struct {
		code    Code
		status  int
		request bool
	}{
		{CodeAuthenticationRequired, http.StatusUnauthorized, true},
		{CodeInvalidToken, http.StatusUnauthorized, true},
		{CodeForbidden, http.StatusForbidden, true},
		{CodeRateLimited, http.StatusTooManyRequests, true},
		{CodeValidation, http.StatusUnprocessableEntity, false},
		{CodeBusinessRule, http.StatusUnprocessableEntity, false},
		{CodeInternal, http.StatusInternalServerError, true},
	}
	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.status {
			t.Errorf("%s status = %d, want %d", tc.code, got, tc.status)
		}
		if got := tc.code.RequestLevel(); got != tc.request {
			t.Errorf("%s request level = %v, want %v", tc.code, got, tc.request)
		}
	}
}

func TestRateLimitedCarriesReset(t *testing.T) {
	reset := time.Unix(1700000060, 0)
	e := RateLimited(reset, 58*time.Second)
	if !e.ResetAt.Equal(reset) || e.RetryAfter != 58*time.Second {
		t.Fatalf("unexpected reset info: %+v", e)
	}
}

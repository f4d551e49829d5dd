package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

type lineLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *lineLogger) add(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *lineLogger) Debugf(format string, args ...interface{}) { l.add(format, args...) }
func (l *lineLogger) Infof(format string, args ...interface{})  { l.add(format, args...) }
func (l *lineLogger) Warnf(format string, args ...interface{})  { l.add(format, args...) }
func (l *lineLogger) Errorf(format string, args ...interface{}) { l.add(format, args...) }

func TestAccessLogOmitsTokens(t *testing.T) {
	const secret = "d41d8cd98f00b204e9800998ecf8427e"
	log := &lineLogger{}
	e := echo.New()
	e.Use(AccessLog(log))
	e.POST("/v1/auth/password-reset/validate", okHandler)
	e.GET("/v1/items/:token", okHandler)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/v1/auth/password-reset/validate?token="+secret, strings.NewReader(`{"token":"`+secret+`"}`)),
		httptest.NewRequest(http.MethodGet, "/v1/items/"+secret, nil),
	} {
		e.ServeHTTP(httptest.NewRecorder(), req)
	}

	if len(log.lines) != 2 {
		t.Fatalf("want 2 access lines, got %q", log.lines)
	}
	for _, line := range log.lines {
		if strings.Contains(line, secret) {
			t.Fatalf("token leaked into access log: %q", line)
		}
	}
	if !strings.Contains(log.lines[0], "POST /v1/auth/password-reset/validate 204") ||
		!strings.Contains(log.lines[1], "GET /v1/items/:token 204") {
		t.Fatalf("unexpected lines %q", log.lines)
	}
}

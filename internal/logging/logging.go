// Package logging builds the leveled logger injected into services. It is
// backed by gommon/log, the same logger Echo uses for its own output.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/labstack/gommon/log"
)

// Logger is the subset of the gommon logger the services depend on.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// New returns a logger with the given prefix writing to stderr at level
// ("debug", "info", "warn", "error"). Unknown levels fall back to info.
func New(prefix, level string) *log.Logger {
	l := log.New(prefix)
	l.SetOutput(os.Stderr)
	l.SetLevel(ParseLevel(level))
	l.SetHeader(`${time_rfc3339} ${level} ${prefix} ${short_file}:${line}`)
	return l
}

// Discard returns a logger that drops everything. Tests use it.
func Discard() *log.Logger {
	l := log.New("discard")
	l.SetOutput(io.Discard)
	l.SetLevel(log.OFF)
	return l
}

// ParseLevel maps a level name to a gommon level.
func ParseLevel(s string) log.Lvl {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	}
	return log.INFO
}

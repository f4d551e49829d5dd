package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/guardian-auth/internal/ratelimit"
)

// RateLimitConfig configures the per-operation limiter. Rules start from
// ratelimit.DefaultRules and RATE_LIMIT_<OPERATION>="limit/window"
// overrides them, e.g. RATE_LIMIT_LOGIN="10/1m".
type RateLimitConfig struct {
	Enabled   bool
	FailOpen  bool
	Prefix    string
	Whitelist map[string]bool
	Rules     map[string]ratelimit.Rule
}

func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled:   envBool("RATE_LIMIT_ENABLED", true),
		FailOpen:  envBool("RATE_LIMIT_FAIL_OPEN", false),
		Prefix:    envStr("RATE_LIMIT_PREFIX", "rate_limit"),
		Whitelist: parseWhitelist(os.Getenv("RATE_LIMIT_WHITELIST")),
		Rules:     ratelimit.DefaultRules(),
	}
	for op, def := range cfg.Rules {
		v := os.Getenv("RATE_LIMIT_" + strings.ToUpper(op))
		if v == "" {
			continue
		}
		if r, ok := ratelimit.ParseRule(v, def.By); ok {
			cfg.Rules[op] = r
		}
	}
	return cfg
}

// Rule returns the throttle for op.
func (c RateLimitConfig) Rule(op string) (ratelimit.Rule, bool) {
	r, ok := c.Rules[op]
	return r, ok
}

// Whitelisted reports whether ip bypasses the limiter.
func (c RateLimitConfig) Whitelisted(ip string) bool {
	return c.Whitelist[ip]
}

// parseWhitelist always includes the loopback addresses.
func parseWhitelist(s string) map[string]bool {
	out := map[string]bool{"127.0.0.1": true, "::1": true}
	for _, ip := range strings.Split(s, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			out[ip] = true
		}
	}
	return out
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}

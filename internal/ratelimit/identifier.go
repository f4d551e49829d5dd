package ratelimit

import (
	"strconv"
	"strings"
	"time"
)

// IdentifyBy selects which actor attribute keys an operation's counter.
type IdentifyBy string

const (
	ByIP   IdentifyBy = "ip"
	ByUser IdentifyBy = "user"
)

// Rule is the throttle for one operation.
type Rule struct {
	Limit  int
	Window time.Duration
	By     IdentifyBy
}

// Identifier resolves the counter identifier for a request. User-keyed
// rules fall back to the IP when no user is authenticated.
func Identifier(by IdentifyBy, ip string, userID uint64) string {
	if by == ByUser && userID != 0 {
		return "user:" + strconv.FormatUint(userID, 10)
	}
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

// ParseRule reads "limit/window" (e.g. "5/1m") into a rule keyed by by.
func ParseRule(s string, by IdentifyBy) (Rule, bool) {
	limitStr, windowStr, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Rule{}, false
	}
	limit, err := strconv.Atoi(strings.TrimSpace(limitStr))
	if err != nil || limit < 1 {
		return Rule{}, false
	}
	window, err := time.ParseDuration(strings.TrimSpace(windowStr))
	if err != nil || window <= 0 {
		return Rule{}, false
	}
	return Rule{Limit: limit, Window: window, By: by}, true
}

// Throttled operations.
const (
	OpLogin                = "login"
	OpRegister             = "register"
	OpRefresh              = "refresh"
	OpChangePassword       = "change_password"
	OpLogoutAll            = "logout_all"
	OpRequestPasswordReset = "request_password_reset"
	OpResetPassword        = "reset_password"
)

// DefaultRules returns the built-in throttle for every operation.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		OpLogin:                {Limit: 5, Window: time.Minute, By: ByIP},
		OpRegister:             {Limit: 3, Window: time.Minute, By: ByIP},
		OpRefresh:              {Limit: 10, Window: time.Minute, By: ByIP},
		OpChangePassword:       {Limit: 3, Window: 5 * time.Minute, By: ByUser},
		OpLogoutAll:            {Limit: 3, Window: 5 * time.Minute, By: ByUser},
		OpRequestPasswordReset: {Limit: 5, Window: 15 * time.Minute, By: ByIP},
		OpResetPassword:        {Limit: 10, Window: 15 * time.Minute, By: ByIP},
	}
}

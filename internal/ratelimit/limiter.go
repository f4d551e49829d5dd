// Package ratelimit implements per-operation fixed-window counters in Redis,
// the progressive lockout table for password reset requests, and a coarser
// progressive IP blocker for repeated login failures.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/guardian-auth/internal/logging"
)

// ErrUnavailable wraps cache failures. With fail-closed behaviour (the
// default) the limiter returns it alongside a denied Result.
var ErrUnavailable = errors.New("rate limiter unavailable")

// Result describes one limiter decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time left until the window resets, never negative.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if d := r.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Options configure a Limiter.
type Options struct {
	Prefix   string
	FailOpen bool
	Logger   logging.Logger
}

// Limiter is a fixed-window counter keyed by (operation, identifier). The
// first request opens a window of the configured length; later requests
// increment the same counter until the window ends. Bursts straddling a
// window boundary can therefore admit up to twice the limit.
type Limiter struct {
	rdb      redis.Cmdable
	prefix   string
	failOpen bool
	log      logging.Logger
	now      func() time.Time
}

func NewLimiter(rdb redis.Cmdable, opts Options) *Limiter {
	if opts.Prefix == "" {
		opts.Prefix = "rate_limit"
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Limiter{
		rdb:      rdb,
		prefix:   opts.Prefix,
		failOpen: opts.FailOpen,
		log:      opts.Logger,
		now:      time.Now,
	}
}

// SetClock replaces the limiter's time source.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// The read-increment-write cycle runs as one script so concurrent requests
// for the same key cannot lose increments.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])

	local state = redis.call('HMGET', key, 'count', 'window_end')
	local count = tonumber(state[1])
	local window_end = tonumber(state[2])

	if count == nil or window_end == nil or now_ms >= window_end then
		count = 0
		window_end = now_ms + window_ms
	end

	count = count + 1
	redis.call('HMSET', key, 'count', count, 'window_end', window_end)
	redis.call('PEXPIRE', key, window_end - now_ms)

	return { count, window_end }
`)

// Key returns the cache key for an operation and identifier.
func (l *Limiter) Key(op, id string) string {
	return l.prefix + ":" + op + ":" + id
}

// CheckAndIncrement counts one request and reports whether it fits within
// limit for the current window. A denied request is still counted.
func (l *Limiter) CheckAndIncrement(ctx context.Context, op, id string, limit int, window time.Duration) (Result, error) {
	if limit < 1 {
		limit = 1
	}
	now := l.now()
	key := l.Key(op, id)
	vals, err := fixedWindowScript.Run(ctx, l.rdb, []string{key}, now.UnixMilli(), window.Milliseconds()).Result()
	if err != nil {
		return l.unavailable(key, limit, now, window, err)
	}
	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 2 {
		return l.unavailable(key, limit, now, window, fmt.Errorf("unexpected script result %#v", vals))
	}
	count := asInt64(arr[0])
	windowEnd := time.UnixMilli(asInt64(arr[1]))
	return Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: int(max(0, int64(limit)-count)),
		ResetAt:   windowEnd,
	}, nil
}

// Status reports the current window without counting a request.
func (l *Limiter) Status(ctx context.Context, op, id string, limit int, window time.Duration) (Result, error) {
	now := l.now()
	key := l.Key(op, id)
	vals, err := l.rdb.HMGet(ctx, key, "count", "window_end").Result()
	if err != nil {
		return l.unavailable(key, limit, now, window, err)
	}
	count, windowEnd := asInt64(vals[0]), asInt64(vals[1])
	if vals[0] == nil || vals[1] == nil || now.UnixMilli() >= windowEnd {
		return Result{Allowed: true, Limit: limit, Remaining: limit, ResetAt: now.Add(window)}, nil
	}
	return Result{
		Allowed:   count < int64(limit),
		Limit:     limit,
		Remaining: int(max(0, int64(limit)-count)),
		ResetAt:   time.UnixMilli(windowEnd),
	}, nil
}

// Clear drops the counter for an operation and identifier.
func (l *Limiter) Clear(ctx context.Context, op, id string) error {
	if err := l.rdb.Del(ctx, l.Key(op, id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (l *Limiter) unavailable(key string, limit int, now time.Time, window time.Duration, err error) (Result, error) {
	if l.failOpen {
		l.log.Warnf("ratelimit: redis error for key=%s, failing open: %v", key, err)
		return Result{Allowed: true, Limit: limit, Remaining: limit, ResetAt: now.Add(window)}, nil
	}
	l.log.Errorf("ratelimit: redis error for key=%s, failing closed: %v", key, err)
	return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: now.Add(window)}, fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

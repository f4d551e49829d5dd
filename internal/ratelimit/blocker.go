package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/guardian-auth/internal/logging"
)

// Blocker locks an IP out of credential endpoints after repeated failed
// logins. It sits behind the per-operation limiter and cache errors never
// block a request.
type Blocker struct {
	rdb    redis.Cmdable
	prefix string
	window time.Duration
	log    logging.Logger
}

func NewBlocker(rdb redis.Cmdable, prefix string, log logging.Logger) *Blocker {
	if prefix == "" {
		prefix = "brute_force"
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Blocker{rdb: rdb, prefix: prefix, window: 15 * time.Minute, log: log}
}

func (b *Blocker) attemptKey(ip string) string { return b.prefix + ":attempts:" + ip }
func (b *Blocker) lockKey(ip string) string    { return b.prefix + ":lock:" + ip }

// blockFor maps the failure count to a lock duration.
func blockFor(attempts int64) time.Duration {
	switch {
	case attempts >= 25:
		return 24 * time.Hour
	case attempts >= 10:
		return time.Hour
	case attempts >= 5:
		return 2 * time.Minute
	}
	return 0
}

// Blocked reports whether ip is locked and for how much longer.
func (b *Blocker) Blocked(ctx context.Context, ip string) (bool, time.Duration) {
	ttl, err := b.rdb.PTTL(ctx, b.lockKey(ip)).Result()
	if err != nil {
		b.log.Warnf("blocker: lock lookup for ip=%s: %v", ip, err)
		return false, 0
	}
	// PTTL reports -2 for a missing key and -1 for a key without expiry.
	if ttl == -2 {
		return false, 0
	}
	if ttl < 0 {
		return true, time.Minute
	}
	return true, ttl
}

// RecordFailure counts a failed login from ip and applies any lock due.
func (b *Blocker) RecordFailure(ctx context.Context, ip string) {
	key := b.attemptKey(ip)
	attempts, err := b.rdb.Incr(ctx, key).Result()
	if err != nil {
		b.log.Warnf("blocker: record failure for ip=%s: %v", ip, err)
		return
	}
	if attempts == 1 {
		b.rdb.Expire(ctx, key, b.window)
	}
	if d := blockFor(attempts); d > 0 {
		if err := b.rdb.Set(ctx, b.lockKey(ip), "locked", d).Err(); err != nil {
			b.log.Warnf("blocker: lock ip=%s: %v", ip, err)
			return
		}
		b.log.Warnf("blocker: ip=%s locked for %s after %d failures", ip, d, attempts)
	}
}

// Reset clears failures and any lock for ip.
func (b *Blocker) Reset(ctx context.Context, ip string) {
	if err := b.rdb.Del(ctx, b.attemptKey(ip), b.lockKey(ip)).Err(); err != nil {
		b.log.Warnf("blocker: reset ip=%s: %v", ip, err)
	}
}

package config

import (
	"testing"
	"time"

	"github.com/iliyamo/guardian-auth/internal/ratelimit"
)

func TestLoadRateLimitConfigDefaults(t *testing.T) {
	cfg := LoadRateLimitConfig()
	if !cfg.Enabled || cfg.FailOpen || cfg.Prefix != "rate_limit" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	r, ok := cfg.Rule(ratelimit.OpLogin)
	if !ok || r.Limit != 5 || r.Window != time.Minute || r.By != ratelimit.ByIP {
		t.Fatalf("unexpected login rule %+v", r)
	}
	if r, _ := cfg.Rule(ratelimit.OpChangePassword); r.By != ratelimit.ByUser || r.Window != 5*time.Minute {
		t.Fatalf("unexpected change_password rule %+v", r)
	}
	if !cfg.Whitelisted("127.0.0.1") || !cfg.Whitelisted("::1") || cfg.Whitelisted("10.0.0.1") {
		t.Fatalf("unexpected whitelist %v", cfg.Whitelist)
	}
}

func TestLoadRateLimitConfigOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_LOGIN", "10/30s")
	t.Setenv("RATE_LIMIT_REGISTER", "garbage")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.1, 10.0.0.2")
	t.Setenv("RATE_LIMIT_FAIL_OPEN", "true")

	cfg := LoadRateLimitConfig()
	if r, _ := cfg.Rule(ratelimit.OpLogin); r.Limit != 10 || r.Window != 30*time.Second || r.By != ratelimit.ByIP {
		t.Fatalf("override not applied: %+v", r)
	}
	if r, _ := cfg.Rule(ratelimit.OpRegister); r.Limit != 3 {
		t.Fatalf("invalid override should keep default, got %+v", r)
	}
	if !cfg.Whitelisted("10.0.0.2") || !cfg.FailOpen {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoad(t *testing.T) {
	for k, v := range map[string]string{
		"APP_ENV": "production", "APP_PORT": "8080", "DB_USER": "root", "DB_HOST": "db",
		"DB_PORT": "3306", "DB_NAME": "auth", "JWT_SECRET": "s3cret", "BCRYPT_COST": "12",
		"JWT_TTL": "2h", "AMQP_URL": "amqp://mq/", "AUDIT_LOG_RETENTION_DAYS": "30",
	} {
		t.Setenv(k, v)
	}
	cfg := Load()
	if cfg.JWTTTL != 2*time.Hour || cfg.JWTRefreshWindow != 7*24*time.Hour || cfg.BcryptCost != 12 {
		t.Fatalf("unexpected token settings %+v", cfg)
	}
	if cfg.AMQPURL != "amqp://mq/" || !cfg.Production() || cfg.AuditRetention() != 30*24*time.Hour {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Jobs.AuditPurge == "" || cfg.SMTP.Port != 587 {
		t.Fatalf("missing defaults %+v", cfg)
	}
}

func TestRedisOptions(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_DB", "2")
	opts := RedisOptions()
	if opts.Addr != "cache:6380" || opts.DB != 2 || opts.TLSConfig != nil {
		t.Fatalf("unexpected options %+v", opts)
	}
	t.Setenv("REDIS_HOST", "h")
	t.Setenv("REDIS_PORT", "1")
	t.Setenv("REDIS_TLS", "true")
	if opts := RedisOptions(); opts.Addr != "h:1" || opts.TLSConfig == nil {
		t.Fatalf("host/port should win: %+v", opts)
	}
}

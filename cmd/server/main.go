package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/guardian-auth/internal/audit"
	"github.com/iliyamo/guardian-auth/internal/config"
	"github.com/iliyamo/guardian-auth/internal/database"
	"github.com/iliyamo/guardian-auth/internal/handler"
	"github.com/iliyamo/guardian-auth/internal/jobs"
	"github.com/iliyamo/guardian-auth/internal/logging"
	"github.com/iliyamo/guardian-auth/internal/middleware"
	"github.com/iliyamo/guardian-auth/internal/queue"
	"github.com/iliyamo/guardian-auth/internal/ratelimit"
	"github.com/iliyamo/guardian-auth/internal/repository"
	"github.com/iliyamo/guardian-auth/internal/reset"
	"github.com/iliyamo/guardian-auth/internal/router"
	"github.com/iliyamo/guardian-auth/internal/service"
	"github.com/iliyamo/guardian-auth/internal/tokens"
	"github.com/iliyamo/guardian-auth/internal/validation"
)

func main() {
	_ = godotenv.Load() // a missing .env is fine; real env wins
	cfg := config.Load()
	rl := config.LoadRateLimitConfig()
	log := logging.New("guardian", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("mysql: %v", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	if err := database.SeedRBAC(ctx, db); err != nil {
		log.Fatalf("seed rbac: %v", err)
	}

	rdb, err := config.NewRedisClient(ctx)
	if err != nil {
		// The limiter decides per request whether to fail open or closed.
		log.Warnf("%v", err)
	}
	defer rdb.Close()

	users := repository.NewUserRepo(db)
	roles := repository.NewRoleRepo(db)
	auditRepo := repository.NewAuditRepo(db)
	blacklist := repository.NewBlacklistRepo(db)
	resetTokens := repository.NewResetTokenRepo(db)

	// ---- Audit ----
	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.AuditBufferSize > 0,
		BufferSize: cfg.AuditBufferSize,
	}, audit.MultiSink{audit.NewStoreSink(auditRepo, log), audit.NewLogSink(log)})

	// ---- Core ----
	v := validation.New()
	engine := tokens.NewEngine(tokens.Config{
		Secret:        cfg.JWTSecret,
		TTL:           cfg.JWTTTL,
		RefreshWindow: cfg.JWTRefreshWindow,
		Issuer:        "guardian-auth",
	}, blacklist, users, log)
	limiter := ratelimit.NewLimiter(rdb, ratelimit.Options{Prefix: rl.Prefix, FailOpen: rl.FailOpen, Logger: log})
	blocker := ratelimit.NewBlocker(rdb, "", log)

	authSvc := service.NewAuthService(service.AuthConfig{BcryptCost: cfg.BcryptCost},
		users, roles, engine, blocker, dispatcher, v, log)
	userSvc := service.NewUserService(users, roles, dispatcher, v, log)
	auditSvc := service.NewAuditService(auditRepo, dispatcher)

	publisher := queue.NewPublisher(cfg.AMQPURL, log)
	resetSvc := reset.NewService(reset.Config{FrontendURL: cfg.FrontendURL, BcryptCost: cfg.BcryptCost},
		users, resetTokens, publisher, dispatcher, v, log)

	// ---- Background work ----
	var sender queue.Sender = queue.NewLogSender(log)
	smtp := queue.SMTPConfig(cfg.SMTP)
	if smtp.Configured() {
		sender = queue.NewSMTPSender(smtp)
	}
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := queue.NewConsumer(cfg.AMQPURL, sender, log).Run(consumerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("mail consumer: %v", err)
		}
	}()

	cron := jobs.NewManager(blacklist, resetTokens, auditRepo, cfg.AuditRetention(), log)
	if err := cron.Start(jobs.Schedules(cfg.Jobs)); err != nil {
		log.Fatalf("jobs: %v", err)
	}

	// ---- HTTP ----
	e := echo.New()
	e.HideBanner = true
	e.IPExtractor = config.IPExtractor(config.LoadTrustedProxies())
	e.Logger = log
	e.HTTPErrorHandler = handler.ErrorHandler(!cfg.Production(), log)
	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	e.Use(middleware.AccessLog(log))

	router.Register(e, router.Deps{
		Auth:  handler.NewAuthHandler(authSvc),
		Reset: handler.NewResetHandler(resetSvc),
		Users: handler.NewUserHandler(userSvc),
		Audit: handler.NewAuditHandler(auditSvc),
		Checks: map[string]handler.Check{
			"mysql": db.PingContext,
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
		Tokens:    authSvc,
		Limiter:   limiter,
		Blocker:   blocker,
		RateLimit: rl,
		Sink:      dispatcher,
	})

	go func() {
		addr := ":" + cfg.Port
		log.Infof("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	<-ctx.Done()
	log.Infof("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown: %v", err)
	}
	cron.Stop()
	cancelConsumer()
	<-consumerDone
	resetSvc.Wait()
	dispatcher.Close()
}

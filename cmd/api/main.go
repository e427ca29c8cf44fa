package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/dualauth/internal/api/http"
	"github.com/spec-kit/dualauth/internal/api/http/handlers"
	"github.com/spec-kit/dualauth/internal/auth"
	"github.com/spec-kit/dualauth/internal/config"
	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/events"
	"github.com/spec-kit/dualauth/internal/mfa"
	"github.com/spec-kit/dualauth/internal/observability"
	"github.com/spec-kit/dualauth/internal/persistence"
	"github.com/spec-kit/dualauth/internal/service"
	"github.com/spec-kit/dualauth/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), persistence.DefaultMigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis, err := persistence.NewRedis(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redis.Close()

	dispatcher := events.NewInMemoryDispatcher()

	var (
		sources   = make(map[domain.Domain]auth.KeySource, len(domain.Domains))
		checks    = make(map[domain.Domain]auth.DomainVerification, len(domain.Domains))
		providers = make(map[domain.Domain]*domainRuntime, len(domain.Domains))
		issuers   = make(map[domain.Domain]*auth.TokenIssuer)
		purgers   []worker.Purger
	)
	for _, d := range domain.Domains {
		dc, _ := cfg.ForDomain(d)
		rt, err := buildDomain(ctx, cfg, dc, pg, redis, logger.Named(string(d)))
		if err != nil {
			logger.Fatal("failed to set up domain", zap.String("domain", string(d)), zap.Error(err))
		}
		providers[d] = rt
		sources[d] = rt.keys
		checks[d] = auth.DomainVerification{
			Issuer:     dc.IssuerURL,
			Audience:   dc.Audience,
			Algorithms: dc.Algorithms,
			Leeway:     dc.ClockSkew(),
		}
		if rt.issuer != nil {
			issuers[d] = rt.issuer
		}
		purgers = append(purgers, rt.purgers...)
	}

	keyCache := auth.NewKeyCache(sources, auth.KeyCacheOptions{
		TTL:        cfg.KeyCache.TTL(),
		MinRefetch: cfg.KeyCache.MinRefetch(),
	}, logger.Named("keycache"), metrics)
	if err := keyCache.Warm(ctx); err != nil {
		logger.Warn("initial key cache warm failed", zap.Error(err))
	}

	policy := auth.NewPolicy(cfg.Customer.SessionTimeout(), cfg.Staff.SessionTimeout()).
		WithHardTimeouts(cfg.Customer.HardSessionTimeout(), cfg.Staff.HardSessionTimeout())
	verifier := auth.NewVerifier(checks, keyCache, auth.NewClaimsMapper(policy, logger), logger,
		auth.WithDispatcher(dispatcher),
		auth.WithMetrics(metrics),
	)

	var challenges mfa.ChallengeStore
	if client := redis.Handle(); client != nil {
		challenges = mfa.NewRedisStore(client)
	} else {
		memory := mfa.NewMemoryStore(time.Now)
		challenges = memory
		purgers = append(purgers, memory)
	}
	mfaHandler := mfa.NewHandler(providers[domain.DomainStaff].provider, challenges, mfa.Options{
		TTL:         cfg.MFA.ChallengeTTL(),
		MaxAttempts: cfg.MFA.MaxAttempts,
		Required:    cfg.MFA.Required,
	}, logger.Named("mfa"), metrics, dispatcher)

	authService := service.NewAuthService(service.AuthDependencies{
		CustomerProvider: providers[domain.DomainCustomer].provider,
		StaffProvider:    providers[domain.DomainStaff].provider,
		Verifier:         verifier,
		MFA:              mfaHandler,
		Dispatcher:       dispatcher,
		Metrics:          metrics,
	}, logger)

	var (
		sink       service.AuditSink
		auditQueue *worker.AuditQueue
	)
	if client := redis.Handle(); client != nil {
		auditQueue = worker.NewAuditQueue(service.NewRedisAuditSink(client, cfg.Audit),
			cfg.Audit.QueueSize, cfg.Audit.WriteTimeout(), logger.Named("audit"), metrics)
		sink = auditQueue
	}
	worker.StartAuditWorker(service.NewSecurityAuditService(dispatcher, logger.Named("audit"), sink))

	scheduler := worker.NewScheduler(logger.Named("scheduler"), cfg.KeyCache.FetchTimeout()*time.Duration(len(domain.Domains)))
	if err := scheduler.Add("warm-signing-keys", cfg.KeyCache.WarmSchedule, keyCache.Warm); err != nil {
		logger.Fatal("invalid key cache schedule", zap.Error(err))
	}
	if len(purgers) > 0 {
		if err := scheduler.Add("purge-expired", worker.PurgeSchedule, worker.PurgeJob(purgers...)); err != nil {
			logger.Fatal("invalid purge schedule", zap.Error(err))
		}
	}
	scheduler.Start()

	readiness := map[string]handlers.ReadinessCheck{
		"signing_keys": func(context.Context) error {
			if keyCache.Len() == 0 {
				return errors.New("no signing keys cached")
			}
			return nil
		},
	}
	if pg.PoolHandle() != nil {
		readiness["postgres"] = pg.Ping
	}
	if redis.Handle() != nil {
		readiness["redis"] = redis.Ping
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, readiness),
		Customer:       handlers.NewCustomerHandler(authService),
		Staff:          handlers.NewStaffHandler(authService),
		Authz:          handlers.NewAuthzHandler(),
		JWKS:           handlers.NewJWKSHandler(issuers),
		Keys:           handlers.NewKeysHandler(keyCache),
		AuthMiddleware: auth.NewAuthMiddleware(verifier),
		RateLimit:      cfg.RateLimit,
		Gatherer:       registry,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)
	if auditQueue != nil {
		if err := auditQueue.Close(shutdownCtx); err != nil {
			logger.Warn("audit queue drain", zap.Error(err), zap.Int64("dropped", auditQueue.Dropped()))
		}
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}

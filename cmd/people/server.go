package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/people/pkg/api"
	"github.com/platinummonkey/people/pkg/config"
	"github.com/platinummonkey/people/pkg/directory"
	"github.com/platinummonkey/people/pkg/identity"
	"github.com/platinummonkey/people/pkg/invitations"
	"github.com/platinummonkey/people/pkg/memberships"
	"github.com/platinummonkey/people/pkg/middleware"
	"github.com/platinummonkey/people/pkg/observability"
	"github.com/platinummonkey/people/pkg/people"
	"github.com/platinummonkey/people/pkg/registration"
	"github.com/platinummonkey/people/pkg/storage/postgres"
)

// repairTimeout bounds one scheduled repair sweep
const repairTimeout = 5 * time.Minute

// application is the assembled service
type application struct {
	server     *http.Server
	db         *sql.DB
	redis      *redis.Client
	reconciler *registration.Reconciler
}

// close releases the database and Redis pools
func (a *application) close(ctx context.Context) error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// buildServer wires every component from cfg
func buildServer(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*application, error) {
	app := &application{}

	db, err := postgres.Open(ctx, postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxOpenConns,
		MinConns:    cfg.Database.MaxIdleConns,
		Timeout:     cfg.Database.ConnectTimeout,
		MaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}
	app.db = db

	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, db, logger); err != nil {
			app.close(ctx)
			return nil, err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
		postgres.StartStatsRoutine(ctx, db, metrics, 15*time.Second, logger)
	}

	var cache directory.PersonCache
	if cfg.Redis.URL != "" {
		client, err := postgres.NewRedisClient(ctx, postgres.RedisConfig{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			PoolSize:   cfg.Redis.PoolSize,
		})
		if err != nil {
			app.close(ctx)
			return nil, err
		}
		app.redis = client
		cache = postgres.NewPersonCache(client, cfg.Redis.PersonTTL)
	}

	idp, err := identity.NewClient(cfg.Identity.ClientConfig(),
		identity.WithLogger(logger),
		identity.WithMetrics(metrics),
	)
	if err != nil {
		app.close(ctx)
		return nil, err
	}

	otelMetrics, err := observability.NewOTelMetrics()
	if err != nil {
		app.close(ctx)
		return nil, err
	}

	personStore := people.NewPostgresStore(db)
	reconciler, err := registration.NewReconciler(registration.Config{
		Realm:           cfg.Identity.Realm,
		AccountClientID: cfg.Identity.AccountClientID,
		MaxConcurrency:  cfg.Reconcile.MaxConcurrency,
		RepairBatchSize: cfg.Reconcile.RepairBatchSize,
	}, registration.Dependencies{
		Identity:    idp,
		People:      personStore,
		Invitations: invitations.NewPostgresStore(db),
		Memberships: memberships.NewPostgresStore(db),
		Logger:      logger,
		Metrics:     metrics,
		OTelMetrics: otelMetrics,
	})
	if err != nil {
		app.close(ctx)
		return nil, err
	}
	app.reconciler = reconciler

	svc, err := directory.NewService(directory.Config{
		Realm:         cfg.Identity.Realm,
		DefaultTenant: cfg.Tenancy.DefaultTenant,
	}, directory.Dependencies{
		People:     personStore,
		Reconciler: reconciler,
		Identity:   idp,
		Cache:      cache,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		app.close(ctx)
		return nil, err
	}

	verifier, err := middleware.NewOIDCVerifier(ctx, cfg.Auth.IssuerURL, cfg.Auth.ClientID)
	if err != nil {
		app.close(ctx)
		return nil, err
	}
	authenticator := middleware.NewAuthenticator(verifier, middleware.AuthConfig{
		TenantClaim: cfg.Auth.TenantClaim,
		Optional:    true,
		Logger:      logger,
	})

	guards := api.Guards{Authenticate: authenticator.Handler}
	if cfg.RateLimit.Enabled {
		guards.RateLimit = newRateLimitMiddleware(ctx, cfg.RateLimit, app.redis, logger).Handler
	}

	var registryForRoutes *prometheus.Registry
	if metrics != nil {
		registryForRoutes = registry
	}
	handler := api.NewServer(api.ServerConfig{MaxBodyBytes: cfg.Server.MaxBodyBytes}, api.ServerDeps{
		Service:  svc,
		Guards:   guards,
		Health:   observability.NewHealthChecker(db, app.redis, version),
		Metrics:  metrics,
		Registry: registryForRoutes,
		Logger:   logger,
	})

	app.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(handler, "people"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return app, nil
}

// newRateLimitMiddleware shares counters through Redis when it is
// configured and falls back to per-process buckets otherwise
func newRateLimitMiddleware(ctx context.Context, cfg config.RateLimitConfig, client *redis.Client, logger logrus.FieldLogger) *middleware.RateLimitMiddleware {
	anonymous := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RequestsPerWindow,
		WindowDuration:    cfg.Window,
		BurstSize:         cfg.BurstSize,
	}
	user := middleware.PerUserRateLimitConfig()

	if client != nil {
		return middleware.NewRateLimitMiddleware(
			middleware.NewDistributedRateLimiter(client, user, "ratelimit:user"),
			middleware.NewDistributedRateLimiter(client, anonymous, "ratelimit:anon"),
			logger,
		)
	}

	userLimiter := middleware.NewRateLimiter(user)
	anonLimiter := middleware.NewRateLimiter(anonymous)
	userLimiter.StartCleanup(ctx)
	anonLimiter.StartCleanup(ctx)
	return middleware.NewRateLimitMiddleware(userLimiter, anonLimiter, logger)
}

// scheduleRepair returns a cron running the membership repair sweep, or
// nil when no schedule is configured. Overlapping runs are skipped.
func scheduleRepair(cfg config.ReconcileConfig, reconciler *registration.Reconciler, logger logrus.FieldLogger) (*cron.Cron, error) {
	if cfg.RepairSchedule == "" {
		return nil, nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(cfg.RepairSchedule, func() {
		log := logger.WithField("job", "membership_repair")
		defer observability.RecoverPanic(log, "membership repair")

		ctx, cancel := context.WithTimeout(context.Background(), repairTimeout)
		defer cancel()

		report, err := reconciler.Repair(ctx, time.Now().Add(-cfg.RepairWindow))
		if err != nil {
			log.WithError(err).Error("membership repair failed")
			return
		}
		log.WithField("created", report.Created).Debug("membership repair finished")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule membership repair %q: %w", cfg.RepairSchedule, err)
	}
	return c, nil
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/viper"

	"github.com/IsaiahDupree/everreach/internal"
	"github.com/IsaiahDupree/everreach/internal/cache"
	"github.com/IsaiahDupree/everreach/internal/catalog"
	"github.com/IsaiahDupree/everreach/internal/domain"
	"github.com/IsaiahDupree/everreach/internal/events"
	"github.com/IsaiahDupree/everreach/internal/handler"
	"github.com/IsaiahDupree/everreach/internal/handler/webhook"
	"github.com/IsaiahDupree/everreach/internal/middleware"
	"github.com/IsaiahDupree/everreach/internal/postgres"
	"github.com/IsaiahDupree/everreach/internal/router"
	"github.com/IsaiahDupree/everreach/internal/routes"
	"github.com/IsaiahDupree/everreach/internal/service"
	"github.com/IsaiahDupree/everreach/internal/strategy"
	"github.com/IsaiahDupree/everreach/internal/telemetry"
	"github.com/IsaiahDupree/everreach/internal/verify"
	"github.com/IsaiahDupree/everreach/internal/worker"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize Sentry error tracking
	sentryCleanup, err := telemetry.InitSentry(cfg.Sentry, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer sentryCleanup()

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	// Verify database connection
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := postgres.Connect(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	// Initialize stores
	observationStore := postgres.NewObservationStore(pool)
	entitlementStore := postgres.NewEntitlementStore(pool)
	usageStore := postgres.NewUsageStore(pool)
	accountStore := postgres.NewAccountStore(pool)

	// Entitlement cache is optional. Without Redis every read hits Postgres.
	var entitlementCache domain.EntitlementCache
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewEntitlementCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisCache.Close()
		entitlementCache = redisCache
		logger.Info("Entitlement cache enabled", "addr", cfg.Redis.Addr)
	} else {
		logger.Info("REDIS_ADDR not set, entitlement cache disabled")
	}

	// Event publisher is optional. Without NATS transitions are only logged.
	var publisher domain.EventPublisher = events.NoopPublisher{}
	if cfg.Nats.URL != "" {
		natsPublisher, err := events.NewNatsPublisher(cfg.Nats.URL, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
		logger.Info("Event publisher enabled", "url", cfg.Nats.URL)
	} else {
		logger.Info("NATS_URL not set, entitlement events disabled")
	}

	// Load product catalog and paywall strategies
	v := viper.New()
	if cfg.ConfigFile != "" {
		v.SetConfigFile(cfg.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", cfg.ConfigFile, err)
		}
		logger.Info("Config file loaded", "path", cfg.ConfigFile)
	}
	mapper, err := catalog.Load(v)
	if err != nil {
		return fmt.Errorf("failed to load product catalog: %w", err)
	}
	strategies := strategy.New(v, logger)

	// Initialize Prometheus metrics
	metrics := middleware.NewMetrics("everreach")
	businessMetrics := telemetry.NewBusinessMetrics("everreach")

	// Initialize store verifiers
	verifiers := map[domain.Store]verify.Verifier{
		domain.StoreCard:      verify.NewCardVerifier(cfg.Card.APIKey),
		domain.StoreAppStore:  verify.NewAppStoreVerifier(cfg.AppStore.BaseURL),
		domain.StorePlayStore: verify.NewPlayStoreVerifier(cfg.PlayStore.BaseURL, cfg.PlayStore.PackageName),
	}

	// Initialize services
	entitlementService := service.NewEntitlementService(
		entitlementStore, entitlementCache, publisher, mapper, strategies, businessMetrics, logger)
	ingestService := service.NewIngestService(
		verifiers, observationStore, accountStore, entitlementService, mapper, businessMetrics, logger)
	syncService := service.NewSyncService(
		observationStore, entitlementService, mapper, businessMetrics, logger)
	usageService := service.NewUsageService(
		usageStore, accountStore, entitlementService, strategies, businessMetrics, logger)
	linkService := service.NewLinkService(
		accountStore, observationStore, entitlementService, logger)

	// Shared request validator
	validate := validator.New()

	// Configure rate limiting
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer rateLimiter.Stop()

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		telemetry.SentryMiddleware(),
		metrics.Middleware,
		middleware.Timeout(middleware.DefaultTimeout),
		rateLimiter.Middleware,
		middleware.WithRequestLogger(logger),
	)

	routes.RegisterOpsRoutes(r, routes.OpsDeps{
		MetricsHandler: metrics.Handler(),
		Health: func(w http.ResponseWriter, req *http.Request) {
			if err := pool.Ping(req.Context()); err != nil {
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		},
	})

	routes.RegisterAPIRoutes(r, routes.APIDeps{
		Entitlement: handler.NewEntitlementHandler(entitlementService),
		Sync:        handler.NewSyncHandler(syncService, validate),
		Usage:       handler.NewUsageHandler(usageService, validate),
		Link:        handler.NewLinkHandler(linkService, validate),
	})

	routes.RegisterAdminRoutes(r, routes.AdminDeps{
		Admin:         handler.NewAdminHandler(usageService, entitlementService, validate),
		OperatorToken: cfg.OperatorToken,
	})

	routes.RegisterWebhookRoutes(r, routes.WebhookDeps{
		Card:      webhook.NewCardHandler(ingestService, cfg.Card.WebhookSecret, businessMetrics),
		AppStore:  webhook.NewAppStoreHandler(ingestService, businessMetrics),
		PlayStore: webhook.NewPlayStoreHandler(ingestService, businessMetrics),
	})

	// ==========================================================================
	// Start sweeper and server
	// ==========================================================================

	sweeper := worker.NewSweeper(entitlementStore, entitlementService, worker.Config{
		Interval:       cfg.Sweep.Interval,
		BatchSize:      cfg.Sweep.BatchSize,
		MaxConcurrency: cfg.Sweep.MaxConcurrency,
	}, businessMetrics, logger)

	go func() {
		if err := sweeper.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("sweep worker failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("Shutdown complete")

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

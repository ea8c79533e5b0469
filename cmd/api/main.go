package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/lauragobrightly/ship-ship/internal/handlers"
	"github.com/lauragobrightly/ship-ship/internal/platform/auth"
	"github.com/lauragobrightly/ship-ship/internal/platform/config"
	"github.com/lauragobrightly/ship-ship/internal/platform/observability"
	"github.com/lauragobrightly/ship-ship/internal/platform/requestctx"
	"github.com/lauragobrightly/ship-ship/internal/platform/secrets"
	"github.com/lauragobrightly/ship-ship/internal/services"
)

const instrumentationName = "github.com/lauragobrightly/ship-ship/cmd/api"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = requestctx.WithLogger(ctx, logger)

	lookup, err := config.Lookup()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, lookup)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	meter := otel.GetMeterProvider().Meter(instrumentationName)
	tracer := otel.GetTracerProvider().Tracer(instrumentationName)
	buildInfo := services.BuildInfo{
		Version:     lookupOr(lookup, "SHIP_BUILD_VERSION", "dev"),
		Environment: cfg.Environment,
		StartedAt:   startedAt,
	}

	store, closeStore, err := newStatusStore(cfg)
	if err != nil {
		logger.Fatal("failed to initialise status store", zap.Error(err))
	}
	defer closeStore()

	cache, err := services.NewStatusCacheService(services.StatusCacheServiceDeps{
		Store:  store,
		Meter:  meter,
		Logger: observability.ServiceLogger(logger.Named("cache")),
	})
	if err != nil {
		logger.Fatal("failed to initialise status cache", zap.Error(err))
	}

	strategy, err := newStatusStrategy(cfg, logger.Named("resolver"))
	if err != nil {
		logger.Fatal("failed to initialise status strategy", zap.Error(err))
	}
	resolver, err := services.NewStatusResolver(services.StatusResolverDeps{
		Cache:         cache,
		Strategy:      strategy,
		TTL:           cfg.Resolver.TTL,
		LookupTimeout: cfg.Resolver.LookupTimeout,
		Tracer:        tracer,
		Meter:         meter,
		Logger:        observability.ServiceLogger(logger.Named("resolver")),
	})
	if err != nil {
		logger.Fatal("failed to initialise status resolver", zap.Error(err))
	}

	configRepo, closeConfigRepo, err := newRateConfigRepository(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise rate config store", zap.Error(err))
	}
	defer closeConfigRepo()

	rateConfigs, err := services.NewRateConfigService(services.RateConfigServiceDeps{
		Defaults:   cfg.Rates.Defaults,
		Repository: configRepo,
		Logger:     observability.ServiceLogger(logger.Named("rate_config")),
	})
	if err != nil {
		logger.Fatal("failed to initialise rate config service", zap.Error(err))
	}
	if _, err := rateConfigs.Load(ctx); err != nil {
		logger.Warn("rate config: serving defaults", zap.Error(err))
	}

	rateService, err := services.NewRateService(services.RateServiceDeps{
		Config:   rateConfigs,
		Resolver: resolver,
		Tracer:   tracer,
		Logger:   observability.ServiceLogger(logger.Named("rates")),
	})
	if err != nil {
		logger.Fatal("failed to initialise rate service", zap.Error(err))
	}

	authMetrics := verificationRecorder(meter)
	authLogger := observability.NewPrintfAdapter(logger.Named("auth"))
	webhookVerifier := auth.NewWebhookVerifier(cfg.Shopify.WebhookSecret,
		auth.WithWebhookLogger(authLogger),
		auth.WithWebhookMetrics(authMetrics),
	)

	transport, err := newEventTransport(ctx, cfg, webhookVerifier, logger.Named("events"))
	if err != nil {
		logger.Fatal("failed to initialise event transport", zap.Error(err))
	}
	defer transport.close()

	invalidation, err := services.NewInvalidationService(services.InvalidationServiceDeps{
		Cache:     cache,
		Verifier:  webhookVerifier,
		Publisher: transport.publisher,
		Origin:    cfg.Events.Origin,
		Logger:    observability.ServiceLogger(logger.Named("invalidation")),
	})
	if err != nil {
		logger.Fatal("failed to initialise invalidation service", zap.Error(err))
	}

	runCtx, stopRunners := context.WithCancel(requestctx.WithLogger(context.Background(), logger))
	var runners sync.WaitGroup
	if transport.subscribe != nil {
		sub, err := transport.subscribe(invalidation)
		if err != nil {
			logger.Fatal("failed to initialise event subscriber", zap.Error(err))
		}
		runners.Add(1)
		go func() {
			defer runners.Done()
			if err := sub.Run(runCtx); err != nil {
				logger.Error("event subscriber stopped", zap.Error(err))
			}
		}()
	}

	systemService, err := newSystemService(store, configRepo, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	adminValidator := auth.NewAdminValidator(cfg.Admin.JWTSecret, cfg.Admin.Audience,
		auth.WithAdminLogger(authLogger),
		auth.WithAdminMetrics(authMetrics),
	)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(cfg.ProjectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if systemService != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(systemService))
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithCarrierRoutes(handlers.NewRateHandlers(rateService).Routes),
		handlers.WithWebhookMiddlewares(webhookVerifier.RequireSignature()),
		handlers.WithWebhookRoutes(handlers.NewProductWebhookHandlers(invalidation).Routes),
		handlers.WithAdminMiddlewares(adminValidator.RequireAdmin()),
		handlers.WithAdminRoutes(handlers.NewAdminHandlers(rateConfigs, cache).Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("ship-ship api listening",
			zap.String("strategy", strategy.Name()),
			zap.String("cache", store.Backend()),
			zap.String("rates_store", cfg.Rates.Store),
			zap.String("events", cfg.Events.Transport))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	stopRunners()
	runners.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, lookup func(string) (string, bool)) (*secrets.Fetcher, error) {
	project := lookupOr(lookup, "SHIP_SECRETS_PROJECT_ID", "")
	if project == "" {
		project = lookupOr(lookup, "SHIP_GCP_PROJECT_ID", "")
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
	}
	if path := lookupOr(lookup, "SHIP_SECRETS_FALLBACK_FILE", ""); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func lookupOr(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

package main

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/lauragobrightly/ship-ship/internal/platform/auth"
	"github.com/lauragobrightly/ship-ship/internal/platform/config"
	"github.com/lauragobrightly/ship-ship/internal/platform/events"
	"github.com/lauragobrightly/ship-ship/internal/platform/observability"
	"github.com/lauragobrightly/ship-ship/internal/platform/preorder"
	"github.com/lauragobrightly/ship-ship/internal/platform/shopify"
	"github.com/lauragobrightly/ship-ship/internal/repositories"
	firestoreRepo "github.com/lauragobrightly/ship-ship/internal/repositories/firestore"
	"github.com/lauragobrightly/ship-ship/internal/repositories/memory"
	postgresRepo "github.com/lauragobrightly/ship-ship/internal/repositories/postgres"
	redisRepo "github.com/lauragobrightly/ship-ship/internal/repositories/redis"
	"github.com/lauragobrightly/ship-ship/internal/services"
)

func newStatusStore(cfg config.Config) (repositories.StatusStore, func(), error) {
	switch cfg.Cache.Backend {
	case config.CacheRedis:
		client := redisRepo.NewClient(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		store := redisRepo.NewStatusStore(client, redisRepo.WithPrefix(cfg.Cache.Prefix))
		return store, func() { _ = client.Close() }, nil
	case config.CacheMemory:
		return memory.NewStatusStore(time.Now), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported cache backend %q", cfg.Cache.Backend)
	}
}

func newStatusStrategy(cfg config.Config, logger *zap.Logger) (services.StatusStrategy, error) {
	shop, err := shopify.NewClient(cfg.Shopify.ShopDomain, cfg.Shopify.AccessToken,
		shopify.WithAPIVersion(cfg.Shopify.APIVersion),
		shopify.WithRateLimit(cfg.Shopify.RatePerSecond, cfg.Shopify.Burst),
		shopify.WithLogger(logger.Named("shopify")),
	)
	if err != nil {
		return nil, err
	}
	serviceLogger := observability.ServiceLogger(logger)

	switch cfg.Resolver.Strategy {
	case config.StrategyTwoHop:
		po, err := preorder.NewClient(cfg.PreOrder.BaseURL, cfg.PreOrder.APIKey)
		if err != nil {
			return nil, err
		}
		return services.NewTwoHopStrategy(services.TwoHopStrategyDeps{
			Products:       shop,
			PreOrder:       po,
			MaxConcurrency: cfg.Resolver.MaxConcurrency,
			Logger:         serviceLogger,
		})
	case config.StrategyBatch:
		return services.NewMetafieldBatchStrategy(services.MetafieldBatchStrategyDeps{
			Source:         shop,
			Namespace:      cfg.Resolver.MetafieldNamespace,
			Key:            cfg.Resolver.MetafieldKey,
			MaxConcurrency: cfg.Resolver.MaxConcurrency,
			Logger:         serviceLogger,
		})
	default:
		return nil, fmt.Errorf("unsupported resolver strategy %q", cfg.Resolver.Strategy)
	}
}

// newRateConfigRepository returns a nil repository for the memory store; replacements then live
// only as long as the process.
func newRateConfigRepository(ctx context.Context, cfg config.Config) (repositories.RateConfigRepository, func(), error) {
	switch cfg.Rates.Store {
	case config.StoreFirestore:
		provider := firestoreRepo.NewProvider(cfg.Rates.FirestoreProject,
			firestoreRepo.WithEmulatorHost(cfg.Rates.FirestoreEmulator),
		)
		repo, err := firestoreRepo.NewRateConfigRepository(provider)
		if err != nil {
			_ = provider.Close()
			return nil, nil, err
		}
		return repo, func() { _ = provider.Close() }, nil
	case config.StorePostgres:
		pool, err := postgresRepo.Connect(ctx, cfg.Rates.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		repo, err := postgresRepo.NewRateConfigRepository(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool.Close, nil
	case config.StoreMemory:
		return nil, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported rate config store %q", cfg.Rates.Store)
	}
}

type subscriber interface {
	Run(ctx context.Context) error
}

type eventTransport struct {
	publisher services.ChangePublisher
	subscribe func(events.Handler) (subscriber, error)
	close     func()
}

func newEventTransport(ctx context.Context, cfg config.Config, signer events.Signer, logger *zap.Logger) (eventTransport, error) {
	ec := cfg.Events
	switch ec.Transport {
	case config.TransportPubSub:
		client, err := pubsub.NewClient(ctx, ec.PubSubProject)
		if err != nil {
			return eventTransport{}, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(ec.PubSubTopic)
		publisher, err := events.NewPubSubPublisher(topic, signer, ec.Origin)
		if err != nil {
			topic.Stop()
			_ = client.Close()
			return eventTransport{}, err
		}
		t := eventTransport{
			publisher: publisher,
			close: func() {
				topic.Stop()
				_ = client.Close()
			},
		}
		if ec.PubSubSubscription != "" {
			t.subscribe = func(h events.Handler) (subscriber, error) {
				return events.NewPubSubSubscriber(client.Subscription(ec.PubSubSubscription), h, ec.Origin, logger)
			}
		} else {
			logger.Warn("events: no pubsub subscription configured; peer changes will not be applied")
		}
		return t, nil

	case config.TransportSTAN:
		stanCfg := events.STANConfig{
			ClusterID: ec.STANClusterID,
			ClientID:  ec.STANClientID,
			URL:       ec.STANURL,
			Subject:   ec.STANSubject,
			Durable:   ec.STANDurable,
		}
		pubCfg := stanCfg
		pubCfg.ClientID = stanCfg.ClientID + "-pub"
		conn, err := pubCfg.Connect()
		if err != nil {
			return eventTransport{}, err
		}
		publisher, err := events.NewSTANPublisher(conn, ec.STANSubject, signer, ec.Origin)
		if err != nil {
			_ = conn.Close()
			return eventTransport{}, err
		}
		return eventTransport{
			publisher: publisher,
			subscribe: func(h events.Handler) (subscriber, error) {
				return events.NewSTANSubscriber(stanCfg, h, ec.Origin, logger)
			},
			close: func() { _ = conn.Close() },
		}, nil

	case config.TransportNone:
		return eventTransport{close: func() {}}, nil
	default:
		return eventTransport{}, fmt.Errorf("unsupported events transport %q", ec.Transport)
	}
}

func newSystemService(store repositories.StatusStore, configRepo repositories.RateConfigRepository, build services.BuildInfo) (services.SystemService, error) {
	checks := []repositories.DependencyCheck{{
		Name:     "statusStore",
		Timeout:  time.Second,
		Critical: true,
		Check:    store.Ping,
	}}
	if configRepo != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "rateConfigStore",
			Timeout: 1500 * time.Millisecond,
			Check:   configRepo.Ping,
		})
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
		Build:            build,
	})
}

func verificationRecorder(meter metric.Meter) auth.MetricsRecorder {
	counter, err := meter.Int64Counter("auth.verifications",
		metric.WithDescription("Webhook signature and admin token verifications"),
	)
	if err != nil {
		return nil
	}
	latency, err := meter.Float64Histogram("auth.verification.latency", metric.WithUnit("ms"))
	if err != nil {
		return nil
	}
	return auth.MetricsRecorderFunc(func(ctx context.Context, kind string, success bool, reason string, d time.Duration) {
		attrs := metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.Bool("success", success),
			attribute.String("reason", reason),
		)
		counter.Add(ctx, 1, attrs)
		latency.Record(ctx, float64(d.Microseconds())/1000, attrs)
	})
}

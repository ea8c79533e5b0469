package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lauragobrightly/ship-ship/internal/repositories"
)

const servicesMeterName = "github.com/lauragobrightly/ship-ship/internal/services"

// StatusCacheServiceDeps bundles collaborators required to construct the status cache.
type StatusCacheServiceDeps struct {
	Store  repositories.StatusStore
	Meter  metric.Meter
	Logger func(context.Context, string, map[string]any)
}

type statusCacheService struct {
	store   repositories.StatusStore
	logger  func(context.Context, string, map[string]any)
	lookups metric.Int64Counter
}

var _ StatusCache = (*statusCacheService)(nil)

// NewStatusCacheService wraps a StatusStore with failure-as-absence semantics.
func NewStatusCacheService(deps StatusCacheServiceDeps) (StatusCache, error) {
	if deps.Store == nil {
		return nil, errors.New("status cache: store is required")
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(servicesMeterName)
	}
	lookups, err := meter.Int64Counter("status_cache.lookups",
		metric.WithDescription("Status cache lookups by result"))
	if err != nil {
		return nil, fmt.Errorf("status cache: register lookup metric: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &statusCacheService{store: deps.Store, logger: logger, lookups: lookups}, nil
}

func (c *statusCacheService) Get(ctx context.Context, variantID string) (bool, bool) {
	status, found, err := c.store.Get(ctx, variantID)
	result := "miss"
	switch {
	case err != nil:
		result = "error"
		c.logger(ctx, "status_cache.get_failed", map[string]any{
			"variantId": variantID,
			"backend":   c.store.Backend(),
			"error":     err,
		})
		status, found = false, false
	case found:
		result = "hit"
	}
	c.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	return status, found
}

func (c *statusCacheService) Set(ctx context.Context, variantID string, status bool, ttl time.Duration) {
	if err := c.store.Set(ctx, variantID, status, ttl); err != nil {
		c.logger(ctx, "status_cache.set_failed", map[string]any{
			"variantId": variantID,
			"backend":   c.store.Backend(),
			"error":     err,
		})
	}
}

func (c *statusCacheService) Invalidate(ctx context.Context, variantID string) {
	c.InvalidateForVariants(ctx, []string{variantID})
}

func (c *statusCacheService) InvalidateForVariants(ctx context.Context, variantIDs []string) {
	if len(variantIDs) == 0 {
		return
	}
	if err := c.store.Delete(ctx, variantIDs...); err != nil {
		c.logger(ctx, "status_cache.invalidate_failed", map[string]any{
			"variants": len(variantIDs),
			"backend":  c.store.Backend(),
			"error":    err,
		})
		return
	}
	c.logger(ctx, "status_cache.invalidated", map[string]any{"variants": len(variantIDs)})
}

func (c *statusCacheService) Stats(ctx context.Context) CacheStats {
	stats := CacheStats{Backend: c.store.Backend()}
	if err := c.store.Ping(ctx); err != nil {
		c.logger(ctx, "status_cache.ping_failed", map[string]any{"backend": stats.Backend, "error": err})
		return stats
	}
	stats.Connected = true
	keys, err := c.store.Count(ctx)
	if err != nil {
		c.logger(ctx, "status_cache.count_failed", map[string]any{"backend": stats.Backend, "error": err})
		return stats
	}
	stats.Keys = keys
	return stats
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultStatusTTL     = 24 * time.Hour
	defaultLookupTimeout = 4 * time.Second
)

// StatusResolverDeps bundles collaborators required to construct the resolver.
type StatusResolverDeps struct {
	Cache         StatusCache
	Strategy      StatusStrategy
	TTL           time.Duration
	LookupTimeout time.Duration
	Tracer        trace.Tracer
	Meter         metric.Meter
	Logger        func(context.Context, string, map[string]any)
}

type statusResolver struct {
	cache         StatusCache
	strategy      StatusStrategy
	ttl           time.Duration
	lookupTimeout time.Duration
	tracer        trace.Tracer
	defaults      metric.Int64Counter
	logger        func(context.Context, string, map[string]any)
}

var _ StatusResolver = (*statusResolver)(nil)

// NewStatusResolver constructs a cache-aside resolver around a single lookup strategy.
func NewStatusResolver(deps StatusResolverDeps) (StatusResolver, error) {
	if deps.Cache == nil {
		return nil, errors.New("status resolver: cache is required")
	}
	if deps.Strategy == nil {
		return nil, errors.New("status resolver: strategy is required")
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	timeout := deps.LookupTimeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(servicesMeterName)
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(servicesMeterName)
	}
	defaults, err := meter.Int64Counter("status_resolver.defaulted",
		metric.WithDescription("Variants that fell back to ready-to-ship after a failed lookup"))
	if err != nil {
		return nil, fmt.Errorf("status resolver: register metric: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &statusResolver{
		cache:         deps.Cache,
		strategy:      deps.Strategy,
		ttl:           ttl,
		lookupTimeout: timeout,
		tracer:        tracer,
		defaults:      defaults,
		logger:        logger,
	}, nil
}

// Resolve never fails. Ids the strategy could not answer for default to false and are cached as
// such, so a failed lookup is not retried until the entry expires or is invalidated.
func (r *statusResolver) Resolve(ctx context.Context, variantIDs []string) map[string]bool {
	result := make(map[string]bool, len(variantIDs))
	if len(variantIDs) == 0 {
		return result
	}

	ctx, span := r.tracer.Start(ctx, "StatusResolver.Resolve",
		trace.WithAttributes(
			attribute.Int("resolver.requested", len(variantIDs)),
			attribute.String("resolver.strategy", r.strategy.Name()),
		))
	defer span.End()

	var uncached []string
	for _, id := range variantIDs {
		if _, seen := result[id]; seen {
			continue
		}
		if id == "" {
			result[id] = false
			continue
		}
		if status, ok := r.cache.Get(ctx, id); ok {
			result[id] = status
			continue
		}
		// Placeholder so duplicates are looked up once; overwritten below.
		result[id] = false
		uncached = append(uncached, id)
	}
	span.SetAttributes(attribute.Int("resolver.uncached", len(uncached)))
	if len(uncached) == 0 {
		return result
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	found, err := r.lookup(lookupCtx, uncached)
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		r.logger(ctx, "resolver.strategy_failed", map[string]any{
			"strategy":  r.strategy.Name(),
			"requested": len(uncached),
			"resolved":  len(found),
			"error":     err,
		})
	}

	defaulted := 0
	for _, id := range uncached {
		status, ok := found[id]
		if !ok {
			defaulted++
		}
		result[id] = status
		r.cache.Set(ctx, id, status, r.ttl)
	}
	if defaulted > 0 {
		r.defaults.Add(ctx, int64(defaulted), metric.WithAttributes(attribute.String("strategy", r.strategy.Name())))
		r.logger(ctx, "resolver.defaulted", map[string]any{
			"strategy":  r.strategy.Name(),
			"defaulted": defaulted,
		})
	}
	span.SetAttributes(attribute.Int("resolver.defaulted", defaulted))
	return result
}

func (r *statusResolver) lookup(ctx context.Context, ids []string) (found map[string]bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			found = nil
			err = fmt.Errorf("status strategy %s panicked: %v", r.strategy.Name(), rec)
		}
	}()
	return r.strategy.Lookup(ctx, ids)
}

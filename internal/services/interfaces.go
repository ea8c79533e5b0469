package services

import (
	"context"
	"time"

	domain "github.com/lauragobrightly/ship-ship/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	LineItem           = domain.LineItem
	VariantID          = domain.VariantID
	RateConfig         = domain.RateConfig
	RateQuote          = domain.RateQuote
	RateRequest        = domain.RateRequest
	ProductChange      = domain.ProductChange
	CacheStats         = domain.CacheStats
	SystemHealthReport = domain.SystemHealthReport
)

// StatusCache stores resolved pre-order flags. Backend failures never surface: reads degrade to a
// miss and writes or deletes become no-ops.
type StatusCache interface {
	Get(ctx context.Context, variantID string) (status bool, ok bool)
	Set(ctx context.Context, variantID string, status bool, ttl time.Duration)
	Invalidate(ctx context.Context, variantID string)
	InvalidateForVariants(ctx context.Context, variantIDs []string)
	Stats(ctx context.Context) CacheStats
}

// StatusStrategy looks up pre-order flags for ids missing from the cache. The returned map holds
// only the ids the source answered for; anything omitted is treated as unresolved.
type StatusStrategy interface {
	Name() string
	Lookup(ctx context.Context, variantIDs []string) (map[string]bool, error)
}

// StatusResolver returns exactly one flag per requested id.
type StatusResolver interface {
	Resolve(ctx context.Context, variantIDs []string) map[string]bool
}

// RateService answers carrier-service rate requests.
type RateService interface {
	Quote(ctx context.Context, req RateRequest) ([]RateQuote, error)
}

// RateConfigService owns the process-wide rate configuration.
type RateConfigService interface {
	Current(ctx context.Context) RateConfig
	Replace(ctx context.Context, cfg RateConfig) (RateConfig, error)
	Load(ctx context.Context) (RateConfig, error)
}

// InvalidationService purges cached statuses for changed products.
type InvalidationService interface {
	HandleNotification(ctx context.Context, payload []byte, signature string) (ProductChange, error)
	Invalidate(ctx context.Context, change ProductChange) error
}

// ChangePublisher fans product changes out to other instances.
type ChangePublisher interface {
	Publish(ctx context.Context, change ProductChange) error
}

// SystemService exposes health reports.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/lauragobrightly/ship-ship/internal/domain"
)

// ErrNotFound is returned when a repository has no record for the key.
var ErrNotFound = errors.New("repositories: not found")

// StatusStore is a key-value backend for cached pre-order flags. Implementations return errors
// as-is; the service layer decides how failures degrade. A missing or expired key is reported as
// found=false with a nil error.
type StatusStore interface {
	Get(ctx context.Context, variantID string) (status bool, found bool, err error)
	Set(ctx context.Context, variantID string, status bool, ttl time.Duration) error
	Delete(ctx context.Context, variantIDs ...string) error
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Backend() string
}

// RateConfigRepository persists the process-wide rate configuration.
type RateConfigRepository interface {
	// Load returns ErrNotFound when nothing has been saved yet.
	Load(ctx context.Context) (domain.RateConfig, error)
	Save(ctx context.Context, cfg domain.RateConfig) error
	Ping(ctx context.Context) error
}

// HealthRepository reports the status of downstream dependencies.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lauragobrightly/ship-ship/internal/domain"
	"github.com/lauragobrightly/ship-ship/internal/repositories"
)

const (
	settingsCollection = "settings"
	rateConfigDocID    = "rate_config"
)

type rateConfigDocument struct {
	Config    domain.RateConfig `firestore:"config"`
	UpdatedAt time.Time         `firestore:"updatedAt"`
}

// RateConfigRepository stores the rate configuration as a single document at settings/rate_config.
type RateConfigRepository struct {
	provider *Provider
	now      func() time.Time
}

var _ repositories.RateConfigRepository = (*RateConfigRepository)(nil)

// NewRateConfigRepository constructs a Firestore-backed rate config repository.
func NewRateConfigRepository(provider *Provider) (*RateConfigRepository, error) {
	if provider == nil {
		return nil, errors.New("rate config repository requires firestore provider")
	}
	return &RateConfigRepository{
		provider: provider,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *RateConfigRepository) Load(ctx context.Context) (domain.RateConfig, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.RateConfig{}, err
	}
	snap, err := client.Collection(settingsCollection).Doc(rateConfigDocID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return domain.RateConfig{}, repositories.ErrNotFound
	}
	if err != nil {
		return domain.RateConfig{}, wrapError("firestore rate config load", err)
	}
	var doc rateConfigDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.RateConfig{}, fmt.Errorf("firestore rate config decode: %w", err)
	}
	return doc.Config, nil
}

func (r *RateConfigRepository) Save(ctx context.Context, cfg domain.RateConfig) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	doc := rateConfigDocument{Config: cfg, UpdatedAt: r.now()}
	if _, err := client.Collection(settingsCollection).Doc(rateConfigDocID).Set(ctx, doc); err != nil {
		return wrapError("firestore rate config save", err)
	}
	return nil
}

// Ping reads the config document; a missing document still proves connectivity.
func (r *RateConfigRepository) Ping(ctx context.Context) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(settingsCollection).Doc(rateConfigDocID).Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return wrapError("firestore ping", err)
	}
	return nil
}

// wrapError passes context errors through so callers can tell timeouts apart from backend faults.
func wrapError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	return fmt.Errorf("%s: %w", op, err)
}

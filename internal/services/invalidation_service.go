package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	domain "github.com/lauragobrightly/ship-ship/internal/domain"
)

// ErrInvalidNotification covers unsigned, mis-signed and malformed change notifications.
var ErrInvalidNotification = errors.New("invalidation: invalid notification")

// PayloadVerifier checks a signature over raw notification bytes.
type PayloadVerifier interface {
	Verify(payload []byte, signature string) error
}

// InvalidationServiceDeps bundles collaborators required to construct the invalidation service.
type InvalidationServiceDeps struct {
	Cache     StatusCache
	Verifier  PayloadVerifier
	Publisher ChangePublisher
	Origin    string
	Logger    func(context.Context, string, map[string]any)
}

type invalidationService struct {
	cache     StatusCache
	verifier  PayloadVerifier
	publisher ChangePublisher
	origin    string
	logger    func(context.Context, string, map[string]any)
}

var _ InvalidationService = (*invalidationService)(nil)

// NewInvalidationService constructs the listener. Publisher is optional; when set, locally received
// changes are broadcast so other instances purge their caches too.
func NewInvalidationService(deps InvalidationServiceDeps) (InvalidationService, error) {
	if deps.Cache == nil {
		return nil, errors.New("invalidation service: cache is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("invalidation service: verifier is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &invalidationService{
		cache:     deps.Cache,
		verifier:  deps.Verifier,
		publisher: deps.Publisher,
		origin:    strings.TrimSpace(deps.Origin),
		logger:    logger,
	}, nil
}

// HandleNotification verifies and decodes a raw notification, then invalidates. Nothing is touched
// unless both steps succeed.
func (s *invalidationService) HandleNotification(ctx context.Context, payload []byte, signature string) (ProductChange, error) {
	if err := s.verifier.Verify(payload, signature); err != nil {
		s.logger(ctx, "invalidation.rejected", map[string]any{"reason": "signature", "error": err})
		return ProductChange{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	change, err := DecodeProductChange(payload)
	if err != nil {
		s.logger(ctx, "invalidation.rejected", map[string]any{"reason": "payload", "error": err})
		return ProductChange{}, err
	}
	if err := s.Invalidate(ctx, change); err != nil {
		return ProductChange{}, err
	}
	return change, nil
}

// Invalidate purges every listed variant. Changes without an origin were received locally and are
// re-published under this instance's origin.
func (s *invalidationService) Invalidate(ctx context.Context, change ProductChange) error {
	ids := make([]string, 0, len(change.VariantIDs))
	for _, id := range change.VariantIDs {
		if v := strings.TrimSpace(id.String()); v != "" {
			ids = append(ids, v)
		}
	}
	s.cache.InvalidateForVariants(ctx, ids)
	s.logger(ctx, "invalidation.applied", map[string]any{
		"productId": string(change.ProductID),
		"variants":  len(ids),
		"topic":     change.Topic,
		"origin":    change.Origin,
	})

	if s.publisher == nil || change.Origin != "" || s.origin == "" {
		return nil
	}
	change.Origin = s.origin
	if err := s.publisher.Publish(ctx, change); err != nil {
		// Local purge already happened; a lost broadcast only leaves peers stale until TTL.
		s.logger(ctx, "invalidation.publish_failed", map[string]any{"productId": string(change.ProductID), "error": err})
	}
	return nil
}

type productNotification struct {
	ProductID  domain.ProductID   `json:"product_id"`
	VariantIDs []domain.VariantID `json:"variant_ids"`
	Topic      string             `json:"topic"`
	Origin     string             `json:"origin"`

	// Shopify product webhook shape.
	ID       domain.ProductID `json:"id"`
	Variants []struct {
		ID domain.VariantID `json:"id"`
	} `json:"variants"`
}

// DecodeProductChange accepts either a ProductChange document or a Shopify product webhook body.
func DecodeProductChange(payload []byte) (ProductChange, error) {
	var n productNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return ProductChange{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	change := ProductChange{
		ProductID: n.ProductID,
		Topic:     strings.TrimSpace(n.Topic),
		Origin:    strings.TrimSpace(n.Origin),
	}
	if change.ProductID == "" {
		change.ProductID = n.ID
	}
	change.VariantIDs = append(change.VariantIDs, n.VariantIDs...)
	for _, v := range n.Variants {
		change.VariantIDs = append(change.VariantIDs, v.ID)
	}
	if change.ProductID == "" {
		return ProductChange{}, fmt.Errorf("%w: product id is required", ErrInvalidNotification)
	}
	return change, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	// StrategyTwoHop resolves variant → product, then asks the pre-order service per pair.
	StrategyTwoHop = "two_hop"
	// StrategyMetafieldBatch reads a per-variant metafield in batched catalog queries.
	StrategyMetafieldBatch = "batch"

	metafieldBatchSize = 250
)

// ProductLookup maps a variant to its owning product.
type ProductLookup interface {
	ProductIDForVariant(ctx context.Context, variantID string) (string, error)
}

// PreOrderSource reports whether a product variant is on pre-order.
type PreOrderSource interface {
	IsPreOrder(ctx context.Context, productID, variantID string) (bool, error)
}

// MetafieldSource reads one metafield for many variants, keyed by the ids as passed in. Variants
// without the field are omitted.
type MetafieldSource interface {
	VariantMetafields(ctx context.Context, variantIDs []string, namespace, key string) (map[string]string, error)
}

// TwoHopStrategyDeps configures NewTwoHopStrategy.
type TwoHopStrategyDeps struct {
	Products       ProductLookup
	PreOrder       PreOrderSource
	MaxConcurrency int
	Logger         func(context.Context, string, map[string]any)
}

type twoHopStrategy struct {
	products ProductLookup
	preorder PreOrderSource
	limit    int
	logger   func(context.Context, string, map[string]any)
}

// NewTwoHopStrategy builds the per-variant strategy. Variants are resolved concurrently; a
// non-positive MaxConcurrency leaves concurrency to the clients' own rate limiters.
func NewTwoHopStrategy(deps TwoHopStrategyDeps) (StatusStrategy, error) {
	if deps.Products == nil {
		return nil, errors.New("two-hop strategy: product lookup is required")
	}
	if deps.PreOrder == nil {
		return nil, errors.New("two-hop strategy: pre-order source is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &twoHopStrategy{
		products: deps.Products,
		preorder: deps.PreOrder,
		limit:    deps.MaxConcurrency,
		logger:   logger,
	}, nil
}

func (s *twoHopStrategy) Name() string { return StrategyTwoHop }

func (s *twoHopStrategy) Lookup(ctx context.Context, variantIDs []string) (map[string]bool, error) {
	var (
		mu     sync.Mutex
		found  = make(map[string]bool, len(variantIDs))
		failed []error
		g      errgroup.Group
	)
	if s.limit > 0 {
		g.SetLimit(s.limit)
	}
	for _, id := range variantIDs {
		g.Go(func() error {
			status, err := s.resolveOne(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, err)
				return nil
			}
			found[id] = status
			return nil
		})
	}
	_ = g.Wait()
	if len(failed) > 0 {
		return found, fmt.Errorf("%d of %d variants unresolved: %w", len(failed), len(variantIDs), errors.Join(failed...))
	}
	return found, nil
}

func (s *twoHopStrategy) resolveOne(ctx context.Context, variantID string) (bool, error) {
	productID, err := s.products.ProductIDForVariant(ctx, variantID)
	if err != nil {
		s.logger(ctx, "resolver.product_lookup_failed", map[string]any{"variantId": variantID, "error": err})
		return false, fmt.Errorf("variant %s: product lookup: %w", variantID, err)
	}
	status, err := s.preorder.IsPreOrder(ctx, productID, variantID)
	if err != nil {
		s.logger(ctx, "resolver.preorder_lookup_failed", map[string]any{
			"variantId": variantID,
			"productId": productID,
			"error":     err,
		})
		return false, fmt.Errorf("variant %s: pre-order lookup: %w", variantID, err)
	}
	return status, nil
}

// MetafieldBatchStrategyDeps configures NewMetafieldBatchStrategy.
type MetafieldBatchStrategyDeps struct {
	Source         MetafieldSource
	Namespace      string
	Key            string
	BatchSize      int
	MaxConcurrency int
	Logger         func(context.Context, string, map[string]any)
}

type metafieldBatchStrategy struct {
	source    MetafieldSource
	namespace string
	key       string
	batchSize int
	limit     int
	logger    func(context.Context, string, map[string]any)
}

// NewMetafieldBatchStrategy builds the single-hop strategy. Ids are split into batches no larger
// than the catalog's node limit and the batches run concurrently.
func NewMetafieldBatchStrategy(deps MetafieldBatchStrategyDeps) (StatusStrategy, error) {
	if deps.Source == nil {
		return nil, errors.New("metafield strategy: source is required")
	}
	namespace := strings.TrimSpace(deps.Namespace)
	key := strings.TrimSpace(deps.Key)
	if namespace == "" || key == "" {
		return nil, errors.New("metafield strategy: namespace and key are required")
	}
	size := deps.BatchSize
	if size <= 0 || size > metafieldBatchSize {
		size = metafieldBatchSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &metafieldBatchStrategy{
		source:    deps.Source,
		namespace: namespace,
		key:       key,
		batchSize: size,
		limit:     deps.MaxConcurrency,
		logger:    logger,
	}, nil
}

func (s *metafieldBatchStrategy) Name() string { return StrategyMetafieldBatch }

func (s *metafieldBatchStrategy) Lookup(ctx context.Context, variantIDs []string) (map[string]bool, error) {
	var (
		mu     sync.Mutex
		found  = make(map[string]bool, len(variantIDs))
		failed []error
		g      errgroup.Group
	)
	if s.limit > 0 {
		g.SetLimit(s.limit)
	}
	for start := 0; start < len(variantIDs); start += s.batchSize {
		end := min(start+s.batchSize, len(variantIDs))
		batch := variantIDs[start:end]
		g.Go(func() error {
			values, err := s.source.VariantMetafields(ctx, batch, s.namespace, s.key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger(ctx, "resolver.batch_failed", map[string]any{"batch": len(batch), "error": err})
				failed = append(failed, err)
				return nil
			}
			// An answered batch settles every id in it; a missing metafield means not on pre-order.
			for _, id := range batch {
				found[id] = parseFlag(values[id])
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(failed) > 0 {
		return found, fmt.Errorf("%d metafield batches failed: %w", len(failed), errors.Join(failed...))
	}
	return found, nil
}

func parseFlag(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

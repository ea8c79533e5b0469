package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lauragobrightly/ship-ship/internal/platform/auth"
	"github.com/lauragobrightly/ship-ship/internal/platform/httpx"
	"github.com/lauragobrightly/ship-ship/internal/platform/requestctx"
	"github.com/lauragobrightly/ship-ship/internal/services"
)

const (
	maxWebhookBodySize = 1 << 20

	topicProductsUpdate = "products/update"
	topicProductsDelete = "products/delete"
)

// ProductWebhookHandlers purges cached pre-order status when products change. The routes must be
// mounted behind auth.WebhookVerifier.RequireSignature; deliveries without verified metadata are
// refused.
type ProductWebhookHandlers struct {
	invalidation services.InvalidationService
}

// NewProductWebhookHandlers constructs the product webhook handlers.
func NewProductWebhookHandlers(invalidation services.InvalidationService) *ProductWebhookHandlers {
	return &ProductWebhookHandlers{invalidation: invalidation}
}

// Routes wires the product webhook endpoints onto the provided router.
func (h *ProductWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/products/update", h.handle(topicProductsUpdate))
	r.Post("/products/delete", h.handle(topicProductsDelete))
}

func (h *ProductWebhookHandlers) handle(defaultTopic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.invalidation == nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalidation_unavailable", "invalidation service is unavailable", http.StatusServiceUnavailable))
			return
		}

		meta, ok := auth.WebhookMetadataFromContext(ctx)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "webhook signature not verified", http.StatusUnauthorized))
			return
		}

		body, err := readLimitedBody(r, maxWebhookBodySize)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, errBodyTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
			return
		}

		change, err := services.DecodeProductChange(body)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		// Only peers stamp an origin; an external delivery carrying one would suppress the broadcast.
		change.Origin = ""
		change.Topic = meta.Topic
		if change.Topic == "" {
			change.Topic = defaultTopic
		}

		if meta.ShopDomain != "" {
			ctx = requestctx.WithShopDomain(ctx, meta.ShopDomain)
		}
		if err := h.invalidation.Invalidate(ctx, change); err != nil {
			requestctx.Logger(ctx).Error("webhook invalidation failed", zap.Error(err), zap.String("webhook_id", meta.WebhookID))
			httpx.WriteError(ctx, w, httpx.NewError("invalidation_failed", "unable to apply product change", http.StatusInternalServerError))
			return
		}

		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"status":     "accepted",
			"product_id": string(change.ProductID),
			"variants":   len(change.VariantIDs),
		})
	}
}

package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/lauragobrightly/ship-ship/internal/domain"
	"github.com/lauragobrightly/ship-ship/internal/platform/httpx"
	"github.com/lauragobrightly/ship-ship/internal/platform/requestctx"
	"github.com/lauragobrightly/ship-ship/internal/services"
)

const maxAdminBodySize = 64 * 1024

// AdminHandlers exposes operator endpoints for the rate configuration and the status cache.
type AdminHandlers struct {
	configs services.RateConfigService
	cache   services.StatusCache
}

// NewAdminHandlers constructs admin handlers. Either collaborator may be nil; its routes then answer 503.
func NewAdminHandlers(configs services.RateConfigService, cache services.StatusCache) *AdminHandlers {
	return &AdminHandlers{configs: configs, cache: cache}
}

// Routes wires the admin endpoints onto the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/rate-config", h.getRateConfig)
	r.Put("/rate-config", h.putRateConfig)
	r.Get("/cache/stats", h.cacheStats)
	r.Post("/cache/invalidate", h.invalidateCache)
}

func (h *AdminHandlers) getRateConfig(w http.ResponseWriter, r *http.Request) {
	if h.configs == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("rate_config_unavailable", "rate configuration is unavailable", http.StatusServiceUnavailable))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.configs.Current(r.Context()))
}

func (h *AdminHandlers) putRateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.configs == nil {
		httpx.WriteError(ctx, w, httpx.NewError("rate_config_unavailable", "rate configuration is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	var cfg domain.RateConfig
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload: "+err.Error(), http.StatusBadRequest))
		return
	}

	updated, err := h.configs.Replace(ctx, cfg)
	switch {
	case errors.Is(err, services.ErrRateConfigInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_rate_config", err.Error(), http.StatusBadRequest))
		return
	case err != nil:
		requestctx.Logger(ctx).Error("rate config replace failed", zap.Error(err), zap.String("actor", requestctx.Actor(ctx)))
		httpx.WriteError(ctx, w, httpx.NewError("rate_config_persist_failed", "unable to save rate configuration", http.StatusInternalServerError))
		return
	}
	requestctx.Logger(ctx).Info("rate config replaced",
		zap.String("actor", requestctx.Actor(ctx)),
		zap.Bool("kill_switch", updated.KillSwitch))
	httpx.WriteJSON(w, http.StatusOK, updated)
}

func (h *AdminHandlers) cacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("cache_unavailable", "status cache is unavailable", http.StatusServiceUnavailable))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.cache.Stats(r.Context()))
}

type invalidateCacheRequest struct {
	VariantIDs []domain.VariantID `json:"variant_ids"`
}

func (h *AdminHandlers) invalidateCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cache == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cache_unavailable", "status cache is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	var req invalidateCacheRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload: "+err.Error(), http.StatusBadRequest))
		return
	}

	ids := make([]string, 0, len(req.VariantIDs))
	for _, id := range req.VariantIDs {
		if v := strings.TrimSpace(id.String()); v != "" {
			ids = append(ids, v)
		}
	}
	if len(ids) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "variant_ids is required", http.StatusBadRequest))
		return
	}

	h.cache.InvalidateForVariants(ctx, ids)
	requestctx.Logger(ctx).Info("status cache invalidated",
		zap.String("actor", requestctx.Actor(ctx)),
		zap.Int("variants", len(ids)))
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"invalidated": len(ids)})
}

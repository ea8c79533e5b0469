package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/lauragobrightly/ship-ship/internal/domain"
	"github.com/lauragobrightly/ship-ship/internal/platform/httpx"
	"github.com/lauragobrightly/ship-ship/internal/platform/requestctx"
	"github.com/lauragobrightly/ship-ship/internal/services"
)

const maxRateBodySize = 256 * 1024

// RateHandlers answers carrier-service callbacks. Every response, including failures, carries a
// "rates" array so checkout can fall back to other carriers.
type RateHandlers struct {
	rates services.RateService
}

// NewRateHandlers constructs the carrier-service handlers.
func NewRateHandlers(rates services.RateService) *RateHandlers {
	return &RateHandlers{rates: rates}
}

// Routes wires the /carrier endpoints onto the provided router.
func (h *RateHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/rates", h.quote)
}

type carrierRateRequest struct {
	Rate *struct {
		Items    *[]carrierItem `json:"items"`
		Currency string         `json:"currency"`
		Locale   string         `json:"locale"`
	} `json:"rate"`
}

type carrierItem struct {
	VariantID   domain.VariantID `json:"variant_id"`
	Price       int64            `json:"price"`
	Quantity    int              `json:"quantity"`
	Name        string           `json:"name"`
	ProductType string           `json:"product_type"`
}

type rateResponse struct {
	Rates []services.RateQuote `json:"rates"`
}

func (h *RateHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			requestctx.Logger(ctx).Error("rates handler panic",
				zap.String("panic", fmt.Sprint(rec)),
				zap.ByteString("stack", debug.Stack()))
			writeRateError(w, r, "internal_server_error", "unable to compute rates", http.StatusInternalServerError)
		}
	}()

	if h.rates == nil {
		writeRateError(w, r, "rate_service_unavailable", "rate service is unavailable", http.StatusServiceUnavailable)
		return
	}

	body, err := readLimitedBody(r, maxRateBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeRateError(w, r, "invalid_request", err.Error(), status)
		return
	}

	req, err := parseCarrierRateRequest(body)
	if err != nil {
		writeRateError(w, r, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	quotes, err := h.rates.Quote(ctx, req)
	if err != nil {
		requestctx.Logger(ctx).Error("rate computation failed", zap.Error(err))
		writeRateError(w, r, "rate_computation_failed", "unable to compute rates", http.StatusInternalServerError)
		return
	}
	if quotes == nil {
		quotes = []services.RateQuote{}
	}
	httpx.WriteJSON(w, http.StatusOK, rateResponse{Rates: quotes})
}

func parseCarrierRateRequest(body []byte) (services.RateRequest, error) {
	var payload carrierRateRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		return services.RateRequest{}, fmt.Errorf("invalid JSON payload: %w", err)
	}
	if payload.Rate == nil || payload.Rate.Items == nil {
		return services.RateRequest{}, errors.New("rate.items is required")
	}

	items := make([]services.LineItem, 0, len(*payload.Rate.Items))
	for i, item := range *payload.Rate.Items {
		if item.Price < 0 {
			return services.RateRequest{}, fmt.Errorf("rate.items[%d].price must be >= 0", i)
		}
		if item.Quantity < 1 {
			return services.RateRequest{}, fmt.Errorf("rate.items[%d].quantity must be >= 1", i)
		}
		items = append(items, services.LineItem{
			VariantID:   item.VariantID,
			UnitPrice:   item.Price,
			Quantity:    item.Quantity,
			ProductType: item.ProductType,
			Title:       item.Name,
		})
	}
	if _, ok := domain.SumSubtotals(items); !ok {
		return services.RateRequest{}, errors.New("rate.items total exceeds the supported range")
	}
	return services.RateRequest{
		Items:    items,
		Currency: payload.Rate.Currency,
		Locale:   payload.Rate.Locale,
	}, nil
}

func writeRateError(w http.ResponseWriter, r *http.Request, code, message string, status int) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status).WithDetails(map[string]any{
		"rates": []services.RateQuote{},
	}))
}

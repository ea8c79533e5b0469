package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/lauragobrightly/ship-ship/internal/domain"
	"github.com/lauragobrightly/ship-ship/internal/services"
)

func serveRates(t *testing.T, svc services.RateService, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	router := chi.NewRouter()
	NewRateHandlers(svc).Routes(router)

	req := httptest.NewRequest(http.MethodPost, "/rates", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var decoded map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return rr, decoded
}

func assertEmptyRates(t *testing.T, body map[string]any) {
	t.Helper()
	rates, ok := body["rates"].([]any)
	if !ok {
		t.Fatalf("expected rates array, got %#v", body["rates"])
	}
	if len(rates) != 0 {
		t.Fatalf("expected empty rates, got %v", rates)
	}
}

func TestRateHandlersQuote(t *testing.T) {
	svc := &stubRateService{quotes: []services.RateQuote{{
		ServiceName: "Standard",
		ServiceCode: domain.ServiceCodeReadyToShip,
		TotalPrice:  "0",
		Currency:    "USD",
	}}}

	rr, body := serveRates(t, svc, `{"rate":{"currency":"USD","locale":"en-US","items":[
		{"variant_id":123,"price":2500,"quantity":2,"name":"Tee","product_type":"Apparel"},
		{"variant_id":"456","price":1000,"quantity":1,"name":"Gift Card","product_type":"Gift Card"}
	]}}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rates, ok := body["rates"].([]any)
	if !ok || len(rates) != 1 {
		t.Fatalf("expected one rate, got %#v", body["rates"])
	}
	first := rates[0].(map[string]any)
	if first["service_code"] != domain.ServiceCodeReadyToShip || first["total_price"] != "0" {
		t.Fatalf("unexpected rate %v", first)
	}

	if svc.calls != 1 {
		t.Fatalf("expected one quote call, got %d", svc.calls)
	}
	got := svc.got
	if got.Currency != "USD" || got.Locale != "en-US" || len(got.Items) != 2 {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.Items[0].VariantID != "123" || got.Items[0].UnitPrice != 2500 || got.Items[0].Quantity != 2 || got.Items[0].Title != "Tee" {
		t.Fatalf("unexpected first item %+v", got.Items[0])
	}
	if got.Items[1].ProductType != "Gift Card" {
		t.Fatalf("unexpected second item %+v", got.Items[1])
	}
}

func TestRateHandlersEmptyResultEncodesArray(t *testing.T) {
	svc := &stubRateService{}
	rr, body := serveRates(t, svc, `{"rate":{"items":[]}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	assertEmptyRates(t, body)
	if svc.calls != 1 || len(svc.got.Items) != 0 {
		t.Fatalf("expected service to receive empty cart, got %+v", svc.got)
	}
}

func TestRateHandlersRejectsMalformedRequests(t *testing.T) {
	cases := map[string]string{
		"missing items":        `{"rate":{"currency":"USD"}}`,
		"missing rate":         `{}`,
		"invalid json":         `{"rate":`,
		"negative price":       `{"rate":{"items":[{"variant_id":1,"price":-1,"quantity":1}]}}`,
		"zero quantity":        `{"rate":{"items":[{"variant_id":1,"price":100,"quantity":0}]}}`,
		"fractional id":        `{"rate":{"items":[{"variant_id":1.5,"price":100,"quantity":1}]}}`,
		"whitespace only":      `   `,
		"items wrong shape":    `{"rate":{"items":{}}}`,
		"line total overflows": `{"rate":{"items":[{"variant_id":1,"price":4611686018427387904,"quantity":2}]}}`,
		"cart total overflows": `{"rate":{"items":[{"variant_id":1,"price":9223372036854775807,"quantity":1},{"variant_id":2,"price":3000,"quantity":1}]}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubRateService{}
			rr, body := serveRates(t, svc, payload)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
			assertEmptyRates(t, body)
			if body["error"] != "invalid_request" {
				t.Fatalf("expected invalid_request, got %v", body["error"])
			}
			if svc.calls != 0 {
				t.Fatalf("service should not be called")
			}
		})
	}
}

func TestRateHandlersServiceErrorReturnsEmptyRates(t *testing.T) {
	svc := &stubRateService{err: errors.New("boom")}
	rr, body := serveRates(t, svc, `{"rate":{"items":[{"variant_id":1,"price":100,"quantity":1}]}}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	assertEmptyRates(t, body)
	if body["error"] != "rate_computation_failed" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
}

func TestRateHandlersRecoversFromPanic(t *testing.T) {
	svc := &stubRateService{panic: "unexpected"}
	rr, body := serveRates(t, svc, `{"rate":{"items":[{"variant_id":1,"price":100,"quantity":1}]}}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	assertEmptyRates(t, body)
}

func TestRateHandlersWithoutService(t *testing.T) {
	rr, body := serveRates(t, nil, `{"rate":{"items":[]}}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	assertEmptyRates(t, body)
}

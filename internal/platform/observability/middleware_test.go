package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lauragobrightly/ship-ship/internal/platform/requestctx"
)

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/carrier/rates", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "internal_server_error" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestRequestLoggerMiddlewareLogsCompletionAndShop(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	var seenShop string
	handler := InjectLoggerMiddleware(zap.New(core))(
		RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seenShop = requestctx.ShopDomain(r.Context())
			w.WriteHeader(http.StatusBadRequest)
		})),
	)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/carrier/rates", nil)
	req.Header.Set("X-Shopify-Shop-Domain", "demo.myshopify.com")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seenShop != "demo.myshopify.com" {
		t.Fatalf("expected shop domain on context, got %q", seenShop)
	}
	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion log, got %d", len(entries))
	}
	if entries[0].Level != zap.WarnLevel {
		t.Fatalf("expected warn level for 400, got %s", entries[0].Level)
	}
	if got := entries[0].ContextMap()["status"]; got != int64(http.StatusBadRequest) {
		t.Fatalf("expected status 400 logged, got %v", got)
	}
}

func TestTraceMiddlewareContinuesCloudTraceHeader(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("ship-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if info.ProjectID != "ship-prod" {
		t.Fatalf("expected project id recorded, got %q", info.ProjectID)
	}
}

func TestParseCloudTrace(t *testing.T) {
	sc, ok := parseCloudTrace("105445aa7843bc8bf206b12000100000/258;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if sc.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", sc.TraceID())
	}
	if sc.SpanID().String() != "0000000000000102" {
		t.Fatalf("unexpected span id %s", sc.SpanID())
	}
	if !sc.IsSampled() {
		t.Fatalf("expected sampled flag")
	}

	for _, header := range []string{"", "nope", "short/1", "105445aa7843bc8bf206b12000100000/abc"} {
		if _, ok := parseCloudTrace(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestServiceLoggerLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := ServiceLogger(zap.New(core))
	log(context.Background(), "status_cache.get_failed", map[string]any{"variant_id": "1"})
	log(context.Background(), "resolver.resolved", nil)

	all := logs.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}
	if all[0].Level != zap.WarnLevel || all[1].Level != zap.InfoLevel {
		t.Fatalf("unexpected levels %s %s", all[0].Level, all[1].Level)
	}
}

func TestSanitizeStringStripsControlCharacters(t *testing.T) {
	if got := sanitizeString("a\x00b\nc", 10); got != "abc" {
		t.Fatalf("unexpected sanitized value %q", got)
	}
	if got := sanitizeString("abcdef", 3); got != "abc" {
		t.Fatalf("expected truncation, got %q", got)
	}
}

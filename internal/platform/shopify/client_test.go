package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

type capturedRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, req capturedRequest)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Shopify-Access-Token"); got != "shpat_test" {
			t.Errorf("missing access token header, got %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		var req capturedRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w, req)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient("demo.myshopify.com", "shpat_test", WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestProductIDForVariant(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, req capturedRequest) {
		if req.Variables["id"] != "gid://shopify/ProductVariant/42" {
			t.Errorf("unexpected id variable %v", req.Variables["id"])
		}
		_, _ = io.WriteString(w, `{"data":{"productVariant":{"id":"gid://shopify/ProductVariant/42","product":{"id":"gid://shopify/Product/7"}}}}`)
	})

	got, err := client.ProductIDForVariant(context.Background(), "42")
	if err != nil {
		t.Fatalf("ProductIDForVariant: %v", err)
	}
	if got != "7" {
		t.Fatalf("expected product 7, got %q", got)
	}
}

func TestProductIDForVariantNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ capturedRequest) {
		_, _ = io.WriteString(w, `{"data":{"productVariant":null}}`)
	})
	_, err := client.ProductIDForVariant(context.Background(), "42")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVariantMetafields(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, req capturedRequest) {
		if req.Variables["namespace"] != "custom" || req.Variables["key"] != "preorder" {
			t.Errorf("unexpected metafield variables %v", req.Variables)
		}
		ids, _ := req.Variables["ids"].([]any)
		if len(ids) != 3 {
			t.Errorf("expected 3 ids, got %v", req.Variables["ids"])
		}
		_, _ = io.WriteString(w, `{"data":{"nodes":[
			{"id":"gid://shopify/ProductVariant/1","metafield":{"value":"true"}},
			{"id":"gid://shopify/ProductVariant/2","metafield":null},
			null
		]}}`)
	})

	got, err := client.VariantMetafields(context.Background(), []string{"1", "2", "3"}, "custom", "preorder")
	if err != nil {
		t.Fatalf("VariantMetafields: %v", err)
	}
	if len(got) != 1 || got["1"] != "true" {
		t.Fatalf("unexpected values %v", got)
	}
}

func TestVariantMetafieldsKeysByRequestedID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, req capturedRequest) {
		ids, _ := req.Variables["ids"].([]any)
		if len(ids) != 2 || ids[0] != "gid://shopify/ProductVariant/123" || ids[1] != "gid://shopify/ProductVariant/7" {
			t.Errorf("expected deduplicated gids, got %v", req.Variables["ids"])
		}
		_, _ = io.WriteString(w, `{"data":{"nodes":[
			{"id":"gid://shopify/ProductVariant/123","metafield":{"value":"true"}},
			{"id":"gid://shopify/ProductVariant/7","metafield":{"value":"false"}}
		]}}`)
	})

	got, err := client.VariantMetafields(context.Background(),
		[]string{"gid://shopify/ProductVariant/123", "123", "7"}, "custom", "preorder")
	if err != nil {
		t.Fatalf("VariantMetafields: %v", err)
	}
	want := map[string]string{"gid://shopify/ProductVariant/123": "true", "123": "true", "7": "false"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for id, v := range want {
		if got[id] != v {
			t.Fatalf("id %s: expected %q, got %q", id, v, got[id])
		}
	}
}

func TestVariantMetafieldsRejectsOversizedBatch(t *testing.T) {
	client, err := NewClient("demo.myshopify.com", "shpat_test")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ids := make([]string, MaxNodesPerQuery+1)
	if _, err := client.VariantMetafields(context.Background(), ids, "custom", "preorder"); err == nil {
		t.Fatalf("expected error for oversized batch")
	}
}

func TestQueryErrors(t *testing.T) {
	t.Run("graphql throttled", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ capturedRequest) {
			_, _ = io.WriteString(w, `{"errors":[{"message":"Throttled","extensions":{"code":"THROTTLED"}}]}`)
		})
		err := client.Query(context.Background(), "Test", "{ shop { id } }", nil, nil)
		var qerr *QueryError
		if !errors.As(err, &qerr) || !errors.Is(err, ErrThrottled) {
			t.Fatalf("expected throttled QueryError, got %v", err)
		}
	})

	t.Run("http status", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ capturedRequest) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"errors":"Exceeded 2 calls per second"}`)
		})
		err := client.Query(context.Background(), "Test", "{ shop { id } }", nil, nil)
		var serr *StatusError
		if !errors.As(err, &serr) || serr.StatusCode != http.StatusTooManyRequests {
			t.Fatalf("expected StatusError 429, got %v", err)
		}
		if !errors.Is(err, ErrThrottled) {
			t.Fatalf("expected 429 to match ErrThrottled")
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ capturedRequest) {
			_, _ = io.WriteString(w, `<html>`)
		})
		var out struct{}
		if err := client.Query(context.Background(), "Test", "{ shop { id } }", nil, &out); err == nil {
			t.Fatalf("expected decode error")
		}
	})
}

func TestRateLimiterHonoursContext(t *testing.T) {
	client, err := NewClient("demo.myshopify.com", "shpat_test", WithRateLimit(0.0001, 1))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.Query(ctx, "Test", "{ shop { id } }", nil, nil); err == nil {
		t.Fatalf("expected limiter wait to fail on cancelled context")
	}
}

func TestGIDHelpers(t *testing.T) {
	if got := VariantGID(" 123 "); got != "gid://shopify/ProductVariant/123" {
		t.Fatalf("unexpected gid %q", got)
	}
	if got := VariantGID("gid://shopify/ProductVariant/9"); got != "gid://shopify/ProductVariant/9" {
		t.Fatalf("gid should pass through, got %q", got)
	}
	if got := LegacyID("gid://shopify/Product/77?x=1"); got != "77" {
		t.Fatalf("unexpected legacy id %q", got)
	}
	if got := LegacyID("55"); got != "55" {
		t.Fatalf("plain id should pass through, got %q", got)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("", "token"); err == nil {
		t.Fatalf("expected shop domain error")
	}
	if _, err := NewClient("demo.myshopify.com", " "); err == nil {
		t.Fatalf("expected token error")
	}
}

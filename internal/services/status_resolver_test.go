package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

type stubStrategy struct {
	mu    sync.Mutex
	found map[string]bool
	err   error
	calls [][]string
	panic bool
	block bool
}

func (s *stubStrategy) Name() string { return "stub" }

func (s *stubStrategy) Lookup(ctx context.Context, ids []string) (map[string]bool, error) {
	s.mu.Lock()
	s.calls = append(s.calls, append([]string(nil), ids...))
	s.mu.Unlock()
	if s.panic {
		panic("boom")
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	out := map[string]bool{}
	for _, id := range ids {
		if v, ok := s.found[id]; ok {
			out[id] = v
		}
	}
	return out, s.err
}

func newTestResolver(t *testing.T, store *stubStatusStore, strategy StatusStrategy, rec *eventRecorder) StatusResolver {
	t.Helper()
	var logger func(context.Context, string, map[string]any)
	if rec != nil {
		logger = rec.log
	}
	cache, err := NewStatusCacheService(StatusCacheServiceDeps{Store: store, Logger: logger})
	if err != nil {
		t.Fatalf("NewStatusCacheService: %v", err)
	}
	resolver, err := NewStatusResolver(StatusResolverDeps{
		Cache:         cache,
		Strategy:      strategy,
		LookupTimeout: 50 * time.Millisecond,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("NewStatusResolver: %v", err)
	}
	return resolver
}

func TestStatusResolverUsesCacheAndWritesBack(t *testing.T) {
	store := newStubStatusStore()
	store.values["cached"] = true
	strategy := &stubStrategy{found: map[string]bool{"a": true, "b": false}}
	resolver := newTestResolver(t, store, strategy, nil)

	got := resolver.Resolve(context.Background(), []string{"cached", "a", "b", "a"})

	want := map[string]bool{"cached": true, "a": true, "b": false}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %v", len(want), got)
	}
	for id, v := range want {
		if got[id] != v {
			t.Fatalf("id %s: expected %v, got %v", id, v, got[id])
		}
	}
	if len(strategy.calls) != 1 {
		t.Fatalf("expected one strategy call, got %d", len(strategy.calls))
	}
	looked := strategy.calls[0]
	sort.Strings(looked)
	if fmt.Sprint(looked) != "[a b]" {
		t.Fatalf("expected only uncached ids looked up once, got %v", looked)
	}
	if store.ttls["a"] != defaultStatusTTL || store.ttls["b"] != defaultStatusTTL {
		t.Fatalf("expected 24h ttl on write-back, got %v", store.ttls)
	}
}

func TestStatusResolverDefaultsFalseOnTotalFailure(t *testing.T) {
	store := newStubStatusStore()
	store.getErr = errors.New("cache down")
	store.setErr = errors.New("cache down")
	strategy := &stubStrategy{err: errors.New("catalog unavailable")}
	rec := &eventRecorder{}
	resolver := newTestResolver(t, store, strategy, rec)

	ids := []string{"1", "2", "3"}
	got := resolver.Resolve(context.Background(), ids)
	if len(got) != len(ids) {
		t.Fatalf("expected one entry per id, got %v", got)
	}
	for _, id := range ids {
		if got[id] {
			t.Fatalf("expected %s to default to false", id)
		}
	}
	if !rec.has("resolver.strategy_failed") || !rec.has("resolver.defaulted") {
		t.Fatalf("expected failure events, got %+v", rec.events)
	}
}

func TestStatusResolverAbsentMetafieldIsNotDefaulted(t *testing.T) {
	store := newStubStatusStore()
	strategy, err := NewMetafieldBatchStrategy(MetafieldBatchStrategyDeps{
		Source:    &stubMetafieldSource{values: map[string]string{"po": "true"}},
		Namespace: "custom",
		Key:       "preorder",
	})
	if err != nil {
		t.Fatalf("NewMetafieldBatchStrategy: %v", err)
	}
	rec := &eventRecorder{}
	resolver := newTestResolver(t, store, strategy, rec)

	got := resolver.Resolve(context.Background(), []string{"po", "plain"})
	if !got["po"] || got["plain"] {
		t.Fatalf("unexpected result %v", got)
	}
	if rec.has("resolver.defaulted") {
		t.Fatalf("answered ids must not count as defaulted, got %+v", rec.events)
	}
	if cached, ok := store.values["plain"]; !ok || cached {
		t.Fatalf("expected plain cached as false, got %v %v", cached, ok)
	}
}

func TestStatusResolverCachesDefaultFalse(t *testing.T) {
	store := newStubStatusStore()
	strategy := &stubStrategy{found: map[string]bool{"ok": true}, err: errors.New("partial")}
	resolver := newTestResolver(t, store, strategy, nil)

	got := resolver.Resolve(context.Background(), []string{"ok", "missing"})
	if !got["ok"] || got["missing"] {
		t.Fatalf("unexpected result %v", got)
	}
	cached, ok := store.values["missing"]
	if !ok || cached {
		t.Fatalf("expected unresolved id cached as false, got %v %v", cached, ok)
	}
}

func TestStatusResolverTimeoutDefaults(t *testing.T) {
	store := newStubStatusStore()
	strategy := &stubStrategy{block: true}
	resolver := newTestResolver(t, store, strategy, nil)

	start := time.Now()
	got := resolver.Resolve(context.Background(), []string{"slow"})
	if time.Since(start) > 2*time.Second {
		t.Fatalf("resolve did not honour lookup timeout")
	}
	if v, ok := got["slow"]; !ok || v {
		t.Fatalf("expected default false, got %v %v", v, ok)
	}
}

func TestStatusResolverRecoversStrategyPanic(t *testing.T) {
	store := newStubStatusStore()
	resolver := newTestResolver(t, store, &stubStrategy{panic: true}, nil)

	got := resolver.Resolve(context.Background(), []string{"x"})
	if v, ok := got["x"]; !ok || v {
		t.Fatalf("expected default false after panic, got %v %v", v, ok)
	}
}

func TestStatusResolverAllCachedSkipsStrategy(t *testing.T) {
	store := newStubStatusStore()
	store.values["1"] = false
	strategy := &stubStrategy{}
	resolver := newTestResolver(t, store, strategy, nil)

	got := resolver.Resolve(context.Background(), []string{"1"})
	if v, ok := got["1"]; !ok || v {
		t.Fatalf("unexpected %v %v", v, ok)
	}
	if len(strategy.calls) != 0 {
		t.Fatalf("expected no strategy call")
	}
}

func TestNewStatusResolverValidates(t *testing.T) {
	if _, err := NewStatusResolver(StatusResolverDeps{Strategy: &stubStrategy{}}); err == nil {
		t.Fatalf("expected error without cache")
	}
	cache, _ := NewStatusCacheService(StatusCacheServiceDeps{Store: newStubStatusStore()})
	if _, err := NewStatusResolver(StatusResolverDeps{Cache: cache}); err == nil {
		t.Fatalf("expected error without strategy")
	}
}

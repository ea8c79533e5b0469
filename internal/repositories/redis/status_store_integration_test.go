//go:build integration

package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func newIntegrationStore(t *testing.T) *StatusStore {
	t.Helper()
	addr := os.Getenv("SHIP_REDIS_ADDR")
	if addr == "" {
		t.Skip("SHIP_REDIS_ADDR not set")
	}
	client := NewClient(addr, os.Getenv("SHIP_REDIS_PASSWORD"), 0)
	t.Cleanup(func() { _ = client.Close() })

	prefix := fmt.Sprintf("test:%d:", time.Now().UnixNano())
	store := NewStatusStore(client, WithPrefix(prefix))
	if err := store.Ping(context.Background()); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	return store
}

func TestStatusStoreRoundTrip(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "100", true, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "101", false, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	status, found, err := store.Get(ctx, "100")
	if err != nil || !found || !status {
		t.Fatalf("expected true, got %v %v %v", status, found, err)
	}
	status, found, err = store.Get(ctx, "101")
	if err != nil || !found || status {
		t.Fatalf("expected false, got %v %v %v", status, found, err)
	}

	n, err := store.Count(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 keys, got %d %v", n, err)
	}

	if err := store.Delete(ctx, "100", "101"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := store.Get(ctx, "100"); found {
		t.Fatalf("expected key removed")
	}
}

func TestStatusStoreExpiry(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "200", true, 50*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if _, found, _ := store.Get(ctx, "200"); found {
		t.Fatalf("expected key expired")
	}
}

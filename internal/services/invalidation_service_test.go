package services

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"
)

type stubVerifier struct{ err error }

func (s stubVerifier) Verify([]byte, string) error { return s.err }

type stubPublisher struct {
	changes []ProductChange
	err     error
}

func (s *stubPublisher) Publish(_ context.Context, change ProductChange) error {
	s.changes = append(s.changes, change)
	return s.err
}

func seededCache(t *testing.T, ids ...string) (StatusCache, *stubStatusStore) {
	t.Helper()
	store := newStubStatusStore()
	cache, err := NewStatusCacheService(StatusCacheServiceDeps{Store: store})
	if err != nil {
		t.Fatalf("NewStatusCacheService: %v", err)
	}
	for _, id := range ids {
		cache.Set(context.Background(), id, true, time.Hour)
	}
	return cache, store
}

func TestInvalidationServiceHandlesShopifyPayload(t *testing.T) {
	cache, store := seededCache(t, "11", "12", "99")
	publisher := &stubPublisher{}
	svc, err := NewInvalidationService(InvalidationServiceDeps{
		Cache:     cache,
		Verifier:  stubVerifier{},
		Publisher: publisher,
		Origin:    "instance-a",
	})
	if err != nil {
		t.Fatalf("NewInvalidationService: %v", err)
	}

	change, err := svc.HandleNotification(context.Background(), []byte(`{"id":1,"title":"Tee","variants":[{"id":11},{"id":12}]}`), "sig")
	if err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	if change.ProductID != "1" || len(change.VariantIDs) != 2 {
		t.Fatalf("unexpected change %+v", change)
	}

	deleted := append([]string(nil), store.deleted...)
	sort.Strings(deleted)
	if !reflect.DeepEqual(deleted, []string{"11", "12"}) {
		t.Fatalf("expected 11 and 12 purged, got %v", deleted)
	}
	if _, ok := store.values["99"]; !ok {
		t.Fatalf("unrelated variant must survive")
	}
	if len(publisher.changes) != 1 || publisher.changes[0].Origin != "instance-a" {
		t.Fatalf("expected local change re-published with origin, got %+v", publisher.changes)
	}
}

func TestInvalidationServiceRejectsBadSignatureWithoutSideEffects(t *testing.T) {
	cache, store := seededCache(t, "11")
	publisher := &stubPublisher{}
	svc, _ := NewInvalidationService(InvalidationServiceDeps{
		Cache:     cache,
		Verifier:  stubVerifier{err: errors.New("mismatch")},
		Publisher: publisher,
		Origin:    "instance-a",
	})

	_, err := svc.HandleNotification(context.Background(), []byte(`{"product_id":"1","variant_ids":["11"]}`), "bad")
	if !errors.Is(err, ErrInvalidNotification) {
		t.Fatalf("expected ErrInvalidNotification, got %v", err)
	}
	if len(store.deleted) != 0 || len(publisher.changes) != 0 {
		t.Fatalf("rejected notification must not touch cache or publish")
	}
}

func TestInvalidationServiceRejectsMalformedPayload(t *testing.T) {
	cache, store := seededCache(t, "11")
	svc, _ := NewInvalidationService(InvalidationServiceDeps{Cache: cache, Verifier: stubVerifier{}})

	for _, payload := range []string{`not json`, `{"variant_ids":["11"]}`, `{"id":1.5}`} {
		if _, err := svc.HandleNotification(context.Background(), []byte(payload), "sig"); !errors.Is(err, ErrInvalidNotification) {
			t.Fatalf("payload %s: expected ErrInvalidNotification, got %v", payload, err)
		}
	}
	if len(store.deleted) != 0 {
		t.Fatalf("malformed payloads must not purge")
	}
}

func TestInvalidationServiceDoesNotRepublishRemoteChanges(t *testing.T) {
	cache, store := seededCache(t, "21")
	publisher := &stubPublisher{}
	svc, _ := NewInvalidationService(InvalidationServiceDeps{
		Cache:     cache,
		Verifier:  stubVerifier{},
		Publisher: publisher,
		Origin:    "instance-a",
	})

	err := svc.Invalidate(context.Background(), ProductChange{ProductID: "2", VariantIDs: []VariantID{"21"}, Origin: "instance-b"})
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if len(store.deleted) != 1 {
		t.Fatalf("expected purge, got %v", store.deleted)
	}
	if len(publisher.changes) != 0 {
		t.Fatalf("remote change must not be re-published")
	}
}

func TestInvalidationServicePublishFailureIsNotFatal(t *testing.T) {
	cache, _ := seededCache(t)
	rec := &eventRecorder{}
	svc, _ := NewInvalidationService(InvalidationServiceDeps{
		Cache:     cache,
		Verifier:  stubVerifier{},
		Publisher: &stubPublisher{err: errors.New("topic missing")},
		Origin:    "instance-a",
		Logger:    rec.log,
	})

	if err := svc.Invalidate(context.Background(), ProductChange{ProductID: "3", VariantIDs: []VariantID{"31"}}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !rec.has("invalidation.publish_failed") {
		t.Fatalf("expected publish failure logged")
	}
}

func TestDecodeProductChangeMergesShapes(t *testing.T) {
	change, err := DecodeProductChange([]byte(`{"product_id":"7","variant_ids":[70,"71"],"topic":"products/update","origin":"x"}`))
	if err != nil {
		t.Fatalf("DecodeProductChange: %v", err)
	}
	want := ProductChange{ProductID: "7", VariantIDs: []VariantID{"70", "71"}, Topic: "products/update", Origin: "x"}
	if !reflect.DeepEqual(change, want) {
		t.Fatalf("expected %+v, got %+v", want, change)
	}
}

package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestResolveSecretCachesRemoteValue(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/ship-prod/secrets/shopify_webhook_secret/versions/latest"
	client.values[resource] = "whsec"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("ship-prod"), WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.ResolveSecret(ctx, "secret://shopify_webhook_secret")
		if err != nil {
			t.Fatalf("ResolveSecret: %v", err)
		}
		if got != "whsec" {
			t.Fatalf("expected whsec, got %q", got)
		}
	}
	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("expected one remote call, got %d", calls)
	}
}

func TestResolveSecretSupportsAliasAndVersion(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/other/secrets/redis_password/versions/3"] = "pinned"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("ship-prod"))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	got, err := fetcher.ResolveSecret(ctx, "sm://projects/other/secrets/redis_password/versions/3")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if got != "pinned" {
		t.Fatalf("expected pinned, got %q", got)
	}
}

func TestResolveSecretFallsBackOnPermissionDenied(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("shopify_access_token=local-token\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	client := newFakeSecretClient()
	client.errs["projects/ship-prod/secrets/shopify_access_token/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("ship-prod"), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	got, err := fetcher.ResolveSecret(ctx, "secret://shopify_access_token")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if got != "local-token" {
		t.Fatalf("expected local-token, got %q", got)
	}
}

func TestResolveSecretDoesNotFallBackOnNotFound(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("missing=local\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	client := newFakeSecretClient()
	client.errs["projects/ship-prod/secrets/missing/versions/latest"] = status.Error(codes.NotFound, "nope")

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("ship-prod"), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	if _, err := fetcher.ResolveSecret(ctx, "secret://missing"); err == nil {
		t.Fatalf("expected not found error")
	}
}

func TestResolveSecretWithoutProjectUsesFallbackOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("admin_jwt_secret=\"s3cr3t\"\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	fetcher, err := NewFetcher(ctx, WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	got, err := fetcher.ResolveSecret(ctx, "secret://admin_jwt_secret")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if got != "s3cr3t" {
		t.Fatalf("expected s3cr3t, got %q", got)
	}
}

func TestParseReferenceRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "plain", "secret://", "secret://projects/p/nope", "secret://a/b"} {
		if _, err := parseReference(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
	ref, err := parseReference("secret://token@7")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ref.name != "token" || ref.version != "7" {
		t.Fatalf("unexpected reference %+v", ref)
	}
}

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values: map[string]string{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.GetName()]++
	if err, ok := f.errs[req.GetName()]; ok {
		return nil, err
	}
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (f *fakeSecretClient) Close() error { return nil }

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

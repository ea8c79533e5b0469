package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/lauragobrightly/ship-ship/internal/services"
)

type stubRateService struct {
	quotes []services.RateQuote
	err    error
	panic  any
	calls  int
	got    services.RateRequest
}

func (s *stubRateService) Quote(_ context.Context, req services.RateRequest) ([]services.RateQuote, error) {
	s.calls++
	s.got = req
	if s.panic != nil {
		panic(s.panic)
	}
	return s.quotes, s.err
}

type stubInvalidationService struct {
	mu      sync.Mutex
	changes []services.ProductChange
	err     error
}

func (s *stubInvalidationService) HandleNotification(context.Context, []byte, string) (services.ProductChange, error) {
	return services.ProductChange{}, nil
}

func (s *stubInvalidationService) Invalidate(_ context.Context, change services.ProductChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, change)
	return s.err
}

type stubRateConfigService struct {
	current  services.RateConfig
	err      error
	replaced []services.RateConfig
}

func (s *stubRateConfigService) Current(context.Context) services.RateConfig { return s.current }

func (s *stubRateConfigService) Replace(_ context.Context, cfg services.RateConfig) (services.RateConfig, error) {
	if s.err != nil {
		return services.RateConfig{}, s.err
	}
	s.replaced = append(s.replaced, cfg)
	s.current = cfg
	return cfg, nil
}

func (s *stubRateConfigService) Load(context.Context) (services.RateConfig, error) {
	return s.current, nil
}

type stubStatusCache struct {
	stats       services.CacheStats
	invalidated []string
}

func (s *stubStatusCache) Get(context.Context, string) (bool, bool) { return false, false }

func (s *stubStatusCache) Set(context.Context, string, bool, time.Duration) {}

func (s *stubStatusCache) Invalidate(_ context.Context, id string) {
	s.invalidated = append(s.invalidated, id)
}

func (s *stubStatusCache) InvalidateForVariants(_ context.Context, ids []string) {
	s.invalidated = append(s.invalidated, ids...)
}

func (s *stubStatusCache) Stats(context.Context) services.CacheStats { return s.stats }

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/currency"

	"github.com/lauragobrightly/ship-ship/internal/repositories"
)

// ErrRateConfigInvalid wraps every validation failure returned by Replace.
var ErrRateConfigInvalid = errors.New("rate config: invalid")

// RateConfigServiceDeps bundles collaborators required to construct the rate config service.
type RateConfigServiceDeps struct {
	Defaults   RateConfig
	Repository repositories.RateConfigRepository
	Logger     func(context.Context, string, map[string]any)
}

type rateConfigService struct {
	current  atomic.Pointer[RateConfig]
	defaults RateConfig
	repo     repositories.RateConfigRepository
	policy   *bluemonday.Policy
	logger   func(context.Context, string, map[string]any)

	writeMu sync.Mutex
}

var _ RateConfigService = (*rateConfigService)(nil)

// NewRateConfigService seeds the in-memory snapshot with defaults. Repository is optional; without
// it replacements live only in process memory.
func NewRateConfigService(deps RateConfigServiceDeps) (RateConfigService, error) {
	svc := &rateConfigService{
		repo:   deps.Repository,
		policy: bluemonday.StrictPolicy(),
		logger: deps.Logger,
	}
	if svc.logger == nil {
		svc.logger = func(context.Context, string, map[string]any) {}
	}
	defaults, err := svc.normalize(deps.Defaults)
	if err != nil {
		return nil, fmt.Errorf("rate config service: defaults: %w", err)
	}
	svc.defaults = defaults
	svc.current.Store(&defaults)
	return svc, nil
}

// Current returns a copy, so callers may hold it for the duration of a request.
func (s *rateConfigService) Current(context.Context) RateConfig {
	return *s.current.Load()
}

func (s *rateConfigService) Replace(ctx context.Context, cfg RateConfig) (RateConfig, error) {
	next, err := s.normalize(cfg)
	if err != nil {
		s.logger(ctx, "rate_config.replace_rejected", map[string]any{"error": err})
		return RateConfig{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.repo != nil {
		if err := s.repo.Save(ctx, next); err != nil {
			s.logger(ctx, "rate_config.save_failed", map[string]any{"error": err})
			return RateConfig{}, fmt.Errorf("rate config: persist: %w", err)
		}
	}
	prev := s.current.Swap(&next)
	s.logger(ctx, "rate_config.replaced", map[string]any{
		"killSwitch":     next.KillSwitch,
		"threshold":      next.Threshold,
		"fee":            next.FeeUnderThreshold,
		"prevKillSwitch": prev.KillSwitch,
	})
	return next, nil
}

// Load restores the persisted configuration. When nothing usable is stored the defaults stay in
// effect; a repository error is returned for the caller to report but is not fatal.
func (s *rateConfigService) Load(ctx context.Context) (RateConfig, error) {
	if s.repo == nil {
		return s.Current(ctx), nil
	}
	stored, err := s.repo.Load(ctx)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		s.logger(ctx, "rate_config.seeded", map[string]any{"source": "defaults"})
		return s.Current(ctx), nil
	case err != nil:
		s.logger(ctx, "rate_config.load_failed", map[string]any{"error": err})
		return s.Current(ctx), fmt.Errorf("rate config: load: %w", err)
	}

	cfg, err := s.normalize(stored)
	if err != nil {
		s.logger(ctx, "rate_config.load_rejected", map[string]any{"error": err})
		return s.Current(ctx), err
	}
	s.writeMu.Lock()
	s.current.Store(&cfg)
	s.writeMu.Unlock()
	s.logger(ctx, "rate_config.seeded", map[string]any{"source": "repository"})
	return cfg, nil
}

func (s *rateConfigService) normalize(cfg RateConfig) (RateConfig, error) {
	cfg.ReadyToShipLabel = s.clean(cfg.ReadyToShipLabel)
	cfg.PreOrderLabel = s.clean(cfg.PreOrderLabel)
	cfg.Description = s.clean(cfg.Description)
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))

	var problems []string
	if cfg.Threshold < 0 {
		problems = append(problems, "threshold must be >= 0")
	}
	if cfg.FeeUnderThreshold < 0 {
		problems = append(problems, "fee_under_threshold must be >= 0")
	}
	if cfg.ReadyToShipLabel == "" {
		problems = append(problems, "ready_to_ship_label is required")
	}
	if cfg.PreOrderLabel == "" {
		problems = append(problems, "pre_order_label is required")
	}
	if unit, err := currency.ParseISO(cfg.Currency); err != nil {
		problems = append(problems, "currency must be an ISO 4217 code")
	} else {
		cfg.Currency = unit.String()
	}
	if len(problems) > 0 {
		return RateConfig{}, fmt.Errorf("%w: %s", ErrRateConfigInvalid, strings.Join(problems, "; "))
	}
	return cfg, nil
}

// clean strips markup. Entities escaped by the policy are decoded again since quotes are rendered
// as plain text by checkout.
func (s *rateConfigService) clean(value string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(value)))
}

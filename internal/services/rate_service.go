package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"
)

// ErrRateComputation is returned when quoting fails unexpectedly. Callers answer with an empty rate
// list so checkout never hard-fails.
var ErrRateComputation = errors.New("rates: computation failed")

// RateServiceDeps bundles collaborators required to construct the rate service.
type RateServiceDeps struct {
	Config   RateConfigService
	Resolver StatusResolver
	Tracer   trace.Tracer
	Logger   func(context.Context, string, map[string]any)
}

type rateService struct {
	config   RateConfigService
	resolver StatusResolver
	tracer   trace.Tracer
	logger   func(context.Context, string, map[string]any)
}

var _ RateService = (*rateService)(nil)

// NewRateService wires configuration and status resolution into the pure rate engine.
func NewRateService(deps RateServiceDeps) (RateService, error) {
	if deps.Config == nil {
		return nil, errors.New("rate service: config service is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("rate service: status resolver is required")
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(servicesMeterName)
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &rateService{config: deps.Config, resolver: deps.Resolver, tracer: tracer, logger: logger}, nil
}

func (s *rateService) Quote(ctx context.Context, req RateRequest) (quotes []RateQuote, err error) {
	ctx, span := s.tracer.Start(ctx, "RateService.Quote", trace.WithAttributes(attribute.Int("rates.items", len(req.Items))))
	defer span.End()
	defer func() {
		if rec := recover(); rec != nil {
			s.logger(ctx, "rates.panic", map[string]any{"panic": fmt.Sprint(rec)})
			quotes = []RateQuote{}
			err = fmt.Errorf("%w: %v", ErrRateComputation, rec)
		}
	}()

	cfg := s.config.Current(ctx)
	s.logRequestContext(ctx, req, cfg)

	var statuses map[string]bool
	if !cfg.KillSwitch && len(req.Items) > 0 && !AllGiftCards(req.Items) {
		statuses = s.resolver.Resolve(ctx, variantIDs(req.Items))
	}
	quotes = ComputeRates(req.Items, statuses, cfg)

	codes := make([]string, 0, len(quotes))
	for _, q := range quotes {
		codes = append(codes, q.ServiceCode+"="+q.TotalPrice)
	}
	span.SetAttributes(attribute.Int("rates.quotes", len(quotes)), attribute.Bool("rates.kill_switch", cfg.KillSwitch))
	s.logger(ctx, "rates.quoted", map[string]any{
		"items":      len(req.Items),
		"quotes":     strings.Join(codes, ","),
		"killSwitch": cfg.KillSwitch,
	})
	return quotes, nil
}

// logRequestContext records the checkout's currency and locale. The configured currency is always
// used on quotes; a mismatch is only reported.
func (s *rateService) logRequestContext(ctx context.Context, req RateRequest, cfg RateConfig) {
	fields := map[string]any{}
	if raw := strings.TrimSpace(req.Locale); raw != "" {
		if tag, err := language.Parse(raw); err == nil {
			fields["locale"] = tag.String()
		} else {
			fields["locale"] = "und"
			fields["localeRaw"] = raw
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency != "" && currency != cfg.Currency {
		fields["requestCurrency"] = currency
		fields["configCurrency"] = cfg.Currency
		s.logger(ctx, "rates.currency_mismatch", fields)
		return
	}
	if len(fields) > 0 {
		s.logger(ctx, "rates.request_context", fields)
	}
}

func variantIDs(items []LineItem) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		id := item.VariantID.String()
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

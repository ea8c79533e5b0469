package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultAPIVersion  = "2024-10"
	defaultHTTPTimeout = 10 * time.Second
	maxResponseBytes   = 4 << 20
)

var tracer = otel.Tracer("github.com/lauragobrightly/ship-ship/internal/platform/shopify")

var (
	// ErrNotFound indicates the requested node does not exist.
	ErrNotFound = errors.New("shopify: not found")
	// ErrThrottled indicates the Admin API rejected the call for exceeding its cost budget.
	ErrThrottled = errors.New("shopify: throttled")
)

// GraphQLError is a single entry from the "errors" array of a GraphQL response.
type GraphQLError struct {
	Message    string         `json:"message"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// QueryError wraps the GraphQL errors returned for a query.
type QueryError struct {
	Errors []GraphQLError
}

func (e *QueryError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, gqlErr := range e.Errors {
		msgs = append(msgs, gqlErr.Message)
	}
	return "shopify: graphql errors: " + strings.Join(msgs, "; ")
}

// Is reports throttling so callers can match ErrThrottled.
func (e *QueryError) Is(target error) bool {
	if target != ErrThrottled {
		return false
	}
	for _, gqlErr := range e.Errors {
		if code, _ := gqlErr.Extensions["code"].(string); code == "THROTTLED" {
			return true
		}
	}
	return false
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("shopify: status %d: %s", e.StatusCode, e.Body)
}

// Is maps 429 to ErrThrottled.
func (e *StatusError) Is(target error) bool {
	return target == ErrThrottled && e.StatusCode == http.StatusTooManyRequests
}

// Client calls the Shopify Admin GraphQL API for a single shop.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

type clientConfig struct {
	endpoint   string
	version    string
	httpClient *http.Client
	rps        float64
	burst      int
	logger     *zap.Logger
}

// Option customises the client.
type Option func(*clientConfig)

// WithAPIVersion selects the Admin API version.
func WithAPIVersion(version string) Option {
	return func(cfg *clientConfig) {
		if v := strings.TrimSpace(version); v != "" {
			cfg.version = v
		}
	}
}

// WithEndpoint overrides the GraphQL endpoint, mainly for tests.
func WithEndpoint(endpoint string) Option {
	return func(cfg *clientConfig) { cfg.endpoint = strings.TrimSpace(endpoint) }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *clientConfig) {
		if client != nil {
			cfg.httpClient = client
		}
	}
}

// WithRateLimit bounds outbound calls. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(cfg *clientConfig) {
		cfg.rps = rps
		cfg.burst = burst
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// NewClient constructs a client for shop (e.g. "demo.myshopify.com") authenticated with token.
func NewClient(shop, token string, opts ...Option) (*Client, error) {
	cfg := clientConfig{
		version:    defaultAPIVersion,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	shop = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(shop), "https://"), "/")
	if cfg.endpoint == "" {
		if shop == "" {
			return nil, errors.New("shopify: shop domain is required")
		}
		cfg.endpoint = fmt.Sprintf("https://%s/admin/api/%s/graphql.json", shop, cfg.version)
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("shopify: access token is required")
	}

	var limiter *rate.Limiter
	if cfg.rps > 0 {
		burst := cfg.burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.rps), burst)
	}

	return &Client{
		endpoint:   cfg.endpoint,
		token:      token,
		httpClient: cfg.httpClient,
		limiter:    limiter,
		logger:     cfg.logger,
	}, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// Query executes a GraphQL document and decodes the "data" member into out.
func (c *Client) Query(ctx context.Context, operation, query string, variables map[string]any, out any) (err error) {
	ctx, span := tracer.Start(ctx, "shopify."+operation, trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("shopify: rate limiter: %w", err)
		}
	}

	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("shopify: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("shopify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("shopify: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("shopify: read response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	c.logger.Debug("shopify query",
		zap.String("operation", operation),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := string(raw)
		if len(body) > 512 {
			body = body[:512]
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: body}
	}

	var decoded graphQLResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("shopify: decode response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return &QueryError{Errors: decoded.Errors}
	}
	if out == nil {
		return nil
	}
	if len(decoded.Data) == 0 || string(decoded.Data) == "null" {
		return fmt.Errorf("shopify: empty data for %s", operation)
	}
	if err := json.Unmarshal(decoded.Data, out); err != nil {
		return fmt.Errorf("shopify: decode data: %w", err)
	}
	return nil
}

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/currency"
	"gopkg.in/yaml.v3"

	"github.com/lauragobrightly/ship-ship/internal/domain"
)

const (
	defaultEnvFile         = ".env"
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultRequestTimeout  = 8 * time.Second
	defaultShopifyVersion  = "2024-10"
	defaultShopifyRPS      = 2.0
	defaultShopifyBurst    = 4
	defaultStatusTTL       = 24 * time.Hour
	defaultLookupTimeout   = 4 * time.Second
	defaultMetafieldNS     = "custom"
	defaultMetafieldKey    = "preorder"
	defaultCachePrefix     = "preorder:variant:"
	defaultThreshold       = 5000
	defaultFee             = 500
	defaultRTSLabel        = "Standard Shipping"
	defaultPOLabel         = "Pre-order Shipping"
	defaultCurrency        = "USD"
	defaultDescription     = "Ships when all items are available"
	defaultEventsTransport = TransportNone
)

// Supported values for enumerated settings.
const (
	StrategyBatch  = "batch"
	StrategyTwoHop = "two_hop"

	CacheMemory = "memory"
	CacheRedis  = "redis"

	StoreMemory    = "memory"
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"

	TransportNone   = "none"
	TransportPubSub = "pubsub"
	TransportSTAN   = "stan"
)

// Config aggregates all runtime settings.
type Config struct {
	Environment string
	ProjectID   string
	Server      ServerConfig
	Shopify     ShopifyConfig
	PreOrder    PreOrderConfig
	Resolver    ResolverConfig
	Cache       CacheConfig
	Rates       RatesConfig
	Events      EventsConfig
	Admin       AdminConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// ShopifyConfig addresses the Admin GraphQL API and verifies its webhooks.
type ShopifyConfig struct {
	ShopDomain    string
	AccessToken   string
	APIVersion    string
	WebhookSecret string
	RatePerSecond float64
	Burst         int
}

// PreOrderConfig addresses the external pre-order status service used by the two-hop strategy.
type PreOrderConfig struct {
	BaseURL string
	APIKey  string
}

// ResolverConfig controls status resolution.
type ResolverConfig struct {
	Strategy           string
	TTL                time.Duration
	LookupTimeout      time.Duration
	MaxConcurrency     int
	MetafieldNamespace string
	MetafieldKey       string
}

// CacheConfig selects the status cache backend.
type CacheConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Prefix        string
}

// RatesConfig seeds the rate configuration and selects where replacements are persisted.
type RatesConfig struct {
	Defaults          domain.RateConfig
	SeedFile          string
	Store             string
	FirestoreProject  string
	FirestoreEmulator string
	PostgresURL       string
}

// EventsConfig selects the product-change fan-out transport.
type EventsConfig struct {
	Transport     string
	Origin        string
	PubSubProject string
	PubSubTopic   string
	// PubSubSubscription must be unique per instance; instances sharing one split the messages
	// between them instead of each receiving every change.
	PubSubSubscription string
	STANClusterID      string
	STANClientID       string
	STANURL            string
	STANSubject        string
	// STANDurable is a prefix; the origin is appended to give each instance its own durable.
	STANDurable string
}

// AdminConfig secures the admin routes.
type AdminConfig struct {
	JWTSecret string
	Audience  string
}

// SecretResolver resolves secret:// and sm:// references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists every missing or invalid field.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes a failed secret reference.
type SecretError struct {
	Field string
	Ref   string
	Err   error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("resolve %s (%s): %v", e.Field, e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the dotenv file path. An empty path disables dotenv loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies explicit values that take precedence over everything else.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// Lookup returns a key lookup over the same sources Load uses, so callers can read bootstrap values
// (such as the secrets project) before the full load.
func Lookup(opts ...Option) (func(string) (string, bool), error) {
	options := newOptions(opts)
	return buildLookup(options)
}

// Load reads configuration from the explicit map, the process environment and the dotenv file, in
// that order of precedence, then resolves secret references and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newOptions(opts)
	lookup, err := buildLookup(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "SHIP_ENVIRONMENT", "local")),
		ProjectID:   stringWithDefault(lookup, "SHIP_GCP_PROJECT_ID", ""),
		Server: ServerConfig{
			Port:           stringWithDefault(lookup, "SHIP_SERVER_PORT", defaultPort),
			ReadTimeout:    durationWithDefault(lookup, "SHIP_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "SHIP_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "SHIP_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout: durationWithDefault(lookup, "SHIP_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
		},
		Shopify: ShopifyConfig{
			ShopDomain:    stringWithDefault(lookup, "SHIP_SHOPIFY_SHOP", ""),
			AccessToken:   stringWithDefault(lookup, "SHIP_SHOPIFY_ACCESS_TOKEN", ""),
			APIVersion:    stringWithDefault(lookup, "SHIP_SHOPIFY_API_VERSION", defaultShopifyVersion),
			WebhookSecret: stringWithDefault(lookup, "SHIP_SHOPIFY_WEBHOOK_SECRET", ""),
			RatePerSecond: floatWithDefault(lookup, "SHIP_SHOPIFY_RATE_PER_SECOND", defaultShopifyRPS),
			Burst:         intWithDefault(lookup, "SHIP_SHOPIFY_BURST", defaultShopifyBurst),
		},
		PreOrder: PreOrderConfig{
			BaseURL: stringWithDefault(lookup, "SHIP_PREORDER_BASE_URL", ""),
			APIKey:  stringWithDefault(lookup, "SHIP_PREORDER_API_KEY", ""),
		},
		Resolver: ResolverConfig{
			Strategy:           strings.ToLower(stringWithDefault(lookup, "SHIP_RESOLVER_STRATEGY", StrategyBatch)),
			TTL:                durationWithDefault(lookup, "SHIP_RESOLVER_TTL", defaultStatusTTL),
			LookupTimeout:      durationWithDefault(lookup, "SHIP_RESOLVER_LOOKUP_TIMEOUT", defaultLookupTimeout),
			MaxConcurrency:     intWithDefault(lookup, "SHIP_RESOLVER_MAX_CONCURRENCY", 0),
			MetafieldNamespace: stringWithDefault(lookup, "SHIP_RESOLVER_METAFIELD_NAMESPACE", defaultMetafieldNS),
			MetafieldKey:       stringWithDefault(lookup, "SHIP_RESOLVER_METAFIELD_KEY", defaultMetafieldKey),
		},
		Cache: CacheConfig{
			Backend:       strings.ToLower(stringWithDefault(lookup, "SHIP_CACHE_BACKEND", CacheMemory)),
			RedisAddr:     stringWithDefault(lookup, "SHIP_REDIS_ADDR", ""),
			RedisPassword: stringWithDefault(lookup, "SHIP_REDIS_PASSWORD", ""),
			RedisDB:       intWithDefault(lookup, "SHIP_REDIS_DB", 0),
			Prefix:        stringWithDefault(lookup, "SHIP_CACHE_PREFIX", defaultCachePrefix),
		},
		Rates: RatesConfig{
			Defaults: domain.RateConfig{
				Threshold:         int64WithDefault(lookup, "SHIP_RATES_THRESHOLD", defaultThreshold),
				FeeUnderThreshold: int64WithDefault(lookup, "SHIP_RATES_FEE", defaultFee),
				ReadyToShipLabel:  stringWithDefault(lookup, "SHIP_RATES_RTS_LABEL", defaultRTSLabel),
				PreOrderLabel:     stringWithDefault(lookup, "SHIP_RATES_PO_LABEL", defaultPOLabel),
				Currency:          strings.ToUpper(stringWithDefault(lookup, "SHIP_RATES_CURRENCY", defaultCurrency)),
				Description:       stringWithDefault(lookup, "SHIP_RATES_DESCRIPTION", defaultDescription),
				KillSwitch:        boolWithDefault(lookup, "SHIP_RATES_KILL_SWITCH", false),
			},
			SeedFile:          stringWithDefault(lookup, "SHIP_RATES_SEED_FILE", ""),
			Store:             strings.ToLower(stringWithDefault(lookup, "SHIP_RATES_STORE", StoreMemory)),
			FirestoreProject:  stringWithDefault(lookup, "SHIP_FIRESTORE_PROJECT_ID", ""),
			FirestoreEmulator: stringWithDefault(lookup, "SHIP_FIRESTORE_EMULATOR_HOST", ""),
			PostgresURL:       stringWithDefault(lookup, "SHIP_POSTGRES_URL", ""),
		},
		Events: EventsConfig{
			Transport:          strings.ToLower(stringWithDefault(lookup, "SHIP_EVENTS_TRANSPORT", defaultEventsTransport)),
			Origin:             stringWithDefault(lookup, "SHIP_EVENTS_ORIGIN", hostnameOr("ship-ship")),
			PubSubProject:      stringWithDefault(lookup, "SHIP_PUBSUB_PROJECT_ID", ""),
			PubSubTopic:        stringWithDefault(lookup, "SHIP_PUBSUB_TOPIC", "product-changes"),
			PubSubSubscription: stringWithDefault(lookup, "SHIP_PUBSUB_SUBSCRIPTION", ""),
			STANClusterID:      stringWithDefault(lookup, "SHIP_STAN_CLUSTER_ID", "test-cluster"),
			STANClientID:       stringWithDefault(lookup, "SHIP_STAN_CLIENT_ID", ""),
			STANURL:            stringWithDefault(lookup, "SHIP_STAN_URL", "nats://127.0.0.1:4222"),
			STANSubject:        stringWithDefault(lookup, "SHIP_STAN_SUBJECT", "product-changes"),
			STANDurable:        stringWithDefault(lookup, "SHIP_STAN_DURABLE", "ship-ship"),
		},
		Admin: AdminConfig{
			JWTSecret: stringWithDefault(lookup, "SHIP_ADMIN_JWT_SECRET", ""),
			Audience:  stringWithDefault(lookup, "SHIP_ADMIN_JWT_AUDIENCE", "ship-ship-admin"),
		},
	}

	// Projects default to the shared GCP project when unspecified.
	if cfg.Rates.FirestoreProject == "" {
		cfg.Rates.FirestoreProject = cfg.ProjectID
	}
	if cfg.Events.PubSubProject == "" {
		cfg.Events.PubSubProject = cfg.ProjectID
	}
	if cfg.Events.STANClientID == "" {
		cfg.Events.STANClientID = sanitizeClientID(cfg.Events.Origin)
	}

	if cfg.Rates.SeedFile != "" {
		seeded, err := loadRateSeed(cfg.Rates.SeedFile, cfg.Rates.Defaults)
		if err != nil {
			return Config{}, err
		}
		cfg.Rates.Defaults = seeded
	}

	secretFields := []struct {
		name  string
		field *string
	}{
		{"Shopify.AccessToken", &cfg.Shopify.AccessToken},
		{"Shopify.WebhookSecret", &cfg.Shopify.WebhookSecret},
		{"PreOrder.APIKey", &cfg.PreOrder.APIKey},
		{"Cache.RedisPassword", &cfg.Cache.RedisPassword},
		{"Rates.PostgresURL", &cfg.Rates.PostgresURL},
		{"Admin.JWTSecret", &cfg.Admin.JWTSecret},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, target.name, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func buildLookup(options loaderOptions) (func(string) (string, bool), error) {
	var dotEnv map[string]string
	if options.envFile != "" {
		values, err := godotenv.Read(options.envFile)
		switch {
		case err == nil:
			dotEnv = values
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("config: read %s: %w", options.envFile, err)
		}
	}

	return func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}, nil
}

// loadRateSeed overlays fields present in the YAML seed file onto base.
func loadRateSeed(path string, base domain.RateConfig) (domain.RateConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.RateConfig{}, fmt.Errorf("config: read rate seed %s: %w", path, err)
	}
	seeded := base
	if err := yaml.Unmarshal(raw, &seeded); err != nil {
		return domain.RateConfig{}, fmt.Errorf("config: parse rate seed %s: %w", path, err)
	}
	seeded.Currency = strings.ToUpper(strings.TrimSpace(seeded.Currency))
	return seeded, nil
}

func resolveSecret(ctx context.Context, field, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") && !strings.HasPrefix(trimmed, "sm://") {
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Field: field, Ref: trimmed, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, trimmed)
	if err != nil {
		return "", &SecretError{Field: field, Ref: trimmed, Err: err}
	}
	return secret, nil
}

func validate(cfg Config) error {
	var invalid []string
	add := func(cond bool, field string) {
		if cond {
			invalid = append(invalid, field)
		}
	}

	add(cfg.Server.Port == "", "Server.Port")
	add(cfg.Shopify.WebhookSecret == "", "Shopify.WebhookSecret")
	add(cfg.Shopify.RatePerSecond <= 0, "Shopify.RatePerSecond")

	add(cfg.Resolver.TTL <= 0, "Resolver.TTL")
	add(cfg.Resolver.LookupTimeout <= 0, "Resolver.LookupTimeout")
	add(cfg.Resolver.MaxConcurrency < 0, "Resolver.MaxConcurrency")
	switch cfg.Resolver.Strategy {
	case StrategyBatch:
		add(cfg.Shopify.ShopDomain == "", "Shopify.ShopDomain")
		add(cfg.Shopify.AccessToken == "", "Shopify.AccessToken")
		add(cfg.Resolver.MetafieldNamespace == "" || cfg.Resolver.MetafieldKey == "", "Resolver.Metafield")
	case StrategyTwoHop:
		add(cfg.Shopify.ShopDomain == "", "Shopify.ShopDomain")
		add(cfg.Shopify.AccessToken == "", "Shopify.AccessToken")
		add(cfg.PreOrder.BaseURL == "", "PreOrder.BaseURL")
	default:
		invalid = append(invalid, "Resolver.Strategy")
	}

	switch cfg.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		add(cfg.Cache.RedisAddr == "", "Cache.RedisAddr")
	default:
		invalid = append(invalid, "Cache.Backend")
	}

	add(cfg.Rates.Defaults.Threshold < 0, "Rates.Threshold")
	add(cfg.Rates.Defaults.FeeUnderThreshold < 0, "Rates.FeeUnderThreshold")
	if _, err := currency.ParseISO(cfg.Rates.Defaults.Currency); err != nil {
		invalid = append(invalid, "Rates.Currency")
	}
	switch cfg.Rates.Store {
	case StoreMemory:
	case StoreFirestore:
		add(cfg.Rates.FirestoreProject == "", "Rates.FirestoreProject")
	case StorePostgres:
		add(cfg.Rates.PostgresURL == "", "Rates.PostgresURL")
	default:
		invalid = append(invalid, "Rates.Store")
	}

	switch cfg.Events.Transport {
	case TransportNone:
	case TransportPubSub:
		add(cfg.Events.PubSubProject == "", "Events.PubSubProject")
		add(cfg.Events.PubSubTopic == "", "Events.PubSubTopic")
	case TransportSTAN:
		add(cfg.Events.STANURL == "", "Events.STANURL")
		add(cfg.Events.STANSubject == "", "Events.STANSubject")
	default:
		invalid = append(invalid, "Events.Transport")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func hostnameOr(fallback string) string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallback
}

// STAN client ids allow only alphanumerics, '-' and '_'.
func sanitizeClientID(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "ship-ship"
	}
	return b.String()
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Payment processor modes.
const (
	ProcessorSandbox = "sandbox"
	ProcessorHTTP    = "http"
	ProcessorNone    = "none"
)

// Obs groups the logging, metrics, tracing and profiling switches.
type Obs struct {
	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
	PprofEnabled     bool
	PprofUser        string
	PprofPass        string
}

// Config holds application configuration loaded from the environment.
type Config struct {
	Obs Obs

	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	CurrencyCode       string

	TipDefaultPercent int
	TipPresetPercents []int
	TaxRateBPS        int

	PaymentProcessor        string
	PaymentBaseURL          string
	PaymentSecretKey        string
	PaymentTimeout          time.Duration
	PaymentRetryMaxAttempts int
	PaymentRetryBase        time.Duration

	CircuitPaymentMinRequests  int
	CircuitPaymentFailureRatio float64
	CircuitPaymentOpenFor      time.Duration
	CircuitPaymentWindow       time.Duration

	CatalogCacheTTL  time.Duration
	IdempotencyTTL   time.Duration
	RateLimitSettle  string
	SessionIdleTTL   time.Duration
	MaxBodyBytes     int64
	ShutdownTimeout  time.Duration
	SeedDemoCatalog  bool
	DiscountCodesRaw string

	RecordRetryMax          int
	RecordWorkerEnabled     bool
	RecordWorkerConcurrency int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()
	k, err := fromEnv()
	if err != nil {
		return nil, err
	}
	return build(k)
}

// LoadForTests layers overrides on top of the process environment without
// mutating it. An empty override value behaves like an unset variable.
func LoadForTests(overrides map[string]string) (*Config, error) {
	k, err := fromEnv()
	if err != nil {
		return nil, err
	}
	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("override %s: %w", key, err)
		}
	}
	return build(k)
}

func fromEnv() (*koanf.Koanf, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	return k, nil
}

func build(k *koanf.Koanf) (*Config, error) {
	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		CurrencyCode:       strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "USD")),

		TipDefaultPercent: parseInt(k.String("TIP_DEFAULT_PERCENT"), 20),
		TaxRateBPS:        parseInt(k.String("TAX_RATE_BPS"), 0),

		PaymentProcessor:        strings.ToLower(valueOrDefault(k.String("PAYMENT_PROCESSOR"), ProcessorSandbox)),
		PaymentBaseURL:          strings.TrimSpace(k.String("PAYMENT_BASE_URL")),
		PaymentSecretKey:        k.String("PAYMENT_SECRET_KEY"),
		PaymentTimeout:          parseDuration(k.String("PAYMENT_TIMEOUT"), "15s"),
		PaymentRetryMaxAttempts: parseInt(k.String("PAYMENT_RETRY_MAX_ATTEMPTS"), 3),
		PaymentRetryBase:        parseDuration(k.String("PAYMENT_RETRY_BASE"), "200ms"),

		CircuitPaymentMinRequests:  parseInt(k.String("CIRCUIT_PAYMENT_MIN_REQ"), 10),
		CircuitPaymentFailureRatio: parseFloat(k.String("CIRCUIT_PAYMENT_FAILURE_RATE"), 0.5),
		CircuitPaymentOpenFor:      parseDuration(k.String("CIRCUIT_PAYMENT_OPEN_FOR"), "30s"),
		CircuitPaymentWindow:       parseDuration(k.String("CIRCUIT_PAYMENT_WINDOW"), "1m"),

		CatalogCacheTTL:  parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RateLimitSettle:  valueOrDefault(k.String("RATE_LIMIT_SETTLE"), "30-M"),
		SessionIdleTTL:   parseDuration(k.String("SESSION_IDLE_TTL"), "2h"),
		MaxBodyBytes:     int64(parseInt(k.String("HTTP_MAX_BODY_BYTES"), 64<<10)),
		ShutdownTimeout:  parseDuration(k.String("SHUTDOWN_TIMEOUT"), "10s"),
		SeedDemoCatalog:  parseBool(valueOrDefault(k.String("SEED_DEMO_CATALOG"), "true")),
		DiscountCodesRaw: k.String("DISCOUNT_CODES"),

		RecordRetryMax:          parseInt(k.String("RECORD_RETRY_MAX"), 10),
		RecordWorkerEnabled:     parseBool(valueOrDefault(k.String("RECORD_WORKER_ENABLED"), "true")),
		RecordWorkerConcurrency: parseInt(k.String("RECORD_WORKER_CONCURRENCY"), 2),

		Obs: Obs{
			LogFormat:        strings.ToLower(valueOrDefault(k.String("OBS_LOG_FORMAT"), "json")),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsEnabled:   parseBool(valueOrDefault(k.String("OBS_ENABLE_PROMETHEUS"), "true")),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "pos"),
			MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
			TracingEnabled:   parseBool(valueOrDefault(k.String("OBS_ENABLE_TRACING"), "true")),
			TracingExporter:  strings.ToLower(valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp")),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
			PprofEnabled:     parseBool(k.String("OBS_ENABLE_PPROF")),
			PprofUser:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
			PprofPass:        k.String("SECURE_PPROF_BASIC_AUTH_PASS"),
		},
	}

	presets, err := parseIntList(valueOrDefault(k.String("TIP_PRESET_PERCENTS"), "15,18,20,25"))
	if err != nil {
		return nil, fmt.Errorf("TIP_PRESET_PERCENTS: %w", err)
	}
	cfg.TipPresetPercents = presets

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.PaymentProcessor {
	case ProcessorSandbox, ProcessorNone:
	case ProcessorHTTP:
		if c.PaymentBaseURL == "" {
			return errors.New("PAYMENT_BASE_URL is required when PAYMENT_PROCESSOR=http")
		}
		if c.PaymentSecretKey == "" {
			return errors.New("PAYMENT_SECRET_KEY is required when PAYMENT_PROCESSOR=http")
		}
	default:
		return fmt.Errorf("PAYMENT_PROCESSOR %q is not supported", c.PaymentProcessor)
	}
	if c.TipDefaultPercent < 0 {
		return errors.New("TIP_DEFAULT_PERCENT must not be negative")
	}
	if c.TaxRateBPS < 0 {
		return errors.New("TAX_RATE_BPS must not be negative")
	}
	if c.CircuitPaymentFailureRatio <= 0 || c.CircuitPaymentFailureRatio > 1 {
		return errors.New("CIRCUIT_PAYMENT_FAILURE_RATE must be within (0, 1]")
	}
	if c.RecordRetryMax < 0 {
		return errors.New("RECORD_RETRY_MAX must not be negative")
	}
	if c.Obs.PprofEnabled && c.Obs.PprofUser == "" && c.AppEnv == "production" {
		return errors.New("SECURE_PPROF_BASIC_AUTH_USER is required to enable pprof in production")
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// PersistenceEnabled reports whether a database is configured.
func (c *Config) PersistenceEnabled() bool { return c.DatabaseURL != "" }

// RedisEnabled reports whether Redis backed features are configured.
func (c *Config) RedisEnabled() bool { return c.RedisURL != "" }

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseIntList(value string) ([]int, error) {
	parts := splitAndTrim(value)
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", part)
		}
		if n < 0 {
			return nil, fmt.Errorf("negative value %d", n)
		}
		out = append(out, n)
	}
	return out, nil
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

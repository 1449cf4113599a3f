package app

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pos/internal/catalog"
	"github.com/noah-isme/backend-pos/internal/checkout"
	"github.com/noah-isme/backend-pos/internal/common"
	"github.com/noah-isme/backend-pos/internal/config"
	"github.com/noah-isme/backend-pos/internal/discount"
	"github.com/noah-isme/backend-pos/internal/events"
	"github.com/noah-isme/backend-pos/internal/health"
	"github.com/noah-isme/backend-pos/internal/obs"
	"github.com/noah-isme/backend-pos/internal/payment"
	"github.com/noah-isme/backend-pos/internal/queue"
	"github.com/noah-isme/backend-pos/internal/ratelimit"
	"github.com/noah-isme/backend-pos/internal/resilience"
	"github.com/noah-isme/backend-pos/internal/security"
	"github.com/noah-isme/backend-pos/internal/store"
	"github.com/noah-isme/backend-pos/internal/tip"
)

// NewCatalog picks the product source: Postgres (cached in Redis when available)
// or the demo catalog.
func NewCatalog(cfg *config.Config, deps *Dependencies, logger zerolog.Logger) (catalog.Source, error) {
	if deps.DB == nil {
		if !cfg.SeedDemoCatalog {
			return nil, errors.New("catalog: DATABASE_URL is empty and SEED_DEMO_CATALOG is off")
		}
		return catalog.NewDemoSource()
	}
	var src catalog.Source = catalog.PGSource{DB: deps.DB}
	if deps.Redis != nil {
		src = catalog.CachedSource{
			Origin: src,
			Cache:  catalog.NewCache(deps.Redis, cfg.CatalogCacheTTL),
			Logger: logger.With().Str("component", "catalog").Logger(),
		}
	}
	return src, nil
}

// NewProcessor builds the configured payment processor behind a circuit breaker.
func NewProcessor(cfg *config.Config, logger zerolog.Logger) *payment.Guard {
	breakerLogger := logger.With().Str("component", "payment").Logger()
	breaker := resilience.NewBreaker(cfg.CircuitPaymentMinRequests, cfg.CircuitPaymentFailureRatio, cfg.CircuitPaymentOpenFor).
		WithTarget("payment").
		WithWindow(cfg.CircuitPaymentWindow).
		WithLogger(breakerLogger)

	var proc payment.Processor
	switch cfg.PaymentProcessor {
	case config.ProcessorSandbox:
		proc = payment.NewSandbox()
	case config.ProcessorHTTP:
		proc = payment.NewHTTPProcessor(cfg.PaymentBaseURL, cfg.PaymentSecretKey, cfg.CurrencyCode, resilience.HTTPClient{
			BaseBackoff: cfg.PaymentRetryBase,
			MaxAttempts: cfg.PaymentRetryMaxAttempts,
			Jitter:      0.2,
			Timeout:     cfg.PaymentTimeout,
		})
	}
	return payment.NewGuard(proc, breaker, breakerLogger)
}

// NewBus returns the domain event bus, persisting to a Redis stream when available.
func NewBus(deps *Dependencies, logger zerolog.Logger) *events.Bus {
	bus := &events.Bus{
		Notifiers: []events.Notifier{events.LogNotifier{Logger: logger.With().Str("component", "events").Logger()}},
	}
	if deps.Redis != nil {
		bus.Store = events.RedisStore{Client: deps.Redis, MaxLen: 10000}
	}
	return bus
}

// NewCheckout assembles the checkout service from configuration.
func NewCheckout(cfg *config.Config, deps *Dependencies, logger zerolog.Logger) (*checkout.Service, error) {
	source, err := NewCatalog(cfg, deps, logger)
	if err != nil {
		return nil, err
	}
	rules, err := discount.ParseRules(cfg.DiscountCodesRaw)
	if err != nil {
		return nil, fmt.Errorf("DISCOUNT_CODES: %w", err)
	}
	book, err := discount.NewBook(rules...)
	if err != nil {
		return nil, fmt.Errorf("DISCOUNT_CODES: %w", err)
	}

	svcLogger := logger.With().Str("component", "checkout").Logger()
	svc := &checkout.Service{
		Catalog:    source,
		Processor:  NewProcessor(cfg, logger),
		Events:     NewBus(deps, logger),
		Discounts:  book,
		Logger:     &svcLogger,
		TaxRateBPS: cfg.TaxRateBPS,
		DefaultTip: tip.PercentageOf(cfg.TipDefaultPercent),
		TipPresets: tip.Presets(cfg.TipPresetPercents),
		Timeout:    cfg.PaymentTimeout,
		IdleTTL:    cfg.SessionIdleTTL,
	}
	if cfg.TipDefaultPercent == 0 {
		svc.DefaultTip = tip.None()
	}
	if deps.DB != nil {
		svc.Recorder = store.PaymentWriter{DB: deps.DB}
	}
	if deps.TaskClient != nil {
		svc.RecordQueue = queue.Enqueuer{Client: deps.TaskClient, MaxRetry: cfg.RecordRetryMax}
	}
	return svc, nil
}

// RouterOptions carries the optional observability pieces mounted on the router.
type RouterOptions struct {
	Logger      zerolog.Logger
	Tracing     bool
	HTTPMetrics *obs.HTTPMetrics
	Metrics     http.Handler
	Pprof       http.Handler
}

// NewRouter mounts the checkout API, health endpoints and observability handlers.
func NewRouter(cfg *config.Config, deps *Dependencies, svc *checkout.Service, opts RouterOptions) (http.Handler, error) {
	limitStore, err := ratelimit.NewStore(deps.Redis, "pos:ratelimit:settle")
	if err != nil {
		return nil, err
	}
	settleLimiter, err := ratelimit.New(limitStore, cfg.RateLimitSettle)
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_SETTLE: %w", err)
	}
	limit := ratelimit.Handler{
		Limiter: settleLimiter,
		Key:     ratelimit.ByURLParam("id"),
		OnError: func(err error) { opts.Logger.Warn().Err(err).Msg("settle rate limit store") },
	}
	settle := []func(http.Handler) http.Handler{limit.Middleware}
	if deps.Redis != nil {
		settle = append(settle, common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}.Middleware)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if opts.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if opts.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: opts.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: opts.Logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After", "Idempotent-Replay"},
		MaxAge:         300,
	}))

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
	if opts.Pprof != nil {
		r.Mount("/debug/pprof", opts.Pprof)
	}

	healthHandler := health.Handler{Probes: deps.Probes()}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	handler := &checkout.Handler{Svc: svc}
	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)
		v.Use(security.Headers{Enable: true, EnableHSTS: cfg.AppEnv == "production", NoStore: true}.Middleware)
		handler.Mount(v, settle...)
	})
	return r, nil
}

// SweepInterval is how often idle terminals are evicted.
func SweepInterval(cfg *config.Config) time.Duration {
	interval := cfg.SessionIdleTTL / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

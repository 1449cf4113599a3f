package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pos/internal/app"
	"github.com/noah-isme/backend-pos/internal/config"
	"github.com/noah-isme/backend-pos/internal/health"
	"github.com/noah-isme/backend-pos/internal/obs"
)

const serviceName = "pos-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().
		Str("service", serviceName).
		Str("env", cfg.AppEnv).
		Logger()

	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	tracing := startTracing(cfg, logger)
	defer tracing.shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	deps, err := app.Connect(connectCtx, cfg, app.ConnectOptions{RedisMetrics: cfg.Obs.MetricsEnabled, Logger: logger})
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect dependencies")
	}
	defer deps.Close()
	if deps.DB == nil {
		logger.Warn().Msg("DATABASE_URL not set: payments are not persisted")
	}
	if deps.Redis == nil {
		logger.Warn().Msg("REDIS_URL not set: idempotency, event stream and catalog cache disabled")
	}

	stopWorker, err := deps.StartRecordWorker(logger.With().Str("component", "record-worker").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("start record worker")
	}
	defer stopWorker()

	checkoutSvc, err := app.NewCheckout(cfg, deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise checkout service")
	}
	go checkoutSvc.RunJanitor(ctx, app.SweepInterval(cfg))

	opts := app.RouterOptions{Logger: logger, Tracing: tracing.enabled}
	if cfg.Obs.MetricsEnabled {
		buckets := obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets)
		opts.HTTPMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, buckets, nil)
		opts.Metrics = promhttp.Handler()
	}
	if cfg.Obs.PprofEnabled {
		opts.Pprof = obs.PprofHandler(cfg.Obs.PprofUser, cfg.Obs.PprofPass)
	}
	router, err := app.NewRouter(cfg, deps, checkoutSvc, opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise router")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("processor", cfg.PaymentProcessor).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Msg("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
}

type tracingHandle struct {
	enabled bool
	stop    func(context.Context) error
	logger  zerolog.Logger
}

func (t tracingHandle) shutdown() {
	if t.stop == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.stop(ctx); err != nil {
		t.logger.Error().Err(err).Msg("shutdown tracer")
	}
}

// startTracing installs the global tracer provider. Failure only disables tracing.
func startTracing(cfg *config.Config, logger zerolog.Logger) tracingHandle {
	h := tracingHandle{logger: logger}
	if !cfg.Obs.TracingEnabled {
		return h
	}
	stop, err := obs.InitTracer(context.Background(), obs.TracingConfig{
		ServiceName:   serviceName,
		Endpoint:      cfg.Obs.OTLPEndpoint,
		Exporter:      cfg.Obs.TracingExporter,
		SamplingRatio: cfg.Obs.SamplingRatio,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		return h
	}
	h.enabled, h.stop = true, stop
	return h
}

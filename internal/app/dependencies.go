package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pos/internal/config"
	"github.com/noah-isme/backend-pos/internal/health"
	"github.com/noah-isme/backend-pos/internal/lock"
	"github.com/noah-isme/backend-pos/internal/obs"
	"github.com/noah-isme/backend-pos/internal/queue"
	"github.com/noah-isme/backend-pos/internal/store"
)

const (
	applicationName = "pos-api"
	migrationLease  = 2 * time.Minute
)

// Dependencies holds the external connections shared across modules. Both are
// optional: a nil DB disables persistence and a nil Redis falls back to in-memory
// stores where one exists.
type Dependencies struct {
	DB    *pgxpool.Pool
	Redis *redis.Client
	// TaskClient and TaskServer carry deferred payment writes. They exist only
	// when both stores are configured; TaskServer is nil when the worker is off.
	TaskClient *asynq.Client
	TaskServer *asynq.Server
}

// ConnectOptions tunes instrumentation of the connections.
type ConnectOptions struct {
	RedisMetrics bool
	Logger       zerolog.Logger
}

// Connect dials the configured stores. Migrations run before the pool is
// returned, serialised across replicas when Redis is available.
func Connect(ctx context.Context, cfg *config.Config, opts ConnectOptions) (*Dependencies, error) {
	deps := &Dependencies{}
	if cfg.RedisEnabled() {
		client, err := openRedis(ctx, cfg.RedisURL, opts)
		if err != nil {
			return nil, err
		}
		deps.Redis = client
	}
	if cfg.PersistenceEnabled() {
		if err := migrateDatabase(ctx, cfg.DatabaseURL, deps.Redis); err != nil {
			deps.Close()
			return nil, err
		}
		pool, err := openPool(ctx, cfg.DatabaseURL)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.DB = pool
	}
	if deps.DB != nil && deps.Redis != nil {
		opt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("parse redis url for tasks: %w", err)
		}
		deps.TaskClient = asynq.NewClient(opt)
		if cfg.RecordWorkerEnabled {
			deps.TaskServer = queue.NewServer(opt, cfg.RecordWorkerConcurrency, opts.Logger.With().Str("component", "record-worker").Logger())
		}
	}
	return deps, nil
}

// StartRecordWorker runs the deferred payment-write worker when one is configured.
// The returned stop function is safe to call when nothing was started.
func (d *Dependencies) StartRecordWorker(logger zerolog.Logger) (func(), error) {
	if d == nil || d.TaskServer == nil || d.DB == nil {
		return func() {}, nil
	}
	handler := queue.RecordHandler{Recorder: store.PaymentWriter{DB: d.DB}, Logger: logger}
	if err := d.TaskServer.Start(queue.NewMux(handler)); err != nil {
		return nil, fmt.Errorf("start record worker: %w", err)
	}
	return d.TaskServer.Shutdown, nil
}

func openRedis(ctx context.Context, url string, opts ConnectOptions) (*redis.Client, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		opts.Logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if opts.RedisMetrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			opts.Logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func openPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func migrateDatabase(ctx context.Context, url string, client *redis.Client) error {
	run := func(context.Context) error {
		if err := store.Migrate(url); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		return nil
	}
	if client == nil {
		return run(ctx)
	}
	return lock.Locker{R: client}.WithLock(ctx, "migrate", migrationLease, run)
}

// Probes returns readiness checks for the configured connections.
func (d *Dependencies) Probes() []health.Probe {
	var probes []health.Probe
	if d.DB != nil {
		probes = append(probes, health.Probe{Name: "database", Check: d.DB.Ping})
	}
	if d.Redis != nil {
		probes = append(probes, health.Probe{Name: "redis", Timeout: 300 * time.Millisecond, Check: func(ctx context.Context) error {
			return d.Redis.Ping(ctx).Err()
		}})
	}
	return probes
}

// Close releases all connections.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	if d.TaskClient != nil {
		_ = d.TaskClient.Close()
	}
	if d.DB != nil {
		d.DB.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
}

package main

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-pos/internal/catalog"
	"github.com/noah-isme/backend-pos/internal/config"
	"github.com/noah-isme/backend-pos/internal/obs"
	"github.com/noah-isme/backend-pos/internal/store"
)

// seeder applies migrations and loads the demo catalog into Postgres.
func main() {
	logger := obs.NewLogger(os.Getenv("OBS_LOG_FORMAT"), os.Getenv("OBS_LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if !cfg.PersistenceEnabled() {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	writer := store.ProductWriter{DB: pool}
	records := catalog.DemoRecords()
	for _, rec := range records {
		if err := writer.Upsert(ctx, rec); err != nil {
			logger.Fatal().Err(err).Str("product_id", rec.ID).Msg("seed product")
		}
		logger.Info().Str("product_id", rec.ID).Msg("seeded product")
	}
	logger.Info().Int("products", len(records)).Msg("seeding completed")
}

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	productKeyPrefix = "catalog:product:"
	missingMarker    = "-"
	defaultMissTTL   = 30 * time.Second
)

// Cache keeps product snapshots in Redis. Lookups for unknown ids are remembered
// for MissTTL so a bad scan does not hammer the database.
type Cache struct {
	R       *redis.Client
	TTL     time.Duration
	MissTTL time.Duration
}

// NewCache returns a product cache. A nil client yields a cache that never hits.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{R: client, TTL: ttl, MissTTL: min(defaultMissTTL, ttl)}
}

func (c *Cache) enabled() bool { return c != nil && c.R != nil }

// lookup returns the cached product. ErrProductNotFound is returned for a
// remembered miss; found is false when nothing is cached.
func (c *Cache) lookup(ctx context.Context, id string) (p Product, found bool, err error) {
	if !c.enabled() {
		return Product{}, false, nil
	}
	raw, err := c.R.Get(ctx, productKey(id)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return Product{}, false, nil
	case err != nil:
		return Product{}, false, err
	case string(raw) == missingMarker:
		return Product{}, true, ErrProductNotFound
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Product{}, false, fmt.Errorf("decode cached product %s: %w", id, err)
	}
	return p, true, nil
}

func (c *Cache) store(ctx context.Context, p Product) error {
	if !c.enabled() {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, productKey(p.ID), raw, c.TTL).Err()
}

func (c *Cache) storeMiss(ctx context.Context, id string) error {
	if !c.enabled() || c.MissTTL <= 0 {
		return nil
	}
	return c.R.Set(ctx, productKey(id), missingMarker, c.MissTTL).Err()
}

// Invalidate drops the cached entry so the next read goes to the origin.
func (c *Cache) Invalidate(ctx context.Context, productID string) error {
	if !c.enabled() {
		return nil
	}
	return c.R.Del(ctx, productKey(productID)).Err()
}

func productKey(id string) string {
	return productKeyPrefix + id
}

// CachedSource serves products from Redis, falling back to Origin on a miss.
// Cache failures degrade to origin reads.
type CachedSource struct {
	Origin Source
	Cache  *Cache
	Logger zerolog.Logger
}

// Product implements Source.
func (s CachedSource) Product(ctx context.Context, id string) (Product, error) {
	cached, found, err := s.Cache.lookup(ctx, id)
	switch {
	case found:
		return cached, err
	case err != nil:
		s.Logger.Warn().Err(err).Str("product_id", id).Msg("catalog cache read")
	}

	product, err := s.Origin.Product(ctx, id)
	if errors.Is(err, ErrProductNotFound) {
		if cacheErr := s.Cache.storeMiss(ctx, id); cacheErr != nil {
			s.Logger.Warn().Err(cacheErr).Str("product_id", id).Msg("catalog cache write")
		}
	}
	if err != nil {
		return Product{}, err
	}
	if err := s.Cache.store(ctx, product); err != nil {
		s.Logger.Warn().Err(err).Str("product_id", id).Msg("catalog cache write")
	}
	return product.Snapshot(), nil
}

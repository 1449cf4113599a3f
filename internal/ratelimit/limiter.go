package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// DefaultRate applies when no rate is configured.
const DefaultRate = "30-M"

// Result reports the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	Reset     time.Time
}

// Limiter decides whether one more event is allowed for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Fixed is a fixed window limiter backed by a ulule limiter store.
type Fixed struct {
	lim *limiter.Limiter
}

// NewStore returns a Redis backed store when client is set and an in-process store otherwise.
func NewStore(client *redis.Client, prefix string) (limiter.Store, error) {
	if prefix == "" {
		prefix = "pos:ratelimit"
	}
	if client == nil {
		return memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          prefix,
			CleanUpInterval: time.Minute,
		}), nil
	}
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("ratelimit redis store: %w", err)
	}
	return store, nil
}

// New builds a limiter from a formatted rate such as "30-M" or "5-S".
func New(store limiter.Store, formatted string) (*Fixed, error) {
	if formatted == "" {
		formatted = DefaultRate
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("ratelimit rate %q: %w", formatted, err)
	}
	return &Fixed{lim: limiter.New(store, rate)}, nil
}

// Allow implements Limiter.
func (f *Fixed) Allow(ctx context.Context, key string) (Result, error) {
	lc, err := f.lim.Get(ctx, key)
	if err != nil {
		return Result{Allowed: true}, err
	}
	return Result{
		Allowed:   !lc.Reached,
		Limit:     lc.Limit,
		Remaining: lc.Remaining,
		Reset:     time.Unix(lc.Reset, 0),
	}, nil
}

package rates

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"jewellery-storefront/internal/pricing"

	"github.com/redis/go-redis/v9"
)

const ratesCacheKey = "rates:all"

// CachedStore is a read-through Redis cache in front of a Store. Redis failures are
// logged and the underlying store is used instead.
type CachedStore struct {
	realStore Store
	redis     *redis.Client
	ttl       time.Duration
	log       *slog.Logger
}

func NewCachedStore(realStore Store, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *CachedStore {
	if log == nil {
		log = slog.Default()
	}
	return &CachedStore{realStore: realStore, redis: rdb, ttl: ttl, log: log}
}

func (c *CachedStore) ListRates(ctx context.Context) ([]pricing.Rate, error) {
	data, err := c.redis.Get(ctx, ratesCacheKey).Bytes()
	switch {
	case err == nil:
		var rates []pricing.Rate
		uerr := json.Unmarshal(data, &rates)
		if uerr == nil {
			return rates, nil
		}
		c.log.Warn("failed to unmarshal cached rates, continuing with db", slog.String("error", uerr.Error()))
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn("redis error, continuing with db", slog.String("error", err.Error()))
	}

	rates, err := c.realStore.ListRates(ctx)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, rates)
	return rates, nil
}

func (c *CachedStore) SaveRates(ctx context.Context, rates []pricing.Rate, expected map[pricing.Grade]time.Time) error {
	if err := c.realStore.SaveRates(ctx, rates, expected); err != nil {
		return err
	}

	fresh, err := c.realStore.ListRates(ctx)
	if err != nil {
		c.invalidate(ctx)
		return nil
	}
	c.fill(ctx, fresh)
	return nil
}

func (c *CachedStore) fill(ctx context.Context, rates []pricing.Rate) {
	data, err := json.Marshal(rates)
	if err != nil {
		c.log.Warn("failed to marshal rates", slog.String("error", err.Error()))
		c.invalidate(ctx)
		return
	}
	if err := c.redis.Set(ctx, ratesCacheKey, data, c.ttl).Err(); err != nil {
		c.log.Warn("failed to cache rates", slog.String("error", err.Error()))
		c.invalidate(ctx)
	}
}

func (c *CachedStore) invalidate(ctx context.Context) {
	if err := c.redis.Del(ctx, ratesCacheKey).Err(); err != nil {
		// A stale entry now survives until the TTL expires.
		c.log.Error("failed to invalidate rates cache", slog.String("error", err.Error()))
	}
}

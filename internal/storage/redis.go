package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/circuitbreaker"
	"github.com/portfolio-ledger/internal/config"
)

// RedisCache wraps the Redis client
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache connection
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client (used in tests).
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// RedisPriceCache is the shared-cache variant of the calculator's price
// cache: several ledger processes can read the prices one feed collector
// writes. TTL handling is delegated to Redis key expiry. A circuit breaker
// turns a down Redis into fast cache misses instead of per-lookup timeouts;
// valuation then falls back to the last held price.
type RedisPriceCache struct {
	redis      *RedisCache
	defaultTTL time.Duration
	breaker    *circuitbreaker.Breaker
}

// NewRedisPriceCache creates a Redis-backed price cache.
func NewRedisPriceCache(redis *RedisCache, defaultTTL time.Duration) *RedisPriceCache {
	if defaultTTL <= 0 {
		defaultTTL = 60 * time.Second
	}
	return &RedisPriceCache{
		redis:      redis,
		defaultTTL: defaultTTL,
		breaker:    circuitbreaker.New(circuitbreaker.DefaultConfig()),
	}
}

func priceKey(token string) string {
	return "price:" + token
}

// Set stores a price with the given TTL (default when non-positive).
func (c *RedisPriceCache) Set(ctx context.Context, token string, price decimal.Decimal, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	err := c.breaker.Do(func() error {
		return c.redis.client.Set(ctx, priceKey(token), price.String(), ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to cache price for %s: %w", token, err)
	}
	return nil
}

// Get returns the cached price, or a miss when absent or expired. While the
// breaker is open, lookups report a miss without touching Redis.
func (c *RedisPriceCache) Get(ctx context.Context, token string) (decimal.Decimal, bool, error) {
	var raw string
	err := c.breaker.Do(func() error {
		var getErr error
		raw, getErr = c.redis.client.Get(ctx, priceKey(token)).Result()
		if getErr == redis.Nil {
			raw = ""
			return nil
		}
		return getErr
	})
	if err == circuitbreaker.ErrOpen {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to read price for %s: %w", token, err)
	}
	if raw == "" {
		return decimal.Zero, false, nil
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("malformed cached price for %s: %w", token, err)
	}
	return price, true, nil
}

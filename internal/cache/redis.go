package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sle-predictor-server/internal/domain"
)

const keyPrefix = "sle:prediction:"

// RedisCache stores results as JSON in Redis with a TTL.
type RedisCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewRedisCache connects to cfg.RedisURL and verifies the connection.
func NewRedisCache(cfg domain.CacheConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.PoolTimeout > 0 {
		opts.PoolTimeout = cfg.PoolTimeout
	}
	opts.MaxRetries = cfg.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{redis: client, defaultTTL: ttl}, nil
}

func key(id string) string {
	return keyPrefix + id
}

func (c *RedisCache) Get(ctx context.Context, id string) (*domain.PredictionResult, error) {
	val, err := c.redis.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("cached prediction %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached prediction: %w", err)
	}

	var result domain.PredictionResult
	if err := json.Unmarshal(val, &result); err != nil {
		// Corrupted entries are dropped and reported as a miss.
		c.redis.Del(ctx, key(id))
		return nil, fmt.Errorf("cached prediction %s: %w", id, domain.ErrNotFound)
	}
	return &result, nil
}

func (c *RedisCache) Set(ctx context.Context, result *domain.PredictionResult) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("cannot cache a result without an ID")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction: %w", err)
	}
	return c.redis.Set(ctx, key(result.ID), data, c.defaultTTL).Err()
}

// Ping checks the Redis connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.redis.Close()
}

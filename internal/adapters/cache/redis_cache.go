package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mikey/mail-risk/internal/core"
	"go.uber.org/zap"
)

// RedisCache shares scan results between instances through Redis
type RedisCache struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(addr, password string, db int, logger *zap.Logger) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis scan cache connected", zap.String("addr", addr))
	return &RedisCache{rdb: rdb, logger: logger}, nil
}

// Get returns the cached result for the provider and hash
func (c *RedisCache) Get(ctx context.Context, provider, sha256 string) (*core.ScanResult, bool, error) {
	data, err := c.rdb.Get(ctx, Key(provider, sha256)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read scan cache: %w", err)
	}

	var res core.ScanResult
	if err := json.Unmarshal(data, &res); err != nil {
		c.logger.Warn("Dropping undecodable scan cache entry", zap.String("sha256", sha256), zap.Error(err))
		return nil, false, nil
	}
	return &res, true, nil
}

// Set stores the result with a Redis TTL
func (c *RedisCache) Set(ctx context.Context, provider, sha256 string, result *core.ScanResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode scan result: %w", err)
	}
	if err := c.rdb.Set(ctx, Key(provider, sha256), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write scan cache: %w", err)
	}
	return nil
}

// Cleanup is a no-op; Redis expires keys itself
func (c *RedisCache) Cleanup(ctx context.Context) error {
	return nil
}

// Stop closes the Redis client
func (c *RedisCache) Stop() {
	if err := c.rdb.Close(); err != nil {
		c.logger.Warn("Failed to close redis client", zap.Error(err))
	}
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/trip-weather-service/internal/models"
)

const redisKeyPrefix = "tripweather:analysis:"

// RedisCache implements Cache on top of a shared Redis instance, so several
// service replicas see the same analyses.
type RedisCache struct {
	client *redis.Client
}

// ConnectRedis parses redisURL, creates a client, and verifies connectivity with a ping.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get implements Cache.Get. redis.Nil is reported as a miss, not an error.
func (c *RedisCache) Get(ctx context.Context, key string) (models.WeatherAnalysis, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.WeatherAnalysis{}, false, nil
		}
		return models.WeatherAnalysis{}, false, fmt.Errorf("cache get %q: %w", key, err)
	}

	var data models.WeatherAnalysis
	if err := json.Unmarshal(raw, &data); err != nil {
		return models.WeatherAnalysis{}, false, fmt.Errorf("unmarshaling cached analysis %q: %w", key, err)
	}
	return data, true, nil
}

// Set implements Cache.Set. A zero ttl keeps the key until it is overwritten.
func (c *RedisCache) Set(ctx context.Context, key string, value models.WeatherAnalysis, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling analysis %q: %w", key, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, b, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// Ping checks if redis is reachable. Used for health checks.
func (c *RedisCache) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/trip-weather-service/internal/models"
)

const keyPrefix = "tripweather:"

// MemcachedCache implements Cache using memcached.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// key hashes k because memcached keys are limited to 250 bytes without
// spaces or control characters, while destinations are free-form.
func (c *MemcachedCache) key(k string) string {
	sum := sha256.Sum256([]byte(k))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.WeatherAnalysis, bool, error) {
	if ctx.Err() != nil {
		return models.WeatherAnalysis{}, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return models.WeatherAnalysis{}, false, nil
		}
		return models.WeatherAnalysis{}, false, err
	}
	var data models.WeatherAnalysis
	if err := json.Unmarshal(item.Value, &data); err != nil {
		return models.WeatherAnalysis{}, false, err
	}
	return data, true, nil
}

// Set implements Cache.Set. A zero ttl stores the item without expiry.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.WeatherAnalysis, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: memcachedExpiration(ttl),
	})
}

// memcachedExpiration converts ttl to memcached seconds. Values above 30 days
// would be read as a unix timestamp by the server, so they are capped.
func memcachedExpiration(ttl time.Duration) int32 {
	const maxRelativeExp = 30 * 24 * 60 * 60
	if ttl <= 0 {
		return 0
	}
	sec := int64(ttl.Seconds())
	if sec < 1 {
		sec = 1
	}
	if sec > maxRelativeExp {
		sec = maxRelativeExp
	}
	return int32(sec)
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}

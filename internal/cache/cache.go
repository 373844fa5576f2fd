package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/kjstillabower/trip-weather-service/internal/models"
)

// Cache defines the interface for weather analysis caching implementations.
// Get returns cached data if present and not expired, Set stores data with TTL.
// A ttl of zero means the entry never expires.
type Cache interface {
	Get(ctx context.Context, key string) (models.WeatherAnalysis, bool, error)
	Set(ctx context.Context, key string, value models.WeatherAnalysis, ttl time.Duration) error
}

// KeyFor builds the cache key for a trip request. The destination is used
// verbatim and length-prefixed, so distinct requests never share a key.
func KeyFor(destination, startDate string, durationDays int) string {
	return strconv.Itoa(len(destination)) + ":" + destination + "|" + startDate + "|" + strconv.Itoa(durationDays)
}

// InMemoryCache implements Cache using a mutex-guarded map. Reads and writes
// for a key are linearizable; values are stored whole, never built in place.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
}

// cacheEntry stores a cached analysis with an optional expiration timestamp.
type cacheEntry struct {
	value     models.WeatherAnalysis
	expiresAt time.Time // zero = never
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves the cached analysis for key.
// Returns (data, true, nil) on cache hit, (zero, false, nil) on miss or expiration.
// Expired entries stay in the map until the next Set for the same key.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.WeatherAnalysis, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return models.WeatherAnalysis{}, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		return models.WeatherAnalysis{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores the analysis under key, silently replacing any previous value.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.WeatherAnalysis, ttl time.Duration) error {
	entry := cacheEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.data[key] = entry
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/trip-weather-service/internal/cache"
	"github.com/kjstillabower/trip-weather-service/internal/client"
	"github.com/kjstillabower/trip-weather-service/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // "in_memory", "memcached" or "redis"
	MemcachedAddr string
	RedisURL      string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}
	cfg := IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        os.Getenv("WEATHER_API_URL"),
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: os.Getenv("MEMCACHED_ADDRS"),
		RedisURL:      os.Getenv("REDIS_URL"),
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.weatherapi.com/v1"
	}
	if cfg.MemcachedAddr == "" {
		cfg.MemcachedAddr = "localhost:11211"
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379/0"
	}
	return cfg
}

// SetupIntegrationCache returns the configured cache backend, falling back to
// in-memory when the remote backend is unreachable.
func SetupIntegrationCache(t *testing.T, cfg IntegrationTestConfig) (cache.Cache, func()) {
	t.Helper()
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil {
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
			return mc, func() { _ = mc.Close() }
		}
		t.Logf("Memcached not available (%v), using in-memory cache", err)
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		rc, err := cache.ConnectRedis(ctx, cfg.RedisURL)
		if err == nil {
			t.Logf("Using Redis cache at %s", cfg.RedisURL)
			return cache.NewRedisCache(rc), func() { _ = rc.Close() }
		}
		t.Logf("Redis not available (%v), using in-memory cache", err)
	}
	return cache.NewInMemoryCache(), func() {}
}

// SetupIntegrationClient creates a WeatherAPI client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.WeatherAPIClient {
	t.Helper()
	c, err := client.NewWeatherAPIClient(cfg.APIKey, cfg.APIURL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewWeatherAPIClient() error = %v", err)
	}
	return c
}

// SetupIntegrationService creates a fully configured analysis service.
// Returns the service, its cache, and a cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig, logger *zap.Logger) (*service.AnalysisService, cache.Cache, func()) {
	t.Helper()
	c, cleanup := SetupIntegrationCache(t, cfg)
	svc := service.NewAnalysisService(SetupIntegrationClient(t, cfg), c, service.Options{
		TTL:                  5 * time.Minute,
		UpstreamTimeout:      5 * time.Second,
		CoalesceTimeout:      10 * time.Second,
		MaxForecastDays:      14,
		DestinationMaxLength: 100,
		Logger:               logger,
	})
	return svc, c, cleanup
}

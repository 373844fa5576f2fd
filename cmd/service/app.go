package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/trip-weather-service/internal/cache"
	"github.com/kjstillabower/trip-weather-service/internal/circuitbreaker"
	"github.com/kjstillabower/trip-weather-service/internal/client"
	"github.com/kjstillabower/trip-weather-service/internal/config"
	"github.com/kjstillabower/trip-weather-service/internal/observability"
	"github.com/kjstillabower/trip-weather-service/internal/service"
)

const breakerComponent = "weather_api"

// app holds the wired service graph shared by serve and the tool commands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	client   *client.WeatherAPIClient
	breaker  *circuitbreaker.CircuitBreaker
	cache    cache.Cache
	service  *service.AnalysisService
	ping     func() error
	closers  []io.Closer
	inMemory *cache.InMemoryCache
}

// loadRuntime reads configuration and builds the logger.
func loadRuntime() (*config.Config, *zap.Logger, error) {
	logger, err := observability.NewLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	return cfg, logger, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	weatherClient, err := client.NewWeatherAPIClientWithRetry(
		cfg.WeatherAPIKey,
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}
	weatherClient.SetMaxForecastDays(cfg.MaxForecastDays)
	a.client = weatherClient

	var provider client.WeatherProvider = weatherClient
	if cfg.BreakerEnabled {
		a.breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			SuccessThreshold: cfg.BreakerSuccessThreshold,
			Timeout:          cfg.BreakerTimeout,
			Interval:         cfg.BreakerInterval,
			Component:        breakerComponent,
			IsFailure:        client.IsUpstreamFault,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.CircuitBreakerTransitionsTotal.WithLabelValues(breakerComponent, from.String(), to.String()).Inc()
				observability.CircuitBreakerState.WithLabelValues(breakerComponent).Set(float64(to))
				logger.Warn("circuit breaker state change",
					zap.String("component", breakerComponent),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		observability.CircuitBreakerState.WithLabelValues(breakerComponent).Set(0)
		provider = client.NewBreakerProvider(weatherClient, a.breaker)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.BreakerFailureThreshold),
			zap.Duration("timeout", cfg.BreakerTimeout))
	}

	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, fmt.Errorf("memcached cache: %w", err)
		}
		a.cache, a.ping = mc, mc.Ping
		a.closers = append(a.closers, mc)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "redis":
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rc, err := cache.ConnectRedis(connectCtx, cfg.RedisURL)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		redisCache := cache.NewRedisCache(rc)
		a.cache, a.ping = redisCache, redisCache.Ping
		a.closers = append(a.closers, redisCache)
		logger.Info("cache backend: redis")
	default:
		a.inMemory = cache.NewInMemoryCache()
		a.cache = a.inMemory
		logger.Info("cache backend: in_memory")
	}

	coalesceTimeout := cfg.CoalesceTimeout
	if !cfg.CoalesceEnabled {
		coalesceTimeout = 0
	}
	a.service = service.NewAnalysisService(provider, a.cache, service.Options{
		TTL:                  cfg.CacheTTL,
		UpstreamTimeout:      cfg.UpstreamBudget(),
		NormalizeDestination: cfg.NormalizeDestination,
		CoalesceTimeout:      coalesceTimeout,
		MaxForecastDays:      cfg.MaxForecastDays,
		DestinationMaxLength: cfg.DestinationMaxLength,
		Logger:               logger,
	})
	return a, nil
}

// breakerState reports the provider breaker state, or nil when the breaker is disabled.
func (a *app) breakerState() func() circuitbreaker.State {
	if a.breaker == nil {
		return nil
	}
	return a.breaker.State
}

// close releases cache connections and flushes logs.
func (a *app) close(ctx context.Context) {
	if err := observability.FlushTelemetry(ctx, a.logger, a.closers...); err != nil {
		a.logger.Debug("telemetry flush", zap.Error(err))
	}
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from .env, YAML and environment.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	MaxForecastDays   int

	RequestTimeout time.Duration

	CacheBackend         string // "in_memory", "memcached" or "redis"
	CacheTTL             time.Duration
	NormalizeDestination bool

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisURL string

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int
	// RateLimitPerIP is requests per minute per client IP; 0 disables it.
	RateLimitPerIP int

	BreakerEnabled          bool
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration
	BreakerInterval         time.Duration

	ShutdownTimeout time.Duration

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int

	WarmDestinations []string
	WarmDurationDays int
	WarmInterval     time.Duration

	ToolboxURL     string
	ToolboxToolset string
	ToolboxTimeout time.Duration

	DestinationMaxLength int

	TrackedDestinations []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL             string `yaml:"url"`
		Timeout         string `yaml:"timeout"`
		MaxForecastDays int    `yaml:"max_forecast_days"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend              string `yaml:"backend"`
		TTL                  string `yaml:"ttl"`
		NormalizeDestination bool   `yaml:"normalize_destination"`
		Memcached            struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			URL string `yaml:"url"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Coalesce struct {
		Enabled *bool  `yaml:"enabled"`
		Timeout string `yaml:"timeout"`
	} `yaml:"coalesce"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		RateLimitPerIP   int    `yaml:"rate_limit_per_ip"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
			Interval         string `yaml:"interval"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Warming struct {
		Destinations []string `yaml:"destinations"`
		DurationDays int      `yaml:"duration_days"`
		Interval     string   `yaml:"interval"`
	} `yaml:"warming"`

	Toolbox struct {
		URL     string `yaml:"url"`
		Toolset string `yaml:"toolset"`
		Timeout string `yaml:"timeout"`
	} `yaml:"toolbox"`

	Validation struct {
		DestinationMaxLength int `yaml:"destination_max_length"`
	} `yaml:"validation"`

	Metrics struct {
		TrackedDestinations []string `yaml:"tracked_destinations"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load reads configuration relative to the working directory. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom reads dir/.env (optional), dir/config/{ENV_NAME}.yaml (default dev)
// and dir/config/secrets.yaml (optional). Variables already set in the
// environment win over .env. The API key comes from WEATHER_API_KEY or the
// secrets file.
func LoadFrom(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey = os.Getenv("WEATHER_API_KEY")
	if cfg.WeatherAPIKey == "" {
		key, err := readSecretsKey(filepath.Join(dir, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.WeatherAPIKey = key
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env, .env or config/secrets.yaml weather_api_key)")
	}

	cfg.WeatherAPIURL = fc.WeatherAPI.URL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.weatherapi.com/v1"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.MaxForecastDays = fc.WeatherAPI.MaxForecastDays
	if cfg.MaxForecastDays <= 0 {
		cfg.MaxForecastDays = 14
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	cfg.CacheBackend = firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, "in_memory")
	cfg.CacheBackend = strings.ToLower(cfg.CacheBackend)
	// Zero TTL keeps analyses for the life of the cache.
	cfg.CacheTTL = parseDurationOrZero(fc.Cache.TTL, 0)
	cfg.NormalizeDestination = fc.Cache.NormalizeDestination
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.RedisURL = firstNonEmpty(os.Getenv("REDIS_URL"), fc.Cache.Redis.URL, "redis://localhost:6379/0")

	cfg.CoalesceEnabled = boolOr(fc.Coalesce.Enabled, true)
	cfg.CoalesceTimeout = parseDuration(fc.Coalesce.Timeout, 10*time.Second)

	// The service never retries; provider retries are opt-in.
	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cfg.RateLimitPerIP = fc.Reliability.RateLimitPerIP

	cb := fc.Reliability.CircuitBreaker
	cfg.BreakerEnabled = boolOr(cb.Enabled, true)
	cfg.BreakerFailureThreshold = cb.FailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 2
	}
	cfg.BreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)
	cfg.BreakerInterval = parseDuration(cb.Interval, 60*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.OverloadWindow = parseDuration(fc.Health.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Health.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 25
	}

	cfg.WarmDestinations = fc.Warming.Destinations
	cfg.WarmDurationDays = fc.Warming.DurationDays
	if cfg.WarmDurationDays <= 0 {
		cfg.WarmDurationDays = 3
	}
	cfg.WarmInterval = parseDuration(fc.Warming.Interval, 30*time.Minute)

	cfg.ToolboxURL = firstNonEmpty(os.Getenv("MCP_TOOLBOX_URL"), fc.Toolbox.URL)
	cfg.ToolboxToolset = firstNonEmpty(fc.Toolbox.Toolset, "travel_genius_toolset")
	cfg.ToolboxTimeout = parseDuration(fc.Toolbox.Timeout, 3*time.Second)

	cfg.DestinationMaxLength = fc.Validation.DestinationMaxLength
	if cfg.DestinationMaxLength <= 0 {
		cfg.DestinationMaxLength = 100
	}

	cfg.TrackedDestinations = fc.Metrics.TrackedDestinations

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readSecretsKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return sec.WeatherAPIKey, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// UpstreamBudget is the time one provider call may take across all retry
// attempts: every attempt's timeout plus the longest backoff, jitter included,
// between them.
func (c *Config) UpstreamBudget() time.Duration {
	attempts := c.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	gap := c.RetryMaxDelay + c.RetryMaxDelay/10
	return time.Duration(attempts)*c.WeatherAPITimeout + time.Duration(attempts-1)*gap
}

// validate checks loaded values. RequestTimeout is raised above the upstream
// budget when needed.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if budget := cfg.UpstreamBudget(); cfg.RequestTimeout <= budget {
		cfg.RequestTimeout = budget + time.Second
	}
	if cfg.CacheTTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative, got %s", cfg.CacheTTL)
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis":
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	if cfg.WarmDurationDays > cfg.MaxForecastDays {
		return fmt.Errorf("warming.duration_days %d exceeds weather_api.max_forecast_days %d", cfg.WarmDurationDays, cfg.MaxForecastDays)
	}
	return nil
}

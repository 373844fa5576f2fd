// Package service implements the cache-aside trip weather analysis.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/trip-weather-service/internal/cache"
	"github.com/kjstillabower/trip-weather-service/internal/client"
	"github.com/kjstillabower/trip-weather-service/internal/models"
	"github.com/kjstillabower/trip-weather-service/internal/observability"
	"github.com/kjstillabower/trip-weather-service/internal/scoring"
	"github.com/kjstillabower/trip-weather-service/internal/validation"
)

// outlookDays is the length of the daily summary attached to a current report.
const outlookDays = 7

// Options configures an AnalysisService. Zero values disable the matching limit.
type Options struct {
	// TTL for stored analyses; 0 keeps them for the life of the cache.
	TTL time.Duration
	// UpstreamTimeout bounds each provider call.
	UpstreamTimeout time.Duration
	// NormalizeDestination trims and lower-cases destinations before keying,
	// so "Goa" and " goa " share an entry. Off by default.
	NormalizeDestination bool
	// CoalesceTimeout enables in-flight coalescing when positive. It caps how
	// long a caller waits on a fetch started by another caller.
	CoalesceTimeout time.Duration
	// MaxForecastDays is the provider horizon; longer durations are rejected.
	MaxForecastDays      int
	DestinationMaxLength int
	Logger               *zap.Logger
}

// AnalysisService produces trip weather analyses, serving repeats from cache.
type AnalysisService struct {
	provider  client.WeatherProvider
	cache     cache.Cache
	opts      Options
	stampede  *stampedeTracker
	coalescer *requestCoalescer
	logger    *zap.Logger
	now       func() time.Time
}

// NewAnalysisService returns a service that owns c for its analysis results.
func NewAnalysisService(provider client.WeatherProvider, c cache.Cache, opts Options) *AnalysisService {
	var coalescer *requestCoalescer
	if opts.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer(opts.CoalesceTimeout)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisService{
		provider:  provider,
		cache:     c,
		opts:      opts,
		stampede:  newStampedeTracker(),
		coalescer: coalescer,
		logger:    logger,
		now:       time.Now,
	}
}

// Analyze returns the weather analysis for a trip. Repeated calls with the same
// destination, start date and duration are answered from cache without a
// provider call. Failed fetches are never cached.
func (s *AnalysisService) Analyze(ctx context.Context, destination, startDate string, durationDays int) (models.WeatherAnalysis, error) {
	analysis, err := s.analyze(ctx, destination, startDate, durationDays, false)
	observability.AnalysisRequestsTotal.WithLabelValues("analyze", outcomeLabel(err)).Inc()
	return analysis, err
}

// Refresh refetches one analysis and overwrites its cache entry without
// consulting the cache first. The cache warmer uses it so that periodic runs
// replace entries that never expire.
func (s *AnalysisService) Refresh(ctx context.Context, destination, startDate string, durationDays int) (models.WeatherAnalysis, error) {
	analysis, err := s.analyze(ctx, destination, startDate, durationDays, true)
	observability.AnalysisRequestsTotal.WithLabelValues("refresh", outcomeLabel(err)).Inc()
	return analysis, err
}

func (s *AnalysisService) analyze(ctx context.Context, destination, startDate string, durationDays int, refresh bool) (models.WeatherAnalysis, error) {
	req := models.WeatherRequest{Destination: destination, StartDate: startDate, DurationDays: durationDays}
	if err := validation.ValidateRequest(req, s.rules()); err != nil {
		return models.WeatherAnalysis{}, newError(KindInvalidRequest, destination, "invalid analysis request", err)
	}

	start := time.Now()
	logger := s.log(ctx)
	dest := s.keyDestination(destination)
	key := cache.KeyFor(dest, startDate, durationDays)
	observability.RecordWeatherQuery(dest)

	if !refresh {
		if cached, ok := s.lookup(ctx, key); ok {
			logger.Debug("cache hit", zap.String("destination", dest), zap.String("key", key))
			return cached, nil
		}
	}

	label := observability.MetricDestinationLabel(dest)
	if n := s.stampede.begin(key); n > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(label).Inc()
		observability.CacheStampedeConcurrency.WithLabelValues(label).Observe(float64(n))
	}
	defer s.stampede.end(key)

	logger.Debug("cache miss, fetching forecast", zap.String("destination", dest), zap.String("key", key))

	fetch := func(ctx context.Context) (models.WeatherAnalysis, error) {
		return s.fetchAndStore(ctx, key, dest, startDate, durationDays)
	}

	var (
		analysis models.WeatherAnalysis
		err      error
	)
	if s.coalescer != nil {
		waitStart := time.Now()
		var shared bool
		analysis, shared, err = s.coalescer.Do(ctx, key, fetch)
		if shared {
			observability.RequestCoalescingHitsTotal.WithLabelValues(label).Inc()
		}
		observability.RequestCoalescingWaitSeconds.Observe(time.Since(waitStart).Seconds())
	} else {
		analysis, err = fetch(ctx)
	}
	if err != nil {
		logger.Warn("forecast fetch failed",
			zap.String("destination", dest),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err),
		)
		return models.WeatherAnalysis{}, newError(KindUpstreamFailure, destination, "weather fetch failed", err)
	}

	logger.Debug("analysis served", zap.String("destination", dest), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	return analysis, nil
}

// fetchAndStore fetches, scores and caches one analysis. Only a successful
// result reaches the cache.
func (s *AnalysisService) fetchAndStore(ctx context.Context, key, dest, startDate string, durationDays int) (models.WeatherAnalysis, error) {
	fctx, cancel := s.upstreamContext(ctx)
	defer cancel()

	days, err := s.provider.FetchForecast(fctx, strings.TrimSpace(dest), startDate, durationDays)
	if err != nil {
		return models.WeatherAnalysis{}, err
	}
	if len(days) < durationDays {
		return models.WeatherAnalysis{}, fmt.Errorf("%w: provider returned %d of %d days", client.ErrMalformedResponse, len(days), durationDays)
	}
	days = days[:durationDays]

	analysis := scoring.Derive(dest, days, scoring.HintOutdoor)
	analysis.StartDate = startDate
	if analysis.StartDate == "" && len(days) > 0 {
		analysis.StartDate = days[0].Date
	}
	analysis.DurationDays = durationDays
	analysis.GeneratedAt = s.now().UTC()

	s.store(ctx, key, dest, analysis)
	return analysis, nil
}

func (s *AnalysisService) lookup(ctx context.Context, key string) (models.WeatherAnalysis, bool) {
	getStart := time.Now()
	cached, ok, err := s.cache.Get(ctx, key)
	elapsed := time.Since(getStart).Seconds()
	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(elapsed)
		observability.CacheMissesTotal.WithLabelValues("analysis").Inc()
		s.log(ctx).Warn("cache get failed, treating as miss", zap.String("key", key), zap.Error(err))
		return models.WeatherAnalysis{}, false
	case ok:
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(elapsed)
		observability.CacheHitsTotal.WithLabelValues("analysis").Inc()
		return cached, true
	default:
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(elapsed)
		observability.CacheMissesTotal.WithLabelValues("analysis").Inc()
		return models.WeatherAnalysis{}, false
	}
}

func (s *AnalysisService) store(ctx context.Context, key, dest string, analysis models.WeatherAnalysis) {
	setStart := time.Now()
	if err := s.cache.Set(ctx, key, analysis, s.opts.TTL); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		s.log(ctx).Warn("cache set failed", zap.String("destination", dest), zap.Error(err))
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	s.log(ctx).Debug("analysis cached", zap.String("destination", dest), zap.String("key", key))
}

// OptimizeSchedule scores each activity against a fresh forecast and returns
// annotated copies with a numeric "weather_score". Every failure is of kind
// KindOptimizationFailure; bad input additionally matches ErrInvalidRequest.
// Activity i is matched to forecast day i unless it names a 1-based "day"
// within the trip. Activities
// falling beyond the forecast are returned unannotated. The analysis cache is
// not consulted.
func (s *AnalysisService) OptimizeSchedule(ctx context.Context, destination, activitiesJSON string, durationDays int) ([]models.Activity, error) {
	out, err := s.optimize(ctx, destination, activitiesJSON, durationDays)
	observability.AnalysisRequestsTotal.WithLabelValues("optimize", outcomeLabel(err)).Inc()
	return out, err
}

func (s *AnalysisService) optimize(ctx context.Context, destination, activitiesJSON string, durationDays int) ([]models.Activity, error) {
	activities, err := ParseActivities(activitiesJSON)
	if err != nil {
		return nil, newError(KindOptimizationFailure, destination, "activities are not a JSON list of objects", fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}
	req := models.WeatherRequest{Destination: destination, DurationDays: durationDays}
	if err := validation.ValidateRequest(req, s.rules()); err != nil {
		return nil, newError(KindOptimizationFailure, destination, "invalid optimize request", fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}
	if len(activities) == 0 {
		return []models.Activity{}, nil
	}

	fctx, cancel := s.upstreamContext(ctx)
	defer cancel()
	days, err := s.provider.FetchForecast(fctx, strings.TrimSpace(destination), "", durationDays)
	if err != nil {
		s.log(ctx).Warn("optimize forecast fetch failed", zap.String("destination", destination), zap.Error(err))
		return nil, newError(KindOptimizationFailure, destination, "weather fetch failed", err)
	}

	out := make([]models.Activity, len(activities))
	for i, a := range activities {
		annotated := make(models.Activity, len(a)+1)
		for k, v := range a {
			annotated[k] = v
		}
		if idx := forecastIndex(a, i); idx < len(days) {
			annotated["weather_score"] = scoring.ScoreDay(days[idx], a.Type())
		}
		out[i] = annotated
	}
	return out, nil
}

// ParseActivities decodes a JSON list of activity objects. Blank input is an empty list.
func ParseActivities(activitiesJSON string) ([]models.Activity, error) {
	if strings.TrimSpace(activitiesJSON) == "" {
		return []models.Activity{}, nil
	}
	var activities []models.Activity
	if err := json.Unmarshal([]byte(activitiesJSON), &activities); err != nil {
		return nil, err
	}
	if activities == nil {
		activities = []models.Activity{}
	}
	return activities, nil
}

// forecastIndex returns the zero-based forecast day for activity i.
func forecastIndex(a models.Activity, i int) int {
	if d, ok := a["day"].(float64); ok && d >= 1 && d == math.Trunc(d) {
		return int(d) - 1
	}
	return i
}

// CurrentConditions returns the latest observation plus a short daily outlook.
// Both are fetched on every call; the analysis cache is not consulted.
func (s *AnalysisService) CurrentConditions(ctx context.Context, destination string) (models.CurrentReport, error) {
	report, err := s.currentConditions(ctx, destination)
	observability.AnalysisRequestsTotal.WithLabelValues("current", outcomeLabel(err)).Inc()
	return report, err
}

func (s *AnalysisService) currentConditions(ctx context.Context, destination string) (models.CurrentReport, error) {
	if err := validation.ValidateDestination(destination, s.opts.DestinationMaxLength); err != nil {
		return models.CurrentReport{}, newError(KindInvalidRequest, destination, "invalid destination", err)
	}

	var (
		current models.CurrentConditions
		outlook models.WeatherAnalysis
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fctx, cancel := s.upstreamContext(gctx)
		defer cancel()
		c, err := s.provider.FetchCurrent(fctx, strings.TrimSpace(destination))
		if err != nil {
			return err
		}
		current = c
		return nil
	})
	g.Go(func() error {
		fctx, cancel := s.upstreamContext(gctx)
		defer cancel()
		days, err := s.provider.FetchForecast(fctx, strings.TrimSpace(destination), "", s.outlookDays())
		if err != nil {
			return err
		}
		outlook = scoring.Derive(destination, days, scoring.HintOutdoor)
		return nil
	})
	if err := g.Wait(); err != nil {
		s.log(ctx).Warn("current report failed", zap.String("destination", destination), zap.Error(err))
		return models.CurrentReport{}, newError(KindUpstreamFailure, destination, "current conditions fetch failed", err)
	}

	return models.CurrentReport{
		Destination:         destination,
		Current:             current,
		DailyWeather:        outlook.DailyForecast,
		OverallWeatherScore: outlook.WeatherScore,
		WeatherAlerts:       outlook.WeatherAlerts,
	}, nil
}

func (s *AnalysisService) outlookDays() int {
	if s.opts.MaxForecastDays > 0 && s.opts.MaxForecastDays < outlookDays {
		return s.opts.MaxForecastDays
	}
	return outlookDays
}

func (s *AnalysisService) rules() validation.Rules {
	return validation.Rules{
		DestinationMaxLength: s.opts.DestinationMaxLength,
		MaxDurationDays:      s.opts.MaxForecastDays,
	}
}

func (s *AnalysisService) keyDestination(destination string) string {
	if s.opts.NormalizeDestination {
		return normalizeDestination(destination)
	}
	return destination
}

func (s *AnalysisService) upstreamContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.UpstreamTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.UpstreamTimeout)
	}
	return context.WithCancel(ctx)
}

// log prefers the request-scoped logger carrying the correlation id.
func (s *AnalysisService) log(ctx context.Context) *zap.Logger {
	if l := observability.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return "unknown"
}

// categorizeCacheError returns a stable label for cache error metrics.
func categorizeCacheError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "connection"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}

// normalizeDestination trims whitespace and lower-cases for case-insensitive keys.
func normalizeDestination(destination string) string {
	return strings.ToLower(strings.TrimSpace(destination))
}

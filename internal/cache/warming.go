package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/trip-weather-service/internal/models"
	"github.com/kjstillabower/trip-weather-service/internal/observability"
)

// Refresher is implemented by the service layer. Refresh must fetch and
// overwrite the entry even when one is cached, since entries may never expire.
// Declared here to avoid a circular dependency on the service package.
type Refresher interface {
	Refresh(ctx context.Context, destination, startDate string, durationDays int) (models.WeatherAnalysis, error)
}

// CacheWarmer populates and periodically refreshes the cache for a fixed list of destinations.
type CacheWarmer struct {
	refresher    Refresher
	logger       *zap.Logger
	durationDays int
	parallelism  int

	mu        sync.Mutex
	scheduler *gocron.Scheduler
}

// NewCacheWarmer creates a CacheWarmer that requests durationDays-long analyses
// starting today. logger may be nil.
func NewCacheWarmer(refresher Refresher, durationDays int, logger *zap.Logger) *CacheWarmer {
	if durationDays < 1 {
		durationDays = 1
	}
	return &CacheWarmer{refresher: refresher, logger: logger, durationDays: durationDays, parallelism: 4}
}

// Warm refreshes every destination with bounded parallelism. A failure for one
// destination does not stop the others; all failures are joined into the result.
func (w *CacheWarmer) Warm(ctx context.Context, destinations []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("destinations", len(destinations)), zap.Int("durationDays", w.durationDays))
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.parallelism)
	for _, dest := range destinations {
		g.Go(func() error {
			if _, err := w.refresher.Refresh(gctx, dest, "", w.durationDays); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", dest, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete",
			zap.Int("destinations", len(destinations)),
			zap.Int("errors", len(errs)),
			zap.Float64("duration_seconds", duration),
		)
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// Start schedules Warm to run immediately and then every interval until Stop.
// With no destinations it does nothing.
func (w *CacheWarmer) Start(ctx context.Context, destinations []string, interval time.Duration) error {
	if len(destinations) == 0 {
		if w.logger != nil {
			w.logger.Info("cache warming disabled: no destinations configured")
		}
		return nil
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scheduler != nil {
		return errors.New("cache warmer already started")
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(interval).Do(func() {
		if err := w.Warm(ctx, destinations); err != nil && w.logger != nil {
			w.logger.Warn("periodic cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling cache warming: %w", err)
	}
	s.StartAsync()
	w.scheduler = s
	return nil
}

// Stop halts periodic warming. Safe to call when Start was never called.
func (w *CacheWarmer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scheduler != nil {
		w.scheduler.Stop()
		w.scheduler = nil
	}
}

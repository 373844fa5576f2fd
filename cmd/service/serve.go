package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/trip-weather-service/internal/cache"
	httphandler "github.com/kjstillabower/trip-weather-service/internal/http"
	"github.com/kjstillabower/trip-weather-service/internal/lifecycle"
	"github.com/kjstillabower/trip-weather-service/internal/observability"
	"github.com/kjstillabower/trip-weather-service/internal/toolbox"
)

const inFlightCheckInterval = 50 * time.Millisecond

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}

	if cfg.WeatherAPIKey != "" {
		if err := a.client.ValidateAPIKey(ctx); err != nil {
			logger.Warn("weather API key check failed", zap.Error(err))
		}
	}
	if a.inMemory != nil {
		observability.RegisterCacheEntriesGauge(a.inMemory.Len)
	}
	observability.RegisterRateLimitGauges(cfg.OverloadWindow)
	observability.SetTrackedDestinations(cfg.TrackedDestinations)

	toolset := toolbox.NewLoader(cfg.ToolboxURL, cfg.ToolboxTimeout, logger).Load(ctx, cfg.ToolboxToolset)

	handler := httphandler.NewHandler(a.service, toolset, &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		CachePing:            a.ping,
		BreakerState:         a.breakerState(),
	}, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
		PerIPPerMinute: cfg.RateLimitPerIP,
		Logger:         logger,
	})

	warmer := cache.NewCacheWarmer(a.service, cfg.WarmDurationDays, logger)
	if err := warmer.Start(ctx, cfg.WarmDestinations, cfg.WarmInterval); err != nil {
		logger.Warn("cache warming not started", zap.Error(err))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	lifecycle.Set(lifecycle.Ready)

	select {
	case <-ctx.Done():
		logger.Info("graceful shutdown triggered")
	case err := <-serveErr:
		if err != nil {
			logger.Error("server", zap.Error(err))
			warmer.Stop()
			a.close(context.Background())
			return err
		}
	}

	lifecycle.SetShuttingDown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}
	warmer.Stop()

	logger.Info("shutdown complete")
	a.close(context.Background())
	return nil
}

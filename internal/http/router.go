package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/trip-weather-service/internal/observability"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	RequestTimeout time.Duration
	// Limiter is the global token bucket for weather routes; nil disables it.
	Limiter *rate.Limiter
	// PerIPPerMinute limits each client IP on weather routes; 0 disables it.
	PerIPPerMinute int
	Logger         *zap.Logger
}

// NewRouter wires the tool endpoints, health and metrics.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(cfg.Logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	router.HandleFunc("/tools", h.GetTools).Methods(http.MethodGet)
	router.HandleFunc("/destinations/extract", h.GetExtractDestination).Methods(http.MethodGet)

	weather := router.PathPrefix("/weather").Subrouter()
	weather.Use(PerIPRateLimitMiddleware(cfg.PerIPPerMinute))
	weather.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		weather.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	weather.HandleFunc("/{destination}/analysis", h.GetAnalysis).Methods(http.MethodGet)
	weather.HandleFunc("/{destination}/current", h.GetCurrent).Methods(http.MethodGet)
	weather.HandleFunc("/{destination}/optimize", h.PostOptimize).Methods(http.MethodPost)
	return router
}

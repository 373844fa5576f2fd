package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/trip-weather-service/internal/circuitbreaker"
	"github.com/kjstillabower/trip-weather-service/internal/client"
	"github.com/kjstillabower/trip-weather-service/internal/lifecycle"
	"github.com/kjstillabower/trip-weather-service/internal/observability"
	"github.com/kjstillabower/trip-weather-service/internal/service"
	"github.com/kjstillabower/trip-weather-service/internal/toolbox"
	"github.com/kjstillabower/trip-weather-service/internal/tools"
	"github.com/kjstillabower/trip-weather-service/internal/traffic"
)

// maxBodyBytes caps optimize request bodies.
const maxBodyBytes = 1 << 20

// HealthConfig holds thresholds and checks for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	// CachePing, when set, checks cache reachability (memcached, redis).
	CachePing func() error
	// BreakerState, when set, reports the provider circuit breaker state.
	BreakerState func() circuitbreaker.State
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	analyzer         tools.Analyzer
	toolset          toolbox.Toolset
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. toolset lists remote tools next to the built-ins.
func NewHandler(analyzer tools.Analyzer, toolset toolbox.Toolset, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	return &Handler{
		analyzer:     analyzer,
		toolset:      toolset,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetAnalysis handles GET /weather/{destination}/analysis?start_date=&duration_days=.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	destination := mux.Vars(r)["destination"]
	days, err := durationParam(r.URL.Query().Get("duration_days"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_DURATION", err.Error())
		return
	}

	result, err := h.analyzer.Analyze(r.Context(), destination, r.URL.Query().Get("start_date"), days)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, result)
}

// GetCurrent handles GET /weather/{destination}/current.
func (h *Handler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	report, err := h.analyzer.CurrentConditions(r.Context(), mux.Vars(r)["destination"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, report)
}

type optimizeRequest struct {
	// Activities is either a JSON list or a string holding one.
	Activities   json.RawMessage `json:"activities"`
	DurationDays int             `json:"duration_days"`
}

// PostOptimize handles POST /weather/{destination}/optimize.
func (h *Handler) PostOptimize(w http.ResponseWriter, r *http.Request) {
	var body optimizeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be a JSON object")
		return
	}
	activities, err := activitiesJSON(body.Activities)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	destination := mux.Vars(r)["destination"]
	schedule, err := h.analyzer.OptimizeSchedule(r.Context(), destination, activities, body.DurationDays)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":            true,
		"destination":        destination,
		"optimized_schedule": schedule,
	})
}

// GetExtractDestination handles GET /destinations/extract?q=.
func (h *Handler) GetExtractDestination(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", "q is required")
		return
	}
	writeJSON(w, http.StatusOK, tools.ExtractDestinationFromQuery(q))
}

// GetTools handles GET /tools, listing built-in tools and any loaded remote toolset.
func (h *Handler) GetTools(w http.ResponseWriter, r *http.Request) {
	defs := tools.Definitions()
	for _, t := range h.toolset.Tools {
		params := make([]tools.Parameter, 0, len(t.Parameters))
		for _, p := range t.Parameters {
			params = append(params, tools.Parameter{Name: p.Name, Type: p.Type, Description: p.Description})
		}
		defs = append(defs, tools.Definition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
			Source:      "toolbox:" + h.toolset.Name,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools":       defs,
		"toolset":     h.toolset.Name,
		"remoteTools": len(h.toolset.Tools),
	})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if h.healthConfig != nil && h.healthConfig.BreakerState != nil {
		switch h.healthConfig.BreakerState() {
		case circuitbreaker.StateOpen:
			checks["weatherApi"] = "unhealthy"
		case circuitbreaker.StateHalfOpen:
			checks["weatherApi"] = "recovering"
		}
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "trip-weather-service",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	switch lifecycle.Current() {
	case lifecycle.ShuttingDown:
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	case lifecycle.Starting:
		return healthResult{"starting", http.StatusServiceUnavailable, "warming"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	cfg := h.healthConfig

	// Overloaded when rate-limit denials exceed the configured share of window capacity.
	if cfg.RateLimitRPS > 0 && cfg.OverloadWindow > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(traffic.DenialCount(cfg.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if cfg.BreakerState != nil && cfg.BreakerState() == circuitbreaker.StateOpen {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(cfg.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// durationParam parses duration_days; it is required.
func durationParam(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("duration_days is required")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("duration_days must be an integer")
	}
	return n, nil
}

// activitiesJSON accepts a JSON list or a JSON string holding one.
func activitiesJSON(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", errors.New("activities must be a JSON list or string")
		}
		return s, nil
	}
	return trimmed, nil
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope with the request's correlation id.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps a service error onto a status code and error code.
// Only upstream faults count toward the degraded error rate.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data"
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		status, code, message = http.StatusBadRequest, "INVALID_REQUEST", errorMessage(err)
	case errors.Is(err, client.ErrLocationNotFound):
		status, code, message = http.StatusNotFound, "DESTINATION_NOT_FOUND", "Destination not found"
	case errors.Is(err, client.ErrForecastRange):
		status, code, message = http.StatusBadRequest, "FORECAST_RANGE", "Requested dates are outside the forecast range"
	case errors.Is(err, context.DeadlineExceeded):
		status, code, message = http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "Weather provider timed out"
	}
	if status >= http.StatusInternalServerError {
		traffic.RecordError()
	}

	writeError(w, r, status, code, message)
	if logger := observability.LoggerFromContext(r.Context()); logger != nil {
		logger.Debug("service error", zap.Int("status", status), zap.String("code", code), zap.Error(err))
	}
}

// errorMessage returns the innermost cause for client-facing messages.
func errorMessage(err error) string {
	var se *service.Error
	if errors.As(err, &se) && se.Err != nil {
		return se.Message + ": " + se.Err.Error()
	}
	return err.Error()
}

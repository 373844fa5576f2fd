// Package tools exposes the analysis service as flat, JSON-shaped tool calls
// for agent pipelines. Tool functions never return errors or panic; failures
// are reported inside the result map.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/trip-weather-service/internal/models"
	"github.com/kjstillabower/trip-weather-service/internal/observability"
)

// Analyzer is the subset of service.AnalysisService the tools call.
type Analyzer interface {
	Analyze(ctx context.Context, destination, startDate string, durationDays int) (models.WeatherAnalysis, error)
	OptimizeSchedule(ctx context.Context, destination, activitiesJSON string, durationDays int) ([]models.Activity, error)
	CurrentConditions(ctx context.Context, destination string) (models.CurrentReport, error)
}

// Tools binds the tool functions to one analyzer.
type Tools struct {
	analyzer Analyzer
	logger   *zap.Logger
}

// New returns tools backed by analyzer. A nil logger discards tool logs.
func New(analyzer Analyzer, logger *zap.Logger) *Tools {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tools{analyzer: analyzer, logger: logger}
}

// GetWeatherAnalysis returns the flattened trip analysis, or
// {"destination", "error"} on failure. Repeated calls are served from cache.
func (t *Tools) GetWeatherAnalysis(ctx context.Context, destination, startDate string, durationDays int) (result map[string]any) {
	defer t.recoverInto(ctx, "get_weather_analysis", &result, map[string]any{"destination": destination})

	analysis, err := t.analyzer.Analyze(ctx, destination, startDate, durationDays)
	if err != nil {
		return map[string]any{"destination": destination, "error": err.Error()}
	}
	flat, err := flatten(analysis)
	if err != nil {
		return map[string]any{"destination": destination, "error": err.Error()}
	}
	return flat
}

// GetCurrentWeatherReport returns current conditions and a short outlook with "success".
func (t *Tools) GetCurrentWeatherReport(ctx context.Context, destination string) (result map[string]any) {
	defer t.recoverInto(ctx, "get_current_weather_report", &result, map[string]any{"success": false, "destination": destination})

	report, err := t.analyzer.CurrentConditions(ctx, destination)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error(), "destination": destination}
	}
	flat, err := flatten(report)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error(), "destination": destination}
	}
	flat["success"] = true
	return flat
}

// OptimizeScheduleForWeather annotates each activity in activitiesJSON with a weather_score.
func (t *Tools) OptimizeScheduleForWeather(ctx context.Context, destination, activitiesJSON string, durationDays int) (result map[string]any) {
	defer t.recoverInto(ctx, "optimize_schedule_for_weather", &result, map[string]any{"success": false})

	activities, err := t.analyzer.OptimizeSchedule(ctx, destination, activitiesJSON, durationDays)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	return map[string]any{
		"success":            true,
		"destination":        destination,
		"optimized_schedule": activities,
	}
}

// ExtractDestinationFromQuery returns {"destination": place}; place is "" when none is found.
func ExtractDestinationFromQuery(query string) map[string]any {
	return map[string]any{"destination": ExtractDestination(query)}
}

// recoverInto turns a panic in a tool into an error result.
func (t *Tools) recoverInto(ctx context.Context, tool string, result *map[string]any, base map[string]any) {
	r := recover()
	if r == nil {
		return
	}
	logger := observability.LoggerFromContext(ctx)
	if logger == nil {
		logger = t.logger
	}
	logger.Error("tool panicked", zap.String("tool", tool), zap.Any("panic", r))
	out := make(map[string]any, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out["error"] = fmt.Sprintf("internal error: %v", r)
	*result = out
}

// flatten converts v to its JSON object form so results are plain maps.
func flatten(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return out, nil
}


package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownTool is returned by Invoke for names not in Definitions.
var ErrUnknownTool = errors.New("unknown tool")

// Parameter describes one tool argument.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Definition describes a callable tool.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Source      string      `json:"source"`
}

const (
	ToolExtractDestination = "extract_destination_from_query"
	ToolWeatherAnalysis    = "get_weather_analysis"
	ToolCurrentReport      = "get_current_weather_report"
	ToolOptimizeSchedule   = "optimize_schedule_for_weather"
)

// Definitions lists the built-in tools in a stable order.
func Definitions() []Definition {
	return []Definition{
		{
			Name:        ToolExtractDestination,
			Description: "Extract the travel destination from a free-text request.",
			Parameters: []Parameter{
				{Name: "query", Type: "string", Description: "User request, e.g. \"3 days in Goa\"", Required: true},
			},
			Source: "builtin",
		},
		{
			Name:        ToolWeatherAnalysis,
			Description: "Day-by-day and trip-level weather suitability for a trip. Repeated calls are cached.",
			Parameters: []Parameter{
				{Name: "destination", Type: "string", Description: "City or region", Required: true},
				{Name: "start_date", Type: "string", Description: "YYYY-MM-DD; empty for today"},
				{Name: "duration_days", Type: "integer", Description: "Trip length in days", Required: true},
			},
			Source: "builtin",
		},
		{
			Name:        ToolCurrentReport,
			Description: "Current conditions plus a seven-day outlook.",
			Parameters: []Parameter{
				{Name: "destination", Type: "string", Description: "City or region", Required: true},
			},
			Source: "builtin",
		},
		{
			Name:        ToolOptimizeSchedule,
			Description: "Annotate planned activities with a per-day weather_score.",
			Parameters: []Parameter{
				{Name: "destination", Type: "string", Description: "City or region", Required: true},
				{Name: "activities_json", Type: "string", Description: "JSON list of activity objects with optional type and day", Required: true},
				{Name: "duration_days", Type: "integer", Description: "Trip length in days", Required: true},
			},
			Source: "builtin",
		},
	}
}

// Invoke calls a built-in tool by name with JSON-style arguments. Argument
// problems are reported as errors; tool failures come back in the result map.
func (t *Tools) Invoke(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	switch name {
	case ToolExtractDestination:
		query, err := stringArg(args, "query")
		if err != nil {
			return nil, err
		}
		return ExtractDestinationFromQuery(query), nil
	case ToolWeatherAnalysis:
		destination, err := stringArg(args, "destination")
		if err != nil {
			return nil, err
		}
		startDate, _ := stringArg(args, "start_date")
		days, err := intArg(args, "duration_days")
		if err != nil {
			return nil, err
		}
		return t.GetWeatherAnalysis(ctx, destination, startDate, days), nil
	case ToolCurrentReport:
		destination, err := stringArg(args, "destination")
		if err != nil {
			return nil, err
		}
		return t.GetCurrentWeatherReport(ctx, destination), nil
	case ToolOptimizeSchedule:
		destination, err := stringArg(args, "destination")
		if err != nil {
			return nil, err
		}
		activities, err := activitiesArg(args, "activities_json")
		if err != nil {
			return nil, err
		}
		days, err := intArg(args, "duration_days")
		if err != nil {
			return nil, err
		}
		return t.OptimizeScheduleForWeather(ctx, destination, activities, days), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", fmt.Errorf("missing argument %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", name)
	}
	return s, nil
}

// intArg accepts JSON numbers and numeric strings.
func intArg(args map[string]any, name string) (int, error) {
	switch v := args[name].(type) {
	case nil:
		return 0, fmt.Errorf("missing argument %q", name)
	case int:
		return v, nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("argument %q must be a whole number", name)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("argument %q: %w", name, err)
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("argument %q: %w", name, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("argument %q must be an integer", name)
}

// activitiesArg accepts either a JSON string or an already-decoded list.
func activitiesArg(args map[string]any, name string) (string, error) {
	switch v := args[name].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []any:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("argument %q: %w", name, err)
		}
		return string(b), nil
	}
	return "", fmt.Errorf("argument %q must be a JSON string or list", name)
}

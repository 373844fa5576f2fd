package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/trip-weather-service/internal/config"
	"github.com/kjstillabower/trip-weather-service/internal/toolbox"
	"github.com/kjstillabower/trip-weather-service/internal/tools"
)

// withTools builds the service graph, runs fn against the tool facade, and tears it down.
func withTools(cmd *cobra.Command, fn func(ctx context.Context, t *tools.Tools) (map[string]any, error)) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
	defer cancel()
	result, err := fn(ctx, tools.New(a.service, logger))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAnalyzeCmd() *cobra.Command {
	var startDate string
	var days int
	cmd := &cobra.Command{
		Use:   "analyze <destination>",
		Short: "Analyze trip weather for a destination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTools(cmd, func(ctx context.Context, t *tools.Tools) (map[string]any, error) {
				return t.GetWeatherAnalysis(ctx, args[0], startDate, days), nil
			})
		},
	}
	cmd.Flags().StringVarP(&startDate, "start-date", "s", "", "trip start date (YYYY-MM-DD); empty means today")
	cmd.Flags().IntVarP(&days, "days", "d", 3, "trip length in days")
	return cmd
}

func newCurrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current <destination>",
		Short: "Show current conditions and a short outlook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTools(cmd, func(ctx context.Context, t *tools.Tools) (map[string]any, error) {
				return t.GetCurrentWeatherReport(ctx, args[0]), nil
			})
		},
	}
}

func newOptimizeCmd() *cobra.Command {
	var activities string
	var days int
	cmd := &cobra.Command{
		Use:   "optimize <destination>",
		Short: "Score a list of activities against the forecast",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTools(cmd, func(ctx context.Context, t *tools.Tools) (map[string]any, error) {
				return t.OptimizeScheduleForWeather(ctx, args[0], activities, days), nil
			})
		},
	}
	cmd.Flags().StringVarP(&activities, "activities", "a", "[]", `activities as a JSON list, e.g. '[{"name":"Hike","type":"outdoor"}]'`)
	cmd.Flags().IntVarP(&days, "days", "d", 3, "trip length in days")
	return cmd
}

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <query...>",
		Short: "Extract the destination from a free-text travel request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd.OutOrStdout(), tools.ExtractDestinationFromQuery(strings.Join(args, " ")))
		},
	}
}

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List or invoke tools",
	}

	var toolboxURL, toolset string
	list := &cobra.Command{
		Use:   "list",
		Short: "List built-in tools and the remote toolset from --toolbox-url or config",
		RunE: func(cmd *cobra.Command, args []string) error {
			defs := tools.Definitions()
			url, name, timeout := toolboxURL, toolset, 3*time.Second
			if !cmd.Flags().Changed("toolbox-url") {
				cfg, err := config.Load()
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "config not loaded, listing built-in tools only: %v\n", err)
				} else {
					url, timeout = cfg.ToolboxURL, cfg.ToolboxTimeout
					if !cmd.Flags().Changed("toolset") {
						name = cfg.ToolboxToolset
					}
				}
			}
			if url != "" {
				ts := toolbox.NewLoader(url, timeout, zap.NewNop()).Load(cmd.Context(), name)
				for _, rt := range ts.Tools {
					defs = append(defs, tools.Definition{Name: rt.Name, Description: rt.Description, Source: "toolbox:" + ts.Name})
				}
			}
			return printJSON(cmd.OutOrStdout(), defs)
		},
	}
	list.Flags().StringVar(&toolboxURL, "toolbox-url", "", "toolbox server base URL")
	list.Flags().StringVar(&toolset, "toolset", "travel_genius_toolset", "toolset name")

	var rawArgs string
	invoke := &cobra.Command{
		Use:   "invoke <tool>",
		Short: "Invoke a tool by name with JSON arguments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := parseToolArgs(rawArgs)
			if err != nil {
				return err
			}
			return withTools(cmd, func(ctx context.Context, t *tools.Tools) (map[string]any, error) {
				return t.Invoke(ctx, args[0], toolArgs)
			})
		},
	}
	invoke.Flags().StringVar(&rawArgs, "args", "{}", "tool arguments as a JSON object")

	cmd.AddCommand(list, invoke)
	return cmd
}

func parseToolArgs(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("--args must be a JSON object: %w", err)
	}
	return args, nil
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "trip-weather-service",
		Short:         "Trip weather analysis service",
		Long:          "Serves cached trip weather analysis over HTTP and exposes the same tools from the command line.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newAnalyzeCmd(),
		newCurrentCmd(),
		newOptimizeCmd(),
		newExtractCmd(),
		newToolsCmd(),
	)
	return root
}

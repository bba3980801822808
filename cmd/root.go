// Package cmd defines the logsift command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/logsift/logsift/internal/app"
	"github.com/logsift/logsift/internal/config"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logsift",
		Short: "Access log analyzer with k-means clustering",
		Long: `logsift parses web access logs into a normalized record table, derives
numeric features, clusters them with k-means, and persists runs, summaries,
and artifacts for later inspection over HTTP.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (YAML)")
	cmd.AddCommand(newAnalyzeCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.Build(ctx, cfg)
}

// Execute runs the root command and exits nonzero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

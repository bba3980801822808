package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs over HTTP",
		Long: `serve starts the HTTP API for browsing persisted runs, records,
summaries, and timelines. It blocks until interrupted and shuts down
gracefully.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	// RunServe owns teardown, including Close.
	return a.RunServe(cmd.Context())
}

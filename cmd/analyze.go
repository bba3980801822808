package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/logsift/logsift/internal/analysis"
)

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <source>",
		Short: "Run one analysis over an access log",
		Long: `analyze reads the log at source (a plain file, a gzip-compressed file,
or - for stdin), runs the parse and clustering pipeline, and prints the
run outcome.`,
		Args: cobra.ExactArgs(1),
		RunE: runAnalyze,
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	run, summary, err := a.Analyze(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("analyze %s: %w", args[0], err)
	}
	printOutcome(cmd.OutOrStdout(), run, summary)
	return nil
}

func printOutcome(w io.Writer, run analysis.Run, summary analysis.Summary) {
	fmt.Fprintf(w, "run %s: %s\n", run.ID, run.Status)
	fmt.Fprintf(w, "  lines=%d records=%d failures=%d feature_rows=%d\n",
		run.Counters.Lines, run.Counters.Records, run.Counters.ParseFailures, run.Counters.FeatureRows)
	for _, c := range summary.Clusters {
		fmt.Fprintf(w, "  k=%d iterations=%d converged=%t inertia=%.4f sizes=%s\n",
			c.K, c.Iterations, c.Converged, c.Inertia, formatSizes(c.Sizes))
	}
}

func formatSizes(sizes map[int]int) string {
	clusters := make([]int, 0, len(sizes))
	for c := range sizes {
		clusters = append(clusters, c)
	}
	sort.Ints(clusters)

	out := "["
	for i, c := range clusters {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%d:%d", c, sizes[c])
	}
	return out + "]"
}

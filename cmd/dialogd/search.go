package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func newSearchCmd(cfgPath *string) *cobra.Command {
	var (
		limit      int
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed turns",
		Long: `Search the configured index backend for indexed turns.

Examples:
  # Top 10 matches
  dialogd search "weather in lisbon"

  # JSON output
  dialogd search --json --limit 3 "table for two"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, *cfgPath, strings.Join(args, " "), limit, outputJSON)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of results")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")
	return cmd
}

func runSearch(cmd *cobra.Command, cfgPath, query string, limit int, outputJSON bool) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := newRuntime(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	latency, err := rt.tel.Meter(meterName).Float64Histogram(
		"dialogd.search.duration",
		metric.WithDescription("Duration of index searches"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("creating search histogram: %w", err)
	}

	start := time.Now()
	hits, err := rt.index.Search(ctx, query, limit)
	latency.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("backend", rt.cfg.Index.Backend)))
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}

	out := cmd.OutOrStdout()
	if outputJSON {
		data, err := sonic.ConfigStd.MarshalIndent(hits, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding results: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(hits) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tSESSION\tTURN\tKIND\tCONTENT")
	for _, h := range hits {
		fmt.Fprintf(w, "%.3f\t%s\t%d\t%s\t%s\n",
			h.Score, h.Record.SessionID, h.Record.TurnIndex, h.Record.Kind, h.Record.Content)
	}
	return w.Flush()
}

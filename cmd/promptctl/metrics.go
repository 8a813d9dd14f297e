package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var overviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Summarise inference traffic over recent days",
	RunE:  runOverview,
}

var overviewDays int

func init() {
	overviewCmd.Flags().IntVar(&overviewDays, "days", 7, "Window in days (1-90)")
}

func runOverview(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	c := newClient()
	o, err := c.Overview(ctx, overviewDays)
	if err != nil {
		return err
	}
	stats, err := c.ByModel(ctx, overviewDays)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(map[string]any{"overview": o, "by_model": stats})
	}

	fmt.Printf("last %d days: %d requests, %.2f%% success\n", overviewDays, o.TotalRequests, o.SuccessRate)
	fmt.Printf("latency avg %.0fms  p95 %dms  p99 %dms\n", o.AvgLatencyMs, o.P95LatencyMs, o.P99LatencyMs)
	fmt.Printf("tokens %d  cost %.4f cents\n\n", o.TotalTokens, o.TotalCostCents)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tREQUESTS\tSUCCESS\tAVG LATENCY\tCOST (CENTS)")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%.1f%%\t%.0fms\t%.4f\n", s.Model, s.RequestCount, s.SuccessRate, s.AvgLatencyMs, s.TotalCostCents)
	}
	return tw.Flush()
}

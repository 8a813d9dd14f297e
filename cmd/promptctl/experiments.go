package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var experimentsCmd = &cobra.Command{
	Use:   "experiments",
	Short: "Run A/B experiments between prompt variants",
}

var experimentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List experiments, newest first",
	RunE:  runExperimentsList,
}

var experimentsResultsCmd = &cobra.Command{
	Use:   "results <experiment-id>",
	Short: "Show per-variant results",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentsResults,
}

var experimentsStartCmd = &cobra.Command{
	Use:   "start <experiment-id>",
	Short: "Start or resume an experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  transition("start"),
}

var experimentsStopCmd = &cobra.Command{
	Use:   "stop <experiment-id>",
	Short: "Pause a running experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  transition("stop"),
}

var experimentsCompleteCmd = &cobra.Command{
	Use:   "complete <experiment-id>",
	Short: "Complete an experiment, optionally naming the winner",
	Args:  cobra.ExactArgs(1),
	RunE:  transition("complete"),
}

var (
	experimentPrompt string
	winner           string
)

func init() {
	experimentsListCmd.Flags().StringVar(&experimentPrompt, "prompt", "", "Only experiments on this prompt id")
	experimentsCompleteCmd.Flags().StringVar(&winner, "winner", "", "Winning variant id")

	experimentsCmd.AddCommand(experimentsListCmd)
	experimentsCmd.AddCommand(experimentsResultsCmd)
	experimentsCmd.AddCommand(experimentsStartCmd)
	experimentsCmd.AddCommand(experimentsStopCmd)
	experimentsCmd.AddCommand(experimentsCompleteCmd)
}

func runExperimentsList(cmd *cobra.Command, args []string) error {
	var promptID *uuid.UUID
	if experimentPrompt != "" {
		id, err := uuid.Parse(experimentPrompt)
		if err != nil {
			return fmt.Errorf("invalid prompt id: %w", err)
		}
		promptID = &id
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	es, err := newClient().ListExperiments(ctx, promptID)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(es)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tVARIANTS")
	for _, e := range es {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", e.ID, e.Name, e.Status, len(e.Variants))
	}
	return tw.Flush()
}

func runExperimentsResults(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid experiment id: %w", err)
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	results, err := newClient().ExperimentResults(ctx, id)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(results)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIANT\tREQUESTS\tSUCCESS\tAVG LATENCY\tAVG TOKENS\t")
	for _, r := range results {
		name := r.Name
		if r.IsWinner {
			name += " *"
		}
		fmt.Fprintf(tw, "%s\t%d\t%.1f%%\t%.0fms\t%.0f\t\n", name, r.RequestCount, r.SuccessRate, r.AvgLatencyMs, r.AvgTokens)
	}
	return tw.Flush()
}

func transition(action string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid experiment id: %w", err)
		}
		var winnerID *uuid.UUID
		if action == "complete" && winner != "" {
			w, err := uuid.Parse(winner)
			if err != nil {
				return fmt.Errorf("invalid winner id: %w", err)
			}
			winnerID = &w
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()

		e, err := newClient().TransitionExperiment(ctx, id, action, winnerID)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(e)
		}
		fmt.Printf("experiment %s is %s\n", e.ID, e.Status)
		return nil
	}
}

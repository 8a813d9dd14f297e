package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/promptops/internal/inference"
)

var runCmd = &cobra.Command{
	Use:   "run [user-prompt]",
	Short: "Run a prompt and stream the reply",
	Long: `Run a prompt and stream the reply to stdout.

The prompt is taken from, in order: --experiment, --version,
--prompt with --env, or the raw text argument. Variables are passed
as repeated --var name=value flags.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var runFlags struct {
	experiment string
	version    string
	prompt     string
	env        string
	system     string
	model      string
	vars       []string
	noStream   bool
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.experiment, "experiment", "", "Experiment id; a variant is selected by weight")
	f.StringVar(&runFlags.version, "version", "", "Prompt version id")
	f.StringVar(&runFlags.prompt, "prompt", "", "Prompt id, resolved through the active deployment of --env")
	f.StringVar(&runFlags.env, "env", "", "Environment name used with --prompt")
	f.StringVar(&runFlags.system, "system", "", "System prompt for raw text runs")
	f.StringVar(&runFlags.model, "model", "", "Model for raw text runs")
	f.StringArrayVar(&runFlags.vars, "var", nil, "Template variable as name=value")
	f.BoolVar(&runFlags.noStream, "no-stream", false, "Wait for the full reply")
}

func parseVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q, want name=value", p)
		}
		vars[name] = value
	}
	return vars, nil
}

func parseOptionalID(raw, what string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s id: %w", what, err)
	}
	return &id, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	vars, err := parseVars(runFlags.vars)
	if err != nil {
		return err
	}
	req := inference.RunRequest{SystemPrompt: runFlags.system, Model: runFlags.model, Variables: vars}
	if len(args) == 1 {
		req.UserPrompt = args[0]
	}
	if req.ExperimentID, err = parseOptionalID(runFlags.experiment, "experiment"); err != nil {
		return err
	}
	if req.VersionID, err = parseOptionalID(runFlags.version, "version"); err != nil {
		return err
	}
	if req.PromptID, err = parseOptionalID(runFlags.prompt, "prompt"); err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	c := newClient()
	if req.PromptID != nil {
		if runFlags.env == "" {
			return errors.New("--env is required with --prompt")
		}
		env, err := c.EnvironmentByName(ctx, runFlags.env)
		if err != nil {
			return err
		}
		req.EnvironmentID = &env.ID
	}

	if runFlags.noStream || asJSON {
		res, err := c.Run(ctx, req)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(res)
		}
		fmt.Println(res.Text)
		printRunSummary(res)
		return nil
	}

	res, err := c.RunStream(ctx, req, func(text string) {
		fmt.Print(text)
	})
	fmt.Println()
	if err != nil {
		return err
	}
	printRunSummary(res)
	return nil
}

func printRunSummary(res *inference.Result) {
	fmt.Fprintf(os.Stderr, "%s  %dms  %d tokens  %.4f cents\n", res.Model, res.LatencyMs, res.TotalTokens, res.EstimatedCostCents)
}

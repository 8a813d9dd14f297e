package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/promptops/internal/prompt"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "List, inspect and version prompts",
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompts, most recently updated first",
	RunE:  runPromptsList,
}

var promptsGetCmd = &cobra.Command{
	Use:   "get <prompt-id>",
	Short: "Show a prompt and its version history",
	Args:  cobra.ExactArgs(1),
	RunE:  runPromptsGet,
}

var promptsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a prompt, optionally with a first version",
	Args:  cobra.ExactArgs(1),
	RunE:  runPromptsCreate,
}

var promptsVersionCmd = &cobra.Command{
	Use:   "version <prompt-id>",
	Short: "Append a new version to a prompt",
	Args:  cobra.ExactArgs(1),
	RunE:  runPromptsVersion,
}

var (
	listLimit   int
	description string
	version     versionFlags
)

type versionFlags struct {
	tag         string
	system      string
	user        string
	model       string
	temperature float64
	maxTokens   int
	message     string
}

func (f *versionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.tag, "tag", "", "Version tag, e.g. v2")
	cmd.Flags().StringVar(&f.system, "system", "", "System prompt")
	cmd.Flags().StringVar(&f.user, "user", "", "User prompt template")
	cmd.Flags().StringVar(&f.model, "model", "", "Model (default "+prompt.DefaultModel+")")
	cmd.Flags().Float64Var(&f.temperature, "temperature", prompt.DefaultTemperature, "Sampling temperature")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", prompt.DefaultMaxTokens, "Maximum output tokens")
	cmd.Flags().StringVarP(&f.message, "message", "m", "", "Commit message")
}

func (f *versionFlags) spec() prompt.VersionSpec {
	temp := f.temperature
	return prompt.VersionSpec{
		VersionTag:    f.tag,
		SystemPrompt:  f.system,
		UserPrompt:    f.user,
		Model:         f.model,
		Temperature:   &temp,
		MaxTokens:     f.maxTokens,
		CommitMessage: f.message,
	}
}

func init() {
	promptsListCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum prompts to list")
	promptsCreateCmd.Flags().StringVar(&description, "description", "", "Prompt description")
	version.register(promptsCreateCmd)
	version.register(promptsVersionCmd)

	promptsCmd.AddCommand(promptsListCmd)
	promptsCmd.AddCommand(promptsGetCmd)
	promptsCmd.AddCommand(promptsCreateCmd)
	promptsCmd.AddCommand(promptsVersionCmd)
}

func runPromptsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	prompts, err := newClient().ListPrompts(ctx, listLimit, 0)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(prompts)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLATEST\tVERSIONS\tUPDATED")
	for _, p := range prompts {
		latest := p.LatestVersion
		if latest == "" {
			latest = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", p.ID, p.Name, latest, p.VersionCount, p.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func runPromptsGet(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid prompt id: %w", err)
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	p, err := newClient().GetPrompt(ctx, id)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(p)
	}

	fmt.Printf("%s  %s\n", p.ID, p.Name)
	if p.Description != "" {
		fmt.Println(p.Description)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nVERSION\tID\tMODEL\tCREATED\tMESSAGE")
	for _, v := range p.VersionsNewestFirst() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.VersionTag, v.ID, v.Model, v.CreatedAt.Format("2006-01-02 15:04"), v.CommitMessage)
	}
	return tw.Flush()
}

func runPromptsCreate(cmd *cobra.Command, args []string) error {
	req := prompt.CreateRequest{Name: args[0], Description: description}
	if version.user != "" {
		if version.tag == "" {
			version.tag = "v1"
		}
		spec := version.spec()
		req.InitialVersion = &spec
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	p, err := newClient().CreatePrompt(ctx, req)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(p)
	}
	fmt.Printf("created prompt %s (%s)\n", p.Name, p.ID)
	return nil
}

func runPromptsVersion(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid prompt id: %w", err)
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	v, err := newClient().CreateVersion(ctx, id, version.spec())
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(v)
	}
	fmt.Printf("created version %s (%s)\n", v.VersionTag, v.ID)
	return nil
}

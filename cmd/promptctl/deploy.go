package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/promptops/internal/deployment"
	"github.com/nikhilbhutani/promptops/internal/models"
)

var deployCmd = &cobra.Command{
	Use:   "deploy <version-id> <environment>",
	Short: "Activate a prompt version in an environment",
	Long: `Activate a prompt version in an environment, superseding whatever
version was live there. The environment is given by name, e.g. production.`,
	Args: cobra.ExactArgs(2),
	RunE: runDeploy,
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <deployment-id>",
	Short: "Restore the version that was live before an active deployment",
	Args:  cobra.ExactArgs(1),
	RunE:  runRollback,
}

var (
	deployNotes    string
	rollbackReason string
)

func init() {
	deployCmd.Flags().StringVar(&deployNotes, "notes", "", "Deployment notes")
	rollbackCmd.Flags().StringVar(&rollbackReason, "reason", "", "Reason recorded on the rollback")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	versionID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid version id: %w", err)
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	c := newClient()
	env, err := c.EnvironmentByName(ctx, args[1])
	if err != nil {
		return err
	}
	d, err := c.Deploy(ctx, deployment.DeployRequest{VersionID: versionID, EnvironmentID: env.ID, Notes: deployNotes})
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(d)
	}
	fmt.Printf("deployment %s is %s in %s\n", d.ID, d.Status, env.DisplayName)
	return nil
}

func runRollback(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid deployment id: %w", err)
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	d, err := newClient().Rollback(ctx, id, rollbackReason)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(d)
	}
	printDeployment(d)
	return nil
}

func printDeployment(d *models.Deployment) {
	fmt.Printf("deployment %s is %s, serving version %s\n", d.ID, d.Status, d.VersionID)
	if d.RolledBackFromID != nil {
		fmt.Printf("rolled back from %s\n", d.RolledBackFromID)
	}
}

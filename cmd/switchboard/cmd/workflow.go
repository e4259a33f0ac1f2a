package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/switchboard/internal/api"
	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/tui"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Inspect or steer the workflow running on a server",
	Long: `A server runs one workflow at a time. These commands show its progress and
pause, resume or cancel it between phases. They require --server.`,
}

var workflowStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running or last workflow",
	Args:  cobra.NoArgs,
	RunE:  runWorkflowStatus,
}

func init() {
	rootCmd.AddCommand(workflowCmd)
	workflowCmd.AddCommand(workflowStatusCmd)
	for _, action := range []struct{ name, short string }{
		{"pause", "Hold the workflow before its next phase"},
		{"resume", "Release a paused workflow"},
		{"cancel", "Stop the workflow before its next phase"},
	} {
		workflowCmd.AddCommand(&cobra.Command{
			Use:   action.name,
			Short: action.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runWorkflowControl(cmd, action.name)
			},
		})
	}
}

func workflowClient(what string) (*api.Client, error) {
	if serverURL == "" {
		return nil, core.ErrValidation(core.CodeInvalidInput, "workflow "+what+" needs --server")
	}
	return api.NewClient(serverURL), nil
}

func runWorkflowStatus(cmd *cobra.Command, _ []string) error {
	c, err := workflowClient("status")
	if err != nil {
		return err
	}
	wc, err := c.CurrentWorkflow(cmd.Context())
	if err != nil {
		return err
	}
	return newPrinter(cmd).WorkflowContext(wc)
}

func runWorkflowControl(cmd *cobra.Command, action string) error {
	c, err := workflowClient(action)
	if err != nil {
		return err
	}
	status, err := c.ControlWorkflow(cmd.Context(), action)
	if err != nil {
		return err
	}
	p := newPrinter(cmd)
	if p.Mode() == tui.ModeJSON {
		return p.JSON(map[string]string{"status": status})
	}
	p.Message("Workflow %s.", status)
	return nil
}

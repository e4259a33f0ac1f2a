package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/switchboard/internal/api"
	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run <request>",
	Short: "Run a request through the phased workflow",
	Long: `Run classifies the request, explores the codebase context, implements a
solution, verifies it with a review expert and recovers from failures until
verification passes or attempts run out.

Examples:
  switchboard run "add a --verbose flag to the export command"
  switchboard run --max-attempts 5 --timeout 20m "fix the flaky retry test"
  switchboard run --server 127.0.0.1:8420 "summarize the open TODOs"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWorkflow,
}

var (
	runMaxAttempts  int
	runTimeout      time.Duration
	runPhaseTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntVar(&runMaxAttempts, "max-attempts", 0,
		"maximum implementation attempts (default from config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0,
		"overall workflow timeout (default from config)")
	runCmd.Flags().DurationVar(&runPhaseTimeout, "phase-timeout", 0,
		"timeout of a single phase (default from config)")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	request := strings.TrimSpace(strings.Join(args, " "))
	if request == "" {
		return core.ErrValidation(core.CodeEmptyPrompt, "request cannot be empty")
	}
	overrides := workflow.Overrides{
		MaxAttempts:     runMaxAttempts,
		WorkflowTimeout: runTimeout,
		PhaseTimeout:    runPhaseTimeout,
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	var result *core.WorkflowResult
	if serverURL != "" {
		var err error
		result, err = api.NewClient(serverURL).RunWorkflow(ctx, request, overrides)
		if err != nil {
			return err
		}
	} else {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer closeApp(a)
		result = a.workflow.Execute(ctx, request, overrides)
	}

	if err := newPrinter(cmd).WorkflowResult(result); err != nil {
		return err
	}
	if !result.Success {
		return errWorkflowFailed
	}
	return nil
}

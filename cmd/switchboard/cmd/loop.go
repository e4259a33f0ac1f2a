package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/loop"
)

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Repeat a prompt until the expert reports completion",
	Long: `A loop sends the same prompt to one expert until the response contains the
completion promise or the iteration limit is reached. State is saved after
every iteration, so an interrupted loop can be resumed.`,
}

var loopStartCmd = &cobra.Command{
	Use:   "start <prompt>",
	Short: "Start a new loop, replacing any saved one",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLoopStart,
}

var loopResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the saved loop",
	Args:  cobra.NoArgs,
	RunE:  runLoopResume,
}

var loopStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved loop state",
	Args:  cobra.NoArgs,
	RunE:  runLoopStatus,
}

var loopClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the saved loop state",
	Args:  cobra.NoArgs,
	RunE:  runLoopClear,
}

var (
	loopExpert        string
	loopMaxIterations int
	loopPromise       string
)

func init() {
	rootCmd.AddCommand(loopCmd)
	loopCmd.AddCommand(loopStartCmd, loopResumeCmd, loopStatusCmd, loopClearCmd)

	loopStartCmd.Flags().StringVarP(&loopExpert, "expert", "e", "engineer", "expert that runs every iteration")
	loopStartCmd.Flags().IntVarP(&loopMaxIterations, "max-iterations", "n", 0, "iteration limit (default from config)")
	loopStartCmd.Flags().StringVar(&loopPromise, "promise", "", "completion promise the response must contain (default from config)")
}

func runLoopStart(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	if _, ok := a.experts.Get(loopExpert); !ok {
		return core.ErrValidation(core.CodeUnknownExpert, "unknown expert: "+loopExpert)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	outcome, err := a.loop.Run(ctx, loop.Request{
		ExpertID:          loopExpert,
		Prompt:            strings.Join(args, " "),
		MaxIterations:     loopMaxIterations,
		CompletionPromise: loopPromise,
	})
	if err != nil {
		return err
	}
	return printOutcome(cmd, outcome)
}

func runLoopResume(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	outcome, err := a.loop.Resume(ctx)
	if err != nil {
		if core.IsCategory(err, core.ErrCatNotFound) {
			return fmt.Errorf("no active loop to resume: %w", err)
		}
		return err
	}
	return printOutcome(cmd, outcome)
}

func printOutcome(cmd *cobra.Command, outcome *loop.Outcome) error {
	p := newPrinter(cmd)
	if err := p.LoopOutcome(outcome); err != nil {
		return err
	}
	if outcome.Kind == loop.OutcomeCancelled {
		p.Message("Loop interrupted at iteration %d; run 'switchboard loop resume' to continue.", outcome.Iterations)
	}
	return nil
}

func runLoopStatus(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	st, err := a.loop.Status(cmd.Context())
	if err != nil {
		return err
	}
	return newPrinter(cmd).LoopState(st)
}

func runLoopClear(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	if err := a.loop.Clear(cmd.Context()); err != nil {
		return err
	}
	newPrinter(cmd).Message("Loop state cleared.")
	return nil
}

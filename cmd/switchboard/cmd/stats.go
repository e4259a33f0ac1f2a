package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/switchboard/internal/api"
	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/tui"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show router and task counters of a running server",
	Long: `Stats reports calls, cache hits, fallbacks, rate limits and per-expert
failures of the router, plus task counts by status. Counters live in the
server process, so --server is required.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	if serverURL == "" {
		return core.ErrValidation(core.CodeInvalidInput, "stats needs --server: counters only live inside a running server")
	}
	resp, err := api.NewClient(serverURL).Stats(cmd.Context())
	if err != nil {
		return err
	}
	p := newPrinter(cmd)
	if p.Mode() == tui.ModeJSON {
		return p.JSON(resp)
	}
	var view tui.StatsView
	if resp.Router != nil {
		view.Router = *resp.Router
	}
	if resp.Tasks != nil {
		view.Tasks = *resp.Tasks
	}
	if err := p.Stats(view); err != nil {
		return err
	}
	if resp.Events != nil {
		p.Message("\nEvents: %d subscriber(s), %d dropped", resp.Events.Subscribers, resp.Events.Dropped)
	}
	return nil
}

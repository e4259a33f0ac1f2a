package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/switchboard/internal/tui"
)

// newPrinter picks the output mode from --json, SWITCHBOARD_OUTPUT and
// whether the command's output is a terminal.
func newPrinter(cmd *cobra.Command) *tui.Printer {
	out := cmd.OutOrStdout()
	d := tui.NewDetector(out).NoColor(noColor)
	if jsonOut {
		d.ForceMode(tui.ModeJSON)
	}
	return tui.NewPrinter(out, d.Detect(), d.ShouldUseColor()).
		WithWidth(tui.TerminalWidth(out))
}

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/switchboard/internal/tui"
)

var expertsCmd = &cobra.Command{
	Use:   "experts",
	Short: "List configured experts and their fallback chains",
	Args:  cobra.NoArgs,
	RunE:  runExperts,
}

func init() {
	rootCmd.AddCommand(expertsCmd)
}

type expertView struct {
	ID        string   `json:"id"`
	Provider  string   `json:"provider"`
	Model     string   `json:"model"`
	Fallbacks []string `json:"fallbacks"`
}

func runExperts(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	chains := cfg.Chains()
	views := make([]expertView, 0)
	for _, e := range cfg.ExpertList() {
		fb := chains[e.ID]
		if fb == nil {
			fb = []string{}
		}
		views = append(views, expertView{ID: e.ID, Provider: e.Provider, Model: e.Model, Fallbacks: fb})
	}

	p := newPrinter(cmd)
	if p.Mode() == tui.ModeJSON {
		return p.JSON(views)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-14s  %-10s  %-32s  %s\n", "EXPERT", "PROVIDER", "MODEL", "FALLBACKS")
	for _, v := range views {
		fb := "-"
		if len(v.Fallbacks) > 0 {
			fb = strings.Join(v.Fallbacks, " -> ")
		}
		fmt.Fprintf(out, "%-14s  %-10s  %-32s  %s\n", v.ID, v.Provider, v.Model, fb)
	}
	return nil
}

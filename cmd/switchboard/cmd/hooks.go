package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/switchboard/internal/api"
	"github.com/hugo-lorenzo-mato/switchboard/internal/config"
	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/events"
)

var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "List and toggle lifecycle hooks",
	Long: `Hooks observe engine events (workflow phases, expert calls, fallbacks, task
state changes) and may block tool use. Toggling a hook locally updates the
hooks.disabled list of the config file in use; with --server the running
server is changed and persists the list itself.`,
}

var hooksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hooks in dispatch order",
	Args:  cobra.NoArgs,
	RunE:  runHooksList,
}

var hooksEnableCmd = &cobra.Command{
	Use:               "enable <name>",
	Short:             "Enable a hook",
	Args:              cobra.ExactArgs(1),
	RunE:              runHooksToggle(true),
	ValidArgsFunction: completeHookNames,
}

var hooksDisableCmd = &cobra.Command{
	Use:               "disable <name>",
	Short:             "Disable a hook",
	Args:              cobra.ExactArgs(1),
	RunE:              runHooksToggle(false),
	ValidArgsFunction: completeHookNames,
}

func init() {
	rootCmd.AddCommand(hooksCmd)
	hooksCmd.AddCommand(hooksListCmd, hooksEnableCmd, hooksDisableCmd)
}

func runHooksList(cmd *cobra.Command, _ []string) error {
	var hooks []events.HookInfo
	if serverURL != "" {
		var err error
		hooks, err = api.NewClient(serverURL).Hooks(cmd.Context())
		if err != nil {
			return err
		}
	} else {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer closeApp(a)
		hooks = a.hooks.List()
	}
	return newPrinter(cmd).Hooks(hooks)
}

func runHooksToggle(enable bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		name := args[0]
		p := newPrinter(cmd)

		if serverURL != "" {
			info, err := api.NewClient(serverURL).SetHookEnabled(cmd.Context(), name, enable)
			if err != nil {
				return err
			}
			return p.Hooks([]events.HookInfo{*info})
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer closeApp(a)

		toggle := a.hooks.Disable
		if enable {
			toggle = a.hooks.Enable
		}
		if err := toggle(name); err != nil {
			if core.IsCategory(err, core.ErrCatNotFound) {
				return unknownHookError(name, a.hooks.Names())
			}
			return err
		}

		path, err := a.hookConfigPath()
		if err != nil {
			return err
		}
		disabled := disabledHookNames(a.hooks.List())
		if err := config.SaveDisabledHooks(path, disabled); err != nil {
			return fmt.Errorf("saving hook state: %w", err)
		}

		for _, h := range a.hooks.List() {
			if h.Name == name {
				if err := p.Hooks([]events.HookInfo{h}); err != nil {
					return err
				}
			}
		}
		p.Message("Saved to %s", path)
		return nil
	}
}

func disabledHookNames(hooks []events.HookInfo) []string {
	disabled := []string{}
	for _, h := range hooks {
		if !h.Enabled {
			disabled = append(disabled, h.Name)
		}
	}
	sort.Strings(disabled)
	return disabled
}

// unknownHookError names the closest registered hooks.
func unknownHookError(name string, names []string) error {
	msg := "unknown hook: " + name
	if suggestions := suggestHooks(name, names); len(suggestions) > 0 {
		msg += " (did you mean " + strings.Join(suggestions, ", ") + "?)"
	}
	return &core.DomainError{Category: core.ErrCatNotFound, Code: "NOT_FOUND", Message: msg}
}

// suggestHooks returns up to three fuzzy matches for name.
func suggestHooks(name string, names []string) []string {
	matches := fuzzy.Find(name, names)
	out := make([]string, 0, 3)
	for _, m := range matches {
		if len(out) == 3 {
			break
		}
		out = append(out, m.Str)
	}
	return out
}

func completeHookNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	a, err := newApp()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	defer closeApp(a)
	if toComplete == "" {
		return a.hooks.Names(), cobra.ShellCompDirectiveNoFileComp
	}
	return suggestHooks(toComplete, a.hooks.Names()), cobra.ShellCompDirectiveNoFileComp
}

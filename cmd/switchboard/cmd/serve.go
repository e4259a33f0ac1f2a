package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/switchboard/internal/api"
	"github.com/hugo-lorenzo-mato/switchboard/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin API server",
	Long: `Serve runs the engine as a long-lived process and exposes it over HTTP:
background tasks, workflow runs, hooks, router statistics, Prometheus
metrics on /metrics and a Server-Sent Events stream of engine events on
/api/v1/events.

Examples:
  # Start with defaults (127.0.0.1:8420)
  switchboard serve

  # Listen on all interfaces
  switchboard serve --addr 0.0.0.0:8420`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "address to listen on (default from server.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			return fmt.Errorf("watching hooks file: %w", err)
		}
		defer func() {
			stop()
			a.watcher.Wait()
		}()
		a.logger.Info("watching hooks file", "path", a.cfg.Hooks.File)
	}

	persistPath, err := a.hookConfigPath()
	if err != nil {
		return err
	}

	deps := api.Deps{
		Tasks:     a.tasks,
		Workflows: a.workflow,
		Hooks:     a.hooks,
		Router:    a.router,
		Bus:       a.bus,
		Gatherer:  a.metrics,
	}
	if a.stores.History != nil {
		deps.History = a.stores.History
	}

	server := api.NewServer(deps,
		api.WithLogger(a.logger),
		api.WithCORSOrigins(a.cfg.Server.CORSOrigins),
		api.WithHookPersistence(func(disabled []string) error {
			return config.SaveDisabledHooks(persistPath, disabled)
		}),
	)

	fmt.Fprintf(cmd.OutOrStdout(), "switchboard listening on http://%s\n", a.cfg.Server.Addr)
	return server.ListenAndServe(ctx, a.cfg.Server.Addr)
}

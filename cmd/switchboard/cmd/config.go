package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/switchboard/internal/config"
	"github.com/hugo-lorenzo-mato/switchboard/internal/tui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets redacted",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var (
	configInitForce bool
	configInitPath  string
	configInitUser  bool
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configValidateCmd, configInitCmd)

	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configInitCmd.Flags().StringVar(&configInitPath, "path", ".switchboard.yaml", "file to write")
	configInitCmd.Flags().BoolVar(&configInitUser, "user", false, "write the user config file instead of --path")
}

const redacted = "********"

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	for name, pc := range cfg.Providers {
		if pc.APIKey != "" {
			pc.APIKey = redacted
			cfg.Providers[name] = pc
		}
	}

	p := newPrinter(cmd)
	if p.Mode() == tui.ModeJSON {
		return p.JSON(cfg)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	out := cmd.OutOrStdout()
	if path != "" {
		fmt.Fprintf(out, "# source: %s\n", path)
	} else {
		fmt.Fprintln(out, "# source: built-in defaults")
	}
	_, err = out.Write(data)
	return err
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	_, path, err := loadConfig()
	if err != nil {
		return err
	}
	if path == "" {
		path = "built-in defaults"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK (%s)\n", path)
	return nil
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path := configInitPath
	if configInitUser {
		userPath, err := config.UserConfigPath()
		if err != nil {
			return err
		}
		path = userPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	written, err := config.WriteDefaultConfig(abs, configInitForce)
	if err != nil {
		return err
	}
	if !written {
		return fmt.Errorf("%s already exists (use --force to overwrite)", abs)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", abs)
	return nil
}

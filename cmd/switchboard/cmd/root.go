package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	noColor   bool
	jsonOut   bool
	serverURL string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Route tasks to LLM experts with fallback and verification",
	Long: `switchboard delegates tasks to a set of LLM-backed experts. It routes
around rate limits with fallback chains, retries transient failures, runs
background tasks under per-model concurrency limits and drives a phase-based
workflow that verifies every implementation before reporting success.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: bindViperFlags,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion injects build information.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// GetVersion returns the application version string.
func GetVersion() string {
	return appVersion
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .switchboard.yaml, then ~/.config/switchboard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"disable colored and markdown-rendered output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false,
		"print results as JSON")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"address of a running 'switchboard serve' to send commands to")
}

// viperFlags maps flags to the config keys they override.
var viperFlags = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"addr":       "server.addr",
}

// bindViperFlags binds the flags of the executing command to viper, so a
// set flag wins over config files and the environment.
func bindViperFlags(cmd *cobra.Command, _ []string) error {
	for flag, key := range viperFlags {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding --%s: %w", flag, err)
		}
	}
	return nil
}

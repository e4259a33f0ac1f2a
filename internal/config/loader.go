package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/switchboard/internal/service/loop"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/workflow"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SWITCHBOARD"

// providerKeyEnv lists the conventional API key variables honoured after
// the prefixed ones.
var providerKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader using an existing viper instance so
// CLI flags bound to it take precedence.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: EnvPrefix,
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (SWITCHBOARD_*, then provider key variables)
// 3. Project config (.switchboard.yaml in current directory)
// 4. User config (~/.config/switchboard/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
	for provider, env := range providerKeyEnv {
		key := "providers." + provider + ".api_key"
		prefixed := l.envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := l.v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".switchboard")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if l.configFile == "" {
			if err := l.readUserConfig(); err != nil {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// readUserConfig falls back to the user config file, which is named
// config.yaml rather than .switchboard.yaml.
func (l *Loader) readUserConfig() error {
	path, err := UserConfigPath()
	if err != nil {
		return nil //nolint:nilerr // no home directory means no user config
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return nil //nolint:nilerr // optional file
	}
	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// setDefaults configures default values. Map-valued sections need every
// leaf key registered so environment overrides are seen by Unmarshal.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("router.cache_size", 256)
	l.v.SetDefault("router.cache_ttl", "10m")
	l.v.SetDefault("router.default_retry_after", "60s")
	l.v.SetDefault("router.retry.max_retries", 3)
	l.v.SetDefault("router.retry.base_delay", "1s")
	l.v.SetDefault("router.retry.max_delay", "30s")
	l.v.SetDefault("router.retry.jitter", 0.2)

	l.v.SetDefault("background.default_limit", 3)
	l.v.SetDefault("background.model_limits", map[string]int{})
	l.v.SetDefault("background.provider_limits", map[string]int{"ollama": 1})

	wf := workflow.DefaultConfig()
	l.v.SetDefault("workflow.max_attempts", wf.MaxAttempts)
	l.v.SetDefault("workflow.workflow_timeout", wf.WorkflowTimeout)
	l.v.SetDefault("workflow.phase_timeout", wf.PhaseTimeout)
	l.v.SetDefault("workflow.quick_phase_timeout", wf.QuickPhaseTimeout)
	l.v.SetDefault("workflow.poll_interval", wf.PollInterval)
	l.v.SetDefault("workflow.min_stability_time", wf.MinStabilityTime)
	l.v.SetDefault("workflow.stability_polls_required", wf.StabilityPollsRequired)
	l.v.SetDefault("workflow.final_wait", wf.FinalWait)
	l.v.SetDefault("workflow.retrieval_expert", wf.RetrievalExpert)
	l.v.SetDefault("workflow.review_expert", wf.ReviewExpert)

	lc := loop.DefaultConfig()
	l.v.SetDefault("loop.max_iterations", lc.MaxIterations)
	l.v.SetDefault("loop.delay", lc.Delay)
	l.v.SetDefault("loop.completion_promise", lc.CompletionPromise)

	for _, p := range KnownProviders {
		l.v.SetDefault("providers."+p+".api_key", "")
		l.v.SetDefault("providers."+p+".base_url", "")
		l.v.SetDefault("providers."+p+".timeout", "5m")
	}

	l.v.SetDefault("state.loop_path", ".switchboard/loop.json")
	l.v.SetDefault("state.history_db", ".switchboard/history.db")

	l.v.SetDefault("hooks.disabled", []string{})
	l.v.SetDefault("hooks.file", "")

	l.v.SetDefault("server.addr", "127.0.0.1:8420")
	l.v.SetDefault("server.cors_origins", []string{})
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// IsSet checks if a key has been set.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

// AllSettings returns all settings as a map.
func (l *Loader) AllSettings() map[string]interface{} {
	return l.v.AllSettings()
}

package config

import (
	"sort"
	"time"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/events"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/background"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/loop"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/workflow"
)

// Config holds all application configuration.
type Config struct {
	Log            LogConfig                 `mapstructure:"log" yaml:"log"`
	Experts        map[string]ExpertConfig   `mapstructure:"experts" yaml:"experts,omitempty"`
	FallbackChains map[string][]string       `mapstructure:"fallback_chains" yaml:"fallback_chains,omitempty"`
	Router         RouterConfig              `mapstructure:"router" yaml:"router"`
	Background     background.Limits         `mapstructure:"background" yaml:"background"`
	Workflow       workflow.Config           `mapstructure:"workflow" yaml:"workflow"`
	Loop           loop.Config               `mapstructure:"loop" yaml:"loop"`
	Providers      map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	State          StateConfig               `mapstructure:"state" yaml:"state"`
	Hooks          HooksConfig               `mapstructure:"hooks" yaml:"hooks"`
	Server         ServerConfig              `mapstructure:"server" yaml:"server"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ExpertConfig adds an expert or overrides fields of a built-in one. Zero
// fields keep the built-in value.
type ExpertConfig struct {
	Provider     string   `mapstructure:"provider" yaml:"provider,omitempty"`
	Model        string   `mapstructure:"model" yaml:"model,omitempty"`
	SystemPrompt string   `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
	Temperature  *float64 `mapstructure:"temperature" yaml:"temperature,omitempty"`
	MaxTokens    int      `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	ToolChoice   string   `mapstructure:"tool_choice" yaml:"tool_choice,omitempty"`
}

// RouterConfig configures the expert router.
type RouterConfig struct {
	CacheSize         int           `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	DefaultRetryAfter time.Duration `mapstructure:"default_retry_after" yaml:"default_retry_after"`
	Retry             RetryConfig   `mapstructure:"retry" yaml:"retry"`
}

// RetryConfig configures the transient-error retry policy.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Jitter     float64       `mapstructure:"jitter" yaml:"jitter"`
}

// ProviderConfig configures access to one provider.
type ProviderConfig struct {
	APIKey  string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// StateConfig configures persistence.
type StateConfig struct {
	LoopPath  string `mapstructure:"loop_path" yaml:"loop_path"`
	HistoryDB string `mapstructure:"history_db" yaml:"history_db"`
}

// HooksConfig configures hook registration.
type HooksConfig struct {
	Disabled []string             `mapstructure:"disabled" yaml:"disabled"`
	Commands []events.CommandSpec `mapstructure:"commands" yaml:"commands,omitempty"`
	// File is watched and reloaded while the server runs.
	File string `mapstructure:"file" yaml:"file,omitempty"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Addr        string   `mapstructure:"addr" yaml:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// KnownProviders lists the provider names backends exist for.
var KnownProviders = []string{"anthropic", "gemini", "ollama", "openai"}

// ExpertList merges the configured experts over the built-in set, sorted by id.
func (c *Config) ExpertList() []core.Expert {
	byID := make(map[string]core.Expert)
	for _, e := range core.DefaultExperts() {
		byID[e.ID] = e
	}
	for id, ec := range c.Experts {
		e := byID[id]
		e.ID = id
		if ec.Provider != "" {
			e.Provider = ec.Provider
		}
		if ec.Model != "" {
			e.Model = ec.Model
		}
		if ec.SystemPrompt != "" {
			e.SystemPrompt = ec.SystemPrompt
		}
		if ec.Temperature != nil {
			e.Temperature = *ec.Temperature
		}
		if ec.MaxTokens > 0 {
			e.MaxTokens = ec.MaxTokens
		}
		if ec.ToolChoice != "" {
			e.ToolChoice = core.ToolChoice(ec.ToolChoice)
		}
		byID[id] = e
	}

	out := make([]core.Expert, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Chains returns the built-in fallback chains with configured chains
// replacing those of the same expert.
func (c *Config) Chains() core.FallbackChains {
	chains := core.DefaultFallbackChains()
	for id, chain := range c.FallbackChains {
		chains[id] = append([]string(nil), chain...)
	}
	return chains
}

// ExpertRegistry builds the expert registry.
func (c *Config) ExpertRegistry() (*core.ExpertRegistry, error) {
	return core.NewExpertRegistry(c.ExpertList(), c.Chains())
}

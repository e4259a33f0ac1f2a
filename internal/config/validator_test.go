package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/switchboard/internal/events"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/background"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/loop"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/workflow"
)

func validConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "auto"},
		Router: RouterConfig{
			CacheSize:         256,
			CacheTTL:          10 * time.Minute,
			DefaultRetryAfter: time.Minute,
			Retry:             RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Jitter: 0.2},
		},
		Background: background.Limits{DefaultLimit: 3},
		Workflow:   workflow.DefaultConfig(),
		Loop:       loop.DefaultConfig(),
		Providers:  map[string]ProviderConfig{"ollama": {BaseURL: "http://localhost:11434"}},
		State:      StateConfig{LoopPath: "loop.json", HistoryDB: "history.db"},
		Server:     ServerConfig{Addr: "127.0.0.1:8420"},
	}
}

func fields(err error) []string {
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]string, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, e.Field)
	}
	return out
}

func TestValidator_ValidConfig(t *testing.T) {
	require.NoError(t, ValidateConfig(validConfig()))
}

func TestValidator_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"invalid level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"invalid format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"unknown provider", func(c *Config) {
			c.Experts = map[string]ExpertConfig{"odd": {Provider: "cohere", Model: "x"}}
		}, "experts.odd.provider"},
		{"expert without model", func(c *Config) {
			c.Experts = map[string]ExpertConfig{"odd": {Provider: "openai"}}
		}, "experts.odd"},
		{"invalid tool choice", func(c *Config) {
			c.Experts = map[string]ExpertConfig{"engineer": {ToolChoice: "always"}}
		}, "experts.engineer"},
		{"temperature out of range", func(c *Config) {
			temp := 3.0
			c.Experts = map[string]ExpertConfig{"engineer": {Temperature: &temp}}
		}, "experts.engineer.temperature"},
		{"unknown fallback", func(c *Config) {
			c.FallbackChains = map[string][]string{"engineer": {"ghost"}}
		}, "fallback_chains.engineer"},
		{"chain for unknown expert", func(c *Config) {
			c.FallbackChains = map[string][]string{"ghost": {"engineer"}}
		}, "fallback_chains.ghost"},
		{"cache size", func(c *Config) { c.Router.CacheSize = 0 }, "router.cache_size"},
		{"cache ttl", func(c *Config) { c.Router.CacheTTL = 0 }, "router.cache_ttl"},
		{"max delay below base", func(c *Config) { c.Router.Retry.MaxDelay = time.Millisecond }, "router.retry.max_delay"},
		{"jitter", func(c *Config) { c.Router.Retry.Jitter = 1.5 }, "router.retry.jitter"},
		{"default limit", func(c *Config) { c.Background.DefaultLimit = 0 }, "background.default_limit"},
		{"model limit", func(c *Config) {
			c.Background.ModelLimits = map[string]int{"gpt-5": -1}
		}, "background.model_limits.gpt-5"},
		{"provider limit", func(c *Config) {
			c.Background.ProviderLimits = map[string]int{"openai": 0}
		}, "background.provider_limits.openai"},
		{"max attempts", func(c *Config) { c.Workflow.MaxAttempts = 0 }, "workflow.max_attempts"},
		{"stability exceeds timeout", func(c *Config) {
			c.Workflow.MinStabilityTime = c.Workflow.PhaseTimeout
		}, "workflow.min_stability_time"},
		{"polls required", func(c *Config) { c.Workflow.StabilityPollsRequired = 0 }, "workflow.stability_polls_required"},
		{"retrieval expert", func(c *Config) { c.Workflow.RetrievalExpert = "ghost" }, "workflow.retrieval_expert"},
		{"review expert", func(c *Config) { c.Workflow.ReviewExpert = "" }, "workflow.review_expert"},
		{"loop iterations", func(c *Config) { c.Loop.MaxIterations = 0 }, "loop.max_iterations"},
		{"loop promise", func(c *Config) { c.Loop.CompletionPromise = "  " }, "loop.completion_promise"},
		{"unknown provider section", func(c *Config) {
			c.Providers["bedrock"] = ProviderConfig{}
		}, "providers.bedrock"},
		{"loop path", func(c *Config) { c.State.LoopPath = "" }, "state.loop_path"},
		{"history db", func(c *Config) { c.State.HistoryDB = "" }, "state.history_db"},
		{"hook without name", func(c *Config) {
			c.Hooks.Commands = []events.CommandSpec{{Command: "true"}}
		}, "hooks.commands[0].name"},
		{"hook without command", func(c *Config) {
			c.Hooks.Commands = []events.CommandSpec{{Name: "audit"}}
		}, "hooks.commands[0].command"},
		{"hook unknown kind", func(c *Config) {
			c.Hooks.Commands = []events.CommandSpec{{Name: "audit", Command: "true", Kinds: []string{"on_boot"}}}
		}, "hooks.commands[0].kinds"},
		{"duplicate hook", func(c *Config) {
			c.Hooks.Commands = []events.CommandSpec{{Name: "a", Command: "true"}, {Name: "a", Command: "true"}}
		}, "hooks.commands[1].name"},
		{"server addr", func(c *Config) { c.Server.Addr = "8420" }, "server.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			require.Error(t, err)
			assert.Contains(t, fields(err), tt.field)
		})
	}
}

func TestValidator_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "nope"
	cfg.Router.CacheSize = -1
	cfg.Loop.MaxIterations = 0

	v := NewValidator()
	err := v.Validate(cfg)
	require.Error(t, err)
	assert.True(t, v.Errors().HasErrors())
	assert.Len(t, v.Errors(), 3)
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{Field: "log.level", Value: "x", Message: "bad"}
	assert.Equal(t, "config validation: log.level: bad (got: x)", err.Error())
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Value: 1, Message: "m1"},
		{Field: "b", Value: 2, Message: "m2"},
	}
	assert.Equal(t, 2, strings.Count(errs.Error(), "config validation"))
	assert.Contains(t, errs.Error(), "; ")
	assert.False(t, ValidationErrors{}.HasErrors())
}

func TestConfig_ExpertList(t *testing.T) {
	temp := 0.0
	cfg := &Config{Experts: map[string]ExpertConfig{
		"reviewer": {Model: "gpt-5", Temperature: &temp, MaxTokens: 2048},
		"writer":   {Provider: "anthropic", Model: "claude-haiku-4-5", ToolChoice: "none"},
	}}

	experts := cfg.ExpertList()
	byID := map[string]int{}
	for i, e := range experts {
		byID[e.ID] = i
		if i > 0 {
			assert.Less(t, experts[i-1].ID, e.ID, "experts must be sorted")
		}
	}

	reviewer := experts[byID["reviewer"]]
	assert.Equal(t, "gpt-5", reviewer.Model)
	assert.Equal(t, "openai", reviewer.Provider)
	assert.Equal(t, 2048, reviewer.MaxTokens)
	assert.NotEmpty(t, reviewer.SystemPrompt)

	writer := experts[byID["writer"]]
	assert.Equal(t, "anthropic", writer.Provider)
	assert.EqualValues(t, "none", writer.ToolChoice)
}

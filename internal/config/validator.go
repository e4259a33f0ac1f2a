package config

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/events"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/background"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/loop"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/workflow"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	experts := v.validateExperts(cfg)
	v.validateChains(cfg.Chains(), experts)
	v.validateRouter(&cfg.Router)
	v.validateBackground(&cfg.Background)
	v.validateWorkflow(&cfg.Workflow, experts)
	v.validateLoop(&cfg.Loop)
	v.validateProviders(cfg.Providers)
	v.validateState(&cfg.State)
	v.validateHooks(&cfg.Hooks)
	v.validateServer(&cfg.Server)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

// validateExperts checks the merged expert set and returns the known ids.
func (v *Validator) validateExperts(cfg *Config) map[string]bool {
	known := make(map[string]bool)
	for _, e := range cfg.ExpertList() {
		known[e.ID] = true
		prefix := "experts." + e.ID
		if err := e.Validate(); err != nil {
			v.addError(prefix, e.ID, validationMessage(err))
			continue
		}
		if !isKnownProvider(e.Provider) {
			v.addError(prefix+".provider", e.Provider, "must be one of: "+strings.Join(KnownProviders, ", "))
		}
		if e.Temperature < 0 || e.Temperature > 2 {
			v.addError(prefix+".temperature", e.Temperature, "must be between 0 and 2")
		}
	}
	return known
}

func (v *Validator) validateChains(chains core.FallbackChains, experts map[string]bool) {
	ids := make([]string, 0, len(chains))
	for id := range chains {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !experts[id] {
			v.addError("fallback_chains."+id, id, "unknown expert")
		}
		for _, fb := range chains[id] {
			if !experts[fb] {
				v.addError("fallback_chains."+id, fb, "unknown fallback expert")
			}
		}
	}
}

func (v *Validator) validateRouter(cfg *RouterConfig) {
	if cfg.CacheSize <= 0 {
		v.addError("router.cache_size", cfg.CacheSize, "must be positive")
	}
	if cfg.CacheTTL <= 0 {
		v.addError("router.cache_ttl", cfg.CacheTTL, "must be positive")
	}
	if cfg.DefaultRetryAfter <= 0 {
		v.addError("router.default_retry_after", cfg.DefaultRetryAfter, "must be positive")
	}
	if cfg.Retry.MaxRetries < 0 || cfg.Retry.MaxRetries > 10 {
		v.addError("router.retry.max_retries", cfg.Retry.MaxRetries, "must be between 0 and 10")
	}
	if cfg.Retry.BaseDelay <= 0 {
		v.addError("router.retry.base_delay", cfg.Retry.BaseDelay, "must be positive")
	}
	if cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		v.addError("router.retry.max_delay", cfg.Retry.MaxDelay, "must be >= router.retry.base_delay")
	}
	if cfg.Retry.Jitter < 0 || cfg.Retry.Jitter > 1 {
		v.addError("router.retry.jitter", cfg.Retry.Jitter, "must be between 0 and 1")
	}
}

func (v *Validator) validateBackground(cfg *background.Limits) {
	if cfg.DefaultLimit <= 0 {
		v.addError("background.default_limit", cfg.DefaultLimit, "must be positive")
	}
	for _, key := range sortedKeys(cfg.ModelLimits) {
		if cfg.ModelLimits[key] <= 0 {
			v.addError("background.model_limits."+key, cfg.ModelLimits[key], "must be positive")
		}
	}
	for _, key := range sortedKeys(cfg.ProviderLimits) {
		if cfg.ProviderLimits[key] <= 0 {
			v.addError("background.provider_limits."+key, cfg.ProviderLimits[key], "must be positive")
		}
	}
}

func (v *Validator) validateWorkflow(cfg *workflow.Config, experts map[string]bool) {
	if cfg.MaxAttempts <= 0 {
		v.addError("workflow.max_attempts", cfg.MaxAttempts, "must be positive")
	}
	if cfg.WorkflowTimeout <= 0 {
		v.addError("workflow.workflow_timeout", cfg.WorkflowTimeout, "must be positive")
	}
	if cfg.PhaseTimeout <= 0 {
		v.addError("workflow.phase_timeout", cfg.PhaseTimeout, "must be positive")
	}
	if cfg.QuickPhaseTimeout <= 0 {
		v.addError("workflow.quick_phase_timeout", cfg.QuickPhaseTimeout, "must be positive")
	}
	if cfg.PollInterval <= 0 {
		v.addError("workflow.poll_interval", cfg.PollInterval, "must be positive")
	}
	if cfg.MinStabilityTime < 0 {
		v.addError("workflow.min_stability_time", cfg.MinStabilityTime, "must be non-negative")
	}
	if cfg.MinStabilityTime >= cfg.PhaseTimeout {
		v.addError("workflow.min_stability_time", cfg.MinStabilityTime, "must be less than workflow.phase_timeout")
	}
	if cfg.StabilityPollsRequired <= 0 {
		v.addError("workflow.stability_polls_required", cfg.StabilityPollsRequired, "must be positive")
	}
	if cfg.FinalWait < 0 {
		v.addError("workflow.final_wait", cfg.FinalWait, "must be non-negative")
	}
	if !experts[cfg.RetrievalExpert] {
		v.addError("workflow.retrieval_expert", cfg.RetrievalExpert, "unknown expert")
	}
	if !experts[cfg.ReviewExpert] {
		v.addError("workflow.review_expert", cfg.ReviewExpert, "unknown expert")
	}
}

func (v *Validator) validateLoop(cfg *loop.Config) {
	if cfg.MaxIterations <= 0 {
		v.addError("loop.max_iterations", cfg.MaxIterations, "must be positive")
	}
	if cfg.Delay < 0 {
		v.addError("loop.delay", cfg.Delay, "must be non-negative")
	}
	if strings.TrimSpace(cfg.CompletionPromise) == "" {
		v.addError("loop.completion_promise", cfg.CompletionPromise, "must not be empty")
	}
}

func (v *Validator) validateProviders(providers map[string]ProviderConfig) {
	for _, name := range sortedKeys(providers) {
		if !isKnownProvider(name) {
			v.addError("providers."+name, name, "unknown provider")
			continue
		}
		if providers[name].Timeout < 0 {
			v.addError("providers."+name+".timeout", providers[name].Timeout, "must be non-negative")
		}
	}
}

func (v *Validator) validateState(cfg *StateConfig) {
	if cfg.LoopPath == "" {
		v.addError("state.loop_path", cfg.LoopPath, "path required")
	}
	if cfg.HistoryDB == "" {
		v.addError("state.history_db", cfg.HistoryDB, "path required")
	}
}

func (v *Validator) validateHooks(cfg *HooksConfig) {
	seen := make(map[string]bool)
	for i, spec := range cfg.Commands {
		field := fmt.Sprintf("hooks.commands[%d]", i)
		if strings.TrimSpace(spec.Name) == "" {
			v.addError(field+".name", spec.Name, "name required")
		} else if seen[spec.Name] {
			v.addError(field+".name", spec.Name, "duplicate hook name")
		}
		seen[spec.Name] = true
		if strings.TrimSpace(spec.Command) == "" {
			v.addError(field+".command", spec.Command, "command required")
		}
		for _, kind := range spec.Kinds {
			if _, err := events.ParseKind(kind); err != nil {
				v.addError(field+".kinds", kind, "unknown event kind")
			}
		}
		if spec.Timeout < 0 {
			v.addError(field+".timeout", spec.Timeout, "must be non-negative")
		}
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		v.addError("server.addr", cfg.Addr, "must be host:port")
	}
}

func isKnownProvider(name string) bool {
	for _, p := range KnownProviders {
		if p == name {
			return true
		}
	}
	return false
}

func validationMessage(err error) string {
	var de *core.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}

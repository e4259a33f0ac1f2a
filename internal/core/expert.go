package core

import "fmt"

// ToolChoice controls whether a backend may or must call tools.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceAny  ToolChoice = "any"
	ToolChoiceNone ToolChoice = "none"
)

// Expert is a named configuration pointing at one backend model.
// Experts are configuration and are never created at runtime.
type Expert struct {
	ID           string     `json:"id" yaml:"id"`
	Provider     string     `json:"provider" yaml:"provider"`
	Model        string     `json:"model" yaml:"model"`
	SystemPrompt string     `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Temperature  float64    `json:"temperature" yaml:"temperature"`
	MaxTokens    int        `json:"max_tokens" yaml:"max_tokens"`
	ToolChoice   ToolChoice `json:"tool_choice,omitempty" yaml:"tool_choice,omitempty"`
}

// Validate checks the expert record.
func (e Expert) Validate() error {
	if e.ID == "" {
		return ErrValidation(CodeInvalidConfig, "expert id is required")
	}
	if e.Provider == "" {
		return ErrValidation(CodeInvalidConfig, fmt.Sprintf("expert %s: provider is required", e.ID))
	}
	if e.Model == "" {
		return ErrValidation(CodeInvalidConfig, fmt.Sprintf("expert %s: model is required", e.ID))
	}
	if e.MaxTokens < 0 {
		return ErrValidation(CodeInvalidConfig, fmt.Sprintf("expert %s: max_tokens must be >= 0", e.ID))
	}
	switch e.ToolChoice {
	case "", ToolChoiceAuto, ToolChoiceAny, ToolChoiceNone:
	default:
		return ErrValidation(CodeInvalidConfig, fmt.Sprintf("expert %s: invalid tool_choice %q", e.ID, e.ToolChoice))
	}
	return nil
}

// FallbackChains maps an expert id to the ordered experts tried after a
// rate-limit failure.
type FallbackChains map[string][]string

// For returns the chain for id, never nil.
func (f FallbackChains) For(id string) []string {
	if chain, ok := f[id]; ok {
		return chain
	}
	return []string{}
}

// Well-known expert ids used by the phase handlers.
const (
	ExpertArchitect = "architect"
	ExpertEngineer  = "engineer"
	ExpertDebugger  = "debugger"
	ExpertExplorer  = "explorer"
	ExpertReviewer  = "reviewer"
	ExpertScribe    = "scribe"
	ExpertLocal     = "local"
)

// ExpertRegistry is the static set of experts and their fallback chains.
type ExpertRegistry struct {
	experts map[string]Expert
	chains  FallbackChains
}

// NewExpertRegistry builds a registry from configuration.
func NewExpertRegistry(experts []Expert, chains FallbackChains) (*ExpertRegistry, error) {
	r := &ExpertRegistry{
		experts: make(map[string]Expert, len(experts)),
		chains:  make(FallbackChains, len(chains)),
	}
	for _, e := range experts {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		r.experts[e.ID] = e
	}
	for id, chain := range chains {
		if _, ok := r.experts[id]; !ok {
			return nil, ErrValidation(CodeUnknownExpert, fmt.Sprintf("fallback chain for unknown expert %s", id))
		}
		for _, fb := range chain {
			if _, ok := r.experts[fb]; !ok {
				return nil, ErrValidation(CodeUnknownExpert, fmt.Sprintf("expert %s: unknown fallback %s", id, fb))
			}
		}
		r.chains[id] = append([]string(nil), chain...)
	}
	return r, nil
}

// Get returns the expert with the given id.
func (r *ExpertRegistry) Get(id string) (Expert, bool) {
	e, ok := r.experts[id]
	return e, ok
}

// Fallbacks returns the fallback chain of id.
func (r *ExpertRegistry) Fallbacks(id string) []string {
	return r.chains.For(id)
}

// IDs returns all expert ids.
func (r *ExpertRegistry) IDs() []string {
	ids := make([]string, 0, len(r.experts))
	for id := range r.experts {
		ids = append(ids, id)
	}
	return ids
}

// DefaultExperts returns the built-in expert set.
func DefaultExperts() []Expert {
	return []Expert{
		{ID: ExpertArchitect, Provider: "anthropic", Model: "claude-opus-4-1", Temperature: 0.2, MaxTokens: 8192, ToolChoice: ToolChoiceAuto,
			SystemPrompt: "You are a software architect. Design before you build and name trade-offs."},
		{ID: ExpertEngineer, Provider: "anthropic", Model: "claude-sonnet-4-5", Temperature: 0.1, MaxTokens: 8192, ToolChoice: ToolChoiceAuto,
			SystemPrompt: "You are a senior engineer. Produce complete, working changes."},
		{ID: ExpertDebugger, Provider: "openai", Model: "gpt-5", Temperature: 0.1, MaxTokens: 8192, ToolChoice: ToolChoiceAuto,
			SystemPrompt: "You are a debugger. Find the root cause before proposing a fix."},
		{ID: ExpertExplorer, Provider: "gemini", Model: "gemini-2.5-flash", Temperature: 0.0, MaxTokens: 4096, ToolChoice: ToolChoiceNone,
			SystemPrompt: "You search codebases and report relevant files with short summaries."},
		{ID: ExpertReviewer, Provider: "openai", Model: "gpt-5-mini", Temperature: 0.0, MaxTokens: 4096, ToolChoice: ToolChoiceNone,
			SystemPrompt: "You review changes strictly and report issues in the requested format."},
		{ID: ExpertScribe, Provider: "gemini", Model: "gemini-2.5-pro", Temperature: 0.3, MaxTokens: 8192, ToolChoice: ToolChoiceNone,
			SystemPrompt: "You write clear technical documentation and explanations."},
		{ID: ExpertLocal, Provider: "ollama", Model: "qwen2.5-coder", Temperature: 0.1, MaxTokens: 4096, ToolChoice: ToolChoiceNone},
	}
}

// DefaultFallbackChains returns the built-in fallback chains.
func DefaultFallbackChains() FallbackChains {
	return FallbackChains{
		ExpertArchitect: {ExpertEngineer, ExpertDebugger},
		ExpertEngineer:  {ExpertArchitect, ExpertDebugger, ExpertLocal},
		ExpertDebugger:  {ExpertEngineer, ExpertArchitect},
		ExpertExplorer:  {ExpertScribe, ExpertLocal},
		ExpertReviewer:  {ExpertArchitect, ExpertEngineer},
		ExpertScribe:    {ExpertExplorer, ExpertEngineer},
	}
}

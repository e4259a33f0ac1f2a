package llm

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/logging"
)

// ProviderConfig configures one provider backend.
type ProviderConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// Factory creates a backend from configuration.
type Factory func(cfg ProviderConfig, logger *logging.Logger) (core.Backend, error)

// Registry builds provider backends on demand and caches them.
type Registry struct {
	factories map[string]Factory
	configs   map[string]ProviderConfig
	backends  map[string]core.Backend
	logger    *logging.Logger
	mu        sync.Mutex
}

// NewRegistry creates a registry with the built-in providers.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Registry{
		factories: make(map[string]Factory),
		configs:   make(map[string]ProviderConfig),
		backends:  make(map[string]core.Backend),
		logger:    logger,
	}
	r.RegisterFactory("anthropic", NewAnthropicBackend)
	r.RegisterFactory("openai", NewOpenAIBackend)
	r.RegisterFactory("gemini", NewGeminiBackend)
	r.RegisterFactory("ollama", NewOllamaBackend)
	return r
}

// RegisterFactory registers a factory for a provider name.
func (r *Registry) RegisterFactory(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	delete(r.backends, name)
}

// Configure sets the configuration of a provider and drops any cached
// backend so the next Get rebuilds it.
func (r *Registry) Configure(name string, cfg ProviderConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[name] = cfg
	delete(r.backends, name)
}

// Get returns the backend for a provider, creating it if necessary.
func (r *Registry) Get(name string) (core.Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.backends[name]; ok {
		return b, nil
	}
	f, ok := r.factories[name]
	if !ok {
		return nil, core.ErrNotFound("provider", name)
	}
	b, err := f(r.configs[name], r.logger.With("provider", name))
	if err != nil {
		return nil, fmt.Errorf("creating backend %s: %w", name, err)
	}
	r.backends[name] = b
	return b, nil
}

// Has reports whether a provider is known.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[name]
	return ok
}

// List returns the known provider names in order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BackendsFor builds the backends needed by the given experts, keyed by
// provider name as the router expects.
func (r *Registry) BackendsFor(experts []core.Expert) (map[string]core.Backend, error) {
	out := make(map[string]core.Backend)
	for _, e := range experts {
		if _, done := out[e.Provider]; done {
			continue
		}
		b, err := r.Get(e.Provider)
		if err != nil {
			return nil, fmt.Errorf("expert %s: %w", e.ID, err)
		}
		out[e.Provider] = b
	}
	return out, nil
}

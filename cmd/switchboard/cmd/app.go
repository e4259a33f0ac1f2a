package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/switchboard/internal/adapters/llm"
	"github.com/hugo-lorenzo-mato/switchboard/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/switchboard/internal/config"
	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/events"
	"github.com/hugo-lorenzo-mato/switchboard/internal/logging"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/background"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/loop"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/workflow"
)

// app holds every long-lived collaborator built from configuration.
type app struct {
	cfg        *config.Config
	configPath string
	logger     *logging.Logger

	experts  *core.ExpertRegistry
	router   *service.Router
	bus      *events.Bus
	hooks    *events.Registry
	metrics  *prometheus.Registry
	stores   *state.Stores
	tasks    *background.Manager
	workflow *workflow.Orchestrator
	loop     *loop.Runner
	watcher  *events.Watcher
}

// backendFactory replaces provider construction in tests.
var backendFactory func(cfg *config.Config, experts []core.Expert, logger *logging.Logger) (map[string]core.Backend, error)

// loadConfig loads and validates configuration through the global viper so
// bound flags take precedence.
func loadConfig() (*config.Config, string, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, "", fmt.Errorf("validating config: %w", err)
	}
	return cfg, loader.ConfigFile(), nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	var secrets []string
	for _, pc := range cfg.Providers {
		if pc.APIKey != "" {
			secrets = append(secrets, pc.APIKey)
		}
	}
	return logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  os.Stderr,
		Secrets: secrets,
	})
}

// newApp wires the engine. Backends are created lazily by the provider
// registry, so missing API keys only fail the calls that need them.
func newApp() (*app, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	experts, err := cfg.ExpertRegistry()
	if err != nil {
		return nil, fmt.Errorf("building experts: %w", err)
	}
	expertList := cfg.ExpertList()

	var backends map[string]core.Backend
	if backendFactory != nil {
		backends, err = backendFactory(cfg, expertList, logger)
	} else {
		backends, err = providerBackends(cfg, expertList, logger)
	}
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(256)
	hooks := events.NewRegistry(bus, logger)
	if err := events.RegisterBuiltins(hooks, logger, nil); err != nil {
		return nil, fmt.Errorf("registering hooks: %w", err)
	}
	if err := events.RegisterCommands(hooks, cfg.Hooks.Commands, logger); err != nil {
		return nil, fmt.Errorf("registering command hooks: %w", err)
	}
	// A hooks file replaces the inline command hooks.
	var watcher *events.Watcher
	if cfg.Hooks.File != "" {
		watcher, err = events.NewWatcher(cfg.Hooks.File, hooks, logger)
		if err != nil {
			return nil, fmt.Errorf("loading hooks file: %w", err)
		}
	}
	for _, name := range cfg.Hooks.Disabled {
		if err := hooks.Disable(name); err != nil {
			logger.Warn("cannot disable unknown hook", "hook", name)
		}
	}

	promReg := prometheus.NewRegistry()
	recorder := service.NewPrometheusRecorder(promReg)

	tracker := service.NewRateLimitTracker(service.WithDefaultRetryAfter(cfg.Router.DefaultRetryAfter))
	cache := service.NewResponseCache(cfg.Router.CacheSize, cfg.Router.CacheTTL)
	retry := service.NewRetryPolicy(
		service.WithMaxRetries(cfg.Router.Retry.MaxRetries),
		service.WithBaseDelay(cfg.Router.Retry.BaseDelay),
		service.WithMaxDelay(cfg.Router.Retry.MaxDelay),
		service.WithJitter(cfg.Router.Retry.Jitter),
	)
	router := service.NewRouter(experts, backends, tracker, cache,
		service.WithRetryPolicy(retry),
		service.WithRecorder(recorder),
		service.WithEmitter(hooks),
		service.WithRouterLogger(logger),
	)

	prompts, err := service.NewPromptRenderer()
	if err != nil {
		return nil, fmt.Errorf("loading prompt templates: %w", err)
	}

	stores, err := state.Open(cfg.State.LoopPath, cfg.State.HistoryDB)
	if err != nil {
		return nil, fmt.Errorf("opening state: %w", err)
	}

	opts := []background.Option{
		background.WithEmitter(hooks),
		background.WithRecorder(recorder),
		background.WithLogger(logger),
	}
	if stores.History != nil {
		opts = append(opts, background.WithStore(stores.History))
	}
	tasks := background.NewManager(experts, router, cfg.Background, opts...)

	orch := workflow.New(cfg.Workflow, workflow.Deps{
		Router:  router,
		Experts: experts,
		Prompts: prompts,
		Emitter: hooks,
		Metrics: recorder,
		Logger:  logger,
	})

	runner := loop.NewRunner(cfg.Loop, router, stores.Loop, loop.WithLogger(logger))

	return &app{
		cfg:        cfg,
		configPath: path,
		logger:     logger,
		experts:    experts,
		router:     router,
		bus:        bus,
		hooks:      hooks,
		metrics:    promReg,
		stores:     stores,
		tasks:      tasks,
		workflow:   orch,
		loop:       runner,
		watcher:    watcher,
	}, nil
}

// providerBackends configures the provider registry and builds the backends
// the experts use.
func providerBackends(cfg *config.Config, experts []core.Expert, logger *logging.Logger) (map[string]core.Backend, error) {
	reg := llm.NewRegistry(logger)
	for name, pc := range cfg.Providers {
		reg.Configure(name, llm.ProviderConfig{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Timeout: pc.Timeout,
		})
	}
	backends, err := reg.BackendsFor(experts)
	if err != nil {
		return nil, fmt.Errorf("creating backends: %w", err)
	}
	return backends, nil
}

// close drains background work and releases persistence.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.tasks.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down tasks: %w", err))
	}
	a.bus.Close()
	if err := a.stores.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing state: %w", err))
	}
	return errors.Join(errs...)
}

// hookConfigPath is where hook toggles are persisted: the config file in
// use, or the user config file.
func (a *app) hookConfigPath() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.UserConfigPath()
}

// closeApp releases the app with a bounded drain.
func closeApp(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.close(ctx); err != nil {
		a.logger.Warn("shutdown incomplete", "error", err)
	}
}

// errWorkflowFailed makes the process exit non-zero after the result was
// already printed.
var errWorkflowFailed = errors.New("workflow did not succeed")

package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/switchboard/internal/logging"
)

// DefaultCommandTimeout bounds one external hook invocation.
const DefaultCommandTimeout = 10 * time.Second

// blockExitCode is the exit status an external hook uses to block.
const blockExitCode = 2

// CommandSpec configures an external shell-command hook.
type CommandSpec struct {
	Name     string        `mapstructure:"name" yaml:"name" json:"name"`
	Command  string        `mapstructure:"command" yaml:"command" json:"command"`
	Kinds    []string      `mapstructure:"kinds" yaml:"kinds" json:"kinds"`
	Priority int           `mapstructure:"priority" yaml:"priority" json:"priority"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// CommandHook runs a shell command with the event as JSON on stdin.
// Exit status 2 blocks, with stderr as the reason. Stdout may hold a JSON
// HookResult; empty stdout means continue. Other failures are logged and
// treated as continue.
type CommandHook struct {
	spec   CommandSpec
	kinds  []Kind
	logger *logging.Logger
}

// NewCommandHook validates spec and builds the hook.
func NewCommandHook(spec CommandSpec, logger *logging.Logger) (*CommandHook, error) {
	if spec.Name == "" || strings.TrimSpace(spec.Command) == "" {
		return nil, errors.New("command hook needs a name and a command")
	}
	kinds := make([]Kind, 0, len(spec.Kinds))
	for _, s := range spec.Kinds {
		k, err := ParseKind(s)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	if spec.Timeout <= 0 {
		spec.Timeout = DefaultCommandTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CommandHook{spec: spec, kinds: kinds, logger: logger}, nil
}

func (h *CommandHook) Name() string  { return h.spec.Name }
func (h *CommandHook) Kinds() []Kind { return h.kinds }

// Handle implements Hook.
func (h *CommandHook) Handle(ctx context.Context, ev Event) HookResult {
	input, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("command hook: encoding event", "hook", h.spec.Name, "error", err)
		return Continue()
	}

	ctx, cancel := context.WithTimeout(ctx, h.spec.Timeout)
	defer cancel()

	cmd := shellCommand(ctx, h.spec.Command)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == blockExitCode {
		reason := strings.TrimSpace(stderr.String())
		if reason == "" {
			reason = "blocked by " + h.spec.Name
		}
		return Block(reason)
	}
	if err != nil {
		h.logger.Warn("command hook failed", "hook", h.spec.Name, "error", err, "stderr", strings.TrimSpace(stderr.String()))
		return Continue()
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return Continue()
	}
	var res HookResult
	if err := json.Unmarshal(out, &res); err != nil {
		h.logger.Debug("command hook output is not a result", "hook", h.spec.Name)
		return Continue()
	}
	switch res.Action {
	case ActionBlock, ActionModify:
		return res
	default:
		return Continue()
	}
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

// RegisterCommands adds command hooks to the registry, replacing any
// previously registered command hook with the same name.
func RegisterCommands(r *Registry, specs []CommandSpec, logger *logging.Logger) error {
	var errs []error
	for _, spec := range specs {
		hook, err := NewCommandHook(spec, logger)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.Unregister(spec.Name)
		if err := r.register(hook, spec.Priority, "command"); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReplaceCommands drops every command hook and registers specs, keeping the
// enabled state of hooks that survive the reload.
func (r *Registry) ReplaceCommands(specs []CommandSpec, logger *logging.Logger) error {
	r.mu.Lock()
	disabled := make(map[string]bool)
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.source == "command" {
			if !e.enabled {
				disabled[e.hook.Name()] = true
			}
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	r.mu.Unlock()

	err := RegisterCommands(r, specs, logger)
	for name := range disabled {
		_ = r.Disable(name)
	}
	return err
}

package events

import (
	"context"
	"regexp"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/logging"
)

// LoggingHook writes every event to the logger at debug level.
type LoggingHook struct {
	logger *logging.Logger
}

// NewLoggingHook creates a logging hook.
func NewLoggingHook(logger *logging.Logger) *LoggingHook {
	return &LoggingHook{logger: logger}
}

func (h *LoggingHook) Name() string  { return "logging" }
func (h *LoggingHook) Kinds() []Kind { return nil }

// Handle implements Hook.
func (h *LoggingHook) Handle(_ context.Context, ev Event) HookResult {
	args := []any{"kind", ev.Kind}
	if ev.WorkflowID != "" {
		args = append(args, "workflow_id", ev.WorkflowID)
	}
	if ev.TaskID != "" {
		args = append(args, "task_id", ev.TaskID)
	}
	if ev.Phase != "" {
		args = append(args, "phase", ev.Phase)
	}
	if ev.ExpertID != "" {
		args = append(args, "expert", ev.ExpertID)
	}
	for k, v := range ev.Payload {
		args = append(args, k, v)
	}
	h.logger.Debug("hook event", args...)
	return Continue()
}

var (
	destructiveCommand = regexp.MustCompile(`(?i)(\brm\s+-[a-z]*r[a-z]*f[a-z]*\s+/(\s|$)|\bmkfs\b|\bdd\s+if=.*of=/dev/|:\(\)\s*\{\s*:\|:&\s*\};:)`)
	riskyKeywords      = regexp.MustCompile(`(?i)\b(rm\s+-rf|git\s+push\s+--force|drop\s+table|truncate\s+table|chmod\s+-R\s+777|sudo)\b`)
)

// KeywordDetectorHook inspects tool inputs before use. It blocks commands
// that would wipe the host and tags risky ones.
type KeywordDetectorHook struct{}

// NewKeywordDetectorHook creates the detector.
func NewKeywordDetectorHook() *KeywordDetectorHook { return &KeywordDetectorHook{} }

func (KeywordDetectorHook) Name() string  { return "keyword-detector" }
func (KeywordDetectorHook) Kinds() []Kind { return []Kind{KindPreToolUse} }

// Handle implements Hook.
func (KeywordDetectorHook) Handle(_ context.Context, ev Event) HookResult {
	if ev.ToolCall == nil {
		return Continue()
	}
	var text string
	switch in := ev.ToolCall.Input.(type) {
	case core.BashInput:
		text = in.Command
	case core.WriteInput:
		text = in.Content
	case core.EditInput:
		text = in.NewString
	case core.ReadInput, core.GrepInput, core.GlobInput, core.UnknownInput, nil:
		return Continue()
	}

	if destructiveCommand.MatchString(text) {
		return Block("destructive command detected")
	}
	if m := riskyKeywords.FindString(text); m != "" {
		payload := make(map[string]any, len(ev.Payload)+1)
		for k, v := range ev.Payload {
			payload[k] = v
		}
		payload["risk"] = m
		return Modify(payload)
	}
	return Continue()
}

// RegisterBuiltins registers the default hooks, skipping names in disabled.
func RegisterBuiltins(r *Registry, logger *logging.Logger, disabled []string) error {
	builtins := []struct {
		hook     Hook
		priority int
	}{
		{NewKeywordDetectorHook(), 10},
		{NewLoggingHook(logger), 100},
	}
	for _, b := range builtins {
		if err := r.Register(b.hook, b.priority); err != nil {
			return err
		}
	}
	for _, name := range disabled {
		if err := r.Disable(name); err != nil {
			logger.Warn("cannot disable unknown hook", "hook", name)
		}
	}
	return nil
}

// Package events provides the typed hook system: a fixed set of event kinds,
// a registry of hooks that may continue, block or modify, and a pub/sub bus
// for passive observers.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
)

// Kind is the fixed enum of hook events.
type Kind string

const (
	KindWorkflowStarted   Kind = "workflow_started"
	KindPhaseStarted      Kind = "phase_started"
	KindPhaseCompleted    Kind = "phase_completed"
	KindWorkflowCompleted Kind = "workflow_completed"
	KindExpertCall        Kind = "expert_call"
	KindExpertFallback    Kind = "expert_fallback"
	KindRateLimited       Kind = "rate_limited"
	KindTaskStateChanged  Kind = "task_state_changed"
	KindPreToolUse        Kind = "pre_tool_use"
)

// AllKinds returns every event kind.
func AllKinds() []Kind {
	return []Kind{
		KindWorkflowStarted,
		KindPhaseStarted,
		KindPhaseCompleted,
		KindWorkflowCompleted,
		KindExpertCall,
		KindExpertFallback,
		KindRateLimited,
		KindTaskStateChanged,
		KindPreToolUse,
	}
}

// ParseKind converts a string to a Kind with validation.
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("invalid event kind: %s", s)
}

// Event is one occurrence delivered to hooks and bus subscribers.
type Event struct {
	Kind       Kind           `json:"kind"`
	Time       time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	TaskID     string         `json:"task_id,omitempty"`
	Phase      core.Phase     `json:"phase,omitempty"`
	ExpertID   string         `json:"expert_id,omitempty"`
	ToolCall   *core.ToolCall `json:"tool_call,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// New creates an event stamped with the current time.
func New(kind Kind) Event {
	return Event{Kind: kind, Time: time.Now()}
}

// With returns a copy of e with key set in the payload.
func (e Event) With(key string, value any) Event {
	p := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		p[k] = v
	}
	p[key] = value
	e.Payload = p
	return e
}

// Action is what a hook asks the caller to do.
type Action string

const (
	ActionContinue Action = "continue"
	ActionBlock    Action = "block"
	ActionModify   Action = "modify"
)

// HookResult is returned by every hook.
type HookResult struct {
	Action  Action         `json:"action"`
	Reason  string         `json:"reason,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Continue is the neutral result.
func Continue() HookResult { return HookResult{Action: ActionContinue} }

// Block stops the triggering action.
func Block(reason string) HookResult { return HookResult{Action: ActionBlock, Reason: reason} }

// Modify replaces the event payload for later hooks and the caller.
func Modify(payload map[string]any) HookResult {
	return HookResult{Action: ActionModify, Payload: payload}
}

// Blocked reports whether the result stops the action.
func (r HookResult) Blocked() bool { return r.Action == ActionBlock }

// Emitter is the only surface the orchestration core sees.
type Emitter interface {
	Emit(ctx context.Context, ev Event) HookResult
}

// NopEmitter ignores every event.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(context.Context, Event) HookResult { return Continue() }

package workflow

import (
	"context"
	"fmt"
	"regexp"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
)

type recoveryRule struct {
	cause   string
	pattern *regexp.Regexp
	action  core.RecoveryAction
}

// First match wins.
var recoveryRules = []recoveryRule{
	{"rate_limit", regexp.MustCompile(`(?i)(rate.?limit|too many requests|quota|429)`), core.RecoverySwitchExpert},
	{"timeout", regexp.MustCompile(`(?i)(timed? ?out|deadline exceeded|timeout)`), core.RecoveryRetrySame},
	{"unclear", regexp.MustCompile(`(?i)(unclear|ambiguous|clarif)`), core.RecoveryClarification},
	{"error", regexp.MustCompile(`(?i)(error|exception|failed|failure)`), core.RecoveryRetrySame},
}

// classifyRecovery returns the cause and action for the latest failure text.
func classifyRecovery(text string) (string, core.RecoveryAction) {
	for _, r := range recoveryRules {
		if r.pattern.MatchString(text) {
			return r.cause, r.action
		}
	}
	return "unknown", core.RecoveryRetryOther
}

func (o *Orchestrator) runRecovery(_ context.Context, w *core.WorkflowContext) (*core.PhaseResult, error) {
	cause, action := "verification", core.RecoveryRetryOther
	text := w.LastError
	if w.LastFailure != core.FailureRejected {
		cause, action = classifyRecovery(text)
	}

	hint := &core.RecoveryHint{Action: action}
	if action == core.RecoverySwitchExpert {
		fallbacks := o.experts.Fallbacks(w.LastExpertUsed)
		if len(fallbacks) > 0 {
			hint.ExpertID = fallbacks[0]
		} else {
			action = core.RecoveryRetryOther
			hint.Action = action
		}
	}

	switch {
	case w.AttemptsExhausted():
		action = core.RecoveryEscalate
		w.Escalate(fmt.Sprintf("maximum attempts (%d) reached", w.MaxAttempts))
	case action == core.RecoveryClarification:
		w.Escalate("request needs clarification: " + text)
	}

	entry := string(action)
	if hint.ExpertID != "" && action == core.RecoverySwitchExpert {
		entry += ":" + hint.ExpertID
	}
	w.RecoveryActions = append(w.RecoveryActions, entry)

	o.logger.WithWorkflow(w.ID).Info("recovery decided", "cause", cause, "action", action, "attempts", w.ImplementationAttempts)

	result := (&core.PhaseResult{
		Success: true,
		Output:  fmt.Sprintf("%s: %s", cause, action),
	}).WithMeta("cause", cause).WithMeta("action", string(action))

	if w.EscalationRequired {
		w.RecoveryHint = nil
		result.NextPhase = core.PhasePtr(core.PhaseCompletion)
		return result, nil
	}
	w.RecoveryHint = hint
	result.NextPhase = core.PhasePtr(core.PhaseImplementation)
	return result, nil
}

package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/events"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service"
)

// minImplementationLength is the shortest trimmed response not treated as
// a critical failure.
const minImplementationLength = 50

var criticalPattern = regexp.MustCompile(`(?i)(rate limit|api error|connection refused)`)

func (o *Orchestrator) runImplementation(ctx context.Context, w *core.WorkflowContext) (*core.PhaseResult, error) {
	expertID, ok := selectExpert(o.experts, w)
	if !ok {
		return nil, core.ErrValidation(core.CodeUnknownExpert, "no expert available for implementation")
	}
	expert, _ := o.experts.Get(expertID)
	log := o.logger.WithWorkflow(w.ID).WithExpert(expertID, expert.Model)

	prompt, err := o.prompts.FormatBrief(buildBrief(w))
	if err != nil {
		return nil, fmt.Errorf("formatting brief: %w", err)
	}

	w.ImplementationAttempts++
	w.RecoveryHint = nil
	log.Info("delegating implementation", "attempt", w.ImplementationAttempts, "max_attempts", w.MaxAttempts)

	res, err := o.router.CallWithFallback(ctx, service.CallRequest{
		ExpertID:  expertID,
		Prompt:    prompt,
		Context:   w.CodebaseContext,
		SkipCache: true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.LastError = err.Error()
		w.LastFailure = core.FailureCall
		w.LastExpertUsed = expertID
		log.Warn("implementation call failed", "error", err)
		return (&core.PhaseResult{
			Success:   false,
			Output:    "implementation failed: " + err.Error(),
			NextPhase: core.PhasePtr(core.PhaseRecovery),
		}).WithMeta("expertUsed", expertID).WithMeta("fellBack", false), nil
	}

	w.LastExpertUsed = res.ActualExpertID
	w.LastImplementation = res.Response
	w.LastToolCalls = res.ToolCalls

	result := &core.PhaseResult{Output: res.Response}
	result.WithMeta("expertUsed", res.ActualExpertID).WithMeta("fellBack", res.FellBack)

	if blocked, reason := o.dispatchToolCalls(ctx, w, res.ActualExpertID); blocked {
		w.LastError = "tool call blocked: " + reason
		w.LastFailure = core.FailureCall
		result.NextPhase = core.PhasePtr(core.PhaseRecovery)
		return result.WithMeta("blocked", reason), nil
	}

	if critical := criticalReason(res.Response); critical != "" {
		w.LastError = critical
		w.LastFailure = core.FailureCall
		log.Warn("critical response detected", "reason", critical)
		result.NextPhase = core.PhasePtr(core.PhaseRecovery)
		return result.WithMeta("critical", critical), nil
	}

	result.Success = true
	result.NextPhase = core.PhasePtr(core.PhaseVerification)
	return result, nil
}

// criticalReason returns why a response cannot go to verification, or "".
func criticalReason(text string) string {
	if m := criticalPattern.FindString(text); m != "" {
		return fmt.Sprintf("response reports %s", strings.ToLower(m))
	}
	if n := len(strings.TrimSpace(text)); n < minImplementationLength {
		return fmt.Sprintf("response too short (%d characters)", n)
	}
	return ""
}

// dispatchToolCalls emits pre_tool_use for each requested tool call. The
// first block stops the dispatch.
func (o *Orchestrator) dispatchToolCalls(ctx context.Context, w *core.WorkflowContext, expertID string) (bool, string) {
	for i := range w.LastToolCalls {
		call := w.LastToolCalls[i]
		if call.Input == nil {
			in, err := core.ParseToolInput(call.Name, call.Raw)
			if err != nil {
				o.logger.WithWorkflow(w.ID).Warn("invalid tool input", "tool", call.Name, "error", err)
				continue
			}
			call.Input = in
			w.LastToolCalls[i] = call
		}
		ev := events.New(events.KindPreToolUse)
		ev.Time = o.clock.Now()
		ev.WorkflowID = w.ID
		ev.Phase = core.PhaseImplementation
		ev.ExpertID = expertID
		ev.ToolCall = &call
		if path := core.TouchedPath(call.Input); path != "" {
			ev = ev.With("path", path)
		}
		if res := o.emitter.Emit(ctx, ev); res.Blocked() {
			return true, res.Reason
		}
	}
	return false, ""
}

func buildBrief(w *core.WorkflowContext) core.Brief {
	var ctx strings.Builder
	if w.CodebaseContext != "" {
		ctx.WriteString(w.CodebaseContext)
	}
	if len(w.RelevantFiles) > 0 {
		if ctx.Len() > 0 {
			ctx.WriteString("\n\n")
		}
		ctx.WriteString("Relevant files:\n- ")
		ctx.WriteString(strings.Join(w.RelevantFiles, "\n- "))
	}
	for _, r := range w.ExplorationResults {
		ctx.WriteString("\n\n")
		ctx.WriteString(r)
	}
	if w.ImplementationAttempts > 0 {
		ctx.WriteString(fmt.Sprintf("\n\nPrevious attempts: %d.", w.ImplementationAttempts))
		if w.LastError != "" {
			ctx.WriteString(" Last problem: " + w.LastError)
		}
		if n := len(w.VerificationFailures); n > 0 {
			ctx.WriteString("\nReviewer findings:\n" + w.VerificationFailures[n-1])
		}
	}

	return core.Brief{
		Task:            w.Request,
		ExpectedOutcome: expectedOutcome(w.Intent),
		Context:         strings.TrimSpace(ctx.String()),
		Constraints: []string{
			"Stay within the scope of the task",
			"Do not claim success for work that was not done",
			"Prefer small, reviewable changes",
		},
		ResponseFormat: "A short summary followed by the complete change or answer.",
		ExitConditions: []string{
			"The task is fully addressed",
			"Or a blocker is stated explicitly",
		},
	}
}

func expectedOutcome(intent core.Intent) string {
	switch intent {
	case core.IntentDebugging:
		return "The root cause identified and a fix that removes it"
	case core.IntentRefactoring:
		return "Restructured code with unchanged behavior"
	case core.IntentResearch:
		return "A comparison of options with a recommendation"
	case core.IntentReview:
		return "A list of concrete findings ordered by severity"
	case core.IntentDocumentation:
		return "Accurate documentation for the requested subject"
	case core.IntentConceptual:
		return "A clear explanation grounded in the codebase"
	default:
		return "A working implementation of the requested change"
	}
}

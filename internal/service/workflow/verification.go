package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service"
)

var baseChecklist = []string{
	"The output addresses the original task",
	"Nothing requested is missing or only stubbed",
}

var intentChecklist = map[core.Intent][]string{
	core.IntentImplementation: {"The change compiles and is wired into existing code", "Edge cases and errors are handled"},
	core.IntentDebugging:      {"The root cause is identified, not only the symptom", "The fix does not introduce regressions"},
	core.IntentRefactoring:    {"Behavior is unchanged", "The structure is simpler than before"},
	core.IntentResearch:       {"Options are compared on concrete criteria", "A recommendation is given"},
	core.IntentReview:         {"Findings are specific and actionable", "Severity is stated for each finding"},
	core.IntentDocumentation:  {"Statements match the code", "Examples are correct"},
	core.IntentConceptual:     {"The explanation is accurate", "It references the relevant code"},
}

func checklistFor(intent core.Intent) []string {
	out := append([]string(nil), baseChecklist...)
	return append(out, intentChecklist[intent]...)
}

func (o *Orchestrator) runVerification(ctx context.Context, w *core.WorkflowContext) (*core.PhaseResult, error) {
	w.VerificationAttempts++

	prompt, err := o.prompts.RenderVerification(service.VerificationParams{
		Task:           w.Request,
		Intent:         w.Intent,
		Implementation: w.LastImplementation,
		Checklist:      checklistFor(w.Intent),
	})
	if err != nil {
		return nil, fmt.Errorf("rendering verification: %w", err)
	}

	var verdict Verdict
	var reason string
	res, err := o.router.CallWithFallback(ctx, service.CallRequest{
		ExpertID:  o.cfg.ReviewExpert,
		Prompt:    prompt,
		SkipCache: true,
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		reason = "review unavailable: " + err.Error()
	default:
		verdict = parseVerdict(res.Response)
		reason = rejectionReason(verdict)
	}

	if err == nil && verdict.Passed() {
		return (&core.PhaseResult{
			Success:   true,
			Output:    fmt.Sprintf("verification passed with %s confidence", strings.ToLower(string(verdict.Confidence))),
			NextPhase: core.PhasePtr(core.PhaseCompletion),
		}).WithMeta("confidence", string(verdict.Confidence)), nil
	}

	w.VerificationFailures = append(w.VerificationFailures, reason)
	if err != nil {
		w.LastError, w.LastFailure = reason, core.FailureCall
	} else {
		w.LastError, w.LastFailure = verificationRejected, core.FailureRejected
	}
	result := (&core.PhaseResult{
		Success: false,
		Output:  reason,
	}).WithMeta("issues", len(verdict.Issues)).WithMeta("confidence", string(verdict.Confidence))

	if w.AttemptsExhausted() {
		w.Escalate(fmt.Sprintf("verification rejected after %d of %d attempts", w.ImplementationAttempts, w.MaxAttempts))
		result.NextPhase = core.PhasePtr(core.PhaseCompletion)
		return result, nil
	}
	result.NextPhase = core.PhasePtr(core.PhaseRecovery)
	return result, nil
}

// verificationRejected is the LastError text for a rejected verdict. The
// reviewer's findings are kept in VerificationFailures only.
const verificationRejected = "verification rejected"

// rejectionReason describes why a verdict was not accepted.
func rejectionReason(v Verdict) string {
	switch {
	case len(v.Issues) > 0:
		return "reviewer found issues: " + strings.Join(v.Issues, "; ")
	case !v.Claimed:
		return "reviewer rejected the implementation"
	default:
		return fmt.Sprintf("reviewer confidence too low (%s)", strings.ToLower(string(v.Confidence)))
	}
}

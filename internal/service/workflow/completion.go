package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service"
)

func (o *Orchestrator) runCompletion(_ context.Context, w *core.WorkflowContext) (*core.PhaseResult, error) {
	if w.EscalationRequired {
		report, err := o.prompts.RenderEscalation(service.EscalationParams{
			Request:                w.Request,
			Reason:                 w.EscalationReason,
			ImplementationAttempts: w.ImplementationAttempts,
			VerificationAttempts:   w.VerificationAttempts,
			MaxAttempts:            w.MaxAttempts,
			Failures:               w.VerificationFailures,
			RecoveryActions:        w.RecoveryActions,
			LastError:              w.LastError,
			Recommendations:        recommendations(w),
		})
		if err != nil {
			report = fallbackReport(w)
		}
		return (&core.PhaseResult{
			Success: false,
			Output:  report,
		}).WithMeta("escalated", true), nil
	}

	return (&core.PhaseResult{
		Success: true,
		Output:  summarize(w),
	}).WithMeta("escalated", false), nil
}

func summarize(w *core.WorkflowContext) string {
	if w.LastImplementation == "" {
		if w.CodebaseContext != "" {
			return w.CodebaseContext
		}
		return fmt.Sprintf("No implementation was produced for %q.", w.Request)
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(w.LastImplementation))
	fmt.Fprintf(&b, "\n\n---\nCompleted by %s after %d attempt(s), %d verification(s).",
		w.LastExpertUsed, w.ImplementationAttempts, w.VerificationAttempts)
	return b.String()
}

func recommendations(w *core.WorkflowContext) []string {
	var recs []string
	reason := strings.ToLower(w.EscalationReason + " " + w.LastError)
	switch {
	case strings.Contains(reason, "clarification"):
		recs = append(recs, "Restate the request with the missing details and run it again")
	case strings.Contains(reason, "timeout") || strings.Contains(reason, "timed out"):
		recs = append(recs, "Raise the workflow or phase timeout, or split the request")
	case strings.Contains(reason, "rate limit"):
		recs = append(recs, "Wait for provider limits to reset or add fallback experts")
	}
	if len(w.VerificationFailures) > 0 {
		recs = append(recs, "Address the reviewer findings listed above before retrying")
	}
	if w.Complexity.Rank() >= core.ComplexityComplex.Rank() {
		recs = append(recs, "Break the request into smaller tasks")
	}
	recs = append(recs, "Review the partial output and finish the change manually")
	return recs
}

func fallbackReport(w *core.WorkflowContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Escalation: %s\n", w.EscalationReason)
	fmt.Fprintf(&b, "Request: %s\n", w.Request)
	fmt.Fprintf(&b, "Attempts: %d of %d, verifications: %d\n", w.ImplementationAttempts, w.MaxAttempts, w.VerificationAttempts)
	for i, f := range w.VerificationFailures {
		fmt.Fprintf(&b, "%d. %s\n", i+1, f)
	}
	if w.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", w.LastError)
	}
	return strings.TrimSpace(b.String())
}

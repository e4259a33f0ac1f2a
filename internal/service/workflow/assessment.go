package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service"
)

// explorationFileThreshold is the relevant-file count above which Assessment
// hands over to Exploration.
const explorationFileThreshold = 5

func (o *Orchestrator) runAssessment(ctx context.Context, w *core.WorkflowContext) (*core.PhaseResult, error) {
	w.Keywords = extractKeywords(w.Request, MaxKeywords)

	prompt, err := o.prompts.RenderAssessment(service.AssessmentParams{
		Request:  w.Request,
		Intent:   w.Intent,
		Keywords: w.Keywords,
	})
	if err != nil {
		return nil, fmt.Errorf("rendering assessment: %w", err)
	}

	res, err := o.router.CallWithFallback(ctx, service.CallRequest{
		ExpertID: o.cfg.RetrievalExpert,
		Prompt:   prompt,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.logger.WithWorkflow(w.ID).Warn("assessment query failed, continuing without context", "error", err)
		w.RelevantFiles = nil
		w.CodebaseContext = appendLine(w.CodebaseContext, fmt.Sprintf("(assessment unavailable: %v)", err))
		next := nextAfterAssessment(w.Intent, 0)
		return (&core.PhaseResult{
			Success:   false,
			Output:    "assessment unavailable: " + err.Error(),
			NextPhase: core.PhasePtr(next),
		}).WithMeta("relevantFiles", 0), nil
	}

	w.RelevantFiles = parseRelevantFiles(res.Response)
	w.CodebaseContext = assessmentSummary(res.Response)
	next := nextAfterAssessment(w.Intent, len(w.RelevantFiles))

	return (&core.PhaseResult{
		Success:   true,
		Output:    fmt.Sprintf("found %d relevant files", len(w.RelevantFiles)),
		NextPhase: core.PhasePtr(next),
	}).WithMeta("relevantFiles", len(w.RelevantFiles)).WithMeta("keywords", w.Keywords), nil
}

func nextAfterAssessment(intent core.Intent, files int) core.Phase {
	switch {
	case intent == core.IntentConceptual && files == 0:
		return core.PhaseCompletion
	case intent == core.IntentResearch:
		return core.PhaseExploration
	case files > explorationFileThreshold:
		return core.PhaseExploration
	default:
		return core.PhaseImplementation
	}
}

// assessmentSummary keeps the text after a SUMMARY: marker, or the whole
// response when the marker is missing.
func assessmentSummary(text string) string {
	upper := strings.ToUpper(text)
	if i := strings.LastIndex(upper, "SUMMARY:"); i >= 0 {
		if s := strings.TrimSpace(text[i+len("SUMMARY:"):]); s != "" {
			return s
		}
	}
	return strings.TrimSpace(text)
}

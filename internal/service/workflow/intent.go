package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
)

type intentRule struct {
	intent  core.Intent
	pattern *regexp.Regexp
}

// Rules are scored by match count; ties go to the earlier rule.
var intentRules = []intentRule{
	{core.IntentDebugging, regexp.MustCompile(`(?i)\b(bug|fix|error|crash\w*|broken|fail\w*|exception|panic\w*|debug\w*|stack ?trace|not working|regression)\b`)},
	{core.IntentRefactoring, regexp.MustCompile(`(?i)\b(refactor\w*|restructur\w*|clean ?up|simplif\w*|renam\w*|extract|reorganiz\w*|decouple|deduplicate)\b`)},
	{core.IntentReview, regexp.MustCompile(`(?i)\b(review\w*|audit\w*|critique|code review|look over|sanity check)\b`)},
	{core.IntentDocumentation, regexp.MustCompile(`(?i)\b(document\w*|docs|readme|docstring\w*|godoc|changelog|write ?up)\b`)},
	{core.IntentResearch, regexp.MustCompile(`(?i)\b(research|investigat\w*|compare|comparison|evaluat\w*|find out|options for|alternatives|best way|survey)\b`)},
	{core.IntentImplementation, regexp.MustCompile(`(?i)\b(implement\w*|add|create|build|write|feature|support|integrate|introduce|generate|wire)\b`)},
	{core.IntentConceptual, regexp.MustCompile(`(?i)(^\s*(what|why|how|when|explain|describe)\b|\b(what is|how does|difference between|concept|meaning of|explain)\b|\?\s*$)`)},
}

var (
	epicMarkers    = regexp.MustCompile(`(?i)\b(entire|whole (system|codebase|app)|from scratch|rewrite|migrat\w*|re-?architect\w*|redesign)\b`)
	complexMarkers = regexp.MustCompile(`(?i)\b(multiple|across|several|distributed|concurren\w*|integrat\w*|end-to-end|pipeline|all (the )?(services|modules|packages))\b`)
	trivialMarkers = regexp.MustCompile(`(?i)\b(typo|one-?line|rename a|spelling|whitespace|bump)\b`)
)

// classifyIntent maps a request onto the intent and complexity taxonomy.
func classifyIntent(request string) (core.Intent, core.Complexity) {
	best := core.IntentImplementation
	bestScore := 0
	for _, rule := range intentRules {
		if n := len(rule.pattern.FindAllStringIndex(request, -1)); n > bestScore {
			best, bestScore = rule.intent, n
		}
	}
	return best, classifyComplexity(request)
}

func classifyComplexity(request string) core.Complexity {
	words := len(strings.Fields(request))
	tier := 0
	switch {
	case words <= 6:
		tier = 0
	case words <= 20:
		tier = 1
	case words <= 60:
		tier = 2
	default:
		tier = 3
	}
	switch {
	case epicMarkers.MatchString(request):
		tier = 4
	case complexMarkers.MatchString(request):
		tier++
	case trivialMarkers.MatchString(request):
		tier = 0
	}
	tiers := []core.Complexity{
		core.ComplexityTrivial,
		core.ComplexitySimple,
		core.ComplexityModerate,
		core.ComplexityComplex,
		core.ComplexityEpic,
	}
	if tier > 4 {
		tier = 4
	}
	return tiers[tier]
}

func (o *Orchestrator) runIntent(_ context.Context, w *core.WorkflowContext) (*core.PhaseResult, error) {
	w.Intent, w.Complexity = classifyIntent(w.Request)
	return (&core.PhaseResult{
		Success:   true,
		Output:    fmt.Sprintf("classified as %s (%s)", w.Intent, w.Complexity),
		NextPhase: core.PhasePtr(core.PhaseAssessment),
	}).WithMeta("intent", string(w.Intent)).WithMeta("complexity", string(w.Complexity)), nil
}

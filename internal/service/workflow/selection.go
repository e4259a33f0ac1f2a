package workflow

import (
	"sort"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
)

type selectionKey struct {
	intent core.Intent
	large  bool
}

// selectionTable maps (intent, complexity >= complex) to ordered candidates.
var selectionTable = map[selectionKey][]string{
	{core.IntentImplementation, false}: {core.ExpertEngineer, core.ExpertArchitect, core.ExpertLocal},
	{core.IntentImplementation, true}:  {core.ExpertArchitect, core.ExpertEngineer},
	{core.IntentDebugging, false}:      {core.ExpertDebugger, core.ExpertEngineer},
	{core.IntentDebugging, true}:       {core.ExpertDebugger, core.ExpertArchitect, core.ExpertEngineer},
	{core.IntentRefactoring, false}:    {core.ExpertEngineer, core.ExpertArchitect},
	{core.IntentRefactoring, true}:     {core.ExpertArchitect, core.ExpertEngineer},
	{core.IntentResearch, false}:       {core.ExpertExplorer, core.ExpertScribe, core.ExpertArchitect},
	{core.IntentResearch, true}:        {core.ExpertArchitect, core.ExpertExplorer},
	{core.IntentReview, false}:         {core.ExpertReviewer, core.ExpertEngineer},
	{core.IntentReview, true}:          {core.ExpertReviewer, core.ExpertArchitect},
	{core.IntentDocumentation, false}:  {core.ExpertScribe, core.ExpertEngineer},
	{core.IntentDocumentation, true}:   {core.ExpertScribe, core.ExpertArchitect},
	{core.IntentConceptual, false}:     {core.ExpertScribe, core.ExpertArchitect},
	{core.IntentConceptual, true}:      {core.ExpertArchitect, core.ExpertScribe},
}

// candidatesFor returns the configured candidates for intent and complexity,
// keeping only experts the registry knows.
func candidatesFor(experts *core.ExpertRegistry, intent core.Intent, complexity core.Complexity) []string {
	key := selectionKey{intent: intent, large: complexity.Rank() >= core.ComplexityComplex.Rank()}
	table, ok := selectionTable[key]
	if !ok {
		table = selectionTable[selectionKey{intent: core.IntentImplementation, large: key.large}]
	}
	out := make([]string, 0, len(table))
	for _, id := range table {
		if _, ok := experts.Get(id); ok {
			out = append(out, id)
		}
	}
	return out
}

// selectExpert picks the delegate for the next implementation attempt. A
// recovery hint wins; otherwise the first candidate that is not the expert
// used last time. When every candidate was excluded the first is reused.
func selectExpert(experts *core.ExpertRegistry, w *core.WorkflowContext) (string, bool) {
	if h := w.RecoveryHint; h != nil {
		switch h.Action {
		case core.RecoveryRetrySame:
			if _, ok := experts.Get(w.LastExpertUsed); ok {
				return w.LastExpertUsed, true
			}
		case core.RecoverySwitchExpert:
			if _, ok := experts.Get(h.ExpertID); ok {
				return h.ExpertID, true
			}
		}
	}

	candidates := candidatesFor(experts, w.Intent, w.Complexity)
	for _, id := range candidates {
		if id != w.LastExpertUsed {
			return id, true
		}
	}
	if len(candidates) > 0 {
		return candidates[0], true
	}
	ids := experts.IDs()
	sort.Strings(ids)
	if len(ids) == 0 {
		return "", false
	}
	for _, id := range ids {
		if id != w.LastExpertUsed {
			return id, true
		}
	}
	return ids[0], true
}

package workflow

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service"
)

const (
	maxExplorationQueries = 6
	explorationBatchSize  = 3
)

type explorationQuery struct {
	Kind     string
	Target   string
	Priority int
}

// buildExplorationQueries derives the follow-up queries from intent and the
// relevant files. Lower priority runs first.
func buildExplorationQueries(w *core.WorkflowContext) []explorationQuery {
	var qs []explorationQuery
	files := w.RelevantFiles
	if len(files) > 3 {
		files = files[:3]
	}
	for _, f := range files {
		qs = append(qs, explorationQuery{Kind: "file_inspection", Target: f, Priority: 1})
	}

	switch w.Intent {
	case core.IntentDebugging:
		for _, kw := range firstN(w.Keywords, 2) {
			qs = append(qs, explorationQuery{Kind: "pattern_search", Target: kw, Priority: 2})
		}
	case core.IntentRefactoring:
		for _, f := range firstN(w.RelevantFiles, 2) {
			qs = append(qs, explorationQuery{Kind: "usage_search", Target: f, Priority: 2})
		}
	case core.IntentResearch, core.IntentConceptual:
		for _, kw := range firstN(w.Keywords, 3) {
			qs = append(qs, explorationQuery{Kind: "pattern_search", Target: kw, Priority: 3})
		}
	default:
		if len(w.RelevantFiles) > 0 {
			qs = append(qs, explorationQuery{Kind: "dependency_trace", Target: w.RelevantFiles[0], Priority: 3})
		}
		if len(w.Keywords) > 0 {
			qs = append(qs, explorationQuery{Kind: "pattern_search", Target: w.Keywords[0], Priority: 4})
		}
	}

	// Stable insertion sort keeps submission order within a priority.
	for i := 1; i < len(qs); i++ {
		for j := i; j > 0 && qs[j].Priority < qs[j-1].Priority; j-- {
			qs[j], qs[j-1] = qs[j-1], qs[j]
		}
	}
	if len(qs) > maxExplorationQueries {
		qs = qs[:maxExplorationQueries]
	}
	return qs
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func (o *Orchestrator) runExploration(ctx context.Context, w *core.WorkflowContext) (*core.PhaseResult, error) {
	queries := buildExplorationQueries(w)
	results := make([]string, len(queries))
	unavailable := make([]bool, len(queries))

	for start := 0; start < len(queries); start += explorationBatchSize {
		end := start + explorationBatchSize
		if end > len(queries) {
			end = len(queries)
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(explorationBatchSize)
		for i := start; i < end; i++ {
			i, q := i, queries[i]
			g.Go(func() error {
				out, err := o.explore(gctx, w, q)
				if err != nil {
					results[i] = fmt.Sprintf("[%s %s] unavailable: %v", q.Kind, q.Target, err)
					unavailable[i] = true
					return nil
				}
				results[i] = fmt.Sprintf("[%s %s]\n%s", q.Kind, q.Target, strings.TrimSpace(out))
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	failed := 0
	for _, u := range unavailable {
		if u {
			failed++
		}
	}
	w.ExplorationResults = append(w.ExplorationResults, results...)

	return (&core.PhaseResult{
		Success:   failed < len(queries) || len(queries) == 0,
		Output:    fmt.Sprintf("ran %d exploration queries (%d unavailable)", len(queries), failed),
		NextPhase: core.PhasePtr(core.PhaseImplementation),
	}).WithMeta("queries", len(queries)).WithMeta("failed", failed), nil
}

func (o *Orchestrator) explore(ctx context.Context, w *core.WorkflowContext, q explorationQuery) (string, error) {
	prompt, err := o.prompts.RenderExploration(service.ExplorationParams{
		Request: w.Request,
		Kind:    q.Kind,
		Target:  q.Target,
		Context: w.CodebaseContext,
	})
	if err != nil {
		return "", err
	}
	res, err := o.router.CallWithFallback(ctx, service.CallRequest{
		ExpertID: o.cfg.RetrievalExpert,
		Prompt:   prompt,
	})
	if err != nil {
		return "", err
	}
	return res.Response, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/events"
	"github.com/hugo-lorenzo-mato/switchboard/internal/logging"
)

// CallRequest is one delegation to an expert.
type CallRequest struct {
	ExpertID  string
	Prompt    string
	Context   string
	SkipCache bool
}

// CallResult is the outcome of CallWithFallback.
type CallResult struct {
	Response       string
	ToolCalls      []core.ToolCall
	ActualExpertID string
	Model          string
	FellBack       bool
	Cached         bool
	Latency        time.Duration
}

// ExpertStats counts calls routed to one expert.
type ExpertStats struct {
	Calls    int64 `json:"calls"`
	Failures int64 `json:"failures"`
}

// RouterStats aggregates routing counters.
type RouterStats struct {
	Calls          int64                  `json:"calls"`
	CacheHits      int64                  `json:"cache_hits"`
	Fallbacks      int64                  `json:"fallbacks"`
	RateLimitHits  int64                  `json:"rate_limit_hits"`
	GateRejections int64                  `json:"gate_rejections"`
	Failures       int64                  `json:"failures"`
	LastError      string                 `json:"last_error,omitempty"`
	LastErrorAt    *time.Time             `json:"last_error_at,omitempty"`
	ByExpert       map[string]ExpertStats `json:"by_expert"`
	Cache          CacheStats             `json:"cache"`
	RateLimited    []RateLimitRecord      `json:"rate_limited"`
}

// Router sends delegations to experts with caching, retry, rate-limit
// gating and fallback on capacity failures. Its tracker and cache are shared
// by every caller holding the same Router.
type Router struct {
	experts  *core.ExpertRegistry
	backends map[string]core.Backend
	tracker  *RateLimitTracker
	cache    *ResponseCache
	retry    *RetryPolicy
	metrics  Recorder
	emitter  events.Emitter
	logger   *logging.Logger
	clock    core.Clock

	mu    sync.Mutex
	stats RouterStats
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRetryPolicy sets the per-call retry policy.
func WithRetryPolicy(p *RetryPolicy) RouterOption {
	return func(r *Router) {
		if p != nil {
			r.retry = p
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(m Recorder) RouterOption {
	return func(r *Router) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithEmitter sets the hook emitter.
func WithEmitter(e events.Emitter) RouterOption {
	return func(r *Router) {
		if e != nil {
			r.emitter = e
		}
	}
}

// WithRouterLogger sets the logger.
func WithRouterLogger(l *logging.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRouterClock sets the clock used for latency and stats.
func WithRouterClock(c core.Clock) RouterOption {
	return func(r *Router) {
		if c != nil {
			r.clock = c
		}
	}
}

// NewRouter creates a router. backends is keyed by provider name. A nil
// tracker or cache gets a fresh default instance.
func NewRouter(experts *core.ExpertRegistry, backends map[string]core.Backend, tracker *RateLimitTracker, cache *ResponseCache, opts ...RouterOption) *Router {
	if tracker == nil {
		tracker = NewRateLimitTracker()
	}
	if cache == nil {
		cache = NewResponseCache(DefaultCacheSize, DefaultCacheTTL)
	}
	r := &Router{
		experts:  experts,
		backends: backends,
		tracker:  tracker,
		cache:    cache,
		retry:    DefaultRetryPolicy(),
		metrics:  NopMetrics(),
		emitter:  events.NopEmitter{},
		logger:   logging.NewNop(),
		clock:    core.SystemClock{},
		stats:    RouterStats{ByExpert: make(map[string]ExpertStats)},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Experts exposes the expert registry.
func (r *Router) Experts() *core.ExpertRegistry { return r.experts }

// Tracker exposes the shared rate-limit tracker.
func (r *Router) Tracker() *RateLimitTracker { return r.tracker }

// Cache exposes the shared response cache.
func (r *Router) Cache() *ResponseCache { return r.cache }

// Candidates returns the expert followed by its fallback chain, without
// duplicates.
func (r *Router) Candidates(expertID string) []string {
	seen := map[string]bool{expertID: true}
	out := []string{expertID}
	for _, id := range r.experts.Fallbacks(expertID) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// errGated marks a candidate skipped because its model is cooling down.
var errGated = errors.New("model is rate limited")

// CallWithFallback delegates req to its expert. Only rate-limit failures move
// on to the next fallback; every other error is returned immediately.
func (r *Router) CallWithFallback(ctx context.Context, req CallRequest) (*CallResult, error) {
	if _, ok := r.experts.Get(req.ExpertID); !ok {
		return nil, core.ErrValidation(core.CodeUnknownExpert, fmt.Sprintf("unknown expert: %s", req.ExpertID))
	}
	if req.Prompt == "" {
		return nil, core.ErrValidation(core.CodeEmptyPrompt, "prompt cannot be empty")
	}
	if len(req.Prompt) > core.MaxPromptLength {
		return nil, core.ErrValidation(core.CodePromptTooLong, fmt.Sprintf("prompt exceeds %d characters", core.MaxPromptLength))
	}

	start := r.clock.Now()
	r.bump(func(s *RouterStats) { s.Calls++ })

	candidates := r.Candidates(req.ExpertID)
	attempted := make([]string, 0, len(candidates))
	for i, id := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		expert, ok := r.experts.Get(id)
		if !ok {
			continue
		}
		attempted = append(attempted, id)

		if i > 0 {
			prev := candidates[i-1]
			r.metrics.IncFallback(prev, id)
			r.bump(func(s *RouterStats) { s.Fallbacks++ })
			r.emitter.Emit(ctx, r.event(events.KindExpertFallback, id).With("from", prev))
			r.logger.Info("falling back", "from", prev, "to", id)
		}

		res, err := r.callExpert(ctx, expert, req)
		if err == nil {
			res.ActualExpertID = id
			res.FellBack = i > 0
			res.Latency = r.clock.Now().Sub(start)
			return res, nil
		}
		if errors.Is(err, errGated) || core.IsRateLimit(err) {
			continue
		}

		r.recordFailure(id, err)
		return nil, err
	}

	err := core.ErrFallbackExhausted(attempted)
	r.recordFailure(req.ExpertID, err)
	return nil, err
}

// callExpert runs steps gate, cache, retry and store for a single expert.
func (r *Router) callExpert(ctx context.Context, expert core.Expert, req CallRequest) (*CallResult, error) {
	log := r.logger.WithExpert(expert.ID, expert.Model)

	if r.tracker.IsLimited(expert.Model) {
		r.metrics.IncRateLimited(expert.Model, "gate")
		r.bump(func(s *RouterStats) { s.GateRejections++ })
		log.Debug("skipping rate limited model", "remaining", r.tracker.Remaining(expert.Model))
		return nil, errGated
	}

	if !req.SkipCache {
		if entry, ok := r.cache.Get(expert.ID, req.Prompt, req.Context); ok {
			r.metrics.IncCache("hit")
			r.bump(func(s *RouterStats) { s.CacheHits++ })
			return &CallResult{Response: entry.Response, Model: entry.Model, Cached: true}, nil
		}
		r.metrics.IncCache("miss")
	}

	backend, ok := r.backends[expert.Provider]
	if !ok {
		return nil, core.ErrValidation(core.CodeBackendUnavailable, fmt.Sprintf("no backend for provider %s", expert.Provider))
	}

	r.emitter.Emit(ctx, r.event(events.KindExpertCall, expert.ID).With("model", expert.Model))
	chatReq := core.ChatRequest{
		Model:        expert.Model,
		SystemPrompt: expert.SystemPrompt,
		Prompt:       req.Prompt,
		Context:      req.Context,
		Temperature:  expert.Temperature,
		MaxTokens:    expert.MaxTokens,
		ToolChoice:   expert.ToolChoice,
	}

	notify := func(attempt int, err error, delay time.Duration) {
		log.Warn("expert call failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	resp, err := Do(ctx, r.retry, notify, func(ctx context.Context) (*core.ChatResponse, error) {
		began := r.clock.Now()
		resp, err := backend.Chat(ctx, chatReq)
		err = ClassifyCallError(expert.Model, err)
		r.metrics.ObserveCall(expert.ID, expert.Model, callOutcome(err), r.clock.Now().Sub(began))
		r.bumpExpert(expert.ID, err)
		return resp, err
	})
	if err != nil {
		if core.IsRateLimit(err) {
			rec := r.tracker.MarkLimited(expert.Model, core.RetryAfter(err))
			r.metrics.IncRateLimited(expert.Model, "response")
			r.bump(func(s *RouterStats) { s.RateLimitHits++ })
			r.emitter.Emit(ctx, r.event(events.KindRateLimited, expert.ID).
				With("model", expert.Model).
				With("retry_after", rec.RetryAfter.String()))
			log.Warn("expert rate limited", "retry_after", rec.RetryAfter)
		}
		return nil, err
	}
	if resp == nil {
		return nil, core.ErrTransient(core.CodeBackendFailed, "backend returned no response")
	}

	if !req.SkipCache {
		r.cache.Put(expert.ID, req.Prompt, req.Context, resp)
	}
	model := resp.Model
	if model == "" {
		model = expert.Model
	}
	return &CallResult{
		Response:  resp.Text,
		ToolCalls: resp.ToolCalls,
		Model:     model,
	}, nil
}

func callOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case core.IsRateLimit(err):
		return "rate_limited"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

func (r *Router) event(kind events.Kind, expertID string) events.Event {
	ev := events.New(kind)
	ev.Time = r.clock.Now()
	ev.ExpertID = expertID
	return ev
}

func (r *Router) bump(fn func(*RouterStats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

func (r *Router) bumpExpert(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	es := r.stats.ByExpert[id]
	es.Calls++
	if err != nil {
		es.Failures++
	}
	r.stats.ByExpert[id] = es
}

func (r *Router) recordFailure(expertID string, err error) {
	now := r.clock.Now()
	r.mu.Lock()
	r.stats.Failures++
	r.stats.LastError = fmt.Sprintf("%s: %v", expertID, err)
	r.stats.LastErrorAt = &now
	r.mu.Unlock()
}

// Stats returns a snapshot of routing counters, cache occupancy and active
// rate limits.
func (r *Router) Stats() RouterStats {
	r.mu.Lock()
	s := r.stats
	s.ByExpert = make(map[string]ExpertStats, len(r.stats.ByExpert))
	for k, v := range r.stats.ByExpert {
		s.ByExpert[k] = v
	}
	if r.stats.LastErrorAt != nil {
		t := *r.stats.LastErrorAt
		s.LastErrorAt = &t
	}
	r.mu.Unlock()

	s.Cache = r.cache.Stats()
	s.RateLimited = r.tracker.Snapshot()
	return s
}

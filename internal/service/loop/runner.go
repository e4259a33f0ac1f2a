// Package loop repeatedly sends one prompt to an expert until the response
// carries the completion promise or the iteration limit is reached.
package loop

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/logging"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service"
)

// Config holds loop defaults.
type Config struct {
	MaxIterations     int           `mapstructure:"max_iterations" yaml:"max_iterations" json:"max_iterations"`
	Delay             time.Duration `mapstructure:"delay" yaml:"delay" json:"delay"`
	CompletionPromise string        `mapstructure:"completion_promise" yaml:"completion_promise" json:"completion_promise"`
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     10,
		Delay:             2 * time.Second,
		CompletionPromise: "DONE",
	}
}

// maxCarryOver bounds the previous response text fed into the next prompt.
const maxCarryOver = 2000

// Caller delegates one prompt to an expert. *service.Router implements it.
type Caller interface {
	CallWithFallback(ctx context.Context, req service.CallRequest) (*service.CallResult, error)
}

// OutcomeKind categorizes how a run ended.
type OutcomeKind string

const (
	OutcomeCompleted     OutcomeKind = "completed"
	OutcomeMaxIterations OutcomeKind = "max_iterations"
	OutcomeCancelled     OutcomeKind = "cancelled"
)

// Outcome is the result of Run or Resume.
type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	Iterations int         `json:"iterations"`
	Response   string      `json:"response,omitempty"`
	LastError  string      `json:"last_error,omitempty"`
}

// Request starts a new loop. Zero fields take the configured defaults.
type Request struct {
	ExpertID          string
	Prompt            string
	MaxIterations     int
	CompletionPromise string
}

// Runner drives loops and persists their state after every iteration.
type Runner struct {
	cfg    Config
	caller Caller
	store  core.LoopStateStore
	logger *logging.Logger
	clock  core.Clock
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(c core.Clock) Option {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithSleep replaces the delay between iterations.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// NewRunner creates a loop runner.
func NewRunner(cfg Config, caller Caller, store core.LoopStateStore, opts ...Option) *Runner {
	def := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.CompletionPromise == "" {
		cfg.CompletionPromise = def.CompletionPromise
	}
	r := &Runner{
		cfg:    cfg,
		caller: caller,
		store:  store,
		logger: logging.NewNop(),
		clock:  core.SystemClock{},
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts a fresh loop, replacing any persisted state.
func (r *Runner) Run(ctx context.Context, req Request) (*Outcome, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, core.ErrValidation(core.CodeEmptyPrompt, "loop prompt cannot be empty")
	}
	if req.ExpertID == "" {
		return nil, core.ErrValidation(core.CodeUnknownExpert, "loop expert is required")
	}
	now := r.clock.Now()
	st := &core.LoopState{
		Active:            true,
		MaxIterations:     req.MaxIterations,
		CompletionPromise: req.CompletionPromise,
		Prompt:            req.Prompt,
		ExpertID:          req.ExpertID,
		StartedAt:         now,
		UpdatedAt:         now,
	}
	if st.MaxIterations <= 0 {
		st.MaxIterations = r.cfg.MaxIterations
	}
	if st.CompletionPromise == "" {
		st.CompletionPromise = r.cfg.CompletionPromise
	}
	if err := r.store.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("saving loop state: %w", err)
	}
	return r.drive(ctx, st)
}

// Resume continues the persisted loop. It fails when there is no active one.
func (r *Runner) Resume(ctx context.Context) (*Outcome, error) {
	st, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil || !st.Active {
		return nil, core.ErrNotFound("loop", "active")
	}
	return r.drive(ctx, st)
}

// Status returns the persisted state, or nil when there is none.
func (r *Runner) Status(ctx context.Context) (*core.LoopState, error) {
	return r.store.Load(ctx)
}

// Clear removes the persisted state.
func (r *Runner) Clear(ctx context.Context) error {
	return r.store.Clear(ctx)
}

func (r *Runner) drive(ctx context.Context, st *core.LoopState) (*Outcome, error) {
	log := r.logger.WithExpert(st.ExpertID, "").With("max_iterations", st.MaxIterations)

	for st.Iteration < st.MaxIterations {
		if st.Iteration > 0 {
			if err := r.sleep(ctx, r.cfg.Delay); err != nil {
				return r.stop(st, OutcomeCancelled)
			}
		}
		if ctx.Err() != nil {
			return r.stop(st, OutcomeCancelled)
		}

		st.Iteration++
		res, err := r.caller.CallWithFallback(ctx, service.CallRequest{
			ExpertID:  st.ExpertID,
			Prompt:    iterationPrompt(st),
			SkipCache: true,
		})
		st.UpdatedAt = r.clock.Now()
		if err != nil {
			if ctx.Err() != nil {
				st.Iteration--
				return r.stop(st, OutcomeCancelled)
			}
			st.LastError = err.Error()
			log.Warn("loop iteration failed", "iteration", st.Iteration, "error", err)
		} else {
			st.LastError = ""
			st.LastResponse = res.Response
			log.Info("loop iteration finished", "iteration", st.Iteration, "expert", res.ActualExpertID)
			if promiseKept(res.Response, st.CompletionPromise) {
				return r.stop(st, OutcomeCompleted)
			}
		}
		if err := r.store.Save(ctx, st); err != nil {
			return nil, fmt.Errorf("saving loop state: %w", err)
		}
	}
	return r.stop(st, OutcomeMaxIterations)
}

func (r *Runner) stop(st *core.LoopState, kind OutcomeKind) (*Outcome, error) {
	st.Active = kind == OutcomeCancelled
	st.UpdatedAt = r.clock.Now()
	// Persist even when the caller's context is gone.
	if err := r.store.Save(context.Background(), st); err != nil {
		return nil, fmt.Errorf("saving loop state: %w", err)
	}
	return &Outcome{
		Kind:       kind,
		Iterations: st.Iteration,
		Response:   st.LastResponse,
		LastError:  st.LastError,
	}, nil
}

func iterationPrompt(st *core.LoopState) string {
	var b strings.Builder
	b.WriteString(st.Prompt)
	fmt.Fprintf(&b, "\n\n---\nIteration %d of %d.", st.Iteration, st.MaxIterations)
	if st.LastResponse != "" {
		b.WriteString("\nYour previous answer ended with:\n")
		b.WriteString(tail(st.LastResponse, maxCarryOver))
	}
	if st.LastError != "" {
		b.WriteString("\nThe previous iteration failed: " + st.LastError)
	}
	fmt.Fprintf(&b, "\nWhen the task is fully complete, output <promise>%s</promise>.", st.CompletionPromise)
	return b.String()
}

// tail returns at most n trailing bytes of s without splitting a rune.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}

// promiseKept reports whether text carries the promise, either tagged or
// alone on a line.
func promiseKept(text, promise string) bool {
	if strings.Contains(text, "<promise>"+promise+"</promise>") {
		return true
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == promise {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

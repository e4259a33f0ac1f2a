// Package workflow drives a request through the phase state machine:
// Intent, Assessment, optional Exploration, Implementation, Verification,
// optional Recovery and Completion.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/switchboard/internal/control"
	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/events"
	"github.com/hugo-lorenzo-mato/switchboard/internal/logging"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service"
)

// Config holds orchestrator limits and timings.
type Config struct {
	MaxAttempts            int           `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	WorkflowTimeout        time.Duration `mapstructure:"workflow_timeout" yaml:"workflow_timeout" json:"workflow_timeout"`
	PhaseTimeout           time.Duration `mapstructure:"phase_timeout" yaml:"phase_timeout" json:"phase_timeout"`
	QuickPhaseTimeout      time.Duration `mapstructure:"quick_phase_timeout" yaml:"quick_phase_timeout" json:"quick_phase_timeout"`
	PollInterval           time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" json:"poll_interval"`
	MinStabilityTime       time.Duration `mapstructure:"min_stability_time" yaml:"min_stability_time" json:"min_stability_time"`
	StabilityPollsRequired int           `mapstructure:"stability_polls_required" yaml:"stability_polls_required" json:"stability_polls_required"`
	FinalWait              time.Duration `mapstructure:"final_wait" yaml:"final_wait" json:"final_wait"`
	RetrievalExpert        string        `mapstructure:"retrieval_expert" yaml:"retrieval_expert" json:"retrieval_expert"`
	ReviewExpert           string        `mapstructure:"review_expert" yaml:"review_expert" json:"review_expert"`
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:            3,
		WorkflowTimeout:        30 * time.Minute,
		PhaseTimeout:           10 * time.Minute,
		QuickPhaseTimeout:      30 * time.Second,
		PollInterval:           500 * time.Millisecond,
		MinStabilityTime:       2 * time.Second,
		StabilityPollsRequired: 3,
		FinalWait:              5 * time.Second,
		RetrievalExpert:        core.ExpertExplorer,
		ReviewExpert:           core.ExpertReviewer,
	}
}

// Overrides adjusts one execution. Zero fields keep the configured value.
type Overrides struct {
	MaxAttempts     int           `json:"max_attempts,omitempty"`
	WorkflowTimeout time.Duration `json:"workflow_timeout,omitempty"`
	PhaseTimeout    time.Duration `json:"phase_timeout,omitempty"`
}

func (c Config) apply(o Overrides) Config {
	if o.MaxAttempts > 0 {
		c.MaxAttempts = o.MaxAttempts
	}
	if o.WorkflowTimeout > 0 {
		c.WorkflowTimeout = o.WorkflowTimeout
	}
	if o.PhaseTimeout > 0 {
		c.PhaseTimeout = o.PhaseTimeout
	}
	return c
}

// Caller delegates one prompt to an expert. *service.Router implements it.
type Caller interface {
	CallWithFallback(ctx context.Context, req service.CallRequest) (*service.CallResult, error)
}

// Renderer formats every prompt the phases send. *service.PromptRenderer
// implements it.
type Renderer interface {
	core.BriefFormatter
	RenderAssessment(p service.AssessmentParams) (string, error)
	RenderExploration(p service.ExplorationParams) (string, error)
	RenderVerification(p service.VerificationParams) (string, error)
	RenderEscalation(p service.EscalationParams) (string, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Router  Caller
	Experts *core.ExpertRegistry
	Prompts Renderer
	Emitter events.Emitter
	Metrics service.Recorder
	Logger  *logging.Logger
	Clock   core.Clock
}

type phaseFunc func(ctx context.Context, w *core.WorkflowContext) (*core.PhaseResult, error)

// Orchestrator runs one workflow at a time.
type Orchestrator struct {
	cfg      Config
	router   Caller
	experts  *core.ExpertRegistry
	prompts  Renderer
	emitter  events.Emitter
	metrics  service.Recorder
	logger   *logging.Logger
	clock    core.Clock
	handlers map[core.Phase]phaseFunc

	mu      sync.RWMutex
	running bool
	control *control.ControlPlane
	current *core.WorkflowContext
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		router:  deps.Router,
		experts: deps.Experts,
		prompts: deps.Prompts,
		emitter: deps.Emitter,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		clock:   deps.Clock,
	}
	if o.emitter == nil {
		o.emitter = events.NopEmitter{}
	}
	if o.metrics == nil {
		o.metrics = service.NopMetrics()
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	if o.clock == nil {
		o.clock = core.SystemClock{}
	}
	o.handlers = map[core.Phase]phaseFunc{
		core.PhaseIntent:         o.runIntent,
		core.PhaseAssessment:     o.runAssessment,
		core.PhaseExploration:    o.runExploration,
		core.PhaseImplementation: o.runImplementation,
		core.PhaseVerification:   o.runVerification,
		core.PhaseRecovery:       o.runRecovery,
		core.PhaseCompletion:     o.runCompletion,
	}
	return o
}

// Cancel asks the running workflow to stop. The loop observes it before the
// next phase.
func (o *Orchestrator) Cancel() {
	o.mu.RLock()
	cp := o.control
	o.mu.RUnlock()
	if cp != nil {
		cp.Cancel()
	}
}

// Pause holds the running workflow before its next phase. It reports false
// when no workflow is running or it is already paused.
func (o *Orchestrator) Pause() bool {
	o.mu.RLock()
	cp, running := o.control, o.running
	o.mu.RUnlock()
	return running && cp != nil && cp.Pause()
}

// Resume releases a paused workflow.
func (o *Orchestrator) Resume() bool {
	o.mu.RLock()
	cp, running := o.control, o.running
	o.mu.RUnlock()
	return running && cp != nil && cp.Resume()
}

// ControlStatus reports the pause and cancel flags of the running or last
// workflow.
func (o *Orchestrator) ControlStatus() control.Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.control == nil {
		return control.Status{}
	}
	return o.control.Status()
}

// Context returns a snapshot of the current workflow context.
func (o *Orchestrator) Context() core.WorkflowContext {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current == nil {
		return core.WorkflowContext{}
	}
	return *o.current.Clone()
}

func (o *Orchestrator) commit(w *core.WorkflowContext) {
	o.mu.Lock()
	o.current = w
	o.mu.Unlock()
}

// ErrAlreadyRunning is reported when Execute is called while another
// workflow holds the orchestrator.
var ErrAlreadyRunning = core.ErrState(core.CodeAlreadyRunning, "orchestrator is already running a workflow")

// Execute runs request through the phase machine. It never returns an
// error: failures, cancellation and escalation are reported in the result.
func (o *Orchestrator) Execute(ctx context.Context, request string, overrides Overrides) *core.WorkflowResult {
	cfg := o.cfg.apply(overrides)
	start := o.clock.Now()
	id := uuid.NewString()
	w := core.NewWorkflowContext(id, request, cfg.MaxAttempts, start)

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return &core.WorkflowResult{ID: id, Error: ErrAlreadyRunning.Error(), Err: ErrAlreadyRunning}
	}
	o.running = true
	cp := control.New()
	o.control = cp
	o.current = w
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	ctx, cancel := cp.Bind(ctx)
	defer cancel()

	log := o.logger.WithWorkflow(id)
	result := &core.WorkflowResult{ID: id}

	if err := validateRequest(request); err != nil {
		result.Error = err.Error()
		return o.finish(result, w, start, "failed")
	}

	started := events.New(events.KindWorkflowStarted)
	started.WorkflowID = id
	if res := o.emitter.Emit(ctx, started.With("request_length", len(request))); res.Blocked() {
		result.Error = "blocked by hook: " + res.Reason
		return o.finish(result, w, start, "failed")
	}
	log.Info("workflow started", "max_attempts", cfg.MaxAttempts)

	phase := core.PhaseIntent
	completed := false
	for {
		if err := ctx.Err(); err != nil && !cp.Cancelled() {
			result.Error = fmt.Sprintf("workflow cancelled: %v", err)
			break
		}
		if err := cp.Checkpoint(ctx); err != nil {
			if core.IsCategory(err, core.ErrCatState) {
				result.Error = err.Error()
			} else {
				result.Error = fmt.Sprintf("workflow cancelled: %v", err)
			}
			break
		}
		if phase != core.PhaseCompletion && o.clock.Now().Sub(start) > cfg.WorkflowTimeout {
			log.Warn("workflow timeout exceeded, escalating", "timeout", cfg.WorkflowTimeout)
			w.Escalate(fmt.Sprintf("workflow timeout of %s exceeded", cfg.WorkflowTimeout))
		}
		if w.EscalationRequired {
			phase = core.PhaseCompletion
		}

		begin := o.clock.Now()
		res, next, err := o.runPhase(ctx, cfg, phase, w)
		result.PhasesExecuted = append(result.PhasesExecuted, phase)
		if err != nil {
			w.PhaseHistory = append(w.PhaseHistory, o.record(phase, begin, false, err))
			o.commit(w)
			if cp.Cancelled() || ctx.Err() != nil {
				result.Error = fmt.Sprintf("workflow cancelled during %s", phase)
				break
			}
			result.Error = fmt.Sprintf("%s phase failed: %v", phase, err)
			log.Error("phase failed", "phase", phase, "error", err)
			break
		}
		w = next
		w.PhaseHistory = append(w.PhaseHistory, o.record(phase, begin, res.Success, nil))
		o.commit(w)
		result.Output = res.Output

		if res.NextPhase == nil {
			completed = phase == core.PhaseCompletion
			break
		}
		phase = *res.NextPhase
	}

	result.Escalated = w.EscalationRequired
	result.Success = completed && !w.EscalationRequired && w.ImplementationAttempts < w.MaxAttempts
	outcome := "success"
	switch {
	case result.Escalated:
		outcome = "escalated"
	case !completed:
		outcome = "failed"
	case !result.Success:
		outcome = "exhausted"
	}
	return o.finish(result, w, start, outcome)
}

func (o *Orchestrator) finish(result *core.WorkflowResult, w *core.WorkflowContext, start time.Time, outcome string) *core.WorkflowResult {
	result.TotalTime = o.clock.Now().Sub(start)
	result.AttemptsMade = w.ImplementationAttempts
	o.metrics.ObserveWorkflow(outcome, result.TotalTime)

	ev := events.New(events.KindWorkflowCompleted)
	ev.Time = o.clock.Now()
	ev.WorkflowID = w.ID
	ev = ev.With("outcome", outcome).With("attempts", result.AttemptsMade)
	o.emitter.Emit(context.Background(), ev)

	o.logger.WithWorkflow(w.ID).Info("workflow finished",
		"outcome", outcome,
		"attempts", result.AttemptsMade,
		"phases", len(result.PhasesExecuted),
		"duration", result.TotalTime,
	)
	return result
}

func (o *Orchestrator) record(phase core.Phase, begin time.Time, success bool, err error) core.PhaseRecord {
	rec := core.PhaseRecord{Phase: phase, StartedAt: begin, EndedAt: o.clock.Now(), Success: success}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// runPhase executes one handler on a clone of w. The clone is returned only
// when the phase result was accepted; on error the caller keeps w.
func (o *Orchestrator) runPhase(ctx context.Context, cfg Config, phase core.Phase, w *core.WorkflowContext) (*core.PhaseResult, *core.WorkflowContext, error) {
	handler, ok := o.handlers[phase]
	if !ok {
		return nil, w, fmt.Errorf("no handler for phase %s", phase)
	}

	log := o.logger.WithWorkflow(w.ID).WithPhase(string(phase))
	begin := o.clock.Now()
	clone := w.Clone()

	ev := events.New(events.KindPhaseStarted)
	ev.Time = begin
	ev.WorkflowID = w.ID
	ev.Phase = phase
	o.emitter.Emit(ctx, ev)
	log.Debug("phase started")

	run := func(ctx context.Context) (*core.PhaseResult, error) {
		return safeRun(ctx, handler, clone)
	}

	var res *core.PhaseResult
	var err error
	if phase.IsQuick() {
		res, err = raceTimer(ctx, cfg.QuickPhaseTimeout, run)
	} else {
		res, err = pollUntilStable(ctx, stabilityFromConfig(cfg), run)
	}

	if err != nil && core.IsCategory(err, core.ErrCatTimeout) {
		res, clone, err = o.onPhaseTimeout(phase, w, err)
	}

	duration := o.clock.Now().Sub(begin)
	success := err == nil && res != nil && res.Success
	o.metrics.ObservePhase(string(phase), success, duration)

	done := events.New(events.KindPhaseCompleted)
	done.Time = o.clock.Now()
	done.WorkflowID = w.ID
	done.Phase = phase
	done = done.With("success", success).With("duration_ms", duration.Milliseconds())
	o.emitter.Emit(ctx, done)

	if err != nil {
		return nil, w, err
	}
	if res == nil {
		return nil, w, errors.New("phase returned no result")
	}
	res.Phase = phase
	log.Debug("phase completed", "success", res.Success, "next", nextName(res.NextPhase), "duration", duration)
	return res, clone, nil
}

// onPhaseTimeout turns a phase timeout into a result. Timed-out discovery
// phases degrade to Implementation; timed-out Implementation or Verification
// go to Recovery with the timeout as the last error. The attempt still
// counts so the loop stays bounded.
func (o *Orchestrator) onPhaseTimeout(phase core.Phase, w *core.WorkflowContext, err error) (*core.PhaseResult, *core.WorkflowContext, error) {
	next := w.Clone()
	switch phase {
	case core.PhaseAssessment, core.PhaseExploration:
		next.CodebaseContext = appendLine(next.CodebaseContext, fmt.Sprintf("(%s timed out)", phase))
		return &core.PhaseResult{Success: false, Output: err.Error(), NextPhase: core.PhasePtr(core.PhaseImplementation)}, next, nil
	case core.PhaseImplementation:
		next.ImplementationAttempts++
		next.LastError, next.LastFailure = err.Error(), core.FailureCall
		return &core.PhaseResult{Success: false, Output: err.Error(), NextPhase: core.PhasePtr(core.PhaseRecovery)}, next, nil
	case core.PhaseVerification:
		next.VerificationAttempts++
		next.LastError, next.LastFailure = err.Error(), core.FailureCall
		if next.AttemptsExhausted() {
			next.Escalate(fmt.Sprintf("verification timed out after %d attempts", next.ImplementationAttempts))
			return &core.PhaseResult{Success: false, Output: err.Error(), NextPhase: core.PhasePtr(core.PhaseCompletion)}, next, nil
		}
		return &core.PhaseResult{Success: false, Output: err.Error(), NextPhase: core.PhasePtr(core.PhaseRecovery)}, next, nil
	default:
		return nil, w, err
	}
}

// safeRun converts a handler panic into an error.
func safeRun(ctx context.Context, fn phaseFunc, w *core.WorkflowContext) (res *core.PhaseResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.ErrCritical(fmt.Sprintf("phase panicked: %v", r)).WithDetail("stack", string(debug.Stack()))
			res = nil
		}
	}()
	return fn(ctx, w)
}

func validateRequest(request string) error {
	if request == "" {
		return core.ErrValidation(core.CodeEmptyPrompt, "request cannot be empty")
	}
	if len(request) > core.MaxPromptLength {
		return core.ErrValidation(core.CodePromptTooLong, fmt.Sprintf("request exceeds %d characters", core.MaxPromptLength))
	}
	return nil
}

func nextName(p *core.Phase) string {
	if p == nil {
		return "none"
	}
	return string(*p)
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	return s + "\n" + line
}

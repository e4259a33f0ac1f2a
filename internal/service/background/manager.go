// Package background runs expert calls asynchronously under per-model and
// per-provider concurrency limits, queuing work that cannot start yet.
package background

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/events"
	"github.com/hugo-lorenzo-mato/switchboard/internal/logging"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service"
)

// DefaultLimit applies to models and providers without an explicit limit.
const DefaultLimit = 5

// ErrManagerClosed is returned by Start after Shutdown.
var ErrManagerClosed = errors.New("background manager is shut down")

// Caller delegates one prompt to an expert. *service.Router implements it.
type Caller interface {
	CallWithFallback(ctx context.Context, req service.CallRequest) (*service.CallResult, error)
}

// TaskStore persists terminal tasks.
type TaskStore interface {
	SaveTask(ctx context.Context, task *core.BackgroundTask) error
}

// Limits bounds concurrent running tasks.
type Limits struct {
	DefaultLimit   int            `mapstructure:"default_limit" yaml:"default_limit" json:"default_limit"`
	ModelLimits    map[string]int `mapstructure:"model_limits" yaml:"model_limits" json:"model_limits"`
	ProviderLimits map[string]int `mapstructure:"provider_limits" yaml:"provider_limits" json:"provider_limits"`
}

func (l Limits) model(m string) int {
	if n, ok := l.ModelLimits[m]; ok && n > 0 {
		return n
	}
	return l.fallback()
}

func (l Limits) provider(p string) int {
	if n, ok := l.ProviderLimits[p]; ok && n > 0 {
		return n
	}
	return l.fallback()
}

func (l Limits) fallback() int {
	if l.DefaultLimit > 0 {
		return l.DefaultLimit
	}
	return DefaultLimit
}

// StartRequest submits one task. TaskID is optional.
type StartRequest struct {
	ExpertID string `json:"expert_id"`
	Prompt   string `json:"prompt"`
	Context  string `json:"context,omitempty"`
	TaskID   string `json:"task_id,omitempty"`
}

// ListFilter narrows List. Zero fields match everything.
type ListFilter struct {
	Status   core.TaskStatus
	ExpertID string
}

// Stats summarizes the manager state.
type Stats struct {
	Total             int                     `json:"total"`
	ByStatus          map[core.TaskStatus]int `json:"by_status"`
	Queued            int                     `json:"queued"`
	RunningByModel    map[string]int          `json:"running_by_model"`
	RunningByProvider map[string]int          `json:"running_by_provider"`
}

type taskEntry struct {
	task    *core.BackgroundTask
	cancel  context.CancelFunc
	done    chan struct{}
	settled bool
}

// Manager admits, queues and drains background tasks. Counter updates and
// queue draining happen under a single mutex so no model or provider can be
// admitted past its limit.
type Manager struct {
	experts *core.ExpertRegistry
	caller  Caller
	limits  Limits
	store   TaskStore
	emitter events.Emitter
	metrics service.Recorder
	logger  *logging.Logger
	clock   core.Clock

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu                sync.Mutex
	tasks             map[string]*taskEntry
	order             []string
	pending           []string
	runningByModel    map[string]int
	runningByProvider map[string]int
	closed            bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore persists terminal tasks to s.
func WithStore(s TaskStore) Option {
	return func(m *Manager) { m.store = s }
}

// WithEmitter sets the hook emitter.
func WithEmitter(e events.Emitter) Option {
	return func(m *Manager) {
		if e != nil {
			m.emitter = e
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r service.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.metrics = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock sets the clock used for task timestamps.
func WithClock(c core.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// NewManager creates a manager dispatching through caller.
func NewManager(experts *core.ExpertRegistry, caller Caller, limits Limits, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		experts:           experts,
		caller:            caller,
		limits:            limits,
		emitter:           events.NopEmitter{},
		metrics:           service.NopMetrics(),
		logger:            logging.NewNop(),
		clock:             core.SystemClock{},
		baseCtx:           ctx,
		baseCancel:        cancel,
		tasks:             make(map[string]*taskEntry),
		runningByModel:    make(map[string]int),
		runningByProvider: make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CanStart reports whether a task for model would be admitted right now.
func (m *Manager) CanStart(model string) bool {
	provider := ""
	for _, id := range m.experts.IDs() {
		if e, _ := m.experts.Get(id); e.Model == model {
			provider = e.Provider
			break
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canStartLocked(model, provider)
}

func (m *Manager) canStartLocked(model, provider string) bool {
	if m.runningByModel[model] >= m.limits.model(model) {
		return false
	}
	if provider != "" && m.runningByProvider[provider] >= m.limits.provider(provider) {
		return false
	}
	return true
}

// Start creates a task and runs it if admission allows, otherwise queues it.
// The returned task is a snapshot.
func (m *Manager) Start(_ context.Context, req StartRequest) (*core.BackgroundTask, error) {
	expert, ok := m.experts.Get(req.ExpertID)
	if !ok {
		return nil, core.ErrValidation(core.CodeUnknownExpert, fmt.Sprintf("unknown expert: %s", req.ExpertID))
	}
	if req.Prompt == "" {
		return nil, core.ErrValidation(core.CodeEmptyPrompt, "prompt cannot be empty")
	}
	id := req.TaskID
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if _, exists := m.tasks[id]; exists {
		m.mu.Unlock()
		return nil, core.ErrValidation(core.CodeInvalidInput, fmt.Sprintf("task %s already exists", id))
	}

	e := &taskEntry{
		task: core.NewBackgroundTask(id, expert, req.Prompt, req.Context, m.clock.Now()),
		done: make(chan struct{}),
	}
	m.tasks[id] = e
	m.order = append(m.order, id)

	changed := []*core.BackgroundTask{e.task.Clone()}
	if m.canStartLocked(expert.Model, expert.Provider) {
		m.admitLocked(e)
		changed = append(changed, e.task.Clone())
	} else {
		m.pending = append(m.pending, id)
		m.logger.Debug("task queued", "task_id", id, "model", expert.Model, "queued", len(m.pending))
	}
	snapshot := e.task.Clone()
	gauges := m.gaugesLocked(expert.Model)
	m.mu.Unlock()

	m.publish(changed, gauges)
	return snapshot, nil
}

// admitLocked moves e to running, increments both counters and launches the
// call. Caller holds m.mu.
func (m *Manager) admitLocked(e *taskEntry) {
	t := e.task
	_ = t.MarkRunning(m.clock.Now())
	m.runningByModel[t.Model]++
	m.runningByProvider[t.Provider]++

	ctx, cancel := context.WithCancel(m.baseCtx)
	e.cancel = cancel

	req := service.CallRequest{ExpertID: t.ExpertID, Prompt: t.Prompt, Context: t.Context}
	m.wg.Add(1)
	go func(id string) {
		defer m.wg.Done()
		defer cancel()
		res, err := m.caller.CallWithFallback(ctx, req)
		m.finish(id, res, err)
	}(t.ID)
}

// finish settles a task after its call returned.
func (m *Manager) finish(id string, res *service.CallResult, err error) {
	m.mu.Lock()
	e := m.tasks[id]
	if e == nil || e.settled {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	switch {
	case err != nil:
		_ = e.task.MarkFailed(err, now)
	case res == nil:
		_ = e.task.MarkFailed(errors.New("no result"), now)
	default:
		_ = e.task.MarkCompleted(res.Response, res.ActualExpertID, now)
	}
	changed, gauges := m.settleLocked(e, true)
	m.mu.Unlock()

	m.publish(changed, gauges)
}

// settleLocked runs exactly once per task: it releases counters when the
// task held them, then drains the queue front to back while admission
// allows. It returns the tasks whose state changed and the running gauges to
// export.
func (m *Manager) settleLocked(e *taskEntry, wasRunning bool) ([]*core.BackgroundTask, map[string]int) {
	e.settled = true
	close(e.done)
	t := e.task
	changed := []*core.BackgroundTask{t.Clone()}
	touched := map[string]bool{t.Model: true}

	if wasRunning {
		m.runningByModel[t.Model]--
		if m.runningByModel[t.Model] <= 0 {
			delete(m.runningByModel, t.Model)
		}
		m.runningByProvider[t.Provider]--
		if m.runningByProvider[t.Provider] <= 0 {
			delete(m.runningByProvider, t.Provider)
		}
	}

	if !m.closed {
		kept := m.pending[:0]
		for _, id := range m.pending {
			next := m.tasks[id]
			if m.canStartLocked(next.task.Model, next.task.Provider) {
				m.admitLocked(next)
				changed = append(changed, next.task.Clone())
				touched[next.task.Model] = true
				continue
			}
			kept = append(kept, id)
		}
		m.pending = kept
	}

	gauges := make(map[string]int, len(touched))
	for model := range touched {
		gauges[model] = m.runningByModel[model]
	}
	return changed, gauges
}

func (m *Manager) gaugesLocked(model string) map[string]int {
	return map[string]int{model: m.runningByModel[model]}
}

// Cancel stops a pending or running task. A running task's context is
// cancelled and its counters are released immediately; a late result from
// the call is discarded.
func (m *Manager) Cancel(id string) (*core.BackgroundTask, error) {
	m.mu.Lock()
	e, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return nil, core.ErrNotFound("task", id)
	}
	changed, gauges, err := m.cancelLocked(e)
	snapshot := e.task.Clone()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.publish(changed, gauges)
	return snapshot, nil
}

func (m *Manager) cancelLocked(e *taskEntry) ([]*core.BackgroundTask, map[string]int, error) {
	wasRunning := e.task.Status == core.TaskStatusRunning
	if err := e.task.MarkCancelled(m.clock.Now()); err != nil {
		return nil, nil, err
	}
	if !wasRunning {
		for i, id := range m.pending {
			if id == e.task.ID {
				m.pending = append(m.pending[:i], m.pending[i+1:]...)
				break
			}
		}
	}
	if e.cancel != nil {
		e.cancel()
	}
	changed, gauges := m.settleLocked(e, wasRunning)
	return changed, gauges, nil
}

// Get returns a snapshot of one task.
func (m *Manager) Get(id string) (*core.BackgroundTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[id]
	if !ok {
		return nil, core.ErrNotFound("task", id)
	}
	return e.task.Clone(), nil
}

// List returns task snapshots in submission order.
func (m *Manager) List(filter ListFilter) []*core.BackgroundTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.BackgroundTask, 0, len(m.order))
	for _, id := range m.order {
		t := m.tasks[id].task
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.ExpertID != "" && t.ExpertID != filter.ExpertID {
			continue
		}
		out = append(out, t.Clone())
	}
	return out
}

// Wait blocks until the task is terminal or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (*core.BackgroundTask, error) {
	m.mu.Lock()
	e, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return nil, core.ErrNotFound("task", id)
	}
	select {
	case <-e.done:
		return m.Get(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns counts per status and current running counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Total:             len(m.tasks),
		ByStatus:          make(map[core.TaskStatus]int),
		Queued:            len(m.pending),
		RunningByModel:    make(map[string]int, len(m.runningByModel)),
		RunningByProvider: make(map[string]int, len(m.runningByProvider)),
	}
	for _, e := range m.tasks {
		s.ByStatus[e.task.Status]++
	}
	for k, v := range m.runningByModel {
		s.RunningByModel[k] = v
	}
	for k, v := range m.runningByProvider {
		s.RunningByProvider[k] = v
	}
	return s
}

// Shutdown refuses new work, cancels every live task and waits for running
// calls to return or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	var changed []*core.BackgroundTask
	gauges := make(map[string]int)
	for _, id := range m.order {
		e := m.tasks[id]
		if e.task.Status.IsTerminal() {
			continue
		}
		c, g, err := m.cancelLocked(e)
		if err != nil {
			continue
		}
		changed = append(changed, c...)
		for k, v := range g {
			gauges[k] = v
		}
	}
	m.mu.Unlock()
	m.publish(changed, gauges)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.baseCancel()
		return nil
	case <-ctx.Done():
		m.baseCancel()
		return ctx.Err()
	}
}

// publish emits state changes, persists terminal tasks and exports gauges.
// It runs outside the lock.
func (m *Manager) publish(changed []*core.BackgroundTask, gauges map[string]int) {
	for model, n := range gauges {
		m.metrics.SetRunning(model, n)
	}
	for _, t := range changed {
		ev := events.New(events.KindTaskStateChanged)
		ev.Time = m.clock.Now()
		ev.TaskID = t.ID
		ev.ExpertID = t.ExpertID
		ev = ev.With("status", string(t.Status)).With("model", t.Model)
		m.emitter.Emit(context.Background(), ev)

		m.logger.Debug("task state changed", "task_id", t.ID, "status", t.Status, "model", t.Model)
		if t.Status.IsTerminal() && m.store != nil {
			if err := m.store.SaveTask(context.Background(), t); err != nil {
				m.logger.Warn("persisting task failed", "task_id", t.ID, "error", err)
			}
		}
	}
}

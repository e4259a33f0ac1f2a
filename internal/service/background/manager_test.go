package background

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service"
)

// gatedCaller blocks each call until its prompt's gate is released and
// tracks concurrency per model and provider.
type gatedCaller struct {
	experts *core.ExpertRegistry

	mu          sync.Mutex
	gates       map[string]chan struct{}
	started     []string
	byModel     map[string]int
	byProvider  map[string]int
	peakModel   map[string]int
	peakProv    map[string]int
	fail        map[string]error
	autoRelease bool
}

func newGatedCaller(experts *core.ExpertRegistry) *gatedCaller {
	return &gatedCaller{
		experts:    experts,
		gates:      make(map[string]chan struct{}),
		byModel:    make(map[string]int),
		byProvider: make(map[string]int),
		peakModel:  make(map[string]int),
		peakProv:   make(map[string]int),
		fail:       make(map[string]error),
	}
}

func (c *gatedCaller) gate(prompt string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.gates[prompt]
	if !ok {
		g = make(chan struct{})
		c.gates[prompt] = g
	}
	return g
}

func (c *gatedCaller) release(prompt string) { close(c.gate(prompt)) }

func (c *gatedCaller) startedPrompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.started...)
}

func (c *gatedCaller) CallWithFallback(ctx context.Context, req service.CallRequest) (*service.CallResult, error) {
	e, _ := c.experts.Get(req.ExpertID)
	c.mu.Lock()
	c.started = append(c.started, req.Prompt)
	c.byModel[e.Model]++
	c.byProvider[e.Provider]++
	if c.byModel[e.Model] > c.peakModel[e.Model] {
		c.peakModel[e.Model] = c.byModel[e.Model]
	}
	if c.byProvider[e.Provider] > c.peakProv[e.Provider] {
		c.peakProv[e.Provider] = c.byProvider[e.Provider]
	}
	auto := c.autoRelease
	failErr := c.fail[req.Prompt]
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.byModel[e.Model]--
		c.byProvider[e.Provider]--
		c.mu.Unlock()
	}()

	if auto {
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
	} else {
		select {
		case <-c.gate(req.Prompt):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	return &service.CallResult{Response: "done: " + req.Prompt, ActualExpertID: req.ExpertID}, nil
}

func testExperts(t *testing.T) *core.ExpertRegistry {
	t.Helper()
	reg, err := core.NewExpertRegistry([]core.Expert{
		{ID: "a1", Provider: "p", Model: "m1"},
		{ID: "a2", Provider: "p", Model: "m2"},
		{ID: "b1", Provider: "q", Model: "m3"},
	}, nil)
	require.NoError(t, err)
	return reg
}

func waitStatus(t *testing.T, m *Manager, id string, want core.TaskStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		task, err := m.Get(id)
		return err == nil && task.Status == want
	}, 2*time.Second, 5*time.Millisecond, "task %s never reached %s", id, want)
}

func TestManager_QueuedTaskStartsAfterSettle(t *testing.T) {
	experts := testExperts(t)
	caller := newGatedCaller(experts)
	m := NewManager(experts, caller, Limits{ModelLimits: map[string]int{"m1": 1}})
	ctx := context.Background()

	first, err := m.Start(ctx, StartRequest{ExpertID: "a1", Prompt: "one", TaskID: "t1"})
	require.NoError(t, err)
	second, err := m.Start(ctx, StartRequest{ExpertID: "a1", Prompt: "two", TaskID: "t2"})
	require.NoError(t, err)

	assert.Equal(t, core.TaskStatusRunning, first.Status)
	assert.Equal(t, core.TaskStatusPending, second.Status)
	assert.False(t, m.CanStart("m1"))

	caller.release("one")
	done, err := m.Wait(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusCompleted, done.Status)
	assert.Equal(t, "done: one", done.Result)

	waitStatus(t, m, "t2", core.TaskStatusRunning)
	caller.release("two")
	done, err = m.Wait(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusCompleted, done.Status)
	assert.Empty(t, m.Stats().RunningByModel)
}

func TestManager_FIFOPerModel(t *testing.T) {
	experts := testExperts(t)
	caller := newGatedCaller(experts)
	m := NewManager(experts, caller, Limits{ModelLimits: map[string]int{"m1": 1}})
	ctx := context.Background()

	prompts := []string{"p0", "p1", "p2", "p3"}
	for _, p := range prompts {
		_, err := m.Start(ctx, StartRequest{ExpertID: "a1", Prompt: p, TaskID: p})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, m.Stats().Queued)

	for i, p := range prompts {
		require.Eventually(t, func() bool { return len(caller.startedPrompts()) == i+1 }, time.Second, 5*time.Millisecond)
		caller.release(p)
		_, err := m.Wait(ctx, p)
		require.NoError(t, err)
	}
	assert.Equal(t, prompts, caller.startedPrompts())
}

func TestManager_ProviderLimitSpansModels(t *testing.T) {
	experts := testExperts(t)
	caller := newGatedCaller(experts)
	m := NewManager(experts, caller, Limits{DefaultLimit: 5, ProviderLimits: map[string]int{"p": 1}})
	ctx := context.Background()

	a, err := m.Start(ctx, StartRequest{ExpertID: "a1", Prompt: "a"})
	require.NoError(t, err)
	b, err := m.Start(ctx, StartRequest{ExpertID: "a2", Prompt: "b"})
	require.NoError(t, err)
	c, err := m.Start(ctx, StartRequest{ExpertID: "b1", Prompt: "c"})
	require.NoError(t, err)

	assert.Equal(t, core.TaskStatusRunning, a.Status)
	assert.Equal(t, core.TaskStatusPending, b.Status, "m2 shares provider p with m1")
	assert.Equal(t, core.TaskStatusRunning, c.Status, "provider q is independent")

	caller.release("a")
	caller.release("b")
	caller.release("c")
	for _, id := range []string{a.ID, b.ID, c.ID} {
		task, err := m.Wait(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, core.TaskStatusCompleted, task.Status)
	}
}

func TestManager_AdmissionInvariantUnderConcurrency(t *testing.T) {
	experts := testExperts(t)
	caller := newGatedCaller(experts)
	caller.autoRelease = true
	limits := Limits{
		DefaultLimit:   3,
		ModelLimits:    map[string]int{"m1": 2, "m2": 1},
		ProviderLimits: map[string]int{"p": 2, "q": 3},
	}
	m := NewManager(experts, caller, limits)
	ctx := context.Background()

	ids := make(chan string, 60)
	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			expert := []string{"a1", "a2", "b1"}[i%3]
			task, err := m.Start(ctx, StartRequest{ExpertID: expert, Prompt: fmt.Sprintf("job-%d", i)})
			if err == nil {
				ids <- task.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	for id := range ids {
		task, err := m.Wait(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, core.TaskStatusCompleted, task.Status)
	}

	caller.mu.Lock()
	defer caller.mu.Unlock()
	assert.LessOrEqual(t, caller.peakModel["m1"], 2)
	assert.LessOrEqual(t, caller.peakModel["m2"], 1)
	assert.LessOrEqual(t, caller.peakModel["m3"], 3)
	assert.LessOrEqual(t, caller.peakProv["p"], 2)
	assert.LessOrEqual(t, caller.peakProv["q"], 3)
	assert.Equal(t, 60, m.Stats().ByStatus[core.TaskStatusCompleted])
	assert.Empty(t, m.Stats().RunningByProvider)
}

func TestManager_Cancel(t *testing.T) {
	experts := testExperts(t)
	caller := newGatedCaller(experts)
	m := NewManager(experts, caller, Limits{ModelLimits: map[string]int{"m1": 1}})
	ctx := context.Background()

	_, err := m.Start(ctx, StartRequest{ExpertID: "a1", Prompt: "run", TaskID: "running"})
	require.NoError(t, err)
	_, err = m.Start(ctx, StartRequest{ExpertID: "a1", Prompt: "wait", TaskID: "queued"})
	require.NoError(t, err)
	_, err = m.Start(ctx, StartRequest{ExpertID: "a1", Prompt: "later", TaskID: "third"})
	require.NoError(t, err)

	cancelled, err := m.Cancel("queued")
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusCancelled, cancelled.Status)
	assert.Equal(t, 1, m.Stats().Queued)

	cancelled, err = m.Cancel("running")
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusCancelled, cancelled.Status)
	waitStatus(t, m, "third", core.TaskStatusRunning)
	assert.Equal(t, 1, m.Stats().RunningByModel["m1"], "counters are released exactly once")

	_, err = m.Cancel("running")
	assert.True(t, core.IsCategory(err, core.ErrCatState), "terminal tasks cannot be cancelled")
	_, err = m.Cancel("ghost")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))

	caller.release("later")
	_, err = m.Wait(ctx, "third")
	require.NoError(t, err)
	assert.NotContains(t, caller.startedPrompts(), "wait")
}

type memStore struct {
	mu    sync.Mutex
	saved []*core.BackgroundTask
}

func (s *memStore) SaveTask(_ context.Context, t *core.BackgroundTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, t)
	return nil
}

func TestManager_FailurePersists(t *testing.T) {
	experts := testExperts(t)
	caller := newGatedCaller(experts)
	caller.fail["bad"] = errors.New("backend exploded")
	store := &memStore{}
	m := NewManager(experts, caller, Limits{}, WithStore(store))
	ctx := context.Background()

	task, err := m.Start(ctx, StartRequest{ExpertID: "b1", Prompt: "bad"})
	require.NoError(t, err)
	caller.release("bad")
	task, err = m.Wait(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFailed, task.Status)
	assert.Equal(t, "backend exploded", task.Error)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.saved, 1)
	assert.Equal(t, core.TaskStatusFailed, store.saved[0].Status)
}

func TestManager_StartValidation(t *testing.T) {
	experts := testExperts(t)
	m := NewManager(experts, newGatedCaller(experts), Limits{})
	ctx := context.Background()

	_, err := m.Start(ctx, StartRequest{ExpertID: "nobody", Prompt: "x"})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
	_, err = m.Start(ctx, StartRequest{ExpertID: "a1"})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestManager_Shutdown(t *testing.T) {
	experts := testExperts(t)
	caller := newGatedCaller(experts)
	m := NewManager(experts, caller, Limits{ModelLimits: map[string]int{"m1": 1}})
	ctx := context.Background()

	_, err := m.Start(ctx, StartRequest{ExpertID: "a1", Prompt: "x", TaskID: "x"})
	require.NoError(t, err)
	_, err = m.Start(ctx, StartRequest{ExpertID: "a1", Prompt: "y", TaskID: "y"})
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(shutdownCtx))

	for _, id := range []string{"x", "y"} {
		task, err := m.Get(id)
		require.NoError(t, err)
		assert.Equal(t, core.TaskStatusCancelled, task.Status)
	}
	_, err = m.Start(ctx, StartRequest{ExpertID: "a1", Prompt: "z"})
	assert.ErrorIs(t, err, ErrManagerClosed)

	list := m.List(ListFilter{Status: core.TaskStatusCancelled})
	assert.Len(t, list, 2)
}

package loop

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/switchboard/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service"
)

type scriptedCaller struct {
	mu      sync.Mutex
	replies []string
	errs    map[int]error
	prompts []string
	onCall  func(n int)
}

func (c *scriptedCaller) CallWithFallback(_ context.Context, req service.CallRequest) (*service.CallResult, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, req.Prompt)
	n := len(c.prompts)
	onCall := c.onCall
	c.mu.Unlock()
	if onCall != nil {
		onCall(n)
	}
	if err := c.errs[n]; err != nil {
		return nil, err
	}
	reply := c.replies[len(c.replies)-1]
	if n <= len(c.replies) {
		reply = c.replies[n-1]
	}
	return &service.CallResult{Response: reply, ActualExpertID: req.ExpertID}, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func newRunner(t *testing.T, caller Caller, cfg Config) (*Runner, *state.LoopFile) {
	t.Helper()
	store := state.NewLoopFile(filepath.Join(t.TempDir(), "loop.json"))
	return NewRunner(cfg, caller, store, WithSleep(noSleep)), store
}

func TestRun_StopsWhenPromiseKept(t *testing.T) {
	caller := &scriptedCaller{replies: []string{"working on it", "still going", "all set <promise>DONE</promise>"}}
	r, store := newRunner(t, caller, Config{MaxIterations: 5})

	out, err := r.Run(context.Background(), Request{ExpertID: "engineer", Prompt: "fix the tests"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.Kind)
	assert.Equal(t, 3, out.Iterations)
	assert.Contains(t, out.Response, "all set")

	st, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.False(t, st.Active)
	assert.Equal(t, 3, st.Iteration)

	require.Len(t, caller.prompts, 3)
	assert.Contains(t, caller.prompts[0], "Iteration 1 of 5")
	assert.Contains(t, caller.prompts[1], "working on it", "previous answer is carried over")
	assert.Contains(t, caller.prompts[2], "<promise>DONE</promise>")
}

func TestRun_MaxIterations(t *testing.T) {
	caller := &scriptedCaller{replies: []string{"not yet"}}
	r, _ := newRunner(t, caller, Config{MaxIterations: 3})

	out, err := r.Run(context.Background(), Request{ExpertID: "engineer", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeMaxIterations, out.Kind)
	assert.Equal(t, 3, out.Iterations)
	assert.Len(t, caller.prompts, 3)
}

func TestRun_RequestOverridesDefaults(t *testing.T) {
	caller := &scriptedCaller{replies: []string{"x", "SHIPPED"}}
	r, _ := newRunner(t, caller, Config{MaxIterations: 1})

	out, err := r.Run(context.Background(), Request{
		ExpertID: "engineer", Prompt: "p", MaxIterations: 4, CompletionPromise: "SHIPPED",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.Kind, "a bare promise line counts")
	assert.Equal(t, 2, out.Iterations)
}

func TestRun_ErrorsConsumeIterationAndContinue(t *testing.T) {
	caller := &scriptedCaller{
		replies: []string{"ignored", "<promise>DONE</promise>"},
		errs:    map[int]error{1: errors.New("upstream exploded")},
	}
	r, _ := newRunner(t, caller, Config{MaxIterations: 3})

	out, err := r.Run(context.Background(), Request{ExpertID: "engineer", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.Kind)
	assert.Equal(t, 2, out.Iterations)
	assert.Empty(t, out.LastError, "a success clears the last error")
	assert.Contains(t, caller.prompts[1], "upstream exploded")
}

func TestRun_Validation(t *testing.T) {
	r, _ := newRunner(t, &scriptedCaller{replies: []string{"x"}}, Config{})

	_, err := r.Run(context.Background(), Request{ExpertID: "engineer", Prompt: "  "})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))

	_, err = r.Run(context.Background(), Request{Prompt: "p"})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestRun_CancelKeepsStateResumable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	caller := &scriptedCaller{replies: []string{"not yet"}}
	caller.onCall = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	r, store := newRunner(t, caller, Config{MaxIterations: 5})

	out, err := r.Run(ctx, Request{ExpertID: "engineer", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, out.Kind)

	st, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.Active)

	caller.onCall = nil
	caller.replies = []string{"<promise>DONE</promise>"}
	out, err = r.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.Kind)
	assert.Greater(t, out.Iterations, st.Iteration)
}

func TestResume_WithoutActiveLoop(t *testing.T) {
	r, _ := newRunner(t, &scriptedCaller{replies: []string{"x"}}, Config{})
	_, err := r.Resume(context.Background())
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestStatusAndClear(t *testing.T) {
	ctx := context.Background()
	r, _ := newRunner(t, &scriptedCaller{replies: []string{"DONE"}}, Config{})

	st, err := r.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = r.Run(ctx, Request{ExpertID: "engineer", Prompt: "p"})
	require.NoError(t, err)
	st, err = r.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "engineer", st.ExpertID)

	require.NoError(t, r.Clear(ctx))
	st, err = r.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestIterationPrompt_TruncatesCarryOver(t *testing.T) {
	st := &core.LoopState{
		Prompt: "p", Iteration: 2, MaxIterations: 3, CompletionPromise: "DONE",
		LastResponse: strings.Repeat("a", maxCarryOver) + "TAIL",
	}
	got := iterationPrompt(st)
	assert.Contains(t, got, "TAIL")
	assert.Less(t, len(got), maxCarryOver+300)
}

func TestIterationPrompt_CarryOverKeepsRunesWhole(t *testing.T) {
	st := &core.LoopState{
		Prompt: "p", Iteration: 2, MaxIterations: 3, CompletionPromise: "DONE",
		LastResponse: strings.Repeat("é", maxCarryOver) + "x",
	}
	got := iterationPrompt(st)
	assert.True(t, utf8.ValidString(got))
	assert.Contains(t, got, "éx")
}

func TestTail(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "def"},
		{"日本語", 4, "語"},
		{"日本語", 6, "本語"},
		{"日本語", 2, ""},
	}
	for _, tt := range tests {
		got := tail(tt.in, tt.n)
		assert.Equal(t, tt.want, got, "%q/%d", tt.in, tt.n)
		assert.True(t, utf8.ValidString(got))
	}
}

func TestPromiseKept(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"done <promise>DONE</promise>", true},
		{"work\n  DONE  \n", true},
		{"not DONE yet", false},
		{"<promise>done</promise>", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, promiseKept(tt.text, "DONE"), tt.text)
	}
}

func TestSleepCtx(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, sleepCtx(ctx, time.Hour))
	assert.NoError(t, sleepCtx(context.Background(), time.Millisecond))
}

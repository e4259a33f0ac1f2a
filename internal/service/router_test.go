package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/events"
	"github.com/hugo-lorenzo-mato/switchboard/internal/testutil"
)

// newTestRouter wires three experts on one mock backend:
// primary(model-a) -> fallback1(model-b) -> fallback2(model-c).
func newTestRouter(t *testing.T, opts ...RouterOption) (*Router, *testutil.MockBackend) {
	t.Helper()
	experts := []core.Expert{
		{ID: "primary", Provider: "mock", Model: "model-a"},
		{ID: "fallback1", Provider: "mock", Model: "model-b"},
		{ID: "fallback2", Provider: "mock", Model: "model-c"},
		{ID: "solo", Provider: "mock", Model: "model-d"},
	}
	chains := core.FallbackChains{"primary": {"fallback1", "fallback2"}}
	reg, err := core.NewExpertRegistry(experts, chains)
	require.NoError(t, err)

	backend := testutil.NewMockBackend("mock")
	noSleep := NewRetryPolicy(WithMaxRetries(2), WithSleep(func(context.Context, time.Duration) error { return nil }))
	opts = append([]RouterOption{WithRetryPolicy(noSleep)}, opts...)
	r := NewRouter(reg, map[string]core.Backend{"mock": backend}, NewRateLimitTracker(), NewResponseCache(16, time.Minute), opts...)
	return r, backend
}

var errTooMany = errors.New("429 Too Many Requests")

func TestRouter_FallsBackOnRateLimit(t *testing.T) {
	r, backend := newTestRouter(t)
	backend.OnModel("model-a", testutil.Fail(errTooMany))
	backend.OnModel("model-b", testutil.Reply("from fallback"))

	res, err := r.CallWithFallback(context.Background(), CallRequest{ExpertID: "primary", Prompt: "do it"})
	require.NoError(t, err)
	assert.True(t, res.FellBack)
	assert.Equal(t, "fallback1", res.ActualExpertID)
	assert.Equal(t, "from fallback", res.Response)

	assert.Equal(t, 1, backend.CallCount("model-a"), "rate limits are not retried in place")
	assert.True(t, r.Tracker().IsLimited("model-a"))
	assert.Equal(t, int64(1), r.Stats().Fallbacks)
}

func TestRouter_ExhaustionNamesEveryExpertInOrder(t *testing.T) {
	r, backend := newTestRouter(t)
	backend.WithError(errTooMany)

	_, err := r.CallWithFallback(context.Background(), CallRequest{ExpertID: "primary", Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, core.CodeFallbackExhausted, err.(*core.DomainError).Code)
	assert.Equal(t, []string{"primary", "fallback1", "fallback2"}, core.Attempted(err))
	assert.Contains(t, err.Error(), "primary, fallback1, fallback2")
}

func TestRouter_GateSkipsLimitedModel(t *testing.T) {
	r, backend := newTestRouter(t)
	r.Tracker().MarkLimited("model-a", time.Minute)

	res, err := r.CallWithFallback(context.Background(), CallRequest{ExpertID: "primary", Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "fallback1", res.ActualExpertID)
	assert.Equal(t, 0, backend.CallCount("model-a"), "no call may reach a limited model")
	assert.Equal(t, int64(1), r.Stats().GateRejections)
}

func TestRouter_GatedWithoutFallbacks(t *testing.T) {
	r, backend := newTestRouter(t)
	r.Tracker().MarkLimited("model-d", time.Minute)

	_, err := r.CallWithFallback(context.Background(), CallRequest{ExpertID: "solo", Prompt: "x"})
	require.Error(t, err)
	assert.True(t, core.IsRateLimit(err))
	assert.Equal(t, []string{"solo"}, core.Attempted(err))
	assert.Equal(t, 0, backend.CallCount(""))
}

func TestRouter_NonRateLimitErrorDoesNotFallBack(t *testing.T) {
	r, backend := newTestRouter(t)
	boom := errors.New("invalid request body")
	backend.OnModel("model-a", testutil.Fail(boom))

	_, err := r.CallWithFallback(context.Background(), CallRequest{ExpertID: "primary", Prompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, backend.CallCount("model-a"), "generic errors are retried")
	assert.Equal(t, 0, backend.CallCount("model-b"))
	assert.Equal(t, int64(1), r.Stats().Failures)
}

func TestRouter_RetryRecoversTransientError(t *testing.T) {
	r, backend := newTestRouter(t)
	backend.OnModel("model-a", testutil.Sequence(
		testutil.Fail(errors.New("connection reset")),
		testutil.Reply("ok"),
	))

	res, err := r.CallWithFallback(context.Background(), CallRequest{ExpertID: "primary", Prompt: "x"})
	require.NoError(t, err)
	assert.False(t, res.FellBack)
	assert.Equal(t, "ok", res.Response)
	assert.Equal(t, 2, backend.CallCount("model-a"))
}

func TestRouter_CacheIdempotence(t *testing.T) {
	r, backend := newTestRouter(t)
	backend.WithResponse("answer")
	ctx := context.Background()

	first, err := r.CallWithFallback(ctx, CallRequest{ExpertID: "primary", Prompt: "p", Context: "c"})
	require.NoError(t, err)
	second, err := r.CallWithFallback(ctx, CallRequest{ExpertID: "primary", Prompt: "p", Context: "c"})
	require.NoError(t, err)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, 1, backend.CallCount(""))

	_, err = r.CallWithFallback(ctx, CallRequest{ExpertID: "primary", Prompt: "p", Context: "other"})
	require.NoError(t, err)
	assert.Equal(t, 2, backend.CallCount(""), "a context change must miss the cache")
}

func TestRouter_SkipCache(t *testing.T) {
	r, backend := newTestRouter(t)
	ctx := context.Background()
	req := CallRequest{ExpertID: "primary", Prompt: "p", SkipCache: true}

	_, err := r.CallWithFallback(ctx, req)
	require.NoError(t, err)
	_, err = r.CallWithFallback(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.CallCount(""))
	assert.Equal(t, 0, r.Cache().Len())
}

func TestRouter_ToolCallResponsesAreNotCached(t *testing.T) {
	r, backend := newTestRouter(t)
	backend.WithChatFunc(func(_ context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
		return &core.ChatResponse{
			Text:      "reading",
			Model:     req.Model,
			ToolCalls: []core.ToolCall{{ID: "1", Name: "Read", Input: core.ReadInput{FilePath: "a.go"}}},
		}, nil
	})
	ctx := context.Background()

	res, err := r.CallWithFallback(ctx, CallRequest{ExpertID: "primary", Prompt: "p"})
	require.NoError(t, err)
	assert.Len(t, res.ToolCalls, 1)
	_, err = r.CallWithFallback(ctx, CallRequest{ExpertID: "primary", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, 2, backend.CallCount(""))
}

func TestRouter_Validation(t *testing.T) {
	r, _ := newTestRouter(t)
	_, err := r.CallWithFallback(context.Background(), CallRequest{ExpertID: "ghost", Prompt: "x"})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
	_, err = r.CallWithFallback(context.Background(), CallRequest{ExpertID: "primary"})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

type recordingEmitter struct {
	kinds []events.Kind
}

func (e *recordingEmitter) Emit(_ context.Context, ev events.Event) events.HookResult {
	e.kinds = append(e.kinds, ev.Kind)
	return events.Continue()
}

func TestRouter_EmitsRoutingEvents(t *testing.T) {
	em := &recordingEmitter{}
	r, backend := newTestRouter(t, WithEmitter(em))
	backend.OnModel("model-a", testutil.Fail(errTooMany))

	_, err := r.CallWithFallback(context.Background(), CallRequest{ExpertID: "primary", Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, []events.Kind{
		events.KindExpertCall,
		events.KindRateLimited,
		events.KindExpertFallback,
		events.KindExpertCall,
	}, em.kinds)
}

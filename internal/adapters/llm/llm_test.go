package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service"
)

// fakeProvider serves a canned JSON body for requests whose path contains
// match and records the decoded request body.
type fakeProvider struct {
	match  string
	status int
	header http.Header
	body   string
	got    map[string]any
	path   string
}

func (f *fakeProvider) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &f.got)
		if !strings.Contains(r.URL.Path, f.match) {
			http.NotFound(w, r)
			return
		}
		for k, vs := range f.header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		status := f.status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, f.body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropicBackend_Chat(t *testing.T) {
	fp := &fakeProvider{match: "/messages", body: `{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
		"content": [
			{"type": "text", "text": "Looking at the file."},
			{"type": "tool_use", "id": "tu_1", "name": "Read", "input": {"file_path": "main.go"}}
		],
		"stop_reason": "tool_use", "stop_sequence": null,
		"usage": {"input_tokens": 12, "output_tokens": 7}
	}`}
	srv := fp.start(t)

	b, err := NewAnthropicBackend(ProviderConfig{APIKey: "test", BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	resp, err := b.Chat(context.Background(), core.ChatRequest{
		Model: "claude-test", SystemPrompt: "be brief", Prompt: "read main", Context: "repo: demo",
		MaxTokens: 100, ToolChoice: core.ToolChoiceAuto,
	})
	require.NoError(t, err)

	assert.Equal(t, "Looking at the file.", resp.Text)
	assert.Equal(t, "claude-test", resp.Model)
	assert.Equal(t, 12, resp.InputTokens)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "Read", resp.ToolCalls[0].Name)
	in, err := core.ParseToolInput(resp.ToolCalls[0].Name, resp.ToolCalls[0].Raw)
	require.NoError(t, err)
	assert.Equal(t, "main.go", in.(core.ReadInput).FilePath)

	assert.True(t, strings.HasSuffix(fp.path, "/v1/messages"))
	assert.Contains(t, fp.got, "tools")
	assert.Contains(t, fp.got, "system")
	msgs := fp.got["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Contains(t, mustJSON(t, msgs[0]), "repo: demo")
}

func TestAnthropicBackend_RateLimit(t *testing.T) {
	fp := &fakeProvider{
		match:  "/messages",
		status: http.StatusTooManyRequests,
		header: http.Header{"Retry-After": {"7"}},
		body:   `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`,
	}
	srv := fp.start(t)

	b, err := NewAnthropicBackend(ProviderConfig{APIKey: "test", BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	_, err = b.Chat(context.Background(), core.ChatRequest{Model: "m", Prompt: "hi", ToolChoice: core.ToolChoiceNone})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode())
	assert.Equal(t, 7*time.Second, apiErr.RetryAfter())
	assert.True(t, service.IsRateLimitError(err))
	assert.Equal(t, 7*time.Second, service.ParseRetryAfter(err))
	assert.NotContains(t, fp.got, "tools", "tool choice none sends no tools")
}

func TestOpenAIBackend_Chat(t *testing.T) {
	fp := &fakeProvider{match: "/responses", body: `{
		"id": "resp_1", "object": "response", "created_at": 1, "status": "completed", "model": "gpt-test",
		"output": [
			{"type": "message", "id": "msg_1", "status": "completed", "role": "assistant",
			 "content": [{"type": "output_text", "text": "hello", "annotations": []}]},
			{"type": "function_call", "id": "fc_1", "call_id": "call_1", "name": "Grep",
			 "arguments": "{\"pattern\":\"TODO\"}", "status": "completed"}
		],
		"usage": {"input_tokens": 4, "output_tokens": 6, "total_tokens": 10,
		          "input_tokens_details": {"cached_tokens": 0}, "output_tokens_details": {"reasoning_tokens": 0}}
	}`}
	srv := fp.start(t)

	b, err := NewOpenAIBackend(ProviderConfig{APIKey: "test", BaseURL: srv.URL + "/v1/"}, nil)
	require.NoError(t, err)
	resp, err := b.Chat(context.Background(), core.ChatRequest{
		Model: "gpt-test", SystemPrompt: "sys", Prompt: "find todos", MaxTokens: 50, ToolChoice: core.ToolChoiceAny,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, "gpt-test", resp.Model)
	assert.Equal(t, 6, resp.OutputTokens)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"pattern":"TODO"}`, string(resp.ToolCalls[0].Raw))

	assert.Equal(t, "/v1/responses", fp.path)
	assert.Equal(t, "sys", fp.got["instructions"])
	assert.Equal(t, "required", fp.got["tool_choice"])
	assert.NotContains(t, fp.got, "temperature", "zero temperature is left to the provider")
}

func TestOpenAIBackend_ServerError(t *testing.T) {
	fp := &fakeProvider{match: "/responses", status: http.StatusServiceUnavailable, body: `{"error":{"message":"down","type":"server_error"}}`}
	srv := fp.start(t)

	b, err := NewOpenAIBackend(ProviderConfig{APIKey: "test", BaseURL: srv.URL + "/v1/"}, nil)
	require.NoError(t, err)
	_, err = b.Chat(context.Background(), core.ChatRequest{Model: "m", Prompt: "hi"})

	var sc core.StatusCoder
	require.True(t, errors.As(err, &sc))
	assert.Equal(t, http.StatusServiceUnavailable, sc.StatusCode())
	assert.False(t, service.IsRateLimitError(err))
}

func TestGeminiBackend_Chat(t *testing.T) {
	fp := &fakeProvider{match: ":generateContent", body: `{
		"candidates": [{"content": {"role": "model", "parts": [{"text": "gemini says hi"}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 9, "candidatesTokenCount": 3},
		"modelVersion": "gemini-test-001"
	}`}
	srv := fp.start(t)

	b, err := NewGeminiBackend(ProviderConfig{APIKey: "test", BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	resp, err := b.Chat(context.Background(), core.ChatRequest{Model: "gemini-test", Prompt: "hi", SystemPrompt: "sys"})
	require.NoError(t, err)

	assert.Equal(t, "gemini says hi", resp.Text)
	assert.Equal(t, "gemini-test-001", resp.Model)
	assert.Equal(t, 9, resp.InputTokens)
	assert.Equal(t, 3, resp.OutputTokens)
	assert.Contains(t, fp.path, "gemini-test:generateContent")
	assert.Contains(t, fp.got, "systemInstruction")
}

func TestOllamaBackend_Chat(t *testing.T) {
	fp := &fakeProvider{match: "/api/chat", body: `{"model":"qwen-test","created_at":"2024-01-01T00:00:00Z",` +
		`"message":{"role":"assistant","content":"local answer"},"done":true,"done_reason":"stop",` +
		`"prompt_eval_count":5,"eval_count":8}`}
	srv := fp.start(t)

	b, err := NewOllamaBackend(ProviderConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	resp, err := b.Chat(context.Background(), core.ChatRequest{Model: "qwen-test", Prompt: "hi", SystemPrompt: "sys", MaxTokens: 20})
	require.NoError(t, err)

	assert.Equal(t, "local answer", resp.Text)
	assert.Equal(t, 5, resp.InputTokens)
	assert.Equal(t, 8, resp.OutputTokens)
	assert.Equal(t, false, fp.got["stream"])
	msgs := fp.got["messages"].([]any)
	assert.Len(t, msgs, 2, "system and user turns")
}

func TestNewOllamaBackend_InvalidURL(t *testing.T) {
	_, err := NewOllamaBackend(ProviderConfig{BaseURL: "not a url"}, nil)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestProviderErrorMapping(t *testing.T) {
	ollama429 := ollamaError(api.StatusError{StatusCode: 429, ErrorMessage: "busy"})
	gemini429 := geminiError(genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"})
	gemini500 := geminiError(genai.APIError{Code: 500, Message: "boom"})

	for name, err := range map[string]error{"ollama": ollama429, "gemini": gemini429} {
		var sc core.StatusCoder
		require.True(t, errors.As(err, &sc), name)
		assert.Equal(t, 429, sc.StatusCode(), name)
		assert.True(t, service.IsRateLimitError(err), name)
	}
	assert.Contains(t, gemini500.Error(), "boom")
	assert.False(t, service.IsRateLimitError(gemini500))

	assert.ErrorIs(t, ollamaError(context.Canceled), context.Canceled)
	assert.Equal(t, context.DeadlineExceeded, geminiError(context.DeadlineExceeded))
}

func TestRetryAfterHeader(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		want   time.Duration
	}{
		{"none", nil, 0},
		{"seconds", http.Header{"Retry-After": {"3"}}, 3 * time.Second},
		{"milliseconds win", http.Header{"Retry-After-Ms": {"250"}, "Retry-After": {"3"}}, 250 * time.Millisecond},
		{"garbage", http.Header{"Retry-After": {"soon"}}, 0},
		{"negative", http.Header{"Retry-After": {"-1"}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryAfterHeader(tt.header))
		})
	}

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	d := retryAfterHeader(http.Header{"Retry-After": {future}})
	assert.Greater(t, d, 30*time.Second)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(nil)
	assert.Equal(t, []string{"anthropic", "gemini", "ollama", "openai"}, r.List())
	assert.True(t, r.Has("gemini"))

	backends, err := r.BackendsFor(core.DefaultExperts())
	require.NoError(t, err)
	assert.Len(t, backends, 4)
	for name, b := range backends {
		assert.Equal(t, name, b.Name())
	}

	again, err := r.Get("anthropic")
	require.NoError(t, err)
	assert.Same(t, backends["anthropic"], again, "backends are cached")

	r.Configure("anthropic", ProviderConfig{APIKey: "other"})
	rebuilt, err := r.Get("anthropic")
	require.NoError(t, err)
	assert.NotSame(t, again, rebuilt, "configure drops the cached backend")

	_, err = r.Get("bedrock")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))

	r.Configure("ollama", ProviderConfig{BaseURL: "::bad"})
	_, err = r.BackendsFor([]core.Expert{{ID: "local", Provider: "ollama", Model: "m"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expert local")
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

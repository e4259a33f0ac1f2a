package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
)

// ChatFunc answers one chat request.
type ChatFunc func(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error)

// MockBackend implements core.Backend for testing.
type MockBackend struct {
	name     string
	chatFunc ChatFunc
	byModel  map[string]ChatFunc
	gate     chan struct{}
	calls    []core.ChatRequest
	mu       sync.Mutex
}

// NewMockBackend creates a mock that echoes the prompt.
func NewMockBackend(name string) *MockBackend {
	return &MockBackend{
		name:    name,
		byModel: make(map[string]ChatFunc),
	}
}

// Name returns the mock name.
func (m *MockBackend) Name() string {
	return m.name
}

// Chat records the request and answers it.
func (m *MockBackend) Chat(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	fn := m.byModel[req.Model]
	if fn == nil {
		fn = m.chatFunc
	}
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fn != nil {
		return fn(ctx, req)
	}
	preview := req.Prompt
	if len(preview) > 50 {
		preview = preview[:50]
	}
	return &core.ChatResponse{
		Text:  fmt.Sprintf("Mock response for: %s", preview),
		Model: req.Model,
	}, nil
}

// WithChatFunc sets a custom handler for every model.
func (m *MockBackend) WithChatFunc(fn ChatFunc) *MockBackend {
	m.mu.Lock()
	m.chatFunc = fn
	m.mu.Unlock()
	return m
}

// OnModel sets a handler used only for requests to model.
func (m *MockBackend) OnModel(model string, fn ChatFunc) *MockBackend {
	m.mu.Lock()
	m.byModel[model] = fn
	m.mu.Unlock()
	return m
}

// WithResponse configures a fixed response.
func (m *MockBackend) WithResponse(text string) *MockBackend {
	return m.WithChatFunc(func(_ context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
		return &core.ChatResponse{Text: text, Model: req.Model}, nil
	})
}

// WithError configures the mock to always fail.
func (m *MockBackend) WithError(err error) *MockBackend {
	return m.WithChatFunc(func(context.Context, core.ChatRequest) (*core.ChatResponse, error) {
		return nil, err
	})
}

// WithGate blocks every call until gate is closed or receives a value.
func (m *MockBackend) WithGate(gate chan struct{}) *MockBackend {
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()
	return m
}

// Calls returns recorded requests.
func (m *MockBackend) Calls() []core.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.ChatRequest{}, m.calls...)
}

// CallCount returns the number of requests, optionally for one model.
func (m *MockBackend) CallCount(model string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if model == "" {
		return len(m.calls)
	}
	count := 0
	for _, c := range m.calls {
		if c.Model == model {
			count++
		}
	}
	return count
}

// Sequence returns a handler that replays steps in order and repeats the
// last one once exhausted.
func Sequence(steps ...ChatFunc) ChatFunc {
	var mu sync.Mutex
	i := 0
	return func(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
		mu.Lock()
		step := steps[i]
		if i < len(steps)-1 {
			i++
		}
		mu.Unlock()
		return step(ctx, req)
	}
}

// Reply returns a handler answering text.
func Reply(text string) ChatFunc {
	return func(_ context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
		return &core.ChatResponse{Text: text, Model: req.Model}, nil
	}
}

// Fail returns a handler failing with err.
func Fail(err error) ChatFunc {
	return func(context.Context, core.ChatRequest) (*core.ChatResponse, error) {
		return nil, err
	}
}

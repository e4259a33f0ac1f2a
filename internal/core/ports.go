package core

import (
	"context"
	"time"
)

// ChatRequest is the single operation every backend must serve.
type ChatRequest struct {
	Model        string
	SystemPrompt string
	Prompt       string
	Context      string
	Temperature  float64
	MaxTokens    int
	ToolChoice   ToolChoice
}

// ChatResponse is the text and optional tool invocations returned by a backend.
type ChatResponse struct {
	Text         string
	ToolCalls    []ToolCall
	Model        string
	InputTokens  int
	OutputTokens int
}

// HasToolCalls reports whether the response requested any tool invocation.
func (r *ChatResponse) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Backend sends chat requests to one provider. Implementations must report
// rate limits distinguishably, either as a status code or as classifiable
// error text.
type Backend interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// StatusCoder is implemented by backend errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// Brief is the structured delegation record handed to the formatter.
type Brief struct {
	Task            string
	ExpectedOutcome string
	Context         string
	Constraints     []string
	Tools           []string
	ResponseFormat  string
	ExitConditions  []string
}

// BriefFormatter turns a brief into an opaque prompt string.
type BriefFormatter interface {
	FormatBrief(b Brief) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

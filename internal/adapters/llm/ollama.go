package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/logging"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaBackend serves chat requests through a local Ollama server. Local
// models are not offered tools.
type OllamaBackend struct {
	client *api.Client
	logger *logging.Logger
}

// NewOllamaBackend creates the Ollama backend.
func NewOllamaBackend(cfg ProviderConfig, logger *logging.Logger) (core.Backend, error) {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultOllamaURL
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("ollama: invalid base url %q", base))
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &OllamaBackend{client: api.NewClient(u, httpClient), logger: logger}, nil
}

// Name implements core.Backend.
func (b *OllamaBackend) Name() string { return "ollama" }

// Chat implements core.Backend.
func (b *OllamaBackend) Chat(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
	var messages []api.Message
	if req.SystemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, api.Message{Role: "user", Content: userText(req)})

	stream := false
	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}

	var resp api.ChatResponse
	err := b.client.Chat(ctx, chatReq, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		return nil, ollamaError(err)
	}

	out := &core.ChatResponse{
		Text:         resp.Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}
	for i, call := range resp.Message.ToolCalls {
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out.ToolCalls = append(out.ToolCalls, core.ToolCall{ID: id, Name: call.Function.Name, Raw: rawArgs(call.Function.Arguments)})
	}
	if out.Text == "" && len(out.ToolCalls) == 0 {
		return nil, fmt.Errorf("ollama: empty response (done reason %q)", resp.DoneReason)
	}
	b.logger.Debug("ollama chat completed", "model", out.Model,
		"input_tokens", out.InputTokens, "output_tokens", out.OutputTokens)
	return out, nil
}

func ollamaError(err error) error {
	if passthrough(err) {
		return err
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		msg := statusErr.ErrorMessage
		if msg == "" {
			msg = statusErr.Status
		}
		return newAPIError("ollama", statusErr.StatusCode, msg, nil, err)
	}
	return fmt.Errorf("ollama: %w", err)
}

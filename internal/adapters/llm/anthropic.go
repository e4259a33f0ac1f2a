package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/logging"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicBackend serves chat requests through the Messages API.
type AnthropicBackend struct {
	client anthropic.Client
	logger *logging.Logger
}

// NewAnthropicBackend creates the Anthropic backend. An empty API key lets
// the SDK read ANTHROPIC_API_KEY.
func NewAnthropicBackend(cfg ProviderConfig, logger *logging.Logger) (core.Backend, error) {
	opts := []option.RequestOption{option.WithMaxRetries(cfg.MaxRetries)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &AnthropicBackend{client: anthropic.NewClient(opts...), logger: logger}, nil
}

// Name implements core.Backend.
func (b *AnthropicBackend) Name() string { return "anthropic" }

// Chat implements core.Backend.
func (b *AnthropicBackend) Chat(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userText(req))),
		},
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if wantsTools(req.ToolChoice) {
		params.Tools = anthropicTools()
		if req.ToolChoice == core.ToolChoiceAny {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		} else {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	msg, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, anthropicError(err)
	}

	out := &core.ChatResponse{
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, core.ToolCall{ID: block.ID, Name: block.Name, Raw: block.Input})
		}
	}
	if out.Text == "" && len(out.ToolCalls) == 0 {
		return nil, fmt.Errorf("anthropic: empty response (stop reason %s)", msg.StopReason)
	}
	b.logger.Debug("anthropic chat completed", "model", out.Model,
		"input_tokens", out.InputTokens, "output_tokens", out.OutputTokens, "stop_reason", msg.StopReason)
	return out, nil
}

func anthropicTools() []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(builtinTools))
	for _, t := range builtinTools {
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: t.schemaProperties(),
				Required:   t.Required,
			},
		}})
	}
	return tools
}

func anthropicError(err error) error {
	if passthrough(err) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return newAPIError("anthropic", apiErr.StatusCode, apiErr.Error(), responseHeader(apiErr.Response), err)
	}
	return fmt.Errorf("anthropic: %w", err)
}

package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/logging"
)

// OpenAIBackend serves chat requests through the Responses API.
type OpenAIBackend struct {
	client openai.Client
	logger *logging.Logger
}

// NewOpenAIBackend creates the OpenAI backend. An empty API key lets the SDK
// read OPENAI_API_KEY.
func NewOpenAIBackend(cfg ProviderConfig, logger *logging.Logger) (core.Backend, error) {
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
	return &OpenAIBackend{client: openai.NewClient(opts...), logger: logger}, nil
}

// Name implements core.Backend.
func (b *OpenAIBackend) Name() string { return "openai" }

// Chat implements core.Backend.
func (b *OpenAIBackend) Chat(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
	params := responses.ResponseNewParams{
		Model: req.Model,
		Input: responses.ResponseNewParamsInputUnion{OfString: openai.String(userText(req))},
	}
	if req.SystemPrompt != "" {
		params.Instructions = openai.String(req.SystemPrompt)
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxTokens))
	}
	// Reasoning models reject a temperature; zero means provider default.
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if wantsTools(req.ToolChoice) {
		params.Tools = openAITools()
		mode := responses.ToolChoiceOptionsAuto
		if req.ToolChoice == core.ToolChoiceAny {
			mode = responses.ToolChoiceOptionsRequired
		}
		params.ToolChoice = responses.ResponseNewParamsToolChoiceUnion{OfToolChoiceMode: openai.Opt(mode)}
	}

	resp, err := b.client.Responses.New(ctx, params)
	if err != nil {
		return nil, openAIError(err)
	}

	out := &core.ChatResponse{
		Text:         resp.OutputText(),
		Model:        resp.Model,
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	for _, item := range resp.Output {
		if item.Type != "function_call" {
			continue
		}
		call := item.AsFunctionCall()
		id := call.CallID
		if id == "" {
			id = call.ID
		}
		out.ToolCalls = append(out.ToolCalls, core.ToolCall{ID: id, Name: call.Name, Raw: rawArgsString(call.Arguments)})
	}
	if out.Text == "" && len(out.ToolCalls) == 0 {
		return nil, fmt.Errorf("openai: empty response (status %s)", resp.Status)
	}
	b.logger.Debug("openai chat completed", "model", out.Model,
		"input_tokens", out.InputTokens, "output_tokens", out.OutputTokens)
	return out, nil
}

func openAITools() []responses.ToolUnionParam {
	tools := make([]responses.ToolUnionParam, 0, len(builtinTools))
	for _, t := range builtinTools {
		tools = append(tools, responses.ToolUnionParam{OfFunction: &responses.FunctionToolParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  t.jsonSchema(),
			Strict:      openai.Bool(false),
		}})
	}
	return tools
}

func rawArgsString(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}

func openAIError(err error) error {
	if passthrough(err) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return newAPIError("openai", apiErr.StatusCode, apiErr.Error(), responseHeader(apiErr.Response), err)
	}
	return fmt.Errorf("openai: %w", err)
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/logging"
)

// GeminiBackend serves chat requests through the Gemini API.
type GeminiBackend struct {
	cfg    ProviderConfig
	logger *logging.Logger

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiBackend creates the Gemini backend. The SDK client needs a
// context, so it is built on first use.
func NewGeminiBackend(cfg ProviderConfig, logger *logging.Logger) (core.Backend, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &GeminiBackend{cfg: cfg, logger: logger}, nil
}

// Name implements core.Backend.
func (b *GeminiBackend) Name() string { return "gemini" }

func (b *GeminiBackend) getClient(ctx context.Context) (*genai.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}
	cc := &genai.ClientConfig{
		APIKey:  b.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if b.cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = b.cfg.BaseURL
	}
	if b.cfg.Timeout > 0 {
		timeout := b.cfg.Timeout
		cc.HTTPOptions.Timeout = &timeout
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}
	b.client = client
	return client, nil
}

// Chat implements core.Backend.
func (b *GeminiBackend) Chat(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
	client, err := b.getClient(ctx)
	if err != nil {
		return nil, err
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens) //nolint:gosec // bounded by expert config
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	if wantsTools(req.ToolChoice) {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: geminiTools()}}
		mode := genai.FunctionCallingConfigModeAuto
		if req.ToolChoice == core.ToolChoiceAny {
			mode = genai.FunctionCallingConfigModeAny
		}
		cfg.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode}}
	}

	result, err := client.Models.GenerateContent(ctx, req.Model, genai.Text(userText(req)), cfg)
	if err != nil {
		return nil, geminiError(err)
	}
	if result == nil {
		return nil, errors.New("gemini: empty response")
	}

	out := &core.ChatResponse{Text: result.Text(), Model: req.Model}
	if result.ModelVersion != "" {
		out.Model = result.ModelVersion
	}
	if u := result.UsageMetadata; u != nil {
		out.InputTokens = int(u.PromptTokenCount)
		out.OutputTokens = int(u.CandidatesTokenCount)
	}
	for _, fc := range result.FunctionCalls() {
		id := fc.ID
		if id == "" {
			id = fc.Name
		}
		out.ToolCalls = append(out.ToolCalls, core.ToolCall{ID: id, Name: fc.Name, Raw: rawArgs(fc.Args)})
	}
	if out.Text == "" && len(out.ToolCalls) == 0 {
		return nil, errors.New("gemini: empty response")
	}
	b.logger.Debug("gemini chat completed", "model", out.Model,
		"input_tokens", out.InputTokens, "output_tokens", out.OutputTokens)
	return out, nil
}

func geminiTools() []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(builtinTools))
	for _, t := range builtinTools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.jsonSchema(),
		})
	}
	return decls
}

func geminiError(err error) error {
	if passthrough(err) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Status
		}
		return newAPIError("gemini", apiErr.Code, msg, nil, err)
	}
	return fmt.Errorf("gemini: %w", err)
}

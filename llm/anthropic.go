// Anthropic Provider implementation using official anthropic-sdk-go.
//
// Information Hiding:
// - API endpoint and authentication
// - Base64 image blocks for inline parts
// - Extended thinking (forces temperature 1 as the API requires)

package llm

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// minThinkingBudget is the smallest budget the Messages API accepts.
const minThinkingBudget = 1024

// AnthropicProvider implements the Provider interface for Anthropic Claude.
type AnthropicProvider struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(cfg ProviderConfig) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: float64(cfg.Temperature),
	}
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Model returns the current model.
func (p *AnthropicProvider) Model() string {
	return p.model
}

// Generate sends a multimodal message request.
func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(convertToAnthropicBlocks(req.Parts)...),
		},
	}

	// Thinking must stay below max_tokens.
	budget := int64(req.ThinkingBudget)
	if budget >= p.maxTokens {
		budget = p.maxTokens - 1
	}
	if req.ThinkingBudget > 0 && budget >= minThinkingBudget {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	} else {
		params.Temperature = anthropic.Float(p.temperature)
	}

	if system := systemWithSchema(req.System, req.Format); system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("message request failed: %w", err)
	}

	content := ""
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			content += variant.Text
		}
	}
	if content == "" {
		return Response{}, fmt.Errorf("empty response from Anthropic")
	}

	var usage *TokenUsage
	if message.Usage.InputTokens > 0 || message.Usage.OutputTokens > 0 {
		usage = &TokenUsage{
			PromptTokens:     uint32(message.Usage.InputTokens),
			CompletionTokens: uint32(message.Usage.OutputTokens),
			TotalTokens:      uint32(message.Usage.InputTokens + message.Usage.OutputTokens),
		}
	}

	return Response{Content: content, Usage: usage}, nil
}

// convertToAnthropicBlocks converts request parts to content blocks.
func convertToAnthropicBlocks(parts []Part) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		if part.IsInline() {
			blocks = append(blocks, anthropic.NewImageBlockBase64(
				part.MIMEType,
				base64.StdEncoding.EncodeToString(part.Data),
			))
			continue
		}
		blocks = append(blocks, anthropic.NewTextBlock(part.Text))
	}
	return blocks
}

// Verify AnthropicProvider implements Provider
var _ Provider = (*AnthropicProvider)(nil)

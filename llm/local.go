// Local Provider implementation using go-openai library.
//
// Information Hiding:
// - Uses OpenAI-compatible API at a configurable base URL (LM Studio, Ollama, vLLM)
// - API key is optional
// - JSON is requested through the prompt only; many local servers reject response_format

package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultLocalBaseURL is the LM Studio default endpoint.
const DefaultLocalBaseURL = "http://localhost:1234/v1"

// LocalProvider implements the Provider interface for OpenAI-compatible local servers.
type LocalProvider struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewLocalProvider creates a new local provider.
func NewLocalProvider(cfg ProviderConfig) *LocalProvider {
	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL
	if config.BaseURL == "" {
		config.BaseURL = DefaultLocalBaseURL
	}

	return &LocalProvider{
		client:      openai.NewClientWithConfig(config),
		model:       cfg.Model,
		maxTokens:   int(cfg.MaxTokens),
		temperature: cfg.Temperature,
	}
}

// Name returns the provider name.
func (p *LocalProvider) Name() string {
	return "local"
}

// Model returns the current model.
func (p *LocalProvider) Model() string {
	return p.model
}

// Generate sends a multimodal chat completion request.
func (p *LocalProvider) Generate(ctx context.Context, req Request) (Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    convertToOpenAIMessages(req),
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}

	resp, err := chatCompletion(ctx, p.client, chatReq, "local model")
	if err != nil {
		return Response{}, fmt.Errorf("local model %q: %w", p.model, err)
	}
	return resp, nil
}

// Verify LocalProvider implements Provider
var _ Provider = (*LocalProvider)(nil)

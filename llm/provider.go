// Package llm provides LLM provider abstractions.
//
// LLM Provider interface - the abstract interface for LLM providers.
// Each provider implementation hides:
// - API client initialization and authentication
// - Multimodal request conversion (text and inline images)
// - Structured output configuration
// - Provider-specific error handling

package llm

import (
	"context"
)

// Provider defines the abstract interface for LLM providers.
// Implementations hide provider-specific details while exposing
// a consistent interface for single-turn multimodal generation.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the current model being used.
	Model() string

	// Generate sends one request and returns the full response.
	Generate(ctx context.Context, req Request) (Response, error)
}

// ProviderConfig holds the settings shared by every provider constructor.
type ProviderConfig struct {
	APIKey      string
	Model       string
	MaxTokens   uint32
	Temperature float32
	// BaseURL overrides the vendor endpoint. Required for the local provider.
	BaseURL string
}

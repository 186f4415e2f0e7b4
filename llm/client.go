// LLMClient - Simple wrapper around providers.

package llm

import (
	"context"
	"fmt"

	jsonutil "github.com/richinex/handoff/internal/json"
)

// Client wraps a Provider with a simple interface.
type Client struct {
	provider Provider
}

// NewClient creates a new LLM client from a provider.
func NewClient(provider Provider) *Client {
	return &Client{provider: provider}
}

// Text sends a request and returns just the content.
func (c *Client) Text(ctx context.Context, req Request) (string, error) {
	response, err := c.provider.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return response.Content, nil
}

// TextWithUsage sends a request and returns content with token usage.
func (c *Client) TextWithUsage(ctx context.Context, req Request) (string, *TokenUsage, error) {
	response, err := c.provider.Generate(ctx, req)
	if err != nil {
		return "", nil, err
	}
	return response.Content, response.Usage, nil
}

// Provider returns the underlying provider.
func (c *Client) Provider() Provider {
	return c.provider
}

// GenerateJSON sends a request with a JSON format and decodes the reply into T.
// Replies wrapped in prose or code fences are tolerated.
func GenerateJSON[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var zero T
	if req.Format == nil {
		req.Format = NewJSONObjectFormat()
	}

	content, err := c.Text(ctx, req)
	if err != nil {
		return zero, err
	}

	result, err := jsonutil.ExtractJSONFromResponse[T](content)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", c.provider.Name(), err)
	}
	return result, nil
}

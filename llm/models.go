// Package llm provides shared data models for LLM providers.
package llm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Part is one piece of a multimodal request: either text or inline bytes.
type Part struct {
	Text     string
	Data     []byte
	MIMEType string
}

// TextPart creates a text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// InlinePart creates an inline binary part (images).
func InlinePart(data []byte, mimeType string) Part {
	return Part{Data: data, MIMEType: mimeType}
}

// IsInline reports whether the part carries binary data.
func (p Part) IsInline() bool {
	return len(p.Data) > 0
}

// DataURL returns the part as a base64 data URL.
func (p Part) DataURL() string {
	return "data:" + p.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// Request is a single-turn generation request.
type Request struct {
	System string
	Parts  []Part
	// Format is nil for free text.
	Format *ResponseFormat
	// ThinkingBudget enables extended reasoning on providers that support it.
	// Zero leaves the provider default.
	ThinkingBudget int32
}

// Response represents a response from an LLM provider.
type Response struct {
	Content string
	Usage   *TokenUsage
}

// TokenUsage contains token usage statistics.
type TokenUsage struct {
	PromptTokens     uint32
	CompletionTokens uint32
	TotalTokens      uint32
}

// ResponseFormatType defines the type of response format.
type ResponseFormatType string

const (
	ResponseFormatText       ResponseFormatType = "text"
	ResponseFormatJSONObject ResponseFormatType = "json_object"
	ResponseFormatJSONSchema ResponseFormatType = "json_schema"
)

// ResponseFormat specifies how the LLM should format its response.
type ResponseFormat struct {
	Type   ResponseFormatType
	Name   string
	Schema map[string]any // JSON Schema
}

// NewTextFormat creates a text response format.
func NewTextFormat() *ResponseFormat {
	return &ResponseFormat{Type: ResponseFormatText}
}

// NewJSONObjectFormat creates a JSON object response format.
func NewJSONObjectFormat() *ResponseFormat {
	return &ResponseFormat{Type: ResponseFormatJSONObject}
}

// NewJSONSchemaFormat creates a JSON schema response format.
func NewJSONSchemaFormat(name string, schema map[string]any) *ResponseFormat {
	return &ResponseFormat{
		Type:   ResponseFormatJSONSchema,
		Name:   name,
		Schema: schema,
	}
}

// WantsJSON reports whether f requests JSON output.
func (f *ResponseFormat) WantsJSON() bool {
	return f != nil && f.Type != ResponseFormatText
}

// systemWithSchema appends a schema instruction to system for providers
// without native schema enforcement.
func systemWithSchema(system string, format *ResponseFormat) string {
	if !format.WantsJSON() {
		return system
	}

	var b strings.Builder
	b.WriteString(system)
	if system != "" {
		b.WriteString("\n\n")
	}
	b.WriteString("Respond with a single JSON object and nothing else.")
	if format.Schema != nil {
		schema, err := json.MarshalIndent(format.Schema, "", "  ")
		if err == nil {
			fmt.Fprintf(&b, " It must conform to this JSON Schema:\n%s", schema)
		}
	}
	return b.String()
}

// Package json provides JSON extraction utilities for parsing LLM responses.
//
// Models asked for JSON still wrap it in prose or markdown fences now and then.
// This package digs the object back out.
package json

import (
	"encoding/json"
	"fmt"
	"strings"
)

const previewLimit = 100

// candidates yields the substrings worth trying, most specific first:
// the whole response, the body of the first fenced block, and the span
// from the first '{' to the last '}'.
func candidates(response string) []string {
	trimmed := strings.TrimSpace(response)
	out := []string{trimmed}

	if body, ok := fencedBody(trimmed); ok {
		out = append(out, body)
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start != -1 && end > start {
		out = append(out, trimmed[start:end+1])
	}
	return out
}

// fencedBody returns the contents of the first ``` block, skipping an
// optional language tag on the opening line.
func fencedBody(s string) (string, bool) {
	open := strings.Index(s, "```")
	if open == -1 {
		return "", false
	}
	rest := s[open+3:]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		rest = rest[nl+1:]
	} else {
		return "", false
	}
	closing := strings.Index(rest, "```")
	if closing == -1 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:closing]), true
}

// extractJSON returns the first candidate that is a valid JSON object.
func extractJSON(response string) (string, error) {
	for _, c := range candidates(response) {
		if strings.HasPrefix(c, "{") && json.Valid([]byte(c)) {
			return c, nil
		}
	}

	preview := response
	if len(preview) > previewLimit {
		preview = preview[:previewLimit] + "..."
	}
	return "", fmt.Errorf("failed to extract valid JSON from response: %q", preview)
}

// ExtractJSONFromResponse extracts and parses a JSON object from an LLM response.
//
// Limitations:
// - Only handles JSON objects, not arrays
// - Uses simple brace matching, not full JSON parsing
func ExtractJSONFromResponse[T any](response string) (T, error) {
	var result T
	jsonStr, err := extractJSON(response)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return result, nil
}

// ExtractJSON extracts the JSON portion from a response string.
func ExtractJSON(response string) (string, error) {
	return extractJSON(response)
}

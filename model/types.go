// Package model provides domain types shared across packages.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidBlueprint marks a staging response that does not satisfy the blueprint schema.
var ErrInvalidBlueprint = errors.New("invalid blueprint")

// Complexity is the estimated effort of a staged project.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Valid reports whether c is one of the known complexity levels.
// The empty value is accepted because the field is optional.
func (c Complexity) Valid() bool {
	switch c {
	case "", ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	default:
		return false
	}
}

// Module is one file the blueprint expects synthesis to produce.
type Module struct {
	ID           string   `json:"id"`
	Filename     string   `json:"filename"`
	Type         string   `json:"type"`
	Description  string   `json:"description,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
}

// Blueprint is the structured project plan produced by the staging phase.
type Blueprint struct {
	ProjectName         string     `json:"projectName"`
	TechStack           []string   `json:"techStack"`
	Modules             []Module   `json:"modules"`
	EstimatedComplexity Complexity `json:"estimatedComplexity,omitempty"`
	DeploymentChecklist []string   `json:"deploymentChecklist,omitempty"`
}

// Validate checks the required fields of the staging schema.
func (b Blueprint) Validate() error {
	if strings.TrimSpace(b.ProjectName) == "" {
		return fmt.Errorf("%w: projectName is required", ErrInvalidBlueprint)
	}
	if b.TechStack == nil {
		return fmt.Errorf("%w: techStack is required", ErrInvalidBlueprint)
	}
	if b.Modules == nil {
		return fmt.Errorf("%w: modules is required", ErrInvalidBlueprint)
	}
	for i, m := range b.Modules {
		if m.ID == "" || m.Filename == "" || m.Type == "" {
			return fmt.Errorf("%w: module %d requires id, filename and type", ErrInvalidBlueprint, i)
		}
	}
	if !b.EstimatedComplexity.Valid() {
		return fmt.Errorf("%w: estimatedComplexity %q", ErrInvalidBlueprint, b.EstimatedComplexity)
	}
	return nil
}

// PrimaryTechnology returns the first entry of the tech stack, or "" when empty.
func (b Blueprint) PrimaryTechnology() string {
	if len(b.TechStack) == 0 {
		return ""
	}
	return b.TechStack[0]
}

// ParsedFile is one file reconstructed from synthesis output.
type ParsedFile struct {
	Filename string `json:"filename" msgpack:"filename"`
	Language string `json:"language" msgpack:"language"`
	Content  string `json:"content" msgpack:"content"`
}

// Checkpoint is an immutable snapshot of one completed synthesis run.
type Checkpoint struct {
	ID         string       `json:"id"`
	Timestamp  time.Time    `json:"timestamp"`
	RawResult  string       `json:"rawResult"`
	Files      []ParsedFile `json:"files"`
	AssetCount int          `json:"assetCount"`
	Summary    string       `json:"summary"`
	// Digest is a content hash of RawResult for spotting repeated runs.
	Digest string `json:"digest"`
}

// SummaryFor builds the checkpoint summary line for a project.
func SummaryFor(projectName string) string {
	return "Handoff: " + projectName
}

// BlueprintSchema returns the staging response schema as JSON Schema.
func BlueprintSchema() map[string]any {
	stringList := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"projectName": map[string]any{"type": "string"},
			"techStack":   stringList,
			"estimatedComplexity": map[string]any{
				"type": "string",
				"enum": []string{string(ComplexityLow), string(ComplexityMedium), string(ComplexityHigh)},
			},
			"deploymentChecklist": stringList,
			"modules": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":           map[string]any{"type": "string"},
						"filename":     map[string]any{"type": "string"},
						"type":         map[string]any{"type": "string"},
						"description":  map[string]any{"type": "string"},
						"technologies": stringList,
					},
					"required": []string{"id", "filename", "type"},
				},
			},
		},
		"required": []string{"projectName", "modules", "techStack"},
	}
}

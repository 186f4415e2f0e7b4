// Package gateway adapts LLM providers to the two pipeline phases.
//
// Information Hiding:
// - Instruction payloads for staging and synthesis
// - Chunk to multimodal part conversion
// - Blueprint schema enforcement and validation
//
// Both operations are stateless: each call is independent and may be retried verbatim.

package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/richinex/handoff/chunker"
	"github.com/richinex/handoff/config"
	"github.com/richinex/handoff/llm"
	"github.com/richinex/handoff/model"
	"github.com/richinex/handoff/telemetry"
)

// Mode selects between the lightweight and the exhaustive instruction.
type Mode int

const (
	ModeStandard Mode = iota
	ModeExhaustive
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeExhaustive {
		return "exhaustive"
	}
	return "standard"
}

// ModeFor derives the instruction mode from conversion options.
func ModeFor(opts config.Options) Mode {
	if opts.Exhaustive() {
		return ModeExhaustive
	}
	return ModeStandard
}

// Gateway is the model-facing contract consumed by the stage controller.
type Gateway interface {
	// Analyze produces a validated blueprint from the chunk sequence.
	Analyze(ctx context.Context, chunks []chunker.Chunk, mode Mode) (model.Blueprint, error)

	// Synthesize produces raw marker-delimited source text for a blueprint.
	Synthesize(ctx context.Context, chunks []chunker.Chunk, bp model.Blueprint, mode Mode) (string, error)
}

// Config wires providers and options into an LLMGateway.
type Config struct {
	Analyzer    llm.Provider
	Synthesizer llm.Provider
	Options     config.Options
	// ThinkingBudget applies to synthesis only.
	ThinkingBudget int32
	Logger         telemetry.Logger
}

// LLMGateway implements Gateway over two llm providers.
type LLMGateway struct {
	analyzer       *llm.Client
	synthesizer    *llm.Client
	options        config.Options
	thinkingBudget int32
	logger         telemetry.Logger
}

// New creates a gateway. A nil Synthesizer reuses the Analyzer.
func New(cfg Config) *LLMGateway {
	synth := cfg.Synthesizer
	if synth == nil {
		synth = cfg.Analyzer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = discard{}
	}
	return &LLMGateway{
		analyzer:       llm.NewClient(cfg.Analyzer),
		synthesizer:    llm.NewClient(synth),
		options:        cfg.Options,
		thinkingBudget: cfg.ThinkingBudget,
		logger:         logger,
	}
}

// Analyze runs the staging call.
func (g *LLMGateway) Analyze(ctx context.Context, chunks []chunker.Chunk, mode Mode) (model.Blueprint, error) {
	g.logger.Log(telemetry.LevelInfo, "Preparing handoff: Reading conversation context...",
		fmt.Sprintf("%d chunks, %s mode, %s/%s", len(chunks), mode, g.analyzer.Provider().Name(), g.analyzer.Provider().Model()))

	parts := chunkParts(chunks)
	parts = append(parts, llm.TextPart(AnalyzeInstruction(mode)))

	req := llm.Request{
		Parts:  parts,
		Format: llm.NewJSONSchemaFormat("blueprint", model.BlueprintSchema()),
	}

	bp, err := llm.GenerateJSON[model.Blueprint](ctx, g.analyzer, req)
	if err != nil {
		return model.Blueprint{}, fmt.Errorf("staging analysis: %w", err)
	}
	if err := bp.Validate(); err != nil {
		return model.Blueprint{}, fmt.Errorf("staging analysis: %w", err)
	}
	return bp, nil
}

// Synthesize runs the synthesis call.
func (g *LLMGateway) Synthesize(ctx context.Context, chunks []chunker.Chunk, bp model.Blueprint, mode Mode) (string, error) {
	g.logger.Log(telemetry.LevelInfo, "Executing handoff: Writing production-ready modules...",
		fmt.Sprintf("%d chunks, %s mode, %s/%s", len(chunks), mode, g.synthesizer.Provider().Name(), g.synthesizer.Provider().Model()))

	req := llm.Request{
		System:         SynthesisInstruction(bp, mode, g.options),
		Parts:          chunkParts(chunks),
		ThinkingBudget: g.thinkingBudget,
	}

	text, usage, err := g.synthesizer.TextWithUsage(ctx, req)
	if err != nil {
		return "", fmt.Errorf("synthesis: %w", err)
	}
	if usage != nil {
		g.logger.Log(telemetry.LevelInfo, "Synthesis tokens",
			fmt.Sprintf("prompt=%d completion=%d total=%d", usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens))
	}
	return text, nil
}

const (
	standardAnalyzePrompt   = "Review the chat screenshots and map out the project structure and primary files."
	exhaustiveAnalyzePrompt = "This is a comprehensive project handoff. Meticulously map every required file for a production-ready build. Include all configurations (package.json, tailwind, etc.)."
)

// AnalyzeInstruction returns the staging prompt for mode.
func AnalyzeInstruction(mode Mode) string {
	if mode == ModeExhaustive {
		return exhaustiveAnalyzePrompt
	}
	return standardAnalyzePrompt
}

// optionGuidelines maps options to the synthesis lines they contribute.
var optionGuidelines = []struct {
	option config.Option
	line   string
}{
	{config.ExtractProjectStructure, "- Follow the planned file layout below; emit every planned module."},
	{config.ExtractSourceCode, "- Reproduce code visible in the screenshots accurately before extending it."},
	{config.AddDocumentation, "- Include a README.md with setup steps and a glossary of domain terms."},
	{config.RefactorForBestPractices, "- Refactor into idiomatic, well-organized code for the chosen stack."},
	{config.EnableSpliceAssembly, "- Screenshots arrive as overlapping slices; stitch code split across slices and drop the duplicated lines."},
}

// SynthesisInstruction returns the system instruction for synthesis.
func SynthesisInstruction(bp model.Blueprint, mode Mode, opts config.Options) string {
	var b strings.Builder
	b.WriteString("You are a Senior Full-Stack Engineer performing a project handoff.\n")
	b.WriteString("CONTEXT:\n")
	fmt.Fprintf(&b, "Project: %s\n", bp.ProjectName)
	fmt.Fprintf(&b, "Stack: %s\n", strings.Join(bp.TechStack, ", "))
	b.WriteString("\nGUIDELINES:\n")
	b.WriteString("- Write complete, high-quality code.\n")
	b.WriteString("- Every file must start with a descriptive header comment.\n")
	b.WriteString("- NO placeholders like \"// ... rest of code\". Write EVERYTHING.\n")
	b.WriteString("- For every file, use the format: \"### FILE: path/to/filename.extension\"\n")

	for _, g := range optionGuidelines {
		if opts.Enabled(g.option) {
			b.WriteString(g.line)
			b.WriteByte('\n')
		}
	}
	if mode == ModeExhaustive {
		b.WriteString("- FULL BUILD MODE: Ensure all imports are resolved correctly and every config file needed to run the project is included.\n")
	}

	if opts.Enabled(config.ExtractProjectStructure) && len(bp.Modules) > 0 {
		b.WriteString("\nPLANNED FILES:\n")
		for _, m := range bp.Modules {
			fmt.Fprintf(&b, "- %s (%s)", m.Filename, m.Type)
			if m.Description != "" {
				fmt.Fprintf(&b, ": %s", m.Description)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func chunkParts(chunks []chunker.Chunk) []llm.Part {
	parts := make([]llm.Part, 0, len(chunks)+1)
	for _, c := range chunks {
		parts = append(parts, llm.InlinePart(c.Data, c.MIMEType))
	}
	return parts
}

type discard struct{}

func (discard) Log(telemetry.Level, string, ...string) {}

// Verify LLMGateway implements Gateway
var _ Gateway = (*LLMGateway)(nil)

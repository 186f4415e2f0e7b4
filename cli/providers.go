// Provider and gateway construction for CLI commands.
//
// Information Hiding:
// - Provider creation details hidden
// - Analyzer/synthesizer model pairing hidden

package cli

import (
	"fmt"

	"github.com/richinex/handoff/config"
	"github.com/richinex/handoff/gateway"
	"github.com/richinex/handoff/llm"
	"github.com/richinex/handoff/telemetry"
)

// createProvider builds one provider for the configured backend and model.
func createProvider(settings config.Settings, model string) (llm.Provider, error) {
	providerType, err := llm.ParseProviderType(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}

	apiKey, err := config.APIKeyFor(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}

	builder := providerType.
		Model(model).
		MaxTokens(settings.LLM.MaxTokens).
		Temperature(float32(settings.LLM.Temperature))
	if providerType == llm.ProviderLocal {
		builder = builder.BaseURL(settings.LLM.LocalBaseURL)
	}
	return builder.APIKey(apiKey)
}

// createGateway pairs the analyzer and synthesizer providers.
// The same provider instance is reused when both phases share a model.
func createGateway(settings config.Settings, logger telemetry.Logger) (gateway.Gateway, error) {
	analyzer, err := createProvider(settings, settings.LLM.AnalyzerModel)
	if err != nil {
		return nil, fmt.Errorf("analyzer: %w", err)
	}

	synthesizer := analyzer
	if settings.LLM.SynthesizerModel != settings.LLM.AnalyzerModel {
		synthesizer, err = createProvider(settings, settings.LLM.SynthesizerModel)
		if err != nil {
			return nil, fmt.Errorf("synthesizer: %w", err)
		}
	}

	return gateway.New(gateway.Config{
		Analyzer:       analyzer,
		Synthesizer:    synthesizer,
		Options:        settings.Options,
		ThinkingBudget: settings.LLM.ThinkingBudget,
		Logger:         logger,
	}), nil
}

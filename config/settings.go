// Package config provides application settings loaded from a YAML file and
// environment variables.
//
// Settings are created via Load() or New() which handle:
// - Optional YAML file parsing with ${VAR} expansion
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup
//
// Precedence, lowest first: defaults, file, environment, explicit provider argument.

package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// DefaultLocalBaseURL is the OpenAI-compatible endpoint used by the local provider.
const DefaultLocalBaseURL = "http://localhost:1234/v1"

// DefaultCheckpointDB is the default checkpoint database path.
const DefaultCheckpointDB = ".handoff/handoff.db"

// Settings holds all application configuration.
type Settings struct {
	LLM      LLMConfig
	Pipeline PipelineConfig
	Log      LogConfig
	Options  Options
}

// LLMConfig holds model gateway configuration.
type LLMConfig struct {
	Provider         string
	AnalyzerModel    string // staging
	SynthesizerModel string // synthesis
	MaxTokens        uint32
	Temperature      float64
	ThinkingBudget   int32
	LocalBaseURL     string
}

// PipelineConfig holds chunking and checkpoint configuration.
type PipelineConfig struct {
	DevicePixelRatio float64
	MaxChunks        int // 0 means unbounded
	CheckpointDB     string
}

// LogConfig holds structured logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	analyzerEnv      string
	analyzerDefault  string
	synthesizerEnv   string
	synthesizerModel string
	apiKeyEnv        string
	keyOptional      bool
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"gemini":    {"GEMINI_MODEL", "gemini-3-flash-preview", "GEMINI_SYNTH_MODEL", "gemini-3-pro-preview", "GEMINI_API_KEY", false},
	"openai":    {"OPENAI_MODEL", "gpt-4o", "OPENAI_SYNTH_MODEL", "gpt-4o", "OPENAI_API_KEY", false},
	"anthropic": {"ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_SYNTH_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY", false},
	"local":     {"LOCAL_LLM_MODEL", "local-model", "LOCAL_LLM_SYNTH_MODEL", "local-model", "LOCAL_LLM_API_KEY", true},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"google":   "gemini",
	"claude":   "anthropic",
	"gpt":      "openai",
	"lmstudio": "local",
}

// Default returns settings with built-in defaults for the gemini provider.
func Default() Settings {
	return Settings{
		LLM: LLMConfig{
			Provider:       "gemini",
			MaxTokens:      8192,
			Temperature:    0.7,
			ThinkingBudget: 32768,
			LocalBaseURL:   DefaultLocalBaseURL,
		},
		Pipeline: PipelineConfig{
			DevicePixelRatio: 1,
			MaxChunks:        0,
			CheckpointDB:     DefaultCheckpointDB,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
		Options: DefaultOptions(),
	}
}

// New creates settings for the specified provider from defaults and environment variables.
// An empty provider falls back to HANDOFF_PROVIDER, then gemini.
func New(provider string) (Settings, error) {
	return Load("", provider)
}

// Load creates settings from an optional YAML file, then environment variables.
// An empty path skips the file.
func Load(path, provider string) (Settings, error) {
	settings := Default()

	if path != "" {
		file, err := readFile(path)
		if err != nil {
			return Settings{}, err
		}
		if err := file.apply(&settings); err != nil {
			return Settings{}, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}

	if provider != "" {
		settings.LLM.Provider = provider
	}
	settings.LLM.Provider = normalizeProvider(settings.LLM.Provider)

	info, err := getProviderInfo(settings.LLM.Provider)
	if err != nil {
		return Settings{}, err
	}

	// Environment beats file for models; provider defaults fill the gaps.
	if val := os.Getenv(info.analyzerEnv); val != "" {
		settings.LLM.AnalyzerModel = val
	}
	if val := os.Getenv(info.synthesizerEnv); val != "" {
		settings.LLM.SynthesizerModel = val
	}
	if settings.LLM.AnalyzerModel == "" {
		settings.LLM.AnalyzerModel = info.analyzerDefault
	}
	if settings.LLM.SynthesizerModel == "" {
		settings.LLM.SynthesizerModel = info.synthesizerModel
	}

	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// Validate checks value ranges.
func (s Settings) Validate() error {
	if s.LLM.MaxTokens == 0 {
		return fmt.Errorf("max tokens must be positive")
	}
	if s.LLM.Temperature < 0 || s.LLM.Temperature > 2 {
		return fmt.Errorf("temperature %v out of range [0, 2]", s.LLM.Temperature)
	}
	if s.LLM.ThinkingBudget < 0 {
		return fmt.Errorf("thinking budget must not be negative")
	}
	if s.Pipeline.DevicePixelRatio <= 0 {
		return fmt.Errorf("device pixel ratio must be positive, got %v", s.Pipeline.DevicePixelRatio)
	}
	if s.Pipeline.MaxChunks < 0 {
		return fmt.Errorf("max chunks must not be negative, got %d", s.Pipeline.MaxChunks)
	}
	return nil
}

func applyEnv(s *Settings) error {
	if val := os.Getenv("HANDOFF_PROVIDER"); val != "" {
		s.LLM.Provider = val
	}

	var err error
	if s.LLM.MaxTokens, err = getEnvUint32("LLM_MAX_TOKENS", s.LLM.MaxTokens); err != nil {
		return err
	}
	if s.LLM.Temperature, err = getEnvFloat64("LLM_TEMPERATURE", s.LLM.Temperature); err != nil {
		return err
	}
	if s.LLM.ThinkingBudget, err = getEnvInt32("LLM_THINKING_BUDGET", s.LLM.ThinkingBudget); err != nil {
		return err
	}

	if val := os.Getenv("LOCAL_LLM_BASE_URL"); val != "" {
		s.LLM.LocalBaseURL = val
	}

	if s.Pipeline.DevicePixelRatio, err = getEnvFloat64("HANDOFF_DEVICE_PIXEL_RATIO", s.Pipeline.DevicePixelRatio); err != nil {
		return err
	}
	if s.Pipeline.MaxChunks, err = getEnvInt("HANDOFF_MAX_CHUNKS", s.Pipeline.MaxChunks); err != nil {
		return err
	}
	if val := os.Getenv("HANDOFF_DB"); val != "" {
		s.Pipeline.CheckpointDB = val
	}
	if val := os.Getenv("HANDOFF_LOG_LEVEL"); val != "" {
		s.Log.Level = val
	}
	if val := os.Getenv("HANDOFF_LOG_FORMAT"); val != "" {
		s.Log.Format = val
	}
	return nil
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
// The local provider may run without a key and returns "" in that case.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" && !info.keyOptional {
		return "", fmt.Errorf("%s environment variable not set (api_key missing)", info.apiKeyEnv)
	}
	return key, nil
}

// ModelFor returns the staging model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	if val := os.Getenv(info.analyzerEnv); val != "" {
		return val, nil
	}
	return info.analyzerDefault, nil
}

// SupportedProviders returns the sorted list of supported provider names.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Environment variable helpers with proper error handling

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvInt32(key string, defaultVal int32) (int32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseInt(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return int32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

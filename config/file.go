package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML config file. Pointer fields distinguish
// "absent" from zero values.
type fileConfig struct {
	Provider string `yaml:"provider"`
	Models   struct {
		Analyzer    string `yaml:"analyzer"`
		Synthesizer string `yaml:"synthesizer"`
	} `yaml:"models"`
	MaxTokens      *uint32  `yaml:"max_tokens"`
	Temperature    *float64 `yaml:"temperature"`
	ThinkingBudget *int32   `yaml:"thinking_budget"`
	LocalBaseURL   string   `yaml:"local_base_url"`

	Pipeline struct {
		DevicePixelRatio *float64 `yaml:"device_pixel_ratio"`
		MaxChunks        *int     `yaml:"max_chunks"`
		CheckpointDB     string   `yaml:"checkpoint_db"`
	} `yaml:"pipeline"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Options map[string]bool `yaml:"options"`
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default} with environment values.
// Unset variables without a default expand to the empty string.
func expandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		if value, ok := os.LookupEnv(groups[1]); ok && value != "" {
			return value
		}
		if len(groups) >= 3 {
			return groups[2]
		}
		return ""
	})
}

func readFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}
	return parseFile(data, path)
}

func parseFile(data []byte, path string) (*fileConfig, error) {
	var cfg fileConfig
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expandEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return &cfg, nil
}

func (f *fileConfig) apply(s *Settings) error {
	if f.Provider != "" {
		s.LLM.Provider = f.Provider
	}
	if f.Models.Analyzer != "" {
		s.LLM.AnalyzerModel = f.Models.Analyzer
	}
	if f.Models.Synthesizer != "" {
		s.LLM.SynthesizerModel = f.Models.Synthesizer
	}
	if f.MaxTokens != nil {
		s.LLM.MaxTokens = *f.MaxTokens
	}
	if f.Temperature != nil {
		s.LLM.Temperature = *f.Temperature
	}
	if f.ThinkingBudget != nil {
		s.LLM.ThinkingBudget = *f.ThinkingBudget
	}
	if f.LocalBaseURL != "" {
		s.LLM.LocalBaseURL = f.LocalBaseURL
	}

	if f.Pipeline.DevicePixelRatio != nil {
		s.Pipeline.DevicePixelRatio = *f.Pipeline.DevicePixelRatio
	}
	if f.Pipeline.MaxChunks != nil {
		s.Pipeline.MaxChunks = *f.Pipeline.MaxChunks
	}
	if f.Pipeline.CheckpointDB != "" {
		s.Pipeline.CheckpointDB = f.Pipeline.CheckpointDB
	}

	if f.Log.Level != "" {
		s.Log.Level = f.Log.Level
	}
	if f.Log.Format != "" {
		s.Log.Format = f.Log.Format
	}

	for name, on := range f.Options {
		opt, err := ParseOption(name)
		if err != nil {
			return fmt.Errorf("options: %w", err)
		}
		s.Options.Set(opt, on)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownOption is returned when parsing an option name that does not exist.
var ErrUnknownOption = errors.New("unknown option")

// Option is one of the recognized conversion toggles.
type Option int

const (
	ExtractProjectStructure Option = iota
	ExtractSourceCode
	AddDocumentation
	RefactorForBestPractices
	EnableSpliceAssembly
	EnableNeuralPersistence
)

// AllOptions lists every option in declaration order.
var AllOptions = []Option{
	ExtractProjectStructure,
	ExtractSourceCode,
	AddDocumentation,
	RefactorForBestPractices,
	EnableSpliceAssembly,
	EnableNeuralPersistence,
}

// String returns the option's settings key.
func (o Option) String() string {
	switch o {
	case ExtractProjectStructure:
		return "extractProjectStructure"
	case ExtractSourceCode:
		return "extractSourceCode"
	case AddDocumentation:
		return "addDocumentation"
	case RefactorForBestPractices:
		return "refactorForBestPractices"
	case EnableSpliceAssembly:
		return "enableSpliceAssembly"
	case EnableNeuralPersistence:
		return "enableNeuralPersistence"
	default:
		return "unknown"
	}
}

// ParseOption parses an option from its settings key or snake_case form
// (case-insensitive).
func ParseOption(s string) (Option, error) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	key = strings.ReplaceAll(key, "-", "")
	for _, o := range AllOptions {
		if strings.ToLower(o.String()) == key {
			return o, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOption, s)
}

// Options holds the conversion toggles.
type Options struct {
	extractProjectStructure  bool
	extractSourceCode        bool
	addDocumentation         bool
	refactorForBestPractices bool
	enableSpliceAssembly     bool
	enableNeuralPersistence  bool
}

// DefaultOptions enables everything except neural persistence.
func DefaultOptions() Options {
	return Options{
		extractProjectStructure:  true,
		extractSourceCode:        true,
		addDocumentation:         true,
		refactorForBestPractices: true,
		enableSpliceAssembly:     true,
		enableNeuralPersistence:  false,
	}
}

// Enabled reports whether o is on.
func (s Options) Enabled(o Option) bool {
	switch o {
	case ExtractProjectStructure:
		return s.extractProjectStructure
	case ExtractSourceCode:
		return s.extractSourceCode
	case AddDocumentation:
		return s.addDocumentation
	case RefactorForBestPractices:
		return s.refactorForBestPractices
	case EnableSpliceAssembly:
		return s.enableSpliceAssembly
	case EnableNeuralPersistence:
		return s.enableNeuralPersistence
	default:
		return false
	}
}

// Set switches o on or off. Unknown options are ignored.
func (s *Options) Set(o Option, on bool) {
	switch o {
	case ExtractProjectStructure:
		s.SetExtractProjectStructure(on)
	case ExtractSourceCode:
		s.SetExtractSourceCode(on)
	case AddDocumentation:
		s.SetAddDocumentation(on)
	case RefactorForBestPractices:
		s.SetRefactorForBestPractices(on)
	case EnableSpliceAssembly:
		s.SetEnableSpliceAssembly(on)
	case EnableNeuralPersistence:
		s.SetEnableNeuralPersistence(on)
	}
}

// Toggle flips o.
func (s *Options) Toggle(o Option) {
	s.Set(o, !s.Enabled(o))
}

func (s *Options) SetExtractProjectStructure(on bool)  { s.extractProjectStructure = on }
func (s *Options) SetExtractSourceCode(on bool)        { s.extractSourceCode = on }
func (s *Options) SetAddDocumentation(on bool)         { s.addDocumentation = on }
func (s *Options) SetRefactorForBestPractices(on bool) { s.refactorForBestPractices = on }
func (s *Options) SetEnableSpliceAssembly(on bool)     { s.enableSpliceAssembly = on }
func (s *Options) SetEnableNeuralPersistence(on bool)  { s.enableNeuralPersistence = on }

// Exhaustive reports whether staging and synthesis use their exhaustive instructions.
func (s Options) Exhaustive() bool {
	return s.enableNeuralPersistence
}

// Active returns the enabled options in declaration order.
func (s Options) Active() []Option {
	var out []Option
	for _, o := range AllOptions {
		if s.Enabled(o) {
			out = append(out, o)
		}
	}
	return out
}

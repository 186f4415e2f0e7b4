// File export for reconstructed synthesis output.
//
// Information Hiding:
// - Path sanitising hidden
// - Duplicate filename policy hidden (last entry wins on disk)

package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/richinex/handoff/model"
	"github.com/richinex/handoff/telemetry"
)

// ErrUnsafePath is returned for filenames that are absolute or escape the output directory.
var ErrUnsafePath = errors.New("unsafe output path")

// ExportFiles writes files below dir and returns the written paths in first-seen order.
// Every name is checked before anything is written.
func ExportFiles(dir string, files []model.ParsedFile, logger telemetry.Logger) ([]string, error) {
	targets := make([]string, len(files))
	for i, f := range files {
		target, err := safeJoin(dir, f.Filename)
		if err != nil {
			return nil, err
		}
		targets[i] = target
	}

	seen := make(map[string]bool, len(files))
	var written []string
	for i, f := range files {
		target := targets[i]
		if seen[target] {
			if logger != nil {
				logger.Log(telemetry.LevelWarning, "Duplicate file overwritten", f.Filename)
			}
		} else {
			seen[target] = true
			written = append(written, target)
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return written, fmt.Errorf("failed to create directory for %s: %w", f.Filename, err)
		}
		if err := os.WriteFile(target, []byte(f.Content), 0644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", f.Filename, err)
		}
	}
	return written, nil
}

// safeJoin resolves name below dir, rejecting absolute and parent-escaping names.
func safeJoin(dir, name string) (string, error) {
	slashed := filepath.ToSlash(name)
	if name == "" || strings.HasPrefix(slashed, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}

	clean := filepath.Clean(filepath.FromSlash(slashed))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return filepath.Join(dir, clean), nil
}

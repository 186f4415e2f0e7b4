package cli

import (
	"strings"
	"testing"

	"github.com/richinex/handoff/asset"
	"github.com/richinex/handoff/config"
	"github.com/richinex/handoff/model"
)

func TestFilesTableTotals(t *testing.T) {
	got := filesTable([]model.ParsedFile{
		{Filename: "main.go", Language: "go", Content: "package main\n\nfunc main() {}"},
		{Filename: "README.md", Language: "md", Content: "# todo"},
	})
	if !strings.Contains(got, "main.go") || !strings.Contains(got, "README.md") {
		t.Errorf("missing file rows:\n%s", got)
	}
	if !strings.Contains(strings.ToLower(got), "total") || !strings.Contains(got, "4") {
		t.Errorf("expected a total of 4 lines:\n%s", got)
	}

	single := filesTable([]model.ParsedFile{{Filename: "a.txt", Language: "txt", Content: "x"}})
	if strings.Contains(strings.ToLower(single), "total") {
		t.Errorf("single file should have no footer:\n%s", single)
	}
}

func TestModulesTableWrapsDescriptions(t *testing.T) {
	long := strings.Repeat("renders the todo list ", 10)
	got := modulesTable([]model.Module{{Filename: "src/App.tsx", Type: "component", Description: long}})
	for _, line := range strings.Split(got, "\n") {
		if len([]rune(line)) > descriptionWidth+40 {
			t.Errorf("line not wrapped (%d runes): %q", len([]rune(line)), line)
		}
	}
}

func TestAssetsTableMarksUndecodable(t *testing.T) {
	got := assetsTable([]asset.Asset{asset.New("broken.png", []byte("not an image"))}, 1000)
	if !strings.Contains(got, "invalid") {
		t.Errorf("expected undecodable asset to be marked:\n%s", got)
	}
}

func TestOptionsTableStates(t *testing.T) {
	opts := config.DefaultOptions()
	opts.Set(config.AddDocumentation, false)
	got := optionsTable(opts)
	for _, line := range strings.Split(got, "\n") {
		if strings.Contains(line, config.AddDocumentation.String()) && !strings.Contains(line, "off") {
			t.Errorf("expected %s off: %q", config.AddDocumentation, line)
		}
	}
	if !strings.Contains(got, config.EnableNeuralPersistence.String()) {
		t.Errorf("missing option rows:\n%s", got)
	}
}

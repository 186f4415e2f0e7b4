// Package parser reconstructs named files from synthesis output.
//
// The synthesis text is a flat blob where each file is introduced by a
// "### FILE: <path>" marker line. Text before the first marker is
// conversational preamble and is dropped.
package parser

import (
	"path"
	"regexp"
	"strings"

	"github.com/richinex/handoff/model"
)

// DefaultLanguage is used for files without an extension.
const DefaultLanguage = "text"

// MarkerPrefix introduces a file section in synthesis output.
const MarkerPrefix = "### FILE: "

var markerPattern = regexp.MustCompile(`(?i)^### FILE:\s*(\S+)`)

// Parse splits raw synthesis text into files, in encountered order.
// Duplicate filenames are kept as separate entries. A marker with no body
// lines before the next marker or the end of input yields no entry; a body of
// blank lines still counts.
func Parse(raw string) []model.ParsedFile {
	files := []model.ParsedFile{}

	var (
		current string
		body    []string
		open    bool
	)
	flush := func() {
		if !open || len(body) == 0 {
			return
		}
		files = append(files, model.ParsedFile{
			Filename: current,
			Language: LanguageFor(current),
			Content:  cleanBody(body),
		})
		body = nil
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if m := markerPattern.FindStringSubmatch(line); m != nil {
			flush()
			current = strings.TrimPrefix(m[1], "./")
			open = true
			continue
		}
		if open {
			body = append(body, line)
		}
	}
	flush()

	return files
}

// Render writes files back into marker-delimited text.
// Parse(Render(files)) returns files unchanged.
func Render(files []model.ParsedFile) string {
	var b strings.Builder
	for i, f := range files {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(MarkerPrefix)
		b.WriteString(f.Filename)
		b.WriteString("\n")
		b.WriteString(f.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// LanguageFor returns the final extension of filename, lowercased,
// or DefaultLanguage when there is none.
func LanguageFor(filename string) string {
	ext := strings.TrimPrefix(path.Ext(path.Base(filename)), ".")
	if ext == "" {
		return DefaultLanguage
	}
	return strings.ToLower(ext)
}

// cleanBody unwraps a body holding exactly one fenced code block and trims it.
// Bodies with no fence, or several, are returned trimmed as-is.
func cleanBody(lines []string) string {
	var fences []int
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			fences = append(fences, i)
		}
	}
	if len(fences) == 2 {
		lines = lines[fences[0]+1 : fences[1]]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

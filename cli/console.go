package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/richinex/handoff/telemetry"
)

var levelMarks = map[telemetry.Level]string{
	telemetry.LevelInfo:    "·",
	telemetry.LevelSuccess: "✓",
	telemetry.LevelWarning: "!",
	telemetry.LevelError:   "✗",
}

// consolePrinter writes Monitor entries it has not printed yet, oldest first.
type consolePrinter struct {
	mu     sync.Mutex
	out    io.Writer
	lastID string
}

func newConsolePrinter(out io.Writer) *consolePrinter {
	return &consolePrinter{out: out}
}

// handle receives a newest-first snapshot.
func (p *consolePrinter) handle(entries []telemetry.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fresh := len(entries)
	for i, e := range entries {
		if e.ID == p.lastID {
			fresh = i
			break
		}
	}
	if fresh == 0 {
		return
	}

	for i := fresh - 1; i >= 0; i-- {
		e := entries[i]
		line := fmt.Sprintf("%s %s %s", e.Timestamp.Format("15:04:05"), levelMarks[e.Level], e.Message)
		if e.Details != "" {
			line += " (" + e.Details + ")"
		}
		fmt.Fprintln(p.out, line)
	}
	p.lastID = entries[0].ID
}

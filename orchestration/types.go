// Package orchestration provides the two-phase stage controller.
//
// Types used by the controller, its callers and tests.
package orchestration

import (
	"errors"
	"time"

	"github.com/richinex/handoff/diagnosis"
	"github.com/richinex/handoff/governor"
	"github.com/richinex/handoff/model"
)

// Sentinel errors returned by controller operations.
var (
	ErrNoAssets          = errors.New("no assets ingested")
	ErrSaturated         = errors.New("memory saturation is critical")
	ErrBusy              = errors.New("a pipeline run is already in progress")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNoBlueprint       = errors.New("no staged blueprint")
)

// IsGuardError reports whether err came from an operation refused before any
// model call, leaving the controller state unchanged.
func IsGuardError(err error) bool {
	return errors.Is(err, ErrNoAssets) ||
		errors.Is(err, ErrSaturated) ||
		errors.Is(err, ErrBusy) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrNoBlueprint)
}

// State is the controller's position in the pipeline.
type State int

const (
	StateIdle State = iota
	StateStaging
	StateStaged
	StateSynthesizing
	StateComplete
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStaging:
		return "staging"
	case StateStaged:
		return "staged"
	case StateSynthesizing:
		return "synthesizing"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Active reports whether a model run is in flight in this state.
func (s State) Active() bool {
	return s == StateStaging || s == StateSynthesizing
}

// Phase identifies which half of the pipeline a run belongs to.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseStaging
	PhaseSynthesis
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseStaging:
		return "staging"
	case PhaseSynthesis:
		return "synthesis"
	default:
		return "none"
	}
}

// ProgressFunc receives progress percentages in [0,100], never decreasing within a run.
type ProgressFunc func(percent int)

// Result is the outcome of a completed synthesis run.
type Result struct {
	Raw        string
	Files      []model.ParsedFile
	Checkpoint model.Checkpoint
}

// Snapshot is a read-only view of the controller.
type Snapshot struct {
	State       State
	RunID       string
	Blueprint   *model.Blueprint
	Result      string
	Files       []model.ParsedFile
	FailedPhase Phase
	LastError   *diagnosis.Classification
	Metrics     governor.Metrics
	UpdatedAt   time.Time
}

// HasResult reports whether a synthesis result is held.
func (s Snapshot) HasResult() bool {
	return s.Result != ""
}

// progressTracker clamps reported values so callers see a monotonic sequence.
type progressTracker struct {
	fn   ProgressFunc
	last int
}

func newProgressTracker(fn ProgressFunc) *progressTracker {
	return &progressTracker{fn: fn, last: -1}
}

func (p *progressTracker) report(percent int) {
	percent = max(0, min(100, percent))
	if percent <= p.last {
		return
	}
	p.last = percent
	if p.fn != nil {
		p.fn(percent)
	}
}

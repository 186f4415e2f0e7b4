// Controller - Two-Phase Stage Controller.
//
// Sequences governor checks, chunking, the staging and synthesis model calls,
// response parsing and checkpoint capture as an explicit state machine.
//
// Information Hiding:
// - State transitions and their guards hidden
// - Single-flight enforcement hidden
// - Progress scaling per phase hidden
// - Failure routing to the classifier hidden

package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/richinex/handoff/asset"
	"github.com/richinex/handoff/chunker"
	"github.com/richinex/handoff/config"
	"github.com/richinex/handoff/diagnosis"
	"github.com/richinex/handoff/gateway"
	"github.com/richinex/handoff/governor"
	"github.com/richinex/handoff/model"
	"github.com/richinex/handoff/parser"
	"github.com/richinex/handoff/storage"
	"github.com/richinex/handoff/telemetry"
)

// Share of each phase's progress attributed to chunking.
const (
	stagingChunkShare   = 40
	synthesisChunkShare = 50
)

// Config wires the controller's collaborators.
type Config struct {
	Gateway gateway.Gateway
	Chunker *chunker.Chunker
	Store   storage.CheckpointStore
	Assets  *asset.Set
	Options config.Options
	Logger  telemetry.Logger
}

// Controller drives one session's pipeline runs.
// Safe for concurrent use; at most one model run is in flight at a time.
type Controller struct {
	gateway gateway.Gateway
	chunker *chunker.Chunker
	store   storage.CheckpointStore
	assets  *asset.Set
	logger  telemetry.Logger

	mu          sync.Mutex
	options     config.Options
	state       State
	runID       string
	blueprint   *model.Blueprint
	result      string
	files       []model.ParsedFile
	failedPhase Phase
	lastErr     *diagnosis.Classification
	updatedAt   time.Time
}

// NewController creates a controller in the idle state.
func NewController(cfg Config) *Controller {
	c := &Controller{
		gateway:   cfg.Gateway,
		chunker:   cfg.Chunker,
		store:     cfg.Store,
		assets:    cfg.Assets,
		logger:    cfg.Logger,
		options:   cfg.Options,
		state:     StateIdle,
		updatedAt: time.Now(),
	}
	if c.chunker == nil {
		c.chunker = chunker.New(1, 0)
	}
	if c.store == nil {
		c.store = storage.NewInMemoryStore()
	}
	if c.assets == nil {
		c.assets = asset.NewSet()
	}
	if c.logger == nil {
		c.logger = discard{}
	}
	return c
}

// AddAssets appends assets to the session. Allowed while saturated.
func (c *Controller) AddAssets(assets ...asset.Asset) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Active() {
		return ErrBusy
	}

	c.assets.Add(assets...)
	for _, a := range assets {
		c.logger.Log(telemetry.LevelInfo, "Asset ingested", fmt.Sprintf("%s (%d bytes)", a.Name, a.RawSize))
	}
	return nil
}

// RemoveAsset deletes one asset from the session.
func (c *Controller) RemoveAsset(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Active() {
		return ErrBusy
	}
	return c.assets.Remove(id)
}

// ClearAssets removes every asset from the session.
func (c *Controller) ClearAssets() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Active() {
		return ErrBusy
	}

	c.assets.Clear()
	c.logger.Log(telemetry.LevelInfo, "Assets cleared")
	return nil
}

// Assets returns the ingested assets in order.
func (c *Controller) Assets() []asset.Asset {
	return c.assets.List()
}

// Metrics recomputes memory pressure for the current asset set.
func (c *Controller) Metrics() governor.Metrics {
	return governor.ComputeMetrics(c.assets.List())
}

// SetOptions replaces the conversion options used by subsequent runs.
func (c *Controller) SetOptions(opts config.Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.options = opts
}

// StartStaging chunks every asset and asks the gateway for a blueprint.
// Legal from idle, complete and error; a staged blueprint must be launched or ejected first.
func (c *Controller) StartStaging(ctx context.Context, progress ProgressFunc) (model.Blueprint, error) {
	c.mu.Lock()
	if c.state.Active() {
		c.mu.Unlock()
		return model.Blueprint{}, ErrBusy
	}
	if c.state == StateStaged {
		c.mu.Unlock()
		return model.Blueprint{}, fmt.Errorf("%w: cannot stage from %s, eject first", ErrInvalidTransition, c.state)
	}
	assets, err := c.admit()
	if err != nil {
		c.mu.Unlock()
		return model.Blueprint{}, err
	}
	c.begin(StateStaging)
	c.blueprint = nil
	mode := gateway.ModeFor(c.options)
	runID := c.runID
	c.mu.Unlock()

	return c.stage(ctx, runID, assets, mode, newProgressTracker(progress))
}

// Launch runs synthesis for the staged blueprint.
func (c *Controller) Launch(ctx context.Context, progress ProgressFunc) (Result, error) {
	c.mu.Lock()
	if c.state.Active() {
		c.mu.Unlock()
		return Result{}, ErrBusy
	}
	if c.state != StateStaged {
		c.mu.Unlock()
		return Result{}, fmt.Errorf("%w: cannot launch from %s", ErrInvalidTransition, c.state)
	}
	if c.blueprint == nil {
		c.mu.Unlock()
		return Result{}, ErrNoBlueprint
	}
	assets, err := c.admit()
	if err != nil {
		c.mu.Unlock()
		return Result{}, err
	}
	bp := *c.blueprint
	c.state = StateSynthesizing
	c.updatedAt = time.Now()
	mode := gateway.ModeFor(c.options)
	runID := c.runID
	c.mu.Unlock()

	return c.synthesize(ctx, runID, assets, bp, mode, newProgressTracker(progress))
}

// Eject discards the staged blueprint without calling the model.
func (c *Controller) Eject() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStaged {
		return fmt.Errorf("%w: cannot eject from %s", ErrInvalidTransition, c.state)
	}

	c.blueprint = nil
	c.state = StateIdle
	c.updatedAt = time.Now()
	c.logger.Log(telemetry.LevelWarning, "Handoff ejected", "Blueprint discarded")
	return nil
}

// Retry re-runs the phase that failed. A synthesis retry reuses the held blueprint.
// The returned blueprint is set for staging retries, the result for synthesis retries.
func (c *Controller) Retry(ctx context.Context, progress ProgressFunc) (Phase, model.Blueprint, Result, error) {
	c.mu.Lock()
	if c.state.Active() {
		c.mu.Unlock()
		return PhaseNone, model.Blueprint{}, Result{}, ErrBusy
	}
	if c.state != StateError {
		c.mu.Unlock()
		return PhaseNone, model.Blueprint{}, Result{}, fmt.Errorf("%w: nothing to retry from %s", ErrInvalidTransition, c.state)
	}
	phase := c.failedPhase
	if phase == PhaseSynthesis && c.blueprint == nil {
		c.mu.Unlock()
		return phase, model.Blueprint{}, Result{}, ErrNoBlueprint
	}
	assets, err := c.admit()
	if err != nil {
		c.mu.Unlock()
		return phase, model.Blueprint{}, Result{}, err
	}
	mode := gateway.ModeFor(c.options)
	c.logger.Log(telemetry.LevelInfo, "Retrying "+phase.String())

	if phase == PhaseSynthesis {
		bp := *c.blueprint
		c.begin(StateSynthesizing)
		runID := c.runID
		c.mu.Unlock()

		res, err := c.synthesize(ctx, runID, assets, bp, mode, newProgressTracker(progress))
		return phase, bp, res, err
	}

	c.begin(StateStaging)
	runID := c.runID
	c.mu.Unlock()

	bp, err := c.stage(ctx, runID, assets, mode, newProgressTracker(progress))
	return PhaseStaging, bp, Result{}, err
}

// Checkpoints lists the retained checkpoints, newest first.
func (c *Controller) Checkpoints(ctx context.Context) ([]model.Checkpoint, error) {
	return c.store.List(ctx)
}

// SelectCheckpoint restores a prior result into the active view.
func (c *Controller) SelectCheckpoint(ctx context.Context, id string) (model.Checkpoint, error) {
	c.mu.Lock()
	if c.state.Active() {
		c.mu.Unlock()
		return model.Checkpoint{}, ErrBusy
	}
	c.mu.Unlock()

	cp, err := c.store.Get(ctx, id)
	if err != nil {
		return model.Checkpoint{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Active() {
		return model.Checkpoint{}, ErrBusy
	}
	c.result = cp.RawResult
	c.files = parser.Parse(cp.RawResult)
	c.updatedAt = time.Now()
	c.logger.Log(telemetry.LevelInfo, "Checkpoint restored", cp.Summary)
	return cp, nil
}

// Snapshot returns a copy of the controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:       c.state,
		RunID:       c.runID,
		Result:      c.result,
		FailedPhase: c.failedPhase,
		Metrics:     governor.ComputeMetrics(c.assets.List()),
		UpdatedAt:   c.updatedAt,
	}
	if c.blueprint != nil {
		bp := *c.blueprint
		snap.Blueprint = &bp
	}
	if c.files != nil {
		snap.Files = append([]model.ParsedFile(nil), c.files...)
	}
	if c.lastErr != nil {
		diag := *c.lastErr
		snap.LastError = &diag
	}
	return snap
}

// admit checks the ingestion guards. Caller must hold c.mu.
func (c *Controller) admit() ([]asset.Asset, error) {
	assets := c.assets.List()
	if len(assets) == 0 {
		return nil, ErrNoAssets
	}
	metrics := governor.ComputeMetrics(assets)
	if metrics.IsCritical {
		c.logger.Log(telemetry.LevelWarning, "Ingestion blocked", fmt.Sprintf("saturation %.0f%%", metrics.Saturation*100))
		return nil, fmt.Errorf("%w: %d bytes of %d", ErrSaturated, metrics.TotalBytes, governor.MemoryLimit)
	}
	return assets, nil
}

// begin enters an active state for a new run. Caller must hold c.mu.
func (c *Controller) begin(state State) {
	c.state = state
	c.runID = uuid.NewString()
	c.failedPhase = PhaseNone
	c.lastErr = nil
	c.updatedAt = time.Now()
}

func (c *Controller) stage(ctx context.Context, runID string, assets []asset.Asset, mode gateway.Mode, progress *progressTracker) (model.Blueprint, error) {
	c.logger.Log(telemetry.LevelInfo, "Staging started", fmt.Sprintf("run=%s assets=%d mode=%s", runID, len(assets), mode))
	progress.report(0)

	chunks, err := c.chunkAll(assets, stagingChunkShare, progress)
	if err != nil {
		return model.Blueprint{}, c.fail(PhaseStaging, err)
	}

	bp, err := c.gateway.Analyze(ctx, chunks, mode)
	if err != nil {
		return model.Blueprint{}, c.fail(PhaseStaging, err)
	}
	progress.report(100)

	c.mu.Lock()
	c.blueprint = &bp
	c.state = StateStaged
	c.updatedAt = time.Now()
	c.mu.Unlock()

	c.logger.Log(telemetry.LevelSuccess, "Blueprint staged: "+bp.ProjectName,
		fmt.Sprintf("modules=%d stack=%v", len(bp.Modules), bp.TechStack))
	return bp, nil
}

func (c *Controller) synthesize(ctx context.Context, runID string, assets []asset.Asset, bp model.Blueprint, mode gateway.Mode, progress *progressTracker) (Result, error) {
	c.logger.Log(telemetry.LevelInfo, "Synthesis started", fmt.Sprintf("run=%s project=%s mode=%s", runID, bp.ProjectName, mode))
	progress.report(0)

	chunks, err := c.chunkAll(assets, synthesisChunkShare, progress)
	if err != nil {
		return Result{}, c.fail(PhaseSynthesis, err)
	}

	raw, err := c.gateway.Synthesize(ctx, chunks, bp, mode)
	if err != nil {
		return Result{}, c.fail(PhaseSynthesis, err)
	}

	files := parser.Parse(raw)
	cp := storage.NewCheckpoint(raw, files, len(assets), bp.ProjectName)
	if err := c.store.Append(ctx, cp); err != nil {
		c.logger.Log(telemetry.LevelWarning, "Checkpoint not saved", err.Error())
	}
	progress.report(100)

	c.mu.Lock()
	c.result = raw
	c.files = files
	c.blueprint = nil
	c.state = StateComplete
	c.updatedAt = time.Now()
	c.mu.Unlock()

	c.logger.Log(telemetry.LevelSuccess, fmt.Sprintf("Handoff complete: %d files", len(files)), cp.Summary)
	return Result{Raw: raw, Files: files, Checkpoint: cp}, nil
}

// chunkAll chunks assets in order, attributing share percent of progress to the work.
func (c *Controller) chunkAll(assets []asset.Asset, share int, progress *progressTracker) ([]chunker.Chunk, error) {
	var chunks []chunker.Chunk
	for i, a := range assets {
		cs, err := c.chunker.Chunk(a)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, cs...)
		if len(cs) > 1 {
			c.logger.Log(telemetry.LevelInfo, "Asset sliced", fmt.Sprintf("%s -> %d chunks", a.Name, len(cs)))
		}
		progress.report(share * (i + 1) / len(assets))
	}
	return chunks, nil
}

// fail moves the controller to the error state and records the diagnosis.
// The blueprint is kept so a synthesis retry can skip staging.
func (c *Controller) fail(phase Phase, err error) error {
	diag := diagnosis.ClassifyError(err)

	c.mu.Lock()
	c.state = StateError
	c.failedPhase = phase
	c.lastErr = &diag
	c.updatedAt = time.Now()
	c.mu.Unlock()

	c.logger.Log(telemetry.LevelError, fmt.Sprintf("%s failed: %s", phase, diag.Title), err.Error())
	return fmt.Errorf("%s: %w", phase, err)
}

type discard struct{}

func (discard) Log(telemetry.Level, string, ...string) {}

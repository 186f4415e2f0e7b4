package orchestration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/richinex/handoff/asset"
	"github.com/richinex/handoff/chunker"
	"github.com/richinex/handoff/config"
	"github.com/richinex/handoff/diagnosis"
	"github.com/richinex/handoff/gateway"
	"github.com/richinex/handoff/governor"
	"github.com/richinex/handoff/model"
	"github.com/richinex/handoff/storage"
	"github.com/richinex/handoff/telemetry"
)

type fakeGateway struct {
	mu             sync.Mutex
	analyzeCalls   int
	synthCalls     int
	analyzeErrs    []error
	synthErrs      []error
	lastMode       gateway.Mode
	lastChunks     int
	synthText      string
	analyzeEntered chan struct{}
	analyzeRelease chan struct{}
}

func (f *fakeGateway) Analyze(_ context.Context, chunks []chunker.Chunk, mode gateway.Mode) (model.Blueprint, error) {
	f.mu.Lock()
	f.analyzeCalls++
	f.lastMode = mode
	f.lastChunks = len(chunks)
	var err error
	if len(f.analyzeErrs) > 0 {
		err, f.analyzeErrs = f.analyzeErrs[0], f.analyzeErrs[1:]
	}
	entered, release := f.analyzeEntered, f.analyzeRelease
	f.mu.Unlock()

	if entered != nil {
		close(entered)
		<-release
	}
	if err != nil {
		return model.Blueprint{}, err
	}
	return model.Blueprint{
		ProjectName: "todo",
		TechStack:   []string{"react"},
		Modules:     []model.Module{{ID: "m1", Filename: "src/App.tsx", Type: "component"}},
	}, nil
}

func (f *fakeGateway) Synthesize(_ context.Context, chunks []chunker.Chunk, _ model.Blueprint, mode gateway.Mode) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synthCalls++
	f.lastMode = mode
	f.lastChunks = len(chunks)
	if len(f.synthErrs) > 0 {
		err := f.synthErrs[0]
		f.synthErrs = f.synthErrs[1:]
		return "", err
	}
	if f.synthText != "" {
		return f.synthText, nil
	}
	return "Here you go.\n### FILE: src/App.tsx\n```tsx\nexport const App = () => null;\n```\n### FILE: README.md\n# todo", nil
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func newTestController(t *testing.T, gw gateway.Gateway, assets ...asset.Asset) (*Controller, storage.CheckpointStore) {
	t.Helper()
	store := storage.NewInMemoryStore()
	c := NewController(Config{
		Gateway: gw,
		Chunker: chunker.New(1, 0),
		Store:   store,
		Options: config.DefaultOptions(),
	})
	if err := c.AddAssets(assets...); err != nil {
		t.Fatalf("AddAssets failed: %v", err)
	}
	return c, store
}

func twoAssets(t *testing.T) []asset.Asset {
	return []asset.Asset{
		asset.New("one.png", pngBytes(t, 10, 10)),
		asset.New("two.png", pngBytes(t, 10, 20)),
	}
}

func recordProgress() (*[]int, ProgressFunc) {
	var got []int
	return &got, func(p int) { got = append(got, p) }
}

func TestStageLaunchComplete(t *testing.T) {
	gw := &fakeGateway{}
	c, store := newTestController(t, gw, twoAssets(t)...)
	ctx := context.Background()

	stagingProgress, fn := recordProgress()
	bp, err := c.StartStaging(ctx, fn)
	if err != nil {
		t.Fatalf("StartStaging failed: %v", err)
	}
	if bp.ProjectName != "todo" {
		t.Errorf("unexpected blueprint %+v", bp)
	}
	if want := []int{0, 20, 40, 100}; !reflect.DeepEqual(*stagingProgress, want) {
		t.Errorf("staging progress: expected %v, got %v", want, *stagingProgress)
	}
	if snap := c.Snapshot(); snap.State != StateStaged || snap.Blueprint == nil {
		t.Fatalf("expected staged with blueprint, got %s", snap.State)
	}

	synthProgress, fn := recordProgress()
	res, err := c.Launch(ctx, fn)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if want := []int{0, 25, 50, 100}; !reflect.DeepEqual(*synthProgress, want) {
		t.Errorf("synthesis progress: expected %v, got %v", want, *synthProgress)
	}
	if len(res.Files) != 2 || res.Files[0].Filename != "src/App.tsx" || res.Files[0].Content != "export const App = () => null;" {
		t.Errorf("unexpected files %+v", res.Files)
	}

	snap := c.Snapshot()
	if snap.State != StateComplete || snap.Blueprint != nil || !snap.HasResult() {
		t.Errorf("expected complete with result and no blueprint, got %+v", snap)
	}

	list, _ := store.List(ctx)
	if len(list) != 1 || list[0].Summary != "Handoff: todo" || list[0].AssetCount != 2 {
		t.Errorf("expected one checkpoint, got %+v", list)
	}
	if gw.lastChunks != 2 {
		t.Errorf("expected 2 chunks sent, got %d", gw.lastChunks)
	}
}

func TestCompleteAcceptsNewStaging(t *testing.T) {
	gw := &fakeGateway{}
	c, _ := newTestController(t, gw, twoAssets(t)...)
	ctx := context.Background()

	if _, err := c.StartStaging(ctx, nil); err != nil {
		t.Fatalf("StartStaging failed: %v", err)
	}
	if _, err := c.Launch(ctx, nil); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if _, err := c.StartStaging(ctx, nil); err != nil {
		t.Fatalf("second StartStaging failed: %v", err)
	}
	if snap := c.Snapshot(); snap.State != StateStaged || !snap.HasResult() {
		t.Errorf("expected staged while keeping the previous result, got %s", snap.State)
	}
}

func saturatingAssets() []asset.Asset {
	// 192 images exhaust the limit through decode overhead alone.
	var many []asset.Asset
	for i := 0; i < int(governor.MemoryLimit/governor.DecodeOverhead); i++ {
		many = append(many, asset.New("x.png", []byte{1}))
	}
	return many
}

func TestStartStagingGuards(t *testing.T) {
	gw := &fakeGateway{}
	c, _ := newTestController(t, gw)
	if _, err := c.StartStaging(context.Background(), nil); !errors.Is(err, ErrNoAssets) {
		t.Errorf("expected ErrNoAssets, got %v", err)
	}

	if err := c.AddAssets(saturatingAssets()...); err != nil {
		t.Fatalf("adding while saturated must be allowed: %v", err)
	}
	if !c.Metrics().IsCritical {
		t.Fatal("expected critical saturation")
	}
	if _, err := c.StartStaging(context.Background(), nil); !errors.Is(err, ErrSaturated) {
		t.Errorf("expected ErrSaturated, got %v", err)
	}
	if c.Snapshot().State != StateIdle {
		t.Error("guard failure must not change state")
	}
	if gw.analyzeCalls != 0 {
		t.Errorf("expected no staging call, got %d", gw.analyzeCalls)
	}
}

func TestLaunchGuardedWhenSaturated(t *testing.T) {
	gw := &fakeGateway{}
	c, _ := newTestController(t, gw, twoAssets(t)...)
	ctx := context.Background()

	if _, err := c.StartStaging(ctx, nil); err != nil {
		t.Fatalf("StartStaging failed: %v", err)
	}
	if err := c.AddAssets(saturatingAssets()...); err != nil {
		t.Fatalf("adding while staged must be allowed: %v", err)
	}

	if _, err := c.Launch(ctx, nil); !errors.Is(err, ErrSaturated) {
		t.Errorf("expected ErrSaturated, got %v", err)
	}
	if gw.synthCalls != 0 {
		t.Errorf("expected no synthesis call, got %d", gw.synthCalls)
	}
	snap := c.Snapshot()
	if snap.State != StateStaged || snap.Blueprint == nil {
		t.Errorf("expected staged with blueprint kept, got %s", snap.State)
	}
}

func TestIsGuardError(t *testing.T) {
	for _, err := range []error{ErrNoAssets, ErrSaturated, ErrBusy, ErrNoBlueprint, fmt.Errorf("%w: from idle", ErrInvalidTransition)} {
		if !IsGuardError(err) {
			t.Errorf("expected %v to be a guard error", err)
		}
	}
	if IsGuardError(errors.New("staging: 429 quota exceeded")) || IsGuardError(nil) {
		t.Error("phase failures are not guard errors")
	}
}

func TestRetryGuardedWhenSaturated(t *testing.T) {
	gw := &fakeGateway{synthErrs: []error{errors.New("429 quota exceeded")}}
	c, _ := newTestController(t, gw, twoAssets(t)...)
	ctx := context.Background()

	if _, err := c.StartStaging(ctx, nil); err != nil {
		t.Fatalf("StartStaging failed: %v", err)
	}
	if _, err := c.Launch(ctx, nil); err == nil {
		t.Fatal("expected synthesis failure")
	}
	if err := c.AddAssets(saturatingAssets()...); err != nil {
		t.Fatalf("AddAssets failed: %v", err)
	}

	_, _, _, err := c.Retry(ctx, nil)
	if !errors.Is(err, ErrSaturated) || !IsGuardError(err) {
		t.Errorf("expected a saturation guard error, got %v", err)
	}
	snap := c.Snapshot()
	if snap.State != StateError || snap.FailedPhase != PhaseSynthesis {
		t.Errorf("expected the earlier synthesis failure to remain, got %s/%s", snap.State, snap.FailedPhase)
	}
	if gw.synthCalls != 1 {
		t.Errorf("expected one synthesis call, got %d", gw.synthCalls)
	}
}

func TestLaunchRequiresStaged(t *testing.T) {
	c, _ := newTestController(t, &fakeGateway{}, twoAssets(t)...)
	if _, err := c.Launch(context.Background(), nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestStageTwiceRequiresEject(t *testing.T) {
	gw := &fakeGateway{}
	c, _ := newTestController(t, gw, twoAssets(t)...)
	ctx := context.Background()

	if _, err := c.StartStaging(ctx, nil); err != nil {
		t.Fatalf("StartStaging failed: %v", err)
	}
	if _, err := c.StartStaging(ctx, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if err := c.Eject(); err != nil {
		t.Fatalf("Eject failed: %v", err)
	}
	snap := c.Snapshot()
	if snap.State != StateIdle || snap.Blueprint != nil {
		t.Errorf("expected idle without blueprint, got %+v", snap)
	}
	if gw.synthCalls != 0 {
		t.Error("eject must not call the model")
	}
	if err := c.Eject(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second eject: expected ErrInvalidTransition, got %v", err)
	}
}

func TestStagingFailureAndRetry(t *testing.T) {
	gw := &fakeGateway{analyzeErrs: []error{errors.New("401 Unauthorized: api_key invalid")}}
	c, _ := newTestController(t, gw, twoAssets(t)...)
	ctx := context.Background()

	if _, err := c.StartStaging(ctx, nil); err == nil {
		t.Fatal("expected staging failure")
	}
	snap := c.Snapshot()
	if snap.State != StateError || snap.FailedPhase != PhaseStaging {
		t.Fatalf("expected error in staging, got %s/%s", snap.State, snap.FailedPhase)
	}
	if snap.LastError == nil || snap.LastError.Code != diagnosis.CodeAuth {
		t.Errorf("expected AUTH_001, got %+v", snap.LastError)
	}

	if _, err := c.Launch(ctx, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("launch from error: expected ErrInvalidTransition, got %v", err)
	}

	phase, bp, _, err := c.Retry(ctx, nil)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if phase != PhaseStaging || bp.ProjectName != "todo" {
		t.Errorf("expected staging retry, got %s %+v", phase, bp)
	}
	if gw.analyzeCalls != 2 {
		t.Errorf("expected 2 analyze calls, got %d", gw.analyzeCalls)
	}
	if snap := c.Snapshot(); snap.State != StateStaged || snap.LastError != nil {
		t.Errorf("expected staged with cleared error, got %+v", snap)
	}
}

func TestSynthesisRetryReusesBlueprint(t *testing.T) {
	gw := &fakeGateway{synthErrs: []error{errors.New("429 Resource has been exhausted")}}
	c, store := newTestController(t, gw, twoAssets(t)...)
	ctx := context.Background()

	if _, err := c.StartStaging(ctx, nil); err != nil {
		t.Fatalf("StartStaging failed: %v", err)
	}
	if _, err := c.Launch(ctx, nil); err == nil {
		t.Fatal("expected synthesis failure")
	}

	snap := c.Snapshot()
	if snap.FailedPhase != PhaseSynthesis || snap.LastError.Code != diagnosis.CodeQuota {
		t.Fatalf("expected SWARM_429 in synthesis, got %s %+v", snap.FailedPhase, snap.LastError)
	}
	if snap.Blueprint == nil {
		t.Fatal("blueprint must survive a synthesis failure")
	}
	if list, _ := store.List(ctx); len(list) != 0 {
		t.Error("failed synthesis must not create a checkpoint")
	}

	progress, fn := recordProgress()
	phase, _, res, err := c.Retry(ctx, fn)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if phase != PhaseSynthesis || len(res.Files) != 2 {
		t.Errorf("expected synthesis retry with files, got %s %+v", phase, res)
	}
	if gw.analyzeCalls != 1 || gw.synthCalls != 2 {
		t.Errorf("retry must skip staging, got analyze=%d synth=%d", gw.analyzeCalls, gw.synthCalls)
	}
	if (*progress)[len(*progress)-1] != 100 {
		t.Errorf("expected progress to finish at 100, got %v", *progress)
	}
}

func TestDecodeFailureIsFatal(t *testing.T) {
	gw := &fakeGateway{}
	c, _ := newTestController(t, gw, asset.New("broken.png", []byte("not an image")))

	_, err := c.StartStaging(context.Background(), nil)
	if !errors.Is(err, chunker.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if gw.analyzeCalls != 0 {
		t.Error("gateway must not be called after a decode failure")
	}
	if diag := c.Snapshot().LastError; diag == nil || diag.Code != diagnosis.CodeUnknown {
		t.Errorf("expected SYS_ERR_UNKNOWN, got %+v", diag)
	}
}

func TestRetryWithoutError(t *testing.T) {
	c, _ := newTestController(t, &fakeGateway{}, twoAssets(t)...)
	if _, _, _, err := c.Retry(context.Background(), nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestSingleFlight(t *testing.T) {
	gw := &fakeGateway{analyzeEntered: make(chan struct{}), analyzeRelease: make(chan struct{})}
	assets := twoAssets(t)
	c, _ := newTestController(t, gw, assets...)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.StartStaging(ctx, nil)
		done <- err
	}()

	select {
	case <-gw.analyzeEntered:
	case <-time.After(2 * time.Second):
		t.Fatal("analyze was not called")
	}

	if _, err := c.StartStaging(ctx, nil); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	if _, err := c.Launch(ctx, nil); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	if err := c.RemoveAsset(assets[0].ID); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy for remove, got %v", err)
	}
	if err := c.ClearAssets(); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy for clear, got %v", err)
	}
	if err := c.AddAssets(asset.New("late.png", []byte{1})); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy for add, got %v", err)
	}
	if c.Snapshot().State != StateStaging {
		t.Error("expected staging state while in flight")
	}

	close(gw.analyzeRelease)
	if err := <-done; err != nil {
		t.Fatalf("staging failed: %v", err)
	}
	if gw.analyzeCalls != 1 {
		t.Errorf("expected exactly one analyze call, got %d", gw.analyzeCalls)
	}
}

func TestExhaustiveOptionSelectsMode(t *testing.T) {
	gw := &fakeGateway{}
	c, _ := newTestController(t, gw, twoAssets(t)...)
	opts := config.DefaultOptions()
	opts.SetEnableNeuralPersistence(true)
	c.SetOptions(opts)

	if _, err := c.StartStaging(context.Background(), nil); err != nil {
		t.Fatalf("StartStaging failed: %v", err)
	}
	if gw.lastMode != gateway.ModeExhaustive {
		t.Errorf("expected exhaustive mode, got %s", gw.lastMode)
	}
}

func TestSelectCheckpoint(t *testing.T) {
	gw := &fakeGateway{synthText: "### FILE: main.go\npackage main"}
	c, _ := newTestController(t, gw, twoAssets(t)...)
	ctx := context.Background()

	if _, err := c.StartStaging(ctx, nil); err != nil {
		t.Fatalf("StartStaging failed: %v", err)
	}
	first, err := c.Launch(ctx, nil)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	gw.synthText = "### FILE: other.go\npackage other"
	if _, err := c.StartStaging(ctx, nil); err != nil {
		t.Fatalf("StartStaging failed: %v", err)
	}
	if _, err := c.Launch(ctx, nil); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	list, _ := c.Checkpoints(ctx)
	if len(list) != 2 || list[1].ID != first.Checkpoint.ID {
		t.Fatalf("expected two checkpoints newest first, got %+v", list)
	}

	if _, err := c.SelectCheckpoint(ctx, first.Checkpoint.ID); err != nil {
		t.Fatalf("SelectCheckpoint failed: %v", err)
	}
	snap := c.Snapshot()
	if snap.Result != "### FILE: main.go\npackage main" || len(snap.Files) != 1 || snap.Files[0].Filename != "main.go" {
		t.Errorf("checkpoint not restored: %+v", snap)
	}

	if _, err := c.SelectCheckpoint(ctx, "missing"); !errors.Is(err, storage.ErrCheckpointNotFound) {
		t.Errorf("expected ErrCheckpointNotFound, got %v", err)
	}
}

func TestControllerLogsToMonitor(t *testing.T) {
	monitor := telemetry.NewMonitor(nil)
	defer monitor.Close()

	c := NewController(Config{Gateway: &fakeGateway{analyzeErrs: []error{errors.New("boom")}}, Logger: monitor})
	if err := c.AddAssets(twoAssets(t)...); err != nil {
		t.Fatalf("AddAssets failed: %v", err)
	}
	_, _ = c.StartStaging(context.Background(), nil)

	entries := monitor.Entries()
	if len(entries) == 0 {
		t.Fatal("expected log entries")
	}
	newest := entries[0]
	if newest.Level != telemetry.LevelError || newest.Details != "boom" {
		t.Errorf("expected error entry with raw message, got %+v", newest)
	}
}

func TestProgressTrackerMonotonic(t *testing.T) {
	got, fn := recordProgress()
	p := newProgressTracker(fn)
	for _, v := range []int{0, 30, 20, 30, 150, -5} {
		p.report(v)
	}
	if want := []int{0, 30, 100}; !reflect.DeepEqual(*got, want) {
		t.Errorf("expected %v, got %v", want, *got)
	}
}

package cli

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/richinex/handoff/asset"
	"github.com/richinex/handoff/chunker"
	"github.com/richinex/handoff/config"
	"github.com/richinex/handoff/gateway"
	"github.com/richinex/handoff/governor"
	"github.com/richinex/handoff/model"
	"github.com/richinex/handoff/orchestration"
	"github.com/richinex/handoff/storage"
	"github.com/richinex/handoff/telemetry"
)

type fakeGateway struct {
	analyzeErr error
	synthErrs  []error
	synthCalls int
}

func (f *fakeGateway) Analyze(context.Context, []chunker.Chunk, gateway.Mode) (model.Blueprint, error) {
	if f.analyzeErr != nil {
		return model.Blueprint{}, f.analyzeErr
	}
	return model.Blueprint{
		ProjectName: "todo",
		TechStack:   []string{"go"},
		Modules:     []model.Module{{ID: "m1", Filename: "main.go", Type: "entry", Description: "entry point"}},
	}, nil
}

func (f *fakeGateway) Synthesize(context.Context, []chunker.Chunk, model.Blueprint, gateway.Mode) (string, error) {
	f.synthCalls++
	if len(f.synthErrs) > 0 {
		err := f.synthErrs[0]
		f.synthErrs = f.synthErrs[1:]
		return "", err
	}
	return "### FILE: main.go\n```go\npackage main\n```\n### FILE: docs/README.md\n# todo", nil
}

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func testSession(t *testing.T, gw gateway.Gateway, input string) (*session, *bytes.Buffer, storage.CheckpointStore) {
	t.Helper()
	var out bytes.Buffer
	store := storage.NewInMemoryStore()
	opts := Options{Out: &out, In: strings.NewReader(input)}
	s := newSession(config.Default(), opts, telemetry.NewMonitor(nil), store, gw)
	t.Cleanup(s.Close)
	return s, &out, store
}

func TestRunWritesFiles(t *testing.T) {
	dir := t.TempDir()
	img := writePNG(t, dir, "chat.png")
	outDir := filepath.Join(dir, "out")

	s, out, store := testSession(t, &fakeGateway{}, "")
	if err := s.run(context.Background(), []string{img}, RunOptions{Yes: true, OutDir: outDir}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "docs", "README.md"))
	if err != nil {
		t.Fatalf("expected README to be written: %v", err)
	}
	if string(data) != "# todo" {
		t.Errorf("unexpected README content %q", data)
	}
	if !strings.Contains(out.String(), "Wrote 2 files") {
		t.Errorf("missing summary in output:\n%s", out.String())
	}

	list, _ := store.List(context.Background())
	if len(list) != 1 {
		t.Errorf("expected one checkpoint, got %d", len(list))
	}
}

func TestRunDeclineEjects(t *testing.T) {
	img := writePNG(t, t.TempDir(), "chat.png")
	gw := &fakeGateway{}

	s, out, _ := testSession(t, gw, "n\n")
	if err := s.run(context.Background(), []string{img}, RunOptions{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if gw.synthCalls != 0 {
		t.Error("declining must not synthesize")
	}
	if s.controller.Snapshot().State != orchestration.StateIdle {
		t.Errorf("expected idle after eject, got %s", s.controller.Snapshot().State)
	}
	if !strings.Contains(out.String(), "Handoff ejected") {
		t.Errorf("missing eject notice:\n%s", out.String())
	}
}

func TestRunRetriesSynthesisOnConfirm(t *testing.T) {
	img := writePNG(t, t.TempDir(), "chat.png")
	gw := &fakeGateway{synthErrs: []error{errors.New("429 quota exceeded")}}

	s, out, _ := testSession(t, gw, "y\ny\n")
	if err := s.run(context.Background(), []string{img}, RunOptions{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if gw.synthCalls != 2 {
		t.Errorf("expected a retried synthesis, got %d calls", gw.synthCalls)
	}
	for _, want := range []string{"Bandwidth Saturated [SWARM_429]", "Wait 60s & Retry", "Retry synthesis?"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

// lineReader hands out one line per Read and runs before(i) ahead of line i.
type lineReader struct {
	lines  []string
	next   int
	before func(i int)
}

func (r *lineReader) Read(p []byte) (int, error) {
	if r.next >= len(r.lines) {
		return 0, io.EOF
	}
	if r.before != nil {
		r.before(r.next)
	}
	n := copy(p, r.lines[r.next])
	r.next++
	return n, nil
}

func TestRunRetryBlockedBySaturation(t *testing.T) {
	img := writePNG(t, t.TempDir(), "chat.png")
	gw := &fakeGateway{synthErrs: []error{errors.New("429 quota exceeded")}}

	var s *session
	in := &lineReader{lines: []string{"y\n", "y\n", "y\n"}}
	in.before = func(i int) {
		if i != 1 {
			return
		}
		// Saturate between the synthesis failure and the retry.
		var many []asset.Asset
		for j := 0; j < int(governor.MemoryLimit/governor.DecodeOverhead); j++ {
			many = append(many, asset.New("x.png", []byte{1}))
		}
		if err := s.controller.AddAssets(many...); err != nil {
			t.Errorf("AddAssets failed: %v", err)
		}
	}

	var out bytes.Buffer
	s = newSession(config.Default(), Options{Out: &out, In: in}, telemetry.NewMonitor(nil), storage.NewInMemoryStore(), gw)
	t.Cleanup(s.Close)

	err := s.run(context.Background(), []string{img}, RunOptions{})
	if !errors.Is(err, orchestration.ErrSaturated) {
		t.Fatalf("expected ErrSaturated, got %v", err)
	}
	if gw.synthCalls != 1 {
		t.Errorf("expected no second synthesis call, got %d", gw.synthCalls)
	}
	if n := strings.Count(out.String(), "Retry synthesis?"); n != 1 {
		t.Errorf("expected one retry prompt, got %d:\n%s", n, out.String())
	}
	if !strings.Contains(out.String(), "Retry blocked") {
		t.Errorf("expected the guard error to be reported:\n%s", out.String())
	}
}

func TestRunYesNeverRetries(t *testing.T) {
	img := writePNG(t, t.TempDir(), "chat.png")
	gw := &fakeGateway{analyzeErr: errors.New("401 Unauthorized")}

	s, out, _ := testSession(t, gw, "")
	err := s.run(context.Background(), []string{img}, RunOptions{Yes: true})
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(out.String(), "AUTH_001") {
		t.Errorf("expected diagnosis in output:\n%s", out.String())
	}
	if strings.Contains(out.String(), "Retry staging?") {
		t.Error("--yes must not prompt for retry")
	}
}

func TestRunWithoutAssets(t *testing.T) {
	s, _, _ := testSession(t, &fakeGateway{}, "")
	if err := s.run(context.Background(), nil, RunOptions{Yes: true}); !errors.Is(err, orchestration.ErrNoAssets) {
		t.Errorf("expected ErrNoAssets, got %v", err)
	}
}

func TestStageFormats(t *testing.T) {
	img := writePNG(t, t.TempDir(), "chat.png")

	s, out, _ := testSession(t, &fakeGateway{}, "")
	if err := s.stage(context.Background(), []string{img}, "yaml"); err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	if !strings.Contains(out.String(), "projectName: todo") {
		t.Errorf("expected yaml with JSON field names:\n%s", out.String())
	}

	s2, _, _ := testSession(t, &fakeGateway{}, "")
	if err := s2.stage(context.Background(), []string{img}, "xml"); err == nil {
		t.Error("expected unsupported format error")
	}
}

func TestRestoreCheckpoint(t *testing.T) {
	dir := t.TempDir()
	s, out, store := testSession(t, &fakeGateway{}, "")
	ctx := context.Background()

	cp := storage.NewCheckpoint("### FILE: a.txt\nhello", []model.ParsedFile{{Filename: "a.txt", Language: "txt", Content: "hello"}}, 1, "demo")
	if err := store.Append(ctx, cp); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if err := s.listCheckpoints(ctx); err != nil {
		t.Fatalf("listCheckpoints failed: %v", err)
	}
	if !strings.Contains(out.String(), "Handoff: demo") {
		t.Errorf("checkpoint missing from list:\n%s", out.String())
	}

	if err := s.restoreCheckpoint(ctx, cp.ID, dir); err != nil {
		t.Fatalf("restoreCheckpoint failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("restored file mismatch: %q, %v", data, err)
	}

	if err := s.restoreCheckpoint(ctx, "missing", dir); !errors.Is(err, storage.ErrCheckpointNotFound) {
		t.Errorf("expected ErrCheckpointNotFound, got %v", err)
	}
}

func TestParseCommand(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	input := "preamble\n### FILE: ./src/app.py\nprint('hi')\n"

	err := Parse("-", dir, Options{Out: &out, In: strings.NewReader(input)})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "src", "app.py"))
	if err != nil || string(data) != "print('hi')" {
		t.Errorf("parsed file mismatch: %q, %v", data, err)
	}
	if !strings.Contains(out.String(), "py") {
		t.Errorf("expected language column:\n%s", out.String())
	}
}

func TestDiagnose(t *testing.T) {
	var out bytes.Buffer
	if err := Diagnose("401 and quota both", Options{Out: &out}); err != nil {
		t.Fatalf("Diagnose failed: %v", err)
	}
	for _, want := range []string{"AUTH_001", "Verify Key Settings", "AuthenticationFailure"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestPrintMetrics(t *testing.T) {
	dir := t.TempDir()
	img := writePNG(t, dir, "chat.png")

	var out bytes.Buffer
	if err := Metrics([]string{img}, Options{Out: &out, MaxChunks: -1}); err != nil {
		t.Fatalf("Metrics failed: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Saturation:") || !strings.Contains(got, "nominal") {
		t.Errorf("unexpected metrics output:\n%s", got)
	}
	if !strings.Contains(got, filepath.ToSlash(img)) {
		t.Errorf("expected asset row for %s:\n%s", img, got)
	}
}

func TestResolveSettingsOverrides(t *testing.T) {
	t.Setenv("HANDOFF_PROVIDER", "")
	settings, err := resolveSettings(Options{
		DBPath:           "x.db",
		DevicePixelRatio: 2,
		MaxChunks:        5,
		Disable:          []string{"addDocumentation"},
		Exhaustive:       true,
	})
	if err != nil {
		t.Fatalf("resolveSettings failed: %v", err)
	}
	if settings.Pipeline.CheckpointDB != "x.db" || settings.Pipeline.DevicePixelRatio != 2 || settings.Pipeline.MaxChunks != 5 {
		t.Errorf("pipeline overrides not applied: %+v", settings.Pipeline)
	}
	if settings.Options.Enabled(config.AddDocumentation) || !settings.Options.Exhaustive() {
		t.Error("option overrides not applied")
	}

	if _, err := resolveSettings(Options{Enable: []string{"nope"}, MaxChunks: -1}); !errors.Is(err, config.ErrUnknownOption) {
		t.Errorf("expected ErrUnknownOption, got %v", err)
	}
}

func TestConsolePrinterPrintsOnce(t *testing.T) {
	var out bytes.Buffer
	p := newConsolePrinter(&out)
	now := time.Now()

	first := []telemetry.Entry{{ID: "1", Timestamp: now, Level: telemetry.LevelInfo, Message: "one"}}
	p.handle(first)
	second := append([]telemetry.Entry{
		{ID: "3", Timestamp: now, Level: telemetry.LevelError, Message: "three", Details: "boom"},
		{ID: "2", Timestamp: now, Level: telemetry.LevelSuccess, Message: "two"},
	}, first...)
	p.handle(second)
	p.handle(second)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), out.String())
	}
	if !strings.HasSuffix(lines[1], "✓ two") || !strings.HasSuffix(lines[2], "✗ three (boom)") {
		t.Errorf("unexpected order:\n%s", out.String())
	}
}

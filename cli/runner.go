// Command execution for CLI commands.
//
// Information Hiding:
// - Session setup (settings, logger, store, controller) hidden
// - Confirmation and retry prompts hidden
// - Output formatting hidden

package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/richinex/handoff/asset"
	"github.com/richinex/handoff/chunker"
	"github.com/richinex/handoff/config"
	"github.com/richinex/handoff/diagnosis"
	"github.com/richinex/handoff/gateway"
	"github.com/richinex/handoff/governor"
	"github.com/richinex/handoff/model"
	"github.com/richinex/handoff/orchestration"
	"github.com/richinex/handoff/parser"
	"github.com/richinex/handoff/storage"
	"github.com/richinex/handoff/telemetry"
)

// Options holds CLI execution options shared by every command.
type Options struct {
	Provider   string
	ConfigPath string
	DBPath     string
	Verbose    bool

	// Enable and Disable name conversion options to switch on or off.
	Enable  []string
	Disable []string

	Exhaustive       bool
	DevicePixelRatio float64 // zero keeps the configured value
	MaxChunks        int     // negative keeps the configured value

	Out io.Writer
	Err io.Writer
	In  io.Reader
}

// DefaultOptions returns default CLI options.
func DefaultOptions() Options {
	return Options{
		MaxChunks: -1,
		Out:       os.Stdout,
		Err:       os.Stderr,
		In:        os.Stdin,
	}
}

// RunOptions holds options of the run command.
type RunOptions struct {
	// Yes skips the launch confirmation. Failures are never retried without a prompt.
	Yes    bool
	OutDir string
}

// session bundles the collaborators of one CLI invocation.
type session struct {
	settings   config.Settings
	monitor    *telemetry.Monitor
	store      storage.CheckpointStore
	controller *orchestration.Controller
	out        io.Writer
	in         *bufio.Reader
	verbose    bool
}

// resolveSettings loads configuration and applies command-line overrides.
func resolveSettings(opts Options) (config.Settings, error) {
	settings, err := config.Load(opts.ConfigPath, opts.Provider)
	if err != nil {
		return config.Settings{}, err
	}

	if opts.DBPath != "" {
		settings.Pipeline.CheckpointDB = opts.DBPath
	}
	if opts.DevicePixelRatio != 0 {
		settings.Pipeline.DevicePixelRatio = opts.DevicePixelRatio
	}
	if opts.MaxChunks >= 0 {
		settings.Pipeline.MaxChunks = opts.MaxChunks
	}
	for _, name := range opts.Enable {
		opt, err := config.ParseOption(name)
		if err != nil {
			return config.Settings{}, err
		}
		settings.Options.Set(opt, true)
	}
	for _, name := range opts.Disable {
		opt, err := config.ParseOption(name)
		if err != nil {
			return config.Settings{}, err
		}
		settings.Options.Set(opt, false)
	}
	if opts.Exhaustive {
		settings.Options.SetEnableNeuralPersistence(true)
	}

	if err := settings.Validate(); err != nil {
		return config.Settings{}, err
	}
	return settings, nil
}

// openSession wires settings, logging, the checkpoint database and, when
// withGateway is set, the model providers.
func openSession(opts Options, withGateway bool) (*session, error) {
	settings, err := resolveSettings(opts)
	if err != nil {
		return nil, err
	}

	logger, err := telemetry.NewLogger(telemetry.LogOptions{
		Level:  settings.Log.Level,
		Format: settings.Log.Format,
		Output: opts.Err,
	})
	if err != nil {
		return nil, err
	}
	monitor := telemetry.NewMonitor(logger)

	store, err := storage.OpenSqlite(settings.Pipeline.CheckpointDB)
	if err != nil {
		monitor.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var gw gateway.Gateway
	if withGateway {
		gw, err = createGateway(settings, monitor)
		if err != nil {
			store.Close()
			monitor.Close()
			return nil, err
		}
	}

	return newSession(settings, opts, monitor, store, gw), nil
}

func newSession(settings config.Settings, opts Options, monitor *telemetry.Monitor, store storage.CheckpointStore, gw gateway.Gateway) *session {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	in := opts.In
	if in == nil {
		in = os.Stdin
	}

	s := &session{
		settings: settings,
		monitor:  monitor,
		store:    store,
		controller: orchestration.NewController(orchestration.Config{
			Gateway: gw,
			Chunker: chunker.New(settings.Pipeline.DevicePixelRatio, settings.Pipeline.MaxChunks),
			Store:   store,
			Options: settings.Options,
			Logger:  monitor,
		}),
		out:     out,
		in:      bufio.NewReader(in),
		verbose: opts.Verbose,
	}
	if opts.Verbose {
		monitor.Subscribe(newConsolePrinter(out).handle)
	}
	return s
}

// Close flushes the console printer and releases the database.
func (s *session) Close() {
	s.monitor.Close()
	if err := s.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
	}
}

// Stage runs the staging phase only and prints the blueprint.
func Stage(ctx context.Context, paths []string, format string, opts Options) error {
	s, err := openSession(opts, true)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.stage(ctx, paths, format)
}

// Run drives the full pipeline: stage, confirm, synthesize, export.
func Run(ctx context.Context, paths []string, runOpts RunOptions, opts Options) error {
	s, err := openSession(opts, true)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.run(ctx, paths, runOpts)
}

func (s *session) ingest(paths []string) error {
	if len(paths) == 0 {
		return orchestration.ErrNoAssets
	}
	assets := make([]asset.Asset, 0, len(paths))
	for _, p := range paths {
		a, err := asset.Load(p)
		if err != nil {
			return err
		}
		assets = append(assets, a)
	}
	if err := s.controller.AddAssets(assets...); err != nil {
		return err
	}

	m := s.controller.Metrics()
	fmt.Fprintf(s.out, "Ingested %d assets (%s, saturation %.1f%%)\n",
		m.AssetCount, humanize.Bytes(uint64(m.TotalBytes)), m.Saturation*100)
	return nil
}

func (s *session) stage(ctx context.Context, paths []string, format string) error {
	if err := s.ingest(paths); err != nil {
		return err
	}

	bp, err := s.controller.StartStaging(ctx, s.progress("staging"))
	for err != nil {
		if !s.offerRetry(err, false) {
			return err
		}
		_, bp, _, err = s.controller.Retry(ctx, s.progress("staging"))
		if orchestration.IsGuardError(err) {
			return s.retryBlocked(err)
		}
	}
	return s.printBlueprint(bp, format)
}

func (s *session) run(ctx context.Context, paths []string, runOpts RunOptions) error {
	if err := s.ingest(paths); err != nil {
		return err
	}

	bp, err := s.controller.StartStaging(ctx, s.progress("staging"))
	for err != nil {
		if !s.offerRetry(err, runOpts.Yes) {
			return err
		}
		_, bp, _, err = s.controller.Retry(ctx, s.progress("staging"))
		if orchestration.IsGuardError(err) {
			return s.retryBlocked(err)
		}
	}
	if err := s.printBlueprint(bp, "table"); err != nil {
		return err
	}

	if !runOpts.Yes && !s.confirm("Launch synthesis?") {
		if err := s.controller.Eject(); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "Handoff ejected. Blueprint discarded.")
		return nil
	}

	res, err := s.controller.Launch(ctx, s.progress("synthesis"))
	for err != nil {
		if !s.offerRetry(err, runOpts.Yes) {
			return err
		}
		_, _, res, err = s.controller.Retry(ctx, s.progress("synthesis"))
		if orchestration.IsGuardError(err) {
			return s.retryBlocked(err)
		}
	}

	s.printFiles(res.Files)
	if runOpts.OutDir == "" {
		return nil
	}
	written, err := ExportFiles(runOpts.OutDir, res.Files, s.monitor)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Wrote %d files to %s (checkpoint %s)\n", len(written), runOpts.OutDir, res.Checkpoint.ID)
	return nil
}

// offerRetry prints the diagnosis of a phase failure and asks whether to retry it.
// Guard failures (no assets, saturation, misuse) are returned as-is.
func (s *session) offerRetry(err error, noPrompt bool) bool {
	snap := s.controller.Snapshot()
	if snap.State != orchestration.StateError {
		return false
	}
	diag := diagnosis.ClassifyError(err)
	if snap.LastError != nil {
		diag = *snap.LastError
	}
	printDiagnosis(s.out, diag)
	if noPrompt {
		return false
	}
	return s.confirm("Retry " + snap.FailedPhase.String() + "?")
}

// retryBlocked reports a retry refused before reaching the model. The
// controller still holds the earlier failure, so the retry is not offered again.
func (s *session) retryBlocked(err error) error {
	fmt.Fprintf(s.out, "\n✗ Retry blocked: %v\n", err)
	return err
}

func (s *session) confirm(question string) bool {
	fmt.Fprintf(s.out, "%s [y/N] ", question)
	line, err := s.in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(s.out)
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func (s *session) progress(label string) orchestration.ProgressFunc {
	if s.verbose {
		return nil
	}
	return func(percent int) {
		fmt.Fprintf(s.out, "  %-10s %3d%%\n", label, percent)
	}
}

func (s *session) printBlueprint(bp model.Blueprint, format string) error {
	switch strings.ToLower(format) {
	case "", "table":
		fmt.Fprintf(s.out, "\nProject: %s\nStack:   %s\n", bp.ProjectName, strings.Join(bp.TechStack, ", "))
		if bp.EstimatedComplexity != "" {
			fmt.Fprintf(s.out, "Complexity: %s\n", bp.EstimatedComplexity)
		}
		fmt.Fprintln(s.out, modulesTable(bp.Modules))
		for _, item := range bp.DeploymentChecklist {
			fmt.Fprintf(s.out, "  [ ] %s\n", item)
		}
		return nil
	case "json":
		data, err := json.MarshalIndent(bp, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode blueprint: %w", err)
		}
		fmt.Fprintln(s.out, string(data))
		return nil
	case "yaml":
		data, err := blueprintYAML(bp)
		if err != nil {
			return err
		}
		fmt.Fprint(s.out, string(data))
		return nil
	default:
		return fmt.Errorf("unsupported format %q (want table, json or yaml)", format)
	}
}

// blueprintYAML renders the blueprint with its JSON field names.
func blueprintYAML(bp model.Blueprint) ([]byte, error) {
	data, err := json.Marshal(bp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode blueprint: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("failed to encode blueprint: %w", err)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("failed to encode blueprint: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode blueprint: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *session) printFiles(files []model.ParsedFile) {
	fmt.Fprintln(s.out, filesTable(files))
}

func printDiagnosis(w io.Writer, diag diagnosis.Classification) {
	fmt.Fprintf(w, "\n✗ %s [%s]\n", diag.Title, diag.Code)
	fmt.Fprintf(w, "  %q\n", diag.Message)
	fmt.Fprintf(w, "  Remedy: %s\n", diag.RemedyLabel("None"))
}

// Metrics prints the governor report for a set of images without calling a model.
func Metrics(paths []string, opts Options) error {
	settings, err := resolveSettings(opts)
	if err != nil {
		return err
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	assets := make([]asset.Asset, 0, len(paths))
	for _, p := range paths {
		a, err := asset.Load(p)
		if err != nil {
			return err
		}
		assets = append(assets, a)
	}
	printMetrics(out, assets, settings.Pipeline.DevicePixelRatio)
	return nil
}

func printMetrics(w io.Writer, assets []asset.Asset, dpr float64) {
	fmt.Fprintln(w, assetsTable(assets, chunker.MaxChunkHeight(dpr)))

	m := governor.ComputeMetrics(assets)
	status := "nominal"
	if m.IsCritical {
		status = "CRITICAL (staging blocked)"
	}
	fmt.Fprintf(w, "Total:      %s of %s\n", humanize.Bytes(uint64(m.TotalBytes)), humanize.Bytes(uint64(governor.MemoryLimit)))
	fmt.Fprintf(w, "Saturation: %.1f%% (%s)\n", m.Saturation*100, status)
	fmt.Fprintf(w, "Headroom:   %s\n", humanize.Bytes(uint64(m.Headroom())))
}

// ListCheckpoints prints the retained checkpoints, newest first.
func ListCheckpoints(ctx context.Context, opts Options) error {
	s, err := openSession(opts, false)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.listCheckpoints(ctx)
}

func (s *session) listCheckpoints(ctx context.Context) error {
	list, err := s.controller.Checkpoints(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(s.out, "No checkpoints.")
		return nil
	}

	fmt.Fprintln(s.out, checkpointsTable(list))
	return nil
}

// ShowCheckpoint prints one checkpoint's file list, or its raw result when raw is set.
func ShowCheckpoint(ctx context.Context, id string, raw bool, opts Options) error {
	s, err := openSession(opts, false)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.showCheckpoint(ctx, id, raw)
}

func (s *session) showCheckpoint(ctx context.Context, id string, raw bool) error {
	cp, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if raw {
		fmt.Fprintln(s.out, cp.RawResult)
		return nil
	}
	fmt.Fprintf(s.out, "%s (%s, %d assets)\n", cp.Summary, cp.Timestamp.Format("2006-01-02 15:04:05"), cp.AssetCount)
	s.printFiles(cp.Files)
	return nil
}

// RestoreCheckpoint restores a checkpoint into the active view and writes its files.
func RestoreCheckpoint(ctx context.Context, id, outDir string, opts Options) error {
	s, err := openSession(opts, false)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.restoreCheckpoint(ctx, id, outDir)
}

func (s *session) restoreCheckpoint(ctx context.Context, id, outDir string) error {
	cp, err := s.controller.SelectCheckpoint(ctx, id)
	if err != nil {
		return err
	}
	files := s.controller.Snapshot().Files
	written, err := ExportFiles(outDir, files, s.monitor)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Restored %s: wrote %d files to %s\n", cp.Summary, len(written), outDir)
	return nil
}

// Parse reconstructs files from saved synthesis text. A path of "-" reads stdin.
func Parse(path, outDir string, opts Options) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		in := opts.In
		if in == nil {
			in = os.Stdin
		}
		data, err = io.ReadAll(in)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read synthesis output: %w", err)
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	files := parser.Parse(string(data))
	if len(files) == 0 {
		fmt.Fprintln(out, "No file markers found.")
		return nil
	}

	s := &session{out: out}
	s.printFiles(files)
	if outDir == "" {
		return nil
	}

	written, err := ExportFiles(outDir, files, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %d files to %s\n", len(written), outDir)
	return nil
}

// Diagnose classifies a raw failure message.
func Diagnose(message string, opts Options) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	diag := diagnosis.Classify(message)
	printDiagnosis(out, diag)
	fmt.Fprintf(out, "  Category: %s\n", diag.Category)
	return nil
}

// ListOptions prints every conversion option and whether it is enabled.
func ListOptions(opts Options) error {
	settings, err := resolveSettings(opts)
	if err != nil {
		return err
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	fmt.Fprintln(out, optionsTable(settings.Options))
	fmt.Fprintf(out, "Mode: %s\n", gateway.ModeFor(settings.Options))
	return nil
}

// Package main provides the handoff CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/handoff/cli"
	"github.com/richinex/handoff/config"
)

var (
	// Global flags
	provider   string
	configPath string
	dbPath     string
	verbose    bool
	enable     []string
	disable    []string
	exhaustive bool
	dpr        float64
	maxChunks  int
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "handoff",
		Short: "Turn chat-history screenshots into a project blueprint and source files",
		Long: `A CLI tool that reads screenshots of a conversation and hands the work off
to a model in two phases:

- staging: chunk every screenshot and produce a structured blueprint
- synthesis: write every planned file, then split the output on "### FILE:" markers

Completed runs are kept as checkpoints (newest 10) for later restore.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider ("+joinProviders()+")")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Checkpoint database path (default "+config.DefaultCheckpointDB+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show the pipeline log as it happens")
	rootCmd.PersistentFlags().StringSliceVar(&enable, "enable", nil, "Conversion option(s) to switch on")
	rootCmd.PersistentFlags().StringSliceVar(&disable, "disable", nil, "Conversion option(s) to switch off")
	rootCmd.PersistentFlags().BoolVar(&exhaustive, "exhaustive", false, "Enumerate every build file (enables enableNeuralPersistence)")
	rootCmd.PersistentFlags().Float64Var(&dpr, "dpr", 0, "Device pixel ratio of the screenshots (default from config)")
	rootCmd.PersistentFlags().IntVar(&maxChunks, "max-chunks", -1, "Maximum chunks per image, 0 for unbounded (default from config)")

	rootCmd.AddCommand(runCmd(ctx))
	rootCmd.AddCommand(stageCmd(ctx))
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(checkpointsCmd(ctx))
	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(diagnoseCmd())
	rootCmd.AddCommand(optionsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func globalOptions() cli.Options {
	opts := cli.DefaultOptions()
	opts.Provider = provider
	opts.ConfigPath = configPath
	opts.DBPath = dbPath
	opts.Verbose = verbose
	opts.Enable = enable
	opts.Disable = disable
	opts.Exhaustive = exhaustive
	opts.DevicePixelRatio = dpr
	opts.MaxChunks = maxChunks
	return opts
}

func joinProviders() string {
	return strings.Join(config.SupportedProviders(), ", ")
}

func runCmd(ctx context.Context) *cobra.Command {
	var yes bool
	var outDir string

	cmd := &cobra.Command{
		Use:   "run [images...]",
		Short: "Stage, confirm and synthesize a project from screenshots",
		Long: `Run the full pipeline.

The blueprint is shown after staging and synthesis starts only after
confirmation (--yes skips it). Declining ejects the blueprint. When a phase
fails, its diagnosis is printed and only that phase is offered for retry.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Run(ctx, args, cli.RunOptions{Yes: yes, OutDir: outDir}, globalOptions())
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Launch synthesis without confirmation and never prompt")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Directory to write the generated files to")

	return cmd
}

func stageCmd(ctx context.Context) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "stage [images...]",
		Short: "Produce a blueprint only, without writing code",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Stage(ctx, args, format, globalOptions())
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table, json or yaml")

	return cmd
}

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics [images...]",
		Short: "Show memory saturation and chunk counts for a set of images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Metrics(args, globalOptions())
		},
	}
}

func checkpointsCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "List, show and restore completed runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListCheckpoints(ctx, globalOptions())
		},
	}

	var raw bool
	show := &cobra.Command{
		Use:   "show [id]",
		Short: "Show the files of one checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ShowCheckpoint(ctx, args[0], raw, globalOptions())
		},
	}
	show.Flags().BoolVar(&raw, "raw", false, "Print the raw synthesis output")

	var outDir string
	restore := &cobra.Command{
		Use:   "restore [id]",
		Short: "Write the files of one checkpoint to a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RestoreCheckpoint(ctx, args[0], outDir, globalOptions())
		},
	}
	restore.Flags().StringVarP(&outDir, "out", "o", ".", "Directory to write the files to")

	list := &cobra.Command{
		Use:   "list",
		Short: "List checkpoints, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListCheckpoints(ctx, globalOptions())
		},
	}

	cmd.AddCommand(list, show, restore)
	return cmd
}

func parseCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "parse [file|-]",
		Short: "Split saved synthesis output into files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Parse(args[0], outDir, globalOptions())
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Directory to write the files to")

	return cmd
}

func diagnoseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose [message]",
		Short: "Classify a raw failure message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Diagnose(args[0], globalOptions())
		},
	}
}

func optionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "List conversion options and their state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListOptions(globalOptions())
		},
	}
}

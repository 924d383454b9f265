// Package main provides the CLI entry point for snow, a single-user
// coding-assistant runtime: a streaming LLM conversation orchestrator
// with tool dispatch, a terminal executor, context compression, and an
// optional IDE bridge.
//
// # Basic Usage
//
// Start the interactive REPL:
//
//	snow
//
// Run a one-shot command:
//
//	snow compact
//	snow export --format markdown > transcript.md
//
// # Environment Variables
//
//   - SNOW_CONFIG: path to the YAML config file (default: .snow/config.yaml)
//   - SNOW_TASK_MODE: "true" makes the session ephemeral (never persisted)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY: provider credentials
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

var configPath string

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "snow",
		Short: "snow - a CLI coding-assistant runtime",
		Long: `snow drives a streaming LLM conversation loop with tool dispatch,
a terminal executor, session persistence, context compression, and an
optional IDE bridge.

Run with no subcommand to enter the interactive REPL.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(cmd.Context(), configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default .snow/config.yaml)")

	rootCmd.AddCommand(
		buildCompactCmd(),
		buildClearCmd(),
		buildReviewCmd(),
		buildExportCmd(),
		buildIDECmd(),
	)
	return rootCmd
}

// Package main provides the CLI entry point for delegator, an MCP server that
// hands routine coding work to a local OpenAI-compatible model (usually
// vLLM) and runs file, git, and build operations behind allow-lists.
//
// # Basic Usage
//
// Serve MCP over stdio:
//
//	delegator serve --config config.yaml
//
// Call one tool directly:
//
//	delegator call read_file '{"path": "README.md"}'
//
// Check the setup:
//
//	delegator doctor
//
// # Environment Variables
//
// Without a configuration file these are read instead:
//
//   - DELEGATOR_CONFIG or CONFIG_FILE: Path to the configuration file
//   - VLLM_API_URL: Chat completions endpoint
//   - VLLM_MODEL: Model name
//   - LOGGING_ON, LOG_LEVEL, LOG_FILE: Logging switches
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	// stdout carries the MCP stream, so process-level logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "delegator",
		Short: "delegator - MCP tools backed by a local LLM",
		Long: `delegator exposes code generation, git, file, and build tools over the
Model Context Protocol. Generation is delegated to an OpenAI-compatible
endpoint such as vLLM; every filesystem path and subprocess is checked
against the configured allow-lists first.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildCallCmd(),
		buildToolsCmd(),
		buildDoctorCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}

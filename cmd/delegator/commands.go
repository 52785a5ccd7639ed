package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that speaks MCP on stdio.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tool catalogue over MCP on stdin/stdout",
		Long: `Start the MCP server. Requests are read as newline-delimited JSON-RPC
from stdin and answered on stdout; logs go to stderr and the configured log
file. The configuration file is watched, but allow-list edits only take
effect after a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd, configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

// =============================================================================
// Call Command
// =============================================================================

// buildCallCmd creates the "call" command that runs one tool and prints its
// result.
func buildCallCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "call <tool> [arguments-json|-]",
		Short: "Run a single tool",
		Long: `Run one tool with JSON arguments and print its output. Pass "-" to read
the arguments from stdin. The exit status is non-zero when the tool reports
an error.`,
		Example: `  delegator call git_status
  delegator call read_file '{"path": "go.mod"}'
  echo '{"code": "x = 1"}' | delegator call explain_code -`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := ""
			if len(args) == 2 {
				raw = args[1]
			}
			return runCall(cmd, configPath, args[0], raw)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")

	return cmd
}

// =============================================================================
// Tools Command
// =============================================================================

// buildToolsCmd creates the "tools" command that lists the catalogue.
func buildToolsCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTools(cmd, configPath, asJSON)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print names, descriptions, and input schemas as JSON")

	return cmd
}

// =============================================================================
// Doctor Command
// =============================================================================

// buildDoctorCmd creates the "doctor" command for setup validation.
func buildDoctorCmd() *cobra.Command {
	var (
		configPath string
		offline    bool
		audit      bool
		fix        bool
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration, allow-lists, and upstream connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, doctorOptions{
				configPath: configPath,
				offline:    offline,
				audit:      audit,
				fix:        fix,
				dryRun:     dryRun,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the upstream connectivity check")
	cmd.Flags().BoolVar(&audit, "audit", false, "Audit file permissions and risky configuration values")
	cmd.Flags().BoolVar(&fix, "fix", false, "Tighten permissions on the config and log files")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "With --fix, report changes without applying them")

	return cmd
}

// =============================================================================
// Config Command
// =============================================================================

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(buildConfigShowCmd(), buildConfigSchemaCmd())
	return cmd
}

func buildConfigShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")

	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}
}

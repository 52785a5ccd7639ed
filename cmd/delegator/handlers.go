package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/haasonsaas/delegator/internal/config"
	"github.com/haasonsaas/delegator/internal/mcp"
	"github.com/haasonsaas/delegator/internal/observability"
	"github.com/haasonsaas/delegator/internal/security"
	"github.com/haasonsaas/delegator/internal/tools"
	"github.com/haasonsaas/delegator/internal/upstream"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	shutdownTimeout = 10 * time.Second

	serverInstructions = "Use these tools to delegate routine code generation, documentation, " +
		"tests, and commit messages to the local model, and to run git, file, and build " +
		"operations inside the allowed project directories."
)

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe loads configuration, builds the application, and serves MCP on
// the command's stdin and stdout until EOF or a shutdown signal.
func runServe(ctx context.Context, cmd *cobra.Command, configPath string, debug bool) error {
	cfg, path, err := config.LoadOrEnv(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Enabled = true
		cfg.Logging.Level = "debug"
	}

	app, err := newApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Close(shutdownCtx); err != nil {
			app.logger.Warn(shutdownCtx, "shutdown incomplete", "error", err)
		}
	}()

	// Create a context that cancels on shutdown signals.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.startMetricsServer(ctx); err != nil {
		return err
	}

	if path != "" {
		watcher := config.NewWatcher(path, cfg, app.logger.Slog(),
			config.WithOnChange(upstreamChangeNotice(ctx, cfg, app.logger)))
		if err := watcher.Start(ctx); err != nil {
			app.logger.Warn(ctx, "config watch disabled", "path", path, "error", err)
		} else {
			defer watcher.Close()
		}
	}

	source := path
	if source == "" {
		source = "environment"
	}
	app.logger.Info(ctx, "delegator started",
		"version", version,
		"commit", commit,
		"config", source,
		"endpoint", app.client.Endpoint(),
		"model", app.client.Model(),
		"tools", len(app.registry.List()),
		"allowed_paths", len(app.paths.AllowedPaths()),
	)

	server := mcp.NewServer(app.registry, mcp.Options{
		Name:         "delegator",
		Version:      version,
		Instructions: serverInstructions,
		Logger:       app.logger,
	})
	err = server.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	if errors.Is(err, context.Canceled) {
		app.logger.Info(context.Background(), "shutdown signal received")
		return nil
	}
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	app.logger.Info(ctx, "client closed the connection")
	return nil
}

// =============================================================================
// Call Command Handler
// =============================================================================

// runCall executes one tool outside an MCP session.
func runCall(cmd *cobra.Command, configPath, name, raw string) error {
	params, err := readArguments(cmd.InOrStdin(), raw)
	if err != nil {
		return err
	}

	cfg, _, err := config.LoadOrEnv(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app, err := newApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer app.Close(context.Background())

	fmt.Fprintln(cmd.ErrOrStderr(), tools.Describe(name, params).String())
	res := app.registry.Execute(cmd.Context(), name, params)
	fmt.Fprintln(cmd.OutOrStdout(), res.Content)
	if res.IsError {
		return fmt.Errorf("tool %s failed", name)
	}
	return nil
}

// readArguments returns raw as a JSON object, reading stdin for "-". No
// arguments means an empty object.
func readArguments(in io.Reader, raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("read arguments: %w", err)
		}
		raw = strings.TrimSpace(string(data))
	}
	if raw == "" {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("arguments are not valid JSON")
	}
	return json.RawMessage(raw), nil
}

// =============================================================================
// Tools Command Handler
// =============================================================================

type toolListing struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

func runTools(cmd *cobra.Command, configPath string, asJSON bool) error {
	cfg, _, err := config.LoadOrEnv(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app, err := newApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer app.Close(context.Background())

	out := cmd.OutOrStdout()
	list := app.registry.List()
	if asJSON {
		listing := make([]toolListing, 0, len(list))
		for _, tool := range list {
			listing = append(listing, toolListing{
				Name:        tool.Name(),
				Description: tool.Description(),
				InputSchema: tool.Schema(),
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, tool := range list {
		display := tools.Describe(tool.Name(), nil)
		fmt.Fprintf(tw, "%s %s\t%s\n", display.Emoji, tool.Name(), firstSentence(tool.Description()))
	}
	return tw.Flush()
}

func firstSentence(s string) string {
	if i := strings.Index(s, ". "); i >= 0 {
		return s[:i+1]
	}
	return s
}

// =============================================================================
// Doctor Command Handler
// =============================================================================

type checkStatus string

const (
	checkOK   checkStatus = "ok"
	checkWarn checkStatus = "warn"
	checkFail checkStatus = "fail"
)

type doctorCheck struct {
	Name   string
	Status checkStatus
	Detail string
}

type doctorOptions struct {
	configPath string
	offline    bool
	audit      bool
	fix        bool
	dryRun     bool
}

// runDoctor validates the configuration and the environment it refers to.
// Only failures make the command exit non-zero.
func runDoctor(cmd *cobra.Command, opts doctorOptions) error {
	out := cmd.OutOrStdout()

	cfg, path, err := config.LoadOrEnv(opts.configPath)
	var checks []doctorCheck
	if err != nil {
		checks = []doctorCheck{{Name: "config", Status: checkFail, Detail: err.Error()}}
	} else {
		if opts.fix {
			checks = append(checks, fixChecks(path, cfg, opts.dryRun)...)
		}
		checks = append(checks, doctorChecks(cmd.Context(), cfg, path, opts.offline)...)
		if opts.audit {
			checks = append(checks, auditChecks(path, cfg)...)
		}
	}

	failures := 0
	for _, c := range checks {
		if c.Status == checkFail {
			failures++
		}
		fmt.Fprintf(out, "[%-4s] %s: %s\n", c.Status, c.Name, c.Detail)
	}
	if failures > 0 {
		return fmt.Errorf("doctor found %d problem(s)", failures)
	}
	fmt.Fprintln(out, "All checks passed.")
	return nil
}

func doctorChecks(ctx context.Context, cfg *config.Config, path string, offline bool) []doctorCheck {
	source := path
	if source == "" {
		source = "environment (no configuration file found)"
	}
	checks := []doctorCheck{{Name: "config", Status: checkOK, Detail: source}}

	checks = append(checks, checkAllowedPaths(cfg.Security.AllowedPaths)...)
	checks = append(checks, checkCommands(cfg)...)

	if offline {
		checks = append(checks, doctorCheck{Name: "upstream", Status: checkWarn, Detail: "skipped (--offline)"})
		return checks
	}
	return append(checks, checkUpstream(ctx, cfg))
}

// upstreamChangeNotice warns when an edit moves the upstream endpoint or
// model. The running client keeps the values it started with.
func upstreamChangeNotice(ctx context.Context, active *config.Config, logger *observability.Logger) func(*config.Config, error) {
	return func(next *config.Config, err error) {
		if err != nil || next == nil {
			return
		}
		if next.VLLM.APIURL != active.VLLM.APIURL || next.VLLM.Model != active.VLLM.Model {
			logger.Warn(ctx, "upstream settings changed on disk; restart required to apply",
				"api_url", next.VLLM.APIURL, "model", next.VLLM.Model)
		}
	}
}

// auditChecks turns audit findings into doctor lines. Critical findings fail.
func auditChecks(path string, cfg *config.Config) []doctorCheck {
	report, err := security.RunAudit(security.AuditOptions{
		ConfigPath:        path,
		Config:            cfg,
		IncludeFilesystem: true,
		IncludeConfig:     true,
	})
	if err != nil {
		return []doctorCheck{{Name: "audit", Status: checkFail, Detail: err.Error()}}
	}
	if len(report.Findings) == 0 {
		return []doctorCheck{{Name: "audit", Status: checkOK, Detail: "no findings"}}
	}
	checks := make([]doctorCheck, 0, len(report.Findings))
	for _, f := range report.Findings {
		status := checkWarn
		if f.Severity == security.SeverityCritical {
			status = checkFail
		}
		detail := f.Title
		if f.Remediation != "" {
			detail += " (" + f.Remediation + ")"
		}
		checks = append(checks, doctorCheck{Name: "audit " + f.CheckID, Status: status, Detail: detail})
	}
	return checks
}

func fixChecks(path string, cfg *config.Config, dryRun bool) []doctorCheck {
	result := security.Fix(security.FixOptions{
		ConfigPath: path,
		LogFile:    cfg.Logging.File,
		DryRun:     dryRun,
	})
	checks := make([]doctorCheck, 0, len(result.Actions))
	for _, action := range result.Actions {
		c := doctorCheck{Name: "fix " + action.Path, Status: checkOK, Detail: action.Description}
		switch {
		case action.Error != "":
			c.Status = checkFail
			c.Detail = action.Error
		case action.Skipped != "":
			c.Detail = action.Skipped
		}
		checks = append(checks, c)
	}
	return checks
}

func checkAllowedPaths(paths []string) []doctorCheck {
	if len(paths) == 0 {
		return []doctorCheck{{Name: "allowed_paths", Status: checkFail, Detail: "empty; every file operation will be denied"}}
	}
	guard, err := security.NewPathGuard("", paths)
	if err != nil {
		return []doctorCheck{{Name: "allowed_paths", Status: checkFail, Detail: err.Error()}}
	}
	checks := make([]doctorCheck, 0, len(paths))
	for _, p := range guard.AllowedPaths() {
		check := doctorCheck{Name: "allowed_path", Status: checkOK, Detail: p}
		if info, err := os.Stat(p); err != nil {
			check.Status = checkWarn
			check.Detail = fmt.Sprintf("%s does not exist", p)
		} else if !info.IsDir() {
			check.Status = checkWarn
			check.Detail = fmt.Sprintf("%s is not a directory", p)
		}
		checks = append(checks, check)
	}
	return checks
}

func checkCommands(cfg *config.Config) []doctorCheck {
	allow := security.NewCommandAllowList(cfg.Security.AllowedCommands, cfg.Security.BareCommands)
	programs := allow.Programs()

	var found, missing []string
	for _, program := range programs {
		if _, err := exec.LookPath(program); err != nil {
			missing = append(missing, program)
		} else {
			found = append(found, program)
		}
	}
	checks := []doctorCheck{{
		Name:   "commands",
		Status: checkOK,
		Detail: fmt.Sprintf("%d allowed, on PATH: %s", len(programs), strings.Join(found, ", ")),
	}}
	if len(missing) > 0 {
		checks = append(checks, doctorCheck{
			Name:   "commands",
			Status: checkWarn,
			Detail: "not on PATH: " + strings.Join(missing, ", "),
		})
	}
	return checks
}

func checkUpstream(ctx context.Context, cfg *config.Config) doctorCheck {
	client, err := upstream.New(upstream.Config{
		APIURL:  cfg.VLLM.APIURL,
		Model:   cfg.VLLM.Model,
		APIKey:  cfg.VLLM.APIKey,
		Timeout: cfg.VLLM.Timeout,
	})
	if err != nil {
		return doctorCheck{Name: "upstream", Status: checkFail, Detail: err.Error()}
	}
	defer client.Close()

	conn := tools.CheckConnection(ctx, client)
	if conn.Status != "healthy" {
		return doctorCheck{Name: "upstream", Status: checkFail, Detail: fmt.Sprintf("%s: %s", client.Endpoint(), conn.Error)}
	}
	detail := fmt.Sprintf("%s answered in %.2fs", client.Endpoint(), conn.ResponseTime)
	if len(conn.Models) > 0 && !slices.Contains(conn.Models, cfg.VLLM.Model) {
		return doctorCheck{
			Name:   "upstream",
			Status: checkWarn,
			Detail: fmt.Sprintf("%s; model %q not served (available: %s)", detail, cfg.VLLM.Model, strings.Join(conn.Models, ", ")),
		}
	}
	return doctorCheck{Name: "upstream", Status: checkOK, Detail: detail}
}

// =============================================================================
// Config Command Handlers
// =============================================================================

func runConfigShow(cmd *cobra.Command, configPath string) error {
	cfg, path, err := config.LoadOrEnv(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	shown := *cfg
	if shown.VLLM.APIKey != "" {
		shown.VLLM.APIKey = "[REDACTED]"
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	out := cmd.OutOrStdout()
	if path == "" {
		fmt.Fprintln(out, "# source: environment")
	} else {
		fmt.Fprintf(out, "# source: %s\n", path)
	}
	_, err = out.Write(data)
	return err
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	out := cmd.OutOrStdout()
	if _, err := out.Write(schema); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out)
	return err
}

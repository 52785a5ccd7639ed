// Package config loads delegator configuration from YAML, JSON, or JSON5
// files, with environment fallbacks when no file exists.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config is the main configuration structure for the delegator.
type Config struct {
	VLLM          VLLMConfig          `yaml:"vllm"`
	Security      SecurityConfig      `yaml:"security"`
	Logging       LoggingConfig       `yaml:"logging"`
	Features      FeaturesConfig      `yaml:"features"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// VLLMConfig describes the OpenAI-compatible endpoint and its retry policy.
type VLLMConfig struct {
	APIURL             string        `yaml:"api_url"`
	Model              string        `yaml:"model"`
	APIKey             string        `yaml:"api_key"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	BaseDelay          time.Duration `yaml:"base_delay"`
	MaxDelay           time.Duration `yaml:"max_delay"`
	MaxConnections     int           `yaml:"max_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections"`
}

// SecurityConfig holds the allow-lists and size limits. Allow-lists are read
// once at startup; editing them requires a restart.
type SecurityConfig struct {
	AllowedPaths      []string            `yaml:"allowed_paths"`
	AllowedCommands   map[string][]string `yaml:"allowed_commands"`
	BareCommands      []string            `yaml:"bare_commands"`
	MaxFileSize       int64               `yaml:"max_file_size"`
	MaxResponseLength int                 `yaml:"max_response_length"`
	MinLengthRatio    float64             `yaml:"min_length_ratio"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	File    string `yaml:"file"`
}

// FeaturesConfig toggles optional behavior.
type FeaturesConfig struct {
	Caching          bool `yaml:"caching"`
	CacheSize        int  `yaml:"cache_size"`
	Metrics          bool `yaml:"metrics"`
	AutoBackup       bool `yaml:"auto_backup"`
	CoalesceInflight bool `yaml:"coalesce_inflight"`
}

// ObservabilityConfig configures the metrics listener and trace export.
type ObservabilityConfig struct {
	MetricsAddr string        `yaml:"metrics_addr"`
	Tracing     TracingConfig `yaml:"tracing"`
}

// TracingConfig configures OTLP trace export. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// DefaultAllowedCommands is the allow-list used when none is configured.
func DefaultAllowedCommands() map[string][]string {
	return map[string][]string{
		"npm":        {"install", "test", "run", "build", "start"},
		"pip":        {"install", "list", "show", "freeze"},
		"cargo":      {"build", "test", "check", "run"},
		"git":        {"status", "add", "commit", "push", "pull", "log", "diff"},
		"pre-commit": {"run", "install", "autoupdate"},
		"python":     {"-m", "-c"},
		"make":       {"build", "test", "clean", "install"},
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := decodeBase()
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.VLLM.APIURL == "" {
		cfg.VLLM.APIURL = "http://localhost:8002/v1/chat/completions"
	}
	if cfg.VLLM.Model == "" {
		cfg.VLLM.Model = "Qwen/Qwen2.5-Coder-32B-Instruct-AWQ"
	}
	if cfg.VLLM.Timeout == 0 {
		cfg.VLLM.Timeout = 180 * time.Second
	}
	if cfg.VLLM.MaxRetries == 0 {
		cfg.VLLM.MaxRetries = 3
	}
	if cfg.VLLM.BaseDelay == 0 {
		cfg.VLLM.BaseDelay = time.Second
	}
	if cfg.VLLM.MaxDelay == 0 {
		cfg.VLLM.MaxDelay = 60 * time.Second
	}
	if cfg.VLLM.MaxConnections == 0 {
		cfg.VLLM.MaxConnections = 10
	}
	if cfg.VLLM.MaxIdleConnections == 0 {
		cfg.VLLM.MaxIdleConnections = 5
	}
	if cfg.Security.AllowedPaths == nil {
		if wd, err := os.Getwd(); err == nil {
			cfg.Security.AllowedPaths = []string{wd}
		}
	}
	if cfg.Security.AllowedCommands == nil {
		cfg.Security.AllowedCommands = DefaultAllowedCommands()
	}
	if cfg.Security.BareCommands == nil {
		cfg.Security.BareCommands = []string{"make"}
	}
	if cfg.Security.MaxFileSize == 0 {
		cfg.Security.MaxFileSize = 1024 * 1024
	}
	if cfg.Security.MaxResponseLength == 0 {
		cfg.Security.MaxResponseLength = 50000
	}
	if cfg.Security.MinLengthRatio == 0 {
		cfg.Security.MinLengthRatio = 0.3
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Features.CacheSize == 0 {
		cfg.Features.CacheSize = 100
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
}

// ConfigValidationError lists every problem found in a configuration.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var issues []string

	if u, err := url.Parse(c.VLLM.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		issues = append(issues, fmt.Sprintf("vllm.api_url %q must be an absolute URL", c.VLLM.APIURL))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		issues = append(issues, fmt.Sprintf("vllm.api_url scheme %q must be http or https", u.Scheme))
	}
	if strings.TrimSpace(c.VLLM.Model) == "" {
		issues = append(issues, "vllm.model is required")
	}
	if c.VLLM.Timeout < 0 {
		issues = append(issues, "vllm.timeout must be positive")
	}
	if c.VLLM.MaxRetries < 1 {
		issues = append(issues, "vllm.max_retries must be at least 1")
	}
	if c.VLLM.BaseDelay < 0 || c.VLLM.MaxDelay < 0 {
		issues = append(issues, "vllm.base_delay and vllm.max_delay must not be negative")
	}
	if c.VLLM.MaxDelay > 0 && c.VLLM.BaseDelay > c.VLLM.MaxDelay {
		issues = append(issues, "vllm.base_delay must not exceed vllm.max_delay")
	}
	if c.VLLM.MaxConnections < 1 {
		issues = append(issues, "vllm.max_connections must be at least 1")
	}
	if c.VLLM.MaxIdleConnections < 0 {
		issues = append(issues, "vllm.max_idle_connections must not be negative")
	}

	for i, p := range c.Security.AllowedPaths {
		if strings.TrimSpace(p) == "" {
			issues = append(issues, fmt.Sprintf("security.allowed_paths[%d] is empty", i))
		}
	}
	for program := range c.Security.AllowedCommands {
		if strings.TrimSpace(program) == "" || strings.ContainsAny(program, " /\\") {
			issues = append(issues, fmt.Sprintf("security.allowed_commands key %q must be a bare program name", program))
		}
	}
	if c.Security.MaxFileSize < 0 {
		issues = append(issues, "security.max_file_size must not be negative")
	}
	if c.Security.MaxResponseLength < 0 {
		issues = append(issues, "security.max_response_length must not be negative")
	}
	if c.Security.MinLengthRatio > 1 {
		issues = append(issues, "security.min_length_ratio must be at most 1")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		issues = append(issues, fmt.Sprintf("logging.level %q must be debug, info, warn, or error", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}

	if c.Features.CacheSize < 0 {
		issues = append(issues, "features.cache_size must not be negative")
	}
	if r := c.Observability.Tracing.SamplingRate; r < 0 || r > 1 {
		issues = append(issues, "observability.tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

// Load reads, decodes, defaults, and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a configuration from defaults and the legacy environment
// variables VLLM_API_URL, VLLM_MODEL, LOGGING_ON, LOG_LEVEL, and LOG_FILE.
func FromEnv() (*Config, error) {
	cfg := Default()
	if v := os.Getenv("VLLM_API_URL"); v != "" {
		cfg.VLLM.APIURL = v
	}
	if v := os.Getenv("VLLM_MODEL"); v != "" {
		cfg.VLLM.Model = v
	}
	if v, ok := os.LookupEnv("LOGGING_ON"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			cfg.Logging.Enabled = true
		default:
			cfg.Logging.Enabled = false
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfigFile is looked up in the working directory when no path is given.
const DefaultConfigFile = "config.yaml"

// ResolvePath picks the configuration file: the explicit path, then
// DELEGATOR_CONFIG, then CONFIG_FILE, then DefaultConfigFile. It returns ""
// when the chosen file does not exist and was not named explicitly.
func ResolvePath(explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	for _, env := range []string{"DELEGATOR_CONFIG", "CONFIG_FILE"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			if _, err := os.Stat(v); err == nil {
				return v
			}
			return ""
		}
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile
	}
	return ""
}

// LoadOrEnv loads the resolved file, or falls back to FromEnv when there is
// none. It returns the path used ("" for the environment fallback).
func LoadOrEnv(explicit string) (*Config, string, error) {
	path := ResolvePath(explicit)
	if path == "" {
		cfg, err := FromEnv()
		return cfg, "", err
	}
	cfg, err := Load(path)
	return cfg, path, err
}

package security

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/haasonsaas/delegator/internal/config"
)

// AuditSeverity ranks a finding. doctor fails on critical and warns on the
// rest.
type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "info"
	SeverityWarn     AuditSeverity = "warn"
	SeverityCritical AuditSeverity = "critical"
)

func (s AuditSeverity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarn:
		return 1
	default:
		return 0
	}
}

// AuditFinding is one problem found in the configuration or on disk.
type AuditFinding struct {
	CheckID     string        `json:"check_id"`
	Severity    AuditSeverity `json:"severity"`
	Title       string        `json:"title"`
	Detail      string        `json:"detail"`
	Remediation string        `json:"remediation,omitempty"`
}

// AuditSummary counts findings by severity.
type AuditSummary struct {
	Critical int `json:"critical"`
	Warn     int `json:"warn"`
	Info     int `json:"info"`
}

// AuditReport holds findings ordered most severe first, then by check ID.
type AuditReport struct {
	Timestamp time.Time      `json:"timestamp"`
	Summary   AuditSummary   `json:"summary"`
	Findings  []AuditFinding `json:"findings"`
}

// AuditOptions selects which checks run.
type AuditOptions struct {
	// ConfigPath is the configuration file; empty when running from the
	// environment.
	ConfigPath string

	// Config is the loaded configuration (required).
	Config *config.Config

	// IncludeFilesystem checks permissions on the config file, the log
	// file, and the allowed roots.
	IncludeFilesystem bool

	// IncludeConfig checks configuration values.
	IncludeConfig bool

	// AllowGroupReadable tolerates a group-readable config file.
	AllowGroupReadable bool
}

// RunAudit inspects the configuration and the files it names.
func RunAudit(opts AuditOptions) (*AuditReport, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("audit: config is required")
	}
	report := &AuditReport{
		Timestamp: time.Now(),
		Findings:  make([]AuditFinding, 0),
	}

	if opts.IncludeFilesystem {
		fsFindings, err := auditFilesystem(opts)
		if err != nil {
			return nil, fmt.Errorf("filesystem audit failed: %w", err)
		}
		report.Findings = append(report.Findings, fsFindings...)
	}
	if opts.IncludeConfig {
		report.Findings = append(report.Findings, auditConfigContent(opts.Config)...)
	}

	slices.SortStableFunc(report.Findings, func(a, b AuditFinding) int {
		if d := b.Severity.rank() - a.Severity.rank(); d != 0 {
			return d
		}
		return strings.Compare(a.CheckID, b.CheckID)
	})
	for _, f := range report.Findings {
		switch f.Severity {
		case SeverityCritical:
			report.Summary.Critical++
		case SeverityWarn:
			report.Summary.Warn++
		default:
			report.Summary.Info++
		}
	}
	return report, nil
}

const (
	permWorldWrite fs.FileMode = 0o002
	permWorldRead  fs.FileMode = 0o004
	permGroupWrite fs.FileMode = 0o020
	permGroupRead  fs.FileMode = 0o040
)

func hasPerm(mode, bits fs.FileMode) bool {
	return mode.Perm()&bits != 0
}

// sensitiveNames are substrings of file names that usually hold credentials
// in a project checkout.
var sensitiveNames = []string{
	"secret", "token", "credential", "password", "private", "api_key", "apikey",
	".pem", ".p12", ".pfx", ".key", "id_rsa", "id_ed25519", "id_ecdsa",
}

// sensitiveExact are tool credential files matched by full name.
var sensitiveExact = []string{".env", ".netrc", ".npmrc", ".pypirc", ".git-credentials"}

// isSensitiveFile guesses from the name whether a file holds credentials.
func isSensitiveFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	if slices.Contains(sensitiveExact, base) || strings.HasPrefix(base, ".env.") {
		return true
	}
	for _, pattern := range sensitiveNames {
		if strings.Contains(base, pattern) {
			return true
		}
	}
	return false
}

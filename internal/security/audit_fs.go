package security

import (
	"fmt"
	"os"
	"path/filepath"
)

// auditFilesystem performs permission checks on the files the
// configuration refers to.
func auditFilesystem(opts AuditOptions) ([]AuditFinding, error) {
	var findings []AuditFinding

	if opts.ConfigPath != "" {
		fileFindings, err := checkConfigFile(opts.ConfigPath, opts)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		findings = append(findings, fileFindings...)
	}

	if logFile := opts.Config.Logging.File; logFile != "" {
		logFindings, err := checkLogFile(logFile)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		findings = append(findings, logFindings...)
	}

	for _, root := range opts.Config.Security.AllowedPaths {
		rootFindings, err := checkAllowedRoot(root)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		findings = append(findings, rootFindings...)
	}

	return findings, nil
}

// checkConfigFile audits permissions on the config file.
func checkConfigFile(path string, opts AuditOptions) ([]AuditFinding, error) {
	var findings []AuditFinding

	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		findings = append(findings, AuditFinding{
			CheckID:     "fs.config_symlink",
			Severity:    SeverityWarn,
			Title:       "Config file is a symlink",
			Detail:      fmt.Sprintf("The configuration file at %s is a symbolic link. Whoever controls the target controls the allow-lists.", path),
			Remediation: "Use a real file instead of a symlink for the configuration.",
		})
	}

	mode := info.Mode().Perm()

	// A writable config lets other users widen the allow-lists.
	if hasPerm(mode, permWorldWrite) {
		findings = append(findings, AuditFinding{
			CheckID:     "fs.config_world_writable",
			Severity:    SeverityCritical,
			Title:       "Config file is world-writable",
			Detail:      fmt.Sprintf("The configuration file at %s has permissions %o, allowing any user to change the allowed paths and commands.", path, mode),
			Remediation: fmt.Sprintf("Run: chmod 600 %s", path),
		})
	}

	if hasPerm(mode, permGroupWrite) {
		findings = append(findings, AuditFinding{
			CheckID:     "fs.config_group_writable",
			Severity:    SeverityWarn,
			Title:       "Config file is group-writable",
			Detail:      fmt.Sprintf("The configuration file at %s has permissions %o, allowing group members to modify it.", path, mode),
			Remediation: fmt.Sprintf("Run: chmod 600 %s", path),
		})
	}

	if hasPerm(mode, permWorldRead) && opts.Config != nil && opts.Config.VLLM.APIKey != "" {
		findings = append(findings, AuditFinding{
			CheckID:     "fs.config_world_readable",
			Severity:    SeverityCritical,
			Title:       "Config file with an API key is world-readable",
			Detail:      fmt.Sprintf("The configuration file at %s has permissions %o and contains vllm.api_key.", path, mode),
			Remediation: fmt.Sprintf("Run: chmod 600 %s", path),
		})
	}

	if !opts.AllowGroupReadable && hasPerm(mode, permGroupRead) && opts.Config != nil && opts.Config.VLLM.APIKey != "" {
		findings = append(findings, AuditFinding{
			CheckID:     "fs.config_group_readable",
			Severity:    SeverityWarn,
			Title:       "Config file with an API key is group-readable",
			Detail:      fmt.Sprintf("The configuration file at %s has permissions %o.", path, mode),
			Remediation: fmt.Sprintf("Run: chmod 600 %s", path),
		})
	}

	return findings, nil
}

// checkLogFile flags log files other users can read. Logs carry tool
// arguments, which include file paths and prompts.
func checkLogFile(path string) ([]AuditFinding, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	mode := info.Mode().Perm()
	if !hasPerm(mode, permWorldRead) {
		return nil, nil
	}
	return []AuditFinding{{
		CheckID:     "fs.log_world_readable",
		Severity:    SeverityWarn,
		Title:       "Log file is world-readable",
		Detail:      fmt.Sprintf("The log file at %s has permissions %o. Logs record tool arguments.", path, mode),
		Remediation: fmt.Sprintf("Run: chmod o-rwx %s (or delegator doctor --fix)", path),
	}}, nil
}

// checkAllowedRoot audits one allow-list entry. Only the top level of the
// root is scanned for sensitive files.
func checkAllowedRoot(root string) ([]AuditFinding, error) {
	var findings []AuditFinding

	canonical, err := Canonicalize(root)
	if err != nil {
		return nil, err
	}

	if canonical == string(filepath.Separator) {
		findings = append(findings, AuditFinding{
			CheckID:     "fs.allowed_root_filesystem",
			Severity:    SeverityCritical,
			Title:       "Allowed paths include the filesystem root",
			Detail:      "security.allowed_paths contains /, so file tools can reach every readable file.",
			Remediation: "List project directories instead of /.",
		})
	}
	if home, err := os.UserHomeDir(); err == nil {
		if homeCanonical, err := Canonicalize(home); err == nil && homeCanonical == canonical {
			findings = append(findings, AuditFinding{
				CheckID:     "fs.allowed_root_home",
				Severity:    SeverityWarn,
				Title:       "Allowed paths include the home directory",
				Detail:      fmt.Sprintf("%s is allowed, which exposes dotfiles such as ~/.ssh to the file tools.", canonical),
				Remediation: "List project directories instead of the home directory.",
			})
		}
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return findings, err
	}
	if !info.IsDir() {
		return findings, nil
	}
	if mode := info.Mode().Perm(); hasPerm(mode, permWorldWrite) && info.Mode()&os.ModeSticky == 0 {
		findings = append(findings, AuditFinding{
			CheckID:     "fs.allowed_root_world_writable",
			Severity:    SeverityWarn,
			Title:       "Allowed directory is world-writable",
			Detail:      fmt.Sprintf("%s has permissions %o. Other users can plant files that build commands will run.", canonical, mode),
			Remediation: fmt.Sprintf("Run: chmod o-w %s", canonical),
		})
	}

	entries, err := os.ReadDir(canonical)
	if err != nil {
		return findings, nil
	}
	for _, entry := range entries {
		if entry.IsDir() || !isSensitiveFile(entry.Name()) {
			continue
		}
		findings = append(findings, AuditFinding{
			CheckID:     "fs.allowed_root_sensitive_file",
			Severity:    SeverityInfo,
			Title:       "Sensitive file inside an allowed directory",
			Detail:      fmt.Sprintf("read_file can return %s.", filepath.Join(canonical, entry.Name())),
			Remediation: "Move secrets out of project directories or narrow security.allowed_paths.",
		})
	}
	return findings, nil
}

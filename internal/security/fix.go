package security

import (
	"fmt"
	"io/fs"
	"os"
)

// FixAction records one attempted permission change.
type FixAction struct {
	Type        string `json:"type"`
	Path        string `json:"path"`
	Description string `json:"description"`
	// Resolves lists the audit check IDs the change clears.
	Resolves []string `json:"resolves,omitempty"`
	Success  bool     `json:"success"`
	Skipped  string   `json:"skipped,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// FixResult contains the results of a fix run.
type FixResult struct {
	Actions      []FixAction `json:"actions"`
	FixedCount   int         `json:"fixed_count"`
	SkippedCount int         `json:"skipped_count"`
	ErrorCount   int         `json:"error_count"`
}

// FixOptions names the files delegator owns.
type FixOptions struct {
	ConfigPath string
	LogFile    string

	// DryRun reports what would change without touching anything.
	DryRun bool
}

// fixTarget strips permission bits from one file.
type fixTarget struct {
	path     string
	strip    fs.FileMode
	resolves []string
}

// Fix removes the permission bits the filesystem audit flags on the config
// and log files. The config file loses every group and other bit since it
// may hold an API key; the log file only loses other bits. Owner bits are
// never changed.
func Fix(opts FixOptions) *FixResult {
	var targets []fixTarget
	if opts.ConfigPath != "" {
		targets = append(targets, fixTarget{
			path:  opts.ConfigPath,
			strip: 0o077,
			resolves: []string{
				"fs.config_world_writable", "fs.config_group_writable",
				"fs.config_world_readable", "fs.config_group_readable",
			},
		})
	}
	if opts.LogFile != "" {
		targets = append(targets, fixTarget{
			path:     opts.LogFile,
			strip:    0o007,
			resolves: []string{"fs.log_world_readable"},
		})
	}

	result := &FixResult{Actions: make([]FixAction, 0, len(targets))}
	for _, target := range targets {
		action := applyFix(target, opts.DryRun)
		switch {
		case action.Success:
			result.FixedCount++
		case action.Skipped != "":
			result.SkippedCount++
		case action.Error != "":
			result.ErrorCount++
		}
		result.Actions = append(result.Actions, action)
	}
	return result
}

func applyFix(target fixTarget, dryRun bool) FixAction {
	action := FixAction{
		Type:        "chmod",
		Path:        target.path,
		Description: fmt.Sprintf("Clear permission bits %03o", target.strip),
	}

	info, err := os.Lstat(target.path)
	if err != nil {
		if os.IsNotExist(err) {
			action.Skipped = "file does not exist"
			return action
		}
		action.Error = fmt.Sprintf("failed to stat: %v", err)
		return action
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		action.Skipped = "symlink (not modified for safety)"
		return action
	}
	if !info.Mode().IsRegular() {
		action.Skipped = "not a regular file"
		return action
	}

	current := info.Mode().Perm()
	want := current &^ target.strip
	if current == want {
		action.Skipped = "already has correct permissions"
		return action
	}
	action.Resolves = target.resolves

	if dryRun {
		action.Description = fmt.Sprintf("Would change from %o to %o", current, want)
		action.Success = true
		return action
	}
	if err := os.Chmod(target.path, want); err != nil {
		action.Error = fmt.Sprintf("chmod failed: %v", err)
		return action
	}
	action.Description = fmt.Sprintf("Changed from %o to %o", current, want)
	action.Success = true
	return action
}

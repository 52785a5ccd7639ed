package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/delegator/internal/process"
)

// CommandFailedError reports a command that ran and exited non-zero.
type CommandFailedError struct {
	Command  []string
	ExitCode int
	Stderr   string
}

func (e *CommandFailedError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s failed with exit code %d", strings.Join(e.Command, " "), e.ExitCode)
	}
	return fmt.Sprintf("%s failed: %s", strings.Join(e.Command, " "), msg)
}

// run spawns argv through the Runner. A timeout is returned as
// context.DeadlineExceeded; a non-zero exit is left in the result.
func (d *Deps) run(ctx context.Context, dir string, argv ...string) (process.Result, error) {
	if d.Runner == nil {
		return process.Result{}, fmt.Errorf("no process runner configured")
	}
	res, err := d.Runner.Run(ctx, or(dir, "."), argv)
	if err != nil {
		return res, err
	}
	if res.TimedOut {
		return res, fmt.Errorf("%s: %s: %w", strings.Join(argv, " "), res.Error, context.DeadlineExceeded)
	}
	return res, nil
}

// mustRun is run with a non-zero exit turned into *CommandFailedError.
func (d *Deps) mustRun(ctx context.Context, dir string, argv ...string) (process.Result, error) {
	res, err := d.run(ctx, dir, argv...)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, &CommandFailedError{Command: argv, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, nil
}

// checkPaths resolves each entry, relative to dir, through the PathGuard.
func (d *Deps) checkPaths(dir string, paths []string) error {
	for _, p := range paths {
		if _, err := d.Paths.Resolve(filepath.Join(or(dir, "."), p)); err != nil {
			return err
		}
	}
	return nil
}

package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/delegator/internal/security"
)

func newTestRunner(t *testing.T, allow map[string][]string, opts Options) (*Runner, string) {
	t.Helper()
	dir := t.TempDir()
	paths, err := security.NewPathGuard(dir, []string{dir})
	if err != nil {
		t.Fatalf("NewPathGuard() error = %v", err)
	}
	opts.Paths = paths
	opts.Commands = security.NewCommandGuard(security.NewCommandAllowList(allow, nil))
	runner, err := NewRunner(opts)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	return runner, paths.Base()
}

func TestRunCapturesOutput(t *testing.T) {
	runner, base := newTestRunner(t, map[string][]string{"sh": {"-c"}}, Options{})

	res, err := runner.Run(context.Background(), "", []string{"sh", "-c", "echo out; echo err >&2; pwd"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Success() {
		t.Fatalf("expected success, got %+v", res)
	}
	if !strings.Contains(res.Stdout, "out") || !strings.Contains(res.Stderr, "err") {
		t.Fatalf("unexpected output: stdout=%q stderr=%q", res.Stdout, res.Stderr)
	}
	if !strings.Contains(res.Stdout, base) || res.Dir != base {
		t.Fatalf("command did not run in %s: %+v", base, res)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	runner, _ := newTestRunner(t, map[string][]string{"sh": {"-c"}}, Options{})

	res, err := runner.Run(context.Background(), ".", []string{"sh", "-c", "exit 3"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 3 || res.Success() {
		t.Fatalf("ExitCode = %d", res.ExitCode)
	}
}

func TestRunDeniedCommandNeverSpawns(t *testing.T) {
	runner, base := newTestRunner(t, map[string][]string{"sh": {"-c"}}, Options{})
	marker := filepath.Join(base, "marker")

	tests := []struct {
		name string
		argv []string
	}{
		{"empty", nil},
		{"absent program", []string{"touch", marker}},
		{"subcommand not allowed", []string{"sh", "-x", "touch " + marker}},
		{"bare not allowed", []string{"sh"}},
		{"path executable", []string{"/bin/sh", "-c", "touch " + marker}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runner.Run(context.Background(), "", tt.argv)
			if !errors.Is(err, security.ErrCommandNotAllowed) {
				t.Fatalf("expected ErrCommandNotAllowed, got %v", err)
			}
		})
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatalf("denied command ran")
	}
}

func TestRunRejectsEscapingDirectory(t *testing.T) {
	runner, _ := newTestRunner(t, map[string][]string{"sh": {"-c"}}, Options{})

	_, err := runner.Run(context.Background(), "../..", []string{"sh", "-c", "true"})
	if !errors.Is(err, security.ErrPathEscape) {
		t.Fatalf("expected ErrPathEscape, got %v", err)
	}
}

func TestRunTimeout(t *testing.T) {
	runner, _ := newTestRunner(t, map[string][]string{"sleep": {"5"}}, Options{Timeout: 100 * time.Millisecond})

	start := time.Now()
	res, err := runner.Run(context.Background(), "", []string{"sleep", "5"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.TimedOut || res.Success() {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("timeout not enforced")
	}
}

func TestRunCancelled(t *testing.T) {
	runner, _ := newTestRunner(t, map[string][]string{"sleep": {"5"}}, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := runner.Run(ctx, "", []string{"sleep", "5"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected caller deadline, got %v", err)
	}
}

func TestRunTruncatesOutput(t *testing.T) {
	runner, _ := newTestRunner(t, map[string][]string{"sh": {"-c"}}, Options{MaxOutput: 100})

	res, err := runner.Run(context.Background(), "", []string{"sh", "-c", "yes | head -c 5000"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.HasSuffix(res.Stdout, "[output truncated]") {
		t.Fatalf("expected truncation marker, got %q", res.Stdout)
	}
	if len(res.Stdout) > 100+len("\n[output truncated]") {
		t.Fatalf("stdout length = %d", len(res.Stdout))
	}
}

func TestRunMissingProgram(t *testing.T) {
	runner, _ := newTestRunner(t, map[string][]string{"definitely-not-installed-xyz": {"run"}}, Options{})

	_, err := runner.Run(context.Background(), "", []string{"definitely-not-installed-xyz", "run"})
	if err == nil || !strings.Contains(err.Error(), "start") {
		t.Fatalf("expected start error, got %v", err)
	}
}

func TestNewRunnerRequiresGuards(t *testing.T) {
	if _, err := NewRunner(Options{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLanesReportRunningCommand(t *testing.T) {
	runner, base := newTestRunner(t, map[string][]string{"sleep": {"5"}}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = runner.Run(ctx, "", []string{"sleep", "5"})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		lanes := runner.Lanes()
		if len(lanes) == 1 && lanes[0].Active == 1 {
			if lanes[0].Key != base {
				t.Errorf("lane key = %q, want %q", lanes[0].Key, base)
			}
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("lane never became active: %+v", lanes)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
	if lanes := runner.Lanes(); len(lanes) != 0 {
		t.Fatalf("lanes after completion = %+v", lanes)
	}
}

package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/delegator/internal/cache"
	"github.com/haasonsaas/delegator/internal/config"
	"github.com/haasonsaas/delegator/internal/delegate"
	"github.com/haasonsaas/delegator/internal/observability"
	"github.com/haasonsaas/delegator/internal/process"
	"github.com/haasonsaas/delegator/internal/security"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeDelegator struct {
	mu       sync.Mutex
	requests []delegate.Request
	content  string
	err      error
}

func (f *fakeDelegator) Complete(ctx context.Context, req delegate.Request) (delegate.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return delegate.Result{}, f.err
	}
	return delegate.Result{Content: f.content, Attempts: 1}, nil
}

func (f *fakeDelegator) CacheStats() cache.Stats {
	return cache.Stats{Hits: 2, Misses: 1, Size: 1, Capacity: 100, Enabled: true}
}

func (f *fakeDelegator) last(t *testing.T) delegate.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatalf("no request was delegated")
	}
	return f.requests[len(f.requests)-1]
}

type fakePinger struct {
	models []string
	err    error
}

func (f fakePinger) ListModels(context.Context) ([]string, error) {
	return f.models, f.err
}

// newTestDeps builds Deps rooted at a fresh temp directory with the default
// command allow-list plus any extra programs.
func newTestDeps(t *testing.T, llm Delegator, extra map[string][]string) (*Deps, string) {
	t.Helper()
	dir := t.TempDir()
	paths, err := security.NewPathGuard(dir, []string{dir})
	if err != nil {
		t.Fatalf("NewPathGuard() error = %v", err)
	}
	allow := config.DefaultAllowedCommands()
	for program, subs := range extra {
		allow[program] = subs
	}
	runner, err := process.NewRunner(process.Options{
		Commands: security.NewCommandGuard(security.NewCommandAllowList(allow, nil)),
		Paths:    paths,
		Timeout:  30 * time.Second,
		Env: []string{
			"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@example.com",
			"GIT_CONFIG_NOSYSTEM=1", "HOME=" + dir,
			"GIT_CEILING_DIRECTORIES=" + filepath.Dir(dir),
		},
	})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	metrics.Executions = observability.NewExecutionLog(10)
	return &Deps{
		LLM:      llm,
		Upstream: fakePinger{models: []string{"test-model"}},
		Paths:    paths,
		Runner:   runner,
		Metrics:  metrics,
		Logger:   observability.NopLogger(),
		Settings: Settings{MaxFileSize: 1024, AutoBackup: true, Caching: true, MetricsEnabled: true},
		Now:      func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	}, paths.Base()
}

func newTestRegistry(t *testing.T, deps *Deps) *Registry {
	t.Helper()
	reg, err := NewDefaultRegistry(deps)
	if err != nil {
		t.Fatalf("NewDefaultRegistry() error = %v", err)
	}
	return reg
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func decodeError(t *testing.T, res *Result) errorBody {
	t.Helper()
	if !res.IsError {
		t.Fatalf("expected error result, got %q", res.Content)
	}
	var body errorBody
	if err := json.Unmarshal([]byte(res.Content), &body); err != nil {
		t.Fatalf("error result is not JSON: %v: %q", err, res.Content)
	}
	return body
}

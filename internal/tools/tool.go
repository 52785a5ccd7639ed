// Package tools implements the MCP tool catalogue. Every tool reaches the
// filesystem, subprocesses, and the LLM only through the guards and services
// in Deps.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/delegator/internal/cache"
	"github.com/haasonsaas/delegator/internal/delegate"
	"github.com/haasonsaas/delegator/internal/observability"
	"github.com/haasonsaas/delegator/internal/process"
	"github.com/haasonsaas/delegator/internal/security"
)

// Tool is a single callable operation.
type Tool interface {
	// Name returns the tool name exposed over MCP.
	Name() string

	// Description tells the calling agent when to use the tool.
	Description() string

	// Schema returns the JSON Schema for the tool's arguments.
	Schema() json.RawMessage

	// Execute runs the tool. Returned errors become error results.
	Execute(ctx context.Context, params json.RawMessage) (*Result, error)
}

// Result is a tool's output.
type Result struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Delegator runs LLM completions. *delegate.Service satisfies it.
type Delegator interface {
	Complete(ctx context.Context, req delegate.Request) (delegate.Result, error)
	CacheStats() cache.Stats
}

// Pinger checks that the upstream endpoint answers. *upstream.Client
// satisfies it.
type Pinger interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Settings are the configuration values tools consult directly.
type Settings struct {
	MaxFileSize    int64
	AutoBackup     bool
	Caching        bool
	MetricsEnabled bool
}

// Deps is everything a tool may touch. It is built once at startup.
type Deps struct {
	LLM      Delegator
	Upstream Pinger
	Paths    *security.PathGuard
	Runner   *process.Runner
	Metrics  *observability.Metrics
	Logger   *observability.Logger
	Tracer   *observability.Tracer
	Settings Settings

	// Now is replaceable for tests.
	Now func() time.Time
}

// withDefaults returns a copy with no-op observability filled in.
func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.Logger == nil {
		out.Logger = observability.NopLogger()
	}
	if out.Metrics == nil {
		out.Metrics = observability.NewMetrics(nil)
	}
	if out.Tracer == nil {
		out.Tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	return &out
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// argTool decodes typed arguments and hands them to run.
type argTool[A any] struct {
	name        string
	description string
	schema      string
	deps        *Deps
	run         func(ctx context.Context, deps *Deps, args A) (*Result, error)
}

func (t *argTool[A]) Name() string            { return t.name }
func (t *argTool[A]) Description() string     { return t.description }
func (t *argTool[A]) Schema() json.RawMessage { return json.RawMessage(t.schema) }

func (t *argTool[A]) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var args A
	if err := decodeParams(params, &args); err != nil {
		return nil, &InvalidArgumentsError{Tool: t.name, Err: err}
	}
	return t.run(ctx, t.deps, args)
}

// jsonResult renders v as an indented JSON result.
func jsonResult(v any) (*Result, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &Result{Content: string(payload)}, nil
}

func textResult(s string) *Result {
	return &Result{Content: s}
}

// decodeParams unmarshals tool arguments. Empty params decode as {}.
func decodeParams(params json.RawMessage, out any) error {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	return json.Unmarshal(params, out)
}

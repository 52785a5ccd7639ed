package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/delegator/internal/observability"
	"github.com/haasonsaas/delegator/internal/retry"
	"github.com/haasonsaas/delegator/internal/security"
	"github.com/haasonsaas/delegator/internal/upstream"
	"github.com/haasonsaas/delegator/internal/validate"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// ErrUnknownTool is returned for a name with no registered tool.
var ErrUnknownTool = errors.New("unknown tool")

// InvalidArgumentsError reports arguments that fail the tool's schema.
type InvalidArgumentsError struct {
	Tool string
	Err  error
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *InvalidArgumentsError) Unwrap() error {
	return e.Err
}

// Registry maps tool names to tools. It is filled once at startup and read
// concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	order   []string

	metrics *observability.Metrics
	logger  *observability.Logger
	tracer  *observability.Tracer
	now     func() time.Time
}

// NewRegistry creates an empty registry that reports through deps' metrics,
// logger, and tracer.
func NewRegistry(deps *Deps) *Registry {
	r := &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		now:     time.Now,
	}
	if deps != nil {
		r.metrics = deps.Metrics
		r.logger = deps.Logger
		r.tracer = deps.Tracer
		r.now = deps.now
	}
	if r.metrics == nil {
		r.metrics = observability.NewMetrics(nil)
	}
	if r.logger == nil {
		r.logger = observability.NopLogger()
	}
	if r.tracer == nil {
		r.tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	return r
}

// Register adds a tool and compiles its schema.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", name)
	}
	schema, err := jsonschema.CompileString(name+".schema.json", string(tool.Schema()))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = tool
	r.schemas[name] = schema
	r.order = append(r.order, name)
	return nil
}

// List returns the tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Execute validates params against the tool's schema and runs it. Failures
// never escape as Go errors: they are rendered as error results carrying
// {"ok": false, "tool", "error", "timestamp"}.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) *Result {
	start := time.Now()
	ctx = observability.AddTool(ctx, name)
	ctx, span := r.tracer.TraceToolExecution(ctx, name)
	defer span.End()

	result, err := r.execute(ctx, name, params)
	duration := time.Since(start)

	errorType := ""
	if err != nil {
		errorType = errorKind(err)
		r.tracer.RecordError(span, err)
		r.logger.Error(ctx, "tool failed", "error_type", errorType, "error", err, "duration_ms", duration.Milliseconds())
		result = r.errorResult(name, err)
		r.recordDenial(err)
	} else {
		r.logger.Info(ctx, "tool completed", "duration_ms", duration.Milliseconds())
	}
	label := name
	if errors.Is(err, ErrUnknownTool) || len(name) > MaxToolNameLength {
		label = "unknown"
	}
	r.metrics.RecordToolExecution(label, duration, errorType)
	return result
}

func (r *Registry) execute(ctx context.Context, name string, params json.RawMessage) (*Result, error) {
	if len(name) > MaxToolNameLength {
		return nil, fmt.Errorf("tool name exceeds maximum length of %d characters", MaxToolNameLength)
	}
	if len(params) > MaxToolParamsSize {
		return nil, fmt.Errorf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize)
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	var args any
	if len(params) == 0 {
		args = map[string]any{}
	} else if err := json.Unmarshal(params, &args); err != nil {
		return nil, &InvalidArgumentsError{Tool: name, Err: err}
	}
	if err := schema.Validate(args); err != nil {
		return nil, &InvalidArgumentsError{Tool: name, Err: err}
	}

	r.logger.Debug(ctx, "executing tool", "summary", Describe(name, params).String())
	result, err := tool.Execute(ctx, params)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = textResult("")
	}
	return result, nil
}

type errorBody struct {
	OK        bool   `json:"ok"`
	Tool      string `json:"tool"`
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
	Timestamp string `json:"timestamp"`
}

func (r *Registry) errorResult(name string, err error) *Result {
	payload, marshalErr := json.MarshalIndent(errorBody{
		OK:        false,
		Tool:      name,
		Error:     err.Error(),
		ErrorType: errorKind(err),
		Timestamp: r.now().Format(time.RFC3339),
	}, "", "  ")
	if marshalErr != nil {
		return &Result{Content: err.Error(), IsError: true}
	}
	return &Result{Content: string(payload), IsError: true}
}

func (r *Registry) recordDenial(err error) {
	switch {
	case errors.Is(err, security.ErrCommandNotAllowed), errors.Is(err, security.ErrShellSyntax):
		r.metrics.RecordGuardDenial("command")
	case errors.Is(err, security.ErrPathEscape), errors.Is(err, security.ErrPathNotAllowed), errors.Is(err, security.ErrInvalidPath):
		r.metrics.RecordGuardDenial("path")
	}
}

// errorKind labels an error for metrics and error results.
func errorKind(err error) string {
	var argErr *InvalidArgumentsError
	switch {
	case errors.As(err, &argErr):
		return "invalid_arguments"
	case errors.Is(err, ErrUnknownTool):
		return "unknown_tool"
	case errors.Is(err, security.ErrCommandNotAllowed),
		errors.Is(err, security.ErrShellSyntax),
		errors.Is(err, security.ErrPathEscape),
		errors.Is(err, security.ErrPathNotAllowed),
		errors.Is(err, security.ErrInvalidPath):
		return "security_error"
	case errors.Is(err, security.ErrFileTooLarge):
		return "file_too_large"
	case errors.Is(err, validate.ErrTooLarge),
		errors.Is(err, validate.ErrSuspiciouslyShort),
		errors.Is(err, validate.ErrEmptyPayload),
		errors.Is(err, validate.ErrInvalidSyntax):
		return "validation_error"
	case errors.Is(err, retry.ErrRetriesExhausted):
		return "retries_exhausted"
	case errors.Is(err, upstream.ErrUpstream):
		return "upstream_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "execution_error"
	}
}

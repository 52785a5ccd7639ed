// Package delegate runs one outbound completion through the cache, the
// retrying upstream call, and response validation.
//
// Every request moves through the same states:
//
//	Requested -> CacheLookup -> CacheHit -> Return
//	                         -> CacheMiss -> Calling -> Success -> Validating -> Valid -> CacheStore -> Return
//	                                                                          -> Invalid -> Fail
//	                                                 -> ExhaustedRetries -> Fail
//
// A Service is built once at startup and shared by every tool.
package delegate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/delegator/internal/backoff"
	"github.com/haasonsaas/delegator/internal/cache"
	"github.com/haasonsaas/delegator/internal/observability"
	"github.com/haasonsaas/delegator/internal/retry"
	"github.com/haasonsaas/delegator/internal/upstream"
	"github.com/haasonsaas/delegator/internal/validate"
)

// ErrClosed is returned by Complete after Close.
var ErrClosed = errors.New("delegate service closed")

// Completer issues a single upstream completion. *upstream.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, req upstream.Request) (string, error)
}

// Error wraps any failure of a delegated operation.
type Error struct {
	Operation string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options configures a Service.
type Options struct {
	// Client performs the upstream call (required).
	Client Completer

	// Model is recorded on spans.
	Model string

	// Policy bounds retries of the upstream call.
	Policy retry.Policy

	// Limits are applied to every response before it is cached.
	Limits validate.Limits

	// CacheSize is the response cache capacity.
	CacheSize int

	// DisableCache turns the response cache off.
	DisableCache bool

	// Coalesce shares one upstream call between concurrent identical requests.
	Coalesce bool

	// AttemptTimeout is the upstream per-attempt timeout. With Coalesce it
	// bounds the shared call, which outlives any single caller's context.
	AttemptTimeout time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// Sleep replaces the backoff sleep, mainly for tests.
	Sleep backoff.SleepFunc

	// Closer is released by Close, usually the upstream client.
	Closer interface{ Close() error }
}

// Request is one delegated completion.
type Request struct {
	// Operation names the caller, usually the tool name. It scopes cache keys.
	Operation string

	// Task selects the sampling parameters.
	Task upstream.Task

	// System and Prompt form the chat messages.
	System string
	Prompt string

	// Original is the text the response replaces, if any. A response much
	// shorter than it is rejected.
	Original string

	// Language enables the syntax check for code responses.
	Language string

	// CacheArgs identify the request in the cache. When nil the task, system
	// prompt, and prompt are used.
	CacheArgs any
}

// Result is a successful completion.
type Result struct {
	Content  string
	CacheHit bool
	Shared   bool
	Attempts int
}

// Service is safe for concurrent use.
type Service struct {
	client  Completer
	model   string
	policy  retry.Policy
	limits  validate.Limits
	cache   *cache.ResponseCache
	group   *cache.Group[Result]
	budget  time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	sleep   backoff.SleepFunc
	closer  interface{ Close() error }

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("delegate: client is required")
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = retry.DefaultPolicy()
	}
	if opts.Limits == (validate.Limits{}) {
		opts.Limits = validate.DefaultLimits()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics(nil)
	}
	if opts.Tracer == nil {
		opts.Tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}

	s := &Service{
		client:  opts.Client,
		model:   opts.Model,
		policy:  opts.Policy,
		limits:  opts.Limits,
		logger:  opts.Logger.WithFields("component", "delegate"),
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		sleep:   opts.Sleep,
		closer:  opts.Closer,
		closed:  make(chan struct{}),
	}
	s.cache = cache.New(cache.Options{
		Capacity: opts.CacheSize,
		Disabled: opts.DisableCache,
		OnEvict:  func(string) { s.metrics.RecordCacheEviction() },
	})
	if opts.Coalesce {
		s.group = &cache.Group[Result]{}
		s.budget = sharedCallBudget(opts.Policy, opts.AttemptTimeout)
	}
	return s, nil
}

// Complete runs req through the cache, the upstream call, and validation.
func (s *Service) Complete(ctx context.Context, req Request) (Result, error) {
	select {
	case <-s.closed:
		return Result{}, &Error{Operation: req.operation(), Err: ErrClosed}
	default:
	}

	ctx = observability.AddOperation(ctx, req.operation())
	ctx, span := s.tracer.TraceCompletion(ctx, string(req.Task), s.model)
	defer span.End()

	key, err := cache.Fingerprint(req.operation(), req.cacheArgs())
	if err != nil {
		s.tracer.RecordError(span, err)
		return Result{}, &Error{Operation: req.operation(), Err: err}
	}

	if content, ok := s.cache.GetKey(key); ok {
		s.metrics.RecordCacheLookup(true)
		s.tracer.SetAttributes(span, "cache_hit", true)
		s.logger.Debug(ctx, "cache hit", "task", req.Task)
		return Result{Content: content, CacheHit: true}, nil
	}
	if s.cache.Enabled() {
		s.metrics.RecordCacheLookup(false)
	}
	s.tracer.SetAttributes(span, "cache_hit", false)

	var res Result
	if s.group != nil {
		res, err = s.fetchShared(ctx, req, key)
	} else {
		res, err = s.fetch(ctx, req, key)
	}
	s.tracer.SetAttributes(span, "attempts", res.Attempts)
	if err != nil {
		s.tracer.RecordError(span, err)
		return Result{}, &Error{Operation: req.operation(), Err: err}
	}
	return res, nil
}

// fetchShared joins or starts the in-flight call for key. The call runs
// detached from every caller so one caller giving up does not fail the
// others; each caller stops waiting when its own context ends.
func (s *Service) fetchShared(ctx context.Context, req Request, key string) (Result, error) {
	ch := s.group.DoChan(key, func() (Result, error) {
		callCtx := context.WithoutCancel(ctx)
		if s.budget > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, s.budget)
			defer cancel()
		}
		return s.fetch(callCtx, req, key)
	})
	select {
	case r := <-ch:
		r.Val.Shared = r.Shared
		return r.Val, r.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// sharedCallBudget is the longest a full retry sequence can take: every
// attempt timing out plus every backoff sleep between them.
func sharedCallBudget(p retry.Policy, attemptTimeout time.Duration) time.Duration {
	if attemptTimeout <= 0 {
		return 0
	}
	budget := time.Duration(p.MaxAttempts) * attemptTimeout
	for _, d := range (backoff.Policy{Base: p.BaseDelay, Max: p.MaxDelay}).Schedule(p.MaxAttempts) {
		budget += d
	}
	return budget
}

// fetch covers Calling through CacheStore.
func (s *Service) fetch(ctx context.Context, req Request, key string) (Result, error) {
	task := string(req.Task)
	if task == "" {
		task = string(upstream.TaskCodeGeneration)
	}
	attempts := 0
	call := func(ctx context.Context) (string, error) {
		attempts++
		start := time.Now()
		content, err := s.client.Complete(ctx, upstream.Request{Task: req.Task, Messages: req.messages()})
		s.metrics.RecordUpstreamRequest(task, upstreamStatus(err), time.Since(start))
		return content, err
	}

	opts := []retry.Option{
		retry.WithOnRetry(func(ev retry.Event) {
			s.metrics.RecordRetry(task)
			s.logger.Warn(ctx, "upstream call failed, retrying",
				"task", task, "attempt", ev.Attempt+1, "delay", ev.Delay.String(), "error", ev.Err)
		}),
	}
	if s.sleep != nil {
		opts = append(opts, retry.WithSleep(s.sleep))
	}

	content, err := retry.Call(ctx, call, s.policy, opts...)
	if err != nil {
		s.logger.Error(ctx, "upstream call failed", "task", task, "attempts", attempts, "error", err)
		return Result{Attempts: attempts}, err
	}

	if err := validate.ValidateResponse(content, req.Original, req.Language, s.limits); err != nil {
		s.metrics.RecordValidationFailure(validate.KindName(err))
		s.logger.Warn(ctx, "upstream response rejected", "task", task, "error", err)
		return Result{Attempts: attempts}, err
	}

	s.cache.PutKey(key, content)
	return Result{Content: content, Attempts: attempts}, nil
}

func upstreamStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case retry.IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}

// CacheStats reports response cache activity.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// Close stops accepting requests and releases the upstream client.
// Later calls return the first call's error.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.closer != nil {
			s.closeErr = s.closer.Close()
		}
	})
	return s.closeErr
}

func (r Request) operation() string {
	if r.Operation != "" {
		return r.Operation
	}
	if r.Task != "" {
		return string(r.Task)
	}
	return "complete"
}

func (r Request) cacheArgs() any {
	if r.CacheArgs != nil {
		return r.CacheArgs
	}
	return map[string]any{
		"task":   string(r.Task),
		"system": r.System,
		"prompt": r.Prompt,
	}
}

func (r Request) messages() []upstream.Message {
	messages := make([]upstream.Message, 0, 2)
	if r.System != "" {
		messages = append(messages, upstream.Message{Role: "system", Content: r.System})
	}
	messages = append(messages, upstream.Message{Role: "user", Content: r.Prompt})
	return messages
}

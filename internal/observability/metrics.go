package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects delegator metrics on a caller-supplied registry.
//
// It tracks:
//   - Upstream LLM calls by task and outcome, with latency and retries
//   - Response cache hits, misses, and evictions
//   - Tool executions and their latency
//   - Guard denials and validation failures
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	metrics.RecordCacheLookup(true)
type Metrics struct {
	// UpstreamRequests counts upstream calls.
	// Labels: task, status (success|transient|error)
	UpstreamRequests *prometheus.CounterVec

	// UpstreamDuration measures upstream call latency including retries.
	// Labels: task
	UpstreamDuration *prometheus.HistogramVec

	// UpstreamRetries counts backoff retries.
	// Labels: task
	UpstreamRetries *prometheus.CounterVec

	// CacheLookups counts response cache lookups.
	// Labels: result (hit|miss)
	CacheLookups *prometheus.CounterVec

	// CacheEvictions counts FIFO evictions.
	CacheEvictions prometheus.Counter

	// ToolExecutions counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// GuardDenials counts requests refused by a guard.
	// Labels: guard (path|command)
	GuardDenials *prometheus.CounterVec

	// ValidationFailures counts rejected upstream responses.
	// Labels: kind
	ValidationFailures *prometheus.CounterVec

	// Executions keeps recent tool executions for in-process reporting.
	Executions *ExecutionLog

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers all metrics on reg. A nil reg gets a
// private registry, which keeps tests and embedded uses isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{
		UpstreamRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delegator_upstream_requests_total",
				Help: "Total number of upstream LLM requests by task and status",
			},
			[]string{"task", "status"},
		),

		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "delegator_upstream_request_duration_seconds",
				Help:    "Duration of upstream LLM requests in seconds, retries included",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 180},
			},
			[]string{"task"},
		),

		UpstreamRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delegator_upstream_retries_total",
				Help: "Total number of upstream retries by task",
			},
			[]string{"task"},
		),

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delegator_cache_lookups_total",
				Help: "Total number of response cache lookups by result",
			},
			[]string{"result"},
		),

		CacheEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "delegator_cache_evictions_total",
				Help: "Total number of response cache evictions",
			},
		),

		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delegator_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "delegator_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"tool"},
		),

		GuardDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delegator_guard_denials_total",
				Help: "Total number of requests refused by a path or command guard",
			},
			[]string{"guard"},
		),

		ValidationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delegator_validation_failures_total",
				Help: "Total number of upstream responses rejected by validation",
			},
			[]string{"kind"},
		),

		Executions: NewExecutionLog(DefaultExecutionLogSize),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// RecordUpstreamRequest records a finished upstream call.
func (m *Metrics) RecordUpstreamRequest(task, status string, duration time.Duration) {
	m.UpstreamRequests.WithLabelValues(task, status).Inc()
	m.UpstreamDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// RecordRetry records one backoff retry.
func (m *Metrics) RecordRetry(task string) {
	m.UpstreamRetries.WithLabelValues(task).Inc()
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordCacheEviction records one evicted entry.
func (m *Metrics) RecordCacheEviction() {
	m.CacheEvictions.Inc()
}

// RecordToolExecution records a tool call in Prometheus and the execution log.
// errorType is empty on success.
func (m *Metrics) RecordToolExecution(tool string, duration time.Duration, errorType string) {
	status := "success"
	if errorType != "" {
		status = "error"
	}
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(duration.Seconds())
	m.Executions.Record(tool, duration, errorType == "", errorType)
}

// RecordGuardDenial records a refusal by the named guard.
func (m *Metrics) RecordGuardDenial(guard string) {
	m.GuardDenials.WithLabelValues(guard).Inc()
}

// RecordValidationFailure records a rejected upstream response.
func (m *Metrics) RecordValidationFailure(kind string) {
	m.ValidationFailures.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

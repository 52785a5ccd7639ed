package observability

import (
	"sort"
	"sync"
	"time"
)

// DefaultExecutionLogSize bounds how many recent executions are kept.
const DefaultExecutionLogSize = 1000

// Execution is one recorded tool call.
type Execution struct {
	Tool      string        `json:"tool"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	ErrorType string        `json:"error_type,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// ToolStats aggregates executions of one tool.
type ToolStats struct {
	Calls     int     `json:"calls"`
	Successes int     `json:"successes"`
	AvgTime   float64 `json:"avg_time"`
}

// ExecutionStats is the aggregate reported by the health check tool.
type ExecutionStats struct {
	TotalCalls       int                  `json:"total_calls"`
	SuccessRate      float64              `json:"success_rate"`
	AvgExecutionTime float64              `json:"avg_execution_time"`
	ToolStats        map[string]ToolStats `json:"tool_stats,omitempty"`
	RecentErrors     []string             `json:"recent_errors,omitempty"`
}

// ExecutionLog is a bounded, mutex-guarded ring of recent executions.
type ExecutionLog struct {
	mu      sync.Mutex
	entries []Execution
	next    int
	full    bool
	now     func() time.Time
}

// NewExecutionLog creates a log keeping the last size executions.
func NewExecutionLog(size int) *ExecutionLog {
	if size <= 0 {
		size = DefaultExecutionLogSize
	}
	return &ExecutionLog{
		entries: make([]Execution, size),
		now:     time.Now,
	}
}

// Record appends an execution, overwriting the oldest when full.
func (l *ExecutionLog) Record(tool string, duration time.Duration, success bool, errorType string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = Execution{
		Tool:      tool,
		Duration:  duration,
		Success:   success,
		ErrorType: errorType,
		Timestamp: l.now(),
	}
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

func (l *ExecutionLog) ordered() []Execution {
	if !l.full {
		return append([]Execution(nil), l.entries[:l.next]...)
	}
	out := make([]Execution, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	return append(out, l.entries[:l.next]...)
}

// Stats aggregates the held executions.
func (l *ExecutionLog) Stats() ExecutionStats {
	l.mu.Lock()
	recent := l.ordered()
	l.mu.Unlock()

	if len(recent) == 0 {
		return ExecutionStats{}
	}

	var successes int
	var total time.Duration
	perTool := make(map[string]ToolStats)
	perToolTime := make(map[string]time.Duration)
	for _, e := range recent {
		total += e.Duration
		ts := perTool[e.Tool]
		ts.Calls++
		if e.Success {
			successes++
			ts.Successes++
		}
		perTool[e.Tool] = ts
		perToolTime[e.Tool] += e.Duration
	}
	for name, ts := range perTool {
		ts.AvgTime = perToolTime[name].Seconds() / float64(ts.Calls)
		perTool[name] = ts
	}

	var recentErrors []string
	start := len(recent) - 10
	if start < 0 {
		start = 0
	}
	for _, e := range recent[start:] {
		if !e.Success && e.ErrorType != "" {
			recentErrors = append(recentErrors, e.ErrorType)
		}
	}

	return ExecutionStats{
		TotalCalls:       len(recent),
		SuccessRate:      float64(successes) / float64(len(recent)),
		AvgExecutionTime: total.Seconds() / float64(len(recent)),
		ToolStats:        perTool,
		RecentErrors:     recentErrors,
	}
}

// Tools returns the names of tools with recorded executions, sorted.
func (s ExecutionStats) Tools() []string {
	names := make([]string, 0, len(s.ToolStats))
	for name := range s.ToolStats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

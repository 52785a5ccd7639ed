package tools

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/haasonsaas/delegator/internal/cache"
	"github.com/haasonsaas/delegator/internal/observability"
	"github.com/haasonsaas/delegator/internal/process"
)

// healthPingTimeout bounds the upstream model listing.
const healthPingTimeout = 10 * time.Second

// ConnectionCheck is the upstream connectivity result.
type ConnectionCheck struct {
	Status       string   `json:"status"`
	ResponseTime float64  `json:"response_time"`
	Models       []string `json:"models,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// DiskCheck reports free space in the project directory.
type DiskCheck struct {
	Path       string  `json:"path"`
	FreeBytes  uint64  `json:"free_bytes,omitempty"`
	FreeGB     float64 `json:"free_gb,omitempty"`
	TotalBytes uint64  `json:"total_bytes,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// ConfigurationSummary lists the feature switches in effect.
type ConfigurationSummary struct {
	CachingEnabled    bool  `json:"caching_enabled"`
	MetricsEnabled    bool  `json:"metrics_enabled"`
	AutoBackupEnabled bool  `json:"auto_backup_enabled"`
	AllowedPaths      int   `json:"allowed_paths"`
	MaxFileSize       int64 `json:"max_file_size"`
}

// HealthReport is the health_check payload.
type HealthReport struct {
	Status        string                        `json:"status"`
	Timestamp     string                        `json:"timestamp"`
	Connection    ConnectionCheck               `json:"vllm_connection"`
	Disk          DiskCheck                     `json:"disk_space"`
	Metrics       *observability.ExecutionStats `json:"metrics,omitempty"`
	Cache         *cache.Stats                  `json:"cache,omitempty"`
	CommandLanes  []process.LaneStats           `json:"command_lanes,omitempty"`
	Configuration ConfigurationSummary          `json:"configuration"`
}

type healthCheck struct {
	deps *Deps
}

func newHealthCheck(deps *Deps) Tool {
	return &healthCheck{deps: deps}
}

func (h *healthCheck) Name() string { return "health_check" }

func (h *healthCheck) Description() string {
	return "Check upstream LLM connectivity, disk space, cache and tool statistics, and the active feature switches."
}

func (h *healthCheck) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (h *healthCheck) Execute(ctx context.Context, _ json.RawMessage) (*Result, error) {
	return jsonResult(h.Report(ctx))
}

// Report gathers every check. Individual failures are reported inline.
func (h *healthCheck) Report(ctx context.Context) HealthReport {
	d := h.deps
	report := HealthReport{
		Status:     "healthy",
		Timestamp:  d.now().UTC().Format(time.RFC3339),
		Connection: CheckConnection(ctx, d.Upstream),
		Configuration: ConfigurationSummary{
			CachingEnabled:    d.Settings.Caching,
			MetricsEnabled:    d.Settings.MetricsEnabled,
			AutoBackupEnabled: d.Settings.AutoBackup,
			MaxFileSize:       d.Settings.MaxFileSize,
		},
	}
	if report.Connection.Status != "healthy" {
		report.Status = "degraded"
	}

	dir := "."
	if d.Paths != nil {
		dir = d.Paths.Base()
		report.Configuration.AllowedPaths = len(d.Paths.AllowedPaths())
	}
	report.Disk = checkDisk(dir)

	if d.Settings.MetricsEnabled && d.Metrics != nil && d.Metrics.Executions != nil {
		stats := d.Metrics.Executions.Stats()
		report.Metrics = &stats
	}
	if d.LLM != nil {
		stats := d.LLM.CacheStats()
		report.Cache = &stats
	}
	if d.Runner != nil {
		report.CommandLanes = d.Runner.Lanes()
	}
	return report
}

// CheckConnection lists models at the upstream endpoint and times the call.
func CheckConnection(ctx context.Context, p Pinger) ConnectionCheck {
	if p == nil {
		return ConnectionCheck{Status: "unhealthy", Error: "no upstream configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()

	start := time.Now()
	models, err := p.ListModels(ctx)
	check := ConnectionCheck{ResponseTime: time.Since(start).Seconds()}
	if err != nil {
		check.Status = "unhealthy"
		check.Error = err.Error()
		return check
	}
	check.Status = "healthy"
	check.Models = models
	return check
}

func checkDisk(dir string) DiskCheck {
	check := DiskCheck{Path: dir}
	free, total, err := diskUsage(dir)
	if err != nil {
		check.Error = err.Error()
		return check
	}
	check.FreeBytes = free
	check.TotalBytes = total
	check.FreeGB = math.Round(float64(free)/(1<<30)*100) / 100
	return check
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/haasonsaas/delegator/internal/config"
	"github.com/haasonsaas/delegator/internal/delegate"
	"github.com/haasonsaas/delegator/internal/observability"
	"github.com/haasonsaas/delegator/internal/process"
	"github.com/haasonsaas/delegator/internal/retry"
	"github.com/haasonsaas/delegator/internal/security"
	"github.com/haasonsaas/delegator/internal/tools"
	"github.com/haasonsaas/delegator/internal/upstream"
	"github.com/haasonsaas/delegator/internal/validate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// =============================================================================
// Application Wiring
// =============================================================================

// application holds every long-lived component built from a Config.
type application struct {
	cfg      *config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	client   *upstream.Client
	service  *delegate.Service
	paths    *security.PathGuard
	runner   *process.Runner
	registry *tools.Registry

	shutdownTracer func(context.Context) error
	logCloser      io.Closer
	metricsServer  *http.Server
}

// newApplication builds the component graph. The path guard is rooted at
// the working directory.
func newApplication(cfg *config.Config) (*application, error) {
	out, logCloser, err := observability.OpenLogOutput(cfg.Logging.File)
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Disabled: !cfg.Logging.Enabled,
		Output:   out,
	})

	app := &application{
		cfg:       cfg,
		logger:    logger,
		logCloser: logCloser,
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = observability.NewMetrics(reg)

	app.tracer, app.shutdownTracer = observability.NewTracer(observability.TraceConfig{
		ServiceName:    "delegator",
		ServiceVersion: version,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
	})

	app.client, err = upstream.New(upstream.Config{
		APIURL:             cfg.VLLM.APIURL,
		Model:              cfg.VLLM.Model,
		APIKey:             cfg.VLLM.APIKey,
		Timeout:            cfg.VLLM.Timeout,
		MaxConnections:     cfg.VLLM.MaxConnections,
		MaxIdleConnections: cfg.VLLM.MaxIdleConnections,
	})
	if err != nil {
		_ = app.release(context.Background())
		return nil, fmt.Errorf("upstream client: %w", err)
	}

	app.service, err = delegate.New(delegate.Options{
		Client: app.client,
		Model:  cfg.VLLM.Model,
		Policy: retry.Policy{
			MaxAttempts: cfg.VLLM.MaxRetries,
			BaseDelay:   cfg.VLLM.BaseDelay,
			MaxDelay:    cfg.VLLM.MaxDelay,
		},
		Limits: validate.Limits{
			MaxResponseLength: cfg.Security.MaxResponseLength,
			MinLengthRatio:    cfg.Security.MinLengthRatio,
		},
		CacheSize:      cfg.Features.CacheSize,
		DisableCache:   !cfg.Features.Caching,
		Coalesce:       cfg.Features.CoalesceInflight,
		AttemptTimeout: cfg.VLLM.Timeout,
		Logger:         logger,
		Metrics:        app.metrics,
		Tracer:         app.tracer,
		Closer:         app.client,
	})
	if err != nil {
		_ = app.client.Close()
		_ = app.release(context.Background())
		return nil, err
	}

	app.paths, err = security.NewPathGuard("", cfg.Security.AllowedPaths)
	if err != nil {
		_ = app.Close(context.Background())
		return nil, fmt.Errorf("path guard: %w", err)
	}
	commands := security.NewCommandGuard(security.NewCommandAllowList(cfg.Security.AllowedCommands, cfg.Security.BareCommands))
	app.runner, err = process.NewRunner(process.Options{
		Commands: commands,
		Paths:    app.paths,
		Logger:   logger,
	})
	if err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}

	app.registry, err = tools.NewDefaultRegistry(&tools.Deps{
		LLM:      app.service,
		Upstream: app.client,
		Paths:    app.paths,
		Runner:   app.runner,
		Metrics:  app.metrics,
		Logger:   logger,
		Tracer:   app.tracer,
		Settings: tools.Settings{
			MaxFileSize:    cfg.Security.MaxFileSize,
			AutoBackup:     cfg.Features.AutoBackup,
			Caching:        cfg.Features.Caching,
			MetricsEnabled: cfg.Features.Metrics,
		},
	})
	if err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

// startMetricsServer exposes /metrics and /healthz on addr. It is a no-op
// when metrics are off or no address is configured.
func (a *application) startMetricsServer(ctx context.Context) error {
	addr := a.cfg.Observability.MetricsAddr
	if !a.cfg.Features.Metrics || addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.metricsServer = server

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error(ctx, "metrics server error", "error", err)
		}
	}()
	a.logger.Info(ctx, "metrics server listening", "addr", listener.Addr().String())
	return nil
}

// Close stops the metrics listener, releases the upstream connections,
// flushes traces, and closes the log file.
func (a *application) Close(ctx context.Context) error {
	var errs []error
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if a.service != nil {
		if err := a.service.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.release(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *application) release(ctx context.Context) error {
	var errs []error
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer: %w", err))
		}
		a.shutdownTracer = nil
	}
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil {
			errs = append(errs, err)
		}
		a.logCloser = nil
	}
	return errors.Join(errs...)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"sluice/internal/config"
	"sluice/internal/cycle"
	"sluice/internal/logging"
	"sluice/internal/record"
	"sluice/internal/report"
	"sluice/internal/telemetry"
	"sluice/internal/transport"
	"sluice/source"
)

var errNoSource = errors.New("engine: no source configured")

type Engine struct {
	cfg      config.Config
	src      source.Source
	reporter *report.Reporter
	loop     *cycle.Loop
	registry *prometheus.Registry
	history  *report.History

	transport *transport.Server
	metrics   *http.Server
}

// Run starts the health and metrics endpoints and the polling loop, and
// blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	srv, err := transport.StartServer(e.cfg.Server.GRPCPort, e.cfg.Server.FailureThreshold)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	e.transport = srv
	e.loop.Observe(srv)
	go func() {
		if err := srv.Serve(); err != nil {
			logging.L().Error("health server stopped", "err", err)
		}
	}()

	e.metrics = telemetry.Expose(e.cfg.Server.MetricsPort, e.registry)
	logging.L().Info("engine started",
		"grpc_port", e.cfg.Server.GRPCPort, "metrics_port", e.cfg.Server.MetricsPort, "sinks", e.cfg.Report.Sinks)

	err = e.loop.Run(ctx, e.history)

	e.transport.Stop()
	telemetry.Shutdown(e.metrics)
	return errors.Join(err, e.Close())
}

// Once runs a single cycle without opening any listeners. Its summary is
// flushed immediately regardless of report.flush_every.
func (e *Engine) Once(ctx context.Context) (cycle.Result, error) {
	return e.loop.RunCycle(ctx, report.NewHistory(1))
}

// Backlog reports the current checkpoint and pending count.
func (e *Engine) Backlog(ctx context.Context) (record.Checkpoint, int64, error) {
	if e.src == nil {
		return 0, 0, errNoSource
	}
	return source.Peek(ctx, e.src)
}

func (e *Engine) Close() error {
	var errs []error
	if e.reporter != nil {
		errs = append(errs, e.reporter.Close())
	}
	if e.src != nil {
		errs = append(errs, e.src.Close())
	}
	return errors.Join(errs...)
}

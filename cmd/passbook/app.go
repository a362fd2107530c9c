package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/xraph/passbook"
	audithook "github.com/xraph/passbook/audit_hook"
	"github.com/xraph/passbook/extension"
	"github.com/xraph/passbook/observability"
)

// app is a started engine together with the process-wide collaborators the
// commands share.
type app struct {
	cfg     config
	logger  *slog.Logger
	engine  *passbook.Engine
	metrics *prometheus.Registry
}

// newApp opens the configured store and starts an engine on it. The sweeper
// only runs when background is true.
func newApp(ctx context.Context, cfg config, background bool) (*app, error) {
	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}

	s, err := extension.OpenStore(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []passbook.Option{passbook.WithLogger(logger)}
	opts = append(opts, extension.EngineOptions(cfg.Config)...)
	opts = append(opts,
		passbook.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
		passbook.WithPlugin(audithook.New(auditLog(logger), audithook.WithLogger(logger))),
	)
	if !background {
		opts = append(opts, passbook.WithoutSweeper())
	}

	eng := passbook.New(s, opts...)
	if err := eng.Start(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, engine: eng, metrics: reg}, nil
}

func (a *app) close() {
	if err := a.engine.Stop(); err != nil {
		a.logger.Error("stop engine", "error", err)
	}
}

// auditLog records audit events as structured log lines.
func auditLog(logger *slog.Logger) audithook.RecorderFunc {
	return func(ctx context.Context, evt *audithook.AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case audithook.SeverityWarning:
			level = slog.LevelWarn
		case audithook.SeverityError, audithook.SeverityCritical:
			level = slog.LevelError
		}
		logger.Log(ctx, level, "audit",
			"action", evt.Action,
			"category", evt.Category,
			"resource", evt.Resource,
			"resource_id", evt.ResourceID,
			"outcome", evt.Outcome,
			"metadata", evt.Metadata,
		)
		return nil
	}
}

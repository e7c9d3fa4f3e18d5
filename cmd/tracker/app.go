package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/efebarandurmaz/bugtracker/internal/bug"
	"github.com/efebarandurmaz/bugtracker/internal/bugzilla"
	"github.com/efebarandurmaz/bugtracker/internal/config"
	"github.com/efebarandurmaz/bugtracker/internal/fetch"
	"github.com/efebarandurmaz/bugtracker/internal/observability"
	"github.com/efebarandurmaz/bugtracker/internal/table"
)

// app holds the components every command builds from the configuration.
type app struct {
	loader  *config.Loader
	cfg     *config.Config
	logger  *slog.Logger
	client  *bugzilla.Client
	aliases bugzilla.Aliases
	marker  *bug.Marker
	metrics *observability.Metrics
	audit   *observability.AuditLogger
	tracing *observability.TracerProvider
}

// newApp loads the configuration and builds the shared components. Logs
// go to logOut.
func newApp(ctx context.Context, configPath string, logOut io.Writer) (*app, error) {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	logger := cfg.Log.NewLogger(logOut)
	for _, warning := range cfg.Validate() {
		logger.Warn("config warning", "warning", warning)
	}

	marker, err := bug.NewMarker(cfg.Graph.Marker.Field, cfg.Graph.Marker.Pattern)
	if err != nil {
		return nil, fmt.Errorf("devaluation marker: %w", err)
	}

	client, err := bugzilla.NewClient(bugzilla.ClientConfig{
		BaseURL:           cfg.Bugzilla.BaseURL,
		APIKey:            cfg.Bugzilla.APIKey,
		UserAgent:         cfg.Bugzilla.UserAgent,
		Timeout:           cfg.Bugzilla.Timeout,
		RequestsPerSecond: cfg.Bugzilla.RequestsPerSecond,
		Burst:             cfg.Bugzilla.Burst,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bugzilla client: %w", err)
	}

	tracingCfg := &observability.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		SampleRate:     cfg.Tracing.SampleRate,
	}
	if cfg.Tracing.Enabled {
		tracingCfg.OTLPEndpoint = cfg.Tracing.Endpoint
	}
	tracing, err := observability.InitTracing(ctx, tracingCfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	audit, err := observability.NewAuditLogger(&observability.AuditConfig{
		Enabled:    cfg.Audit.Enabled,
		OutputPath: cfg.Audit.Output,
	})
	if err != nil {
		_ = tracing.Shutdown(ctx)
		return nil, fmt.Errorf("audit log: %w", err)
	}

	return &app{
		loader:  loader,
		cfg:     cfg,
		logger:  logger,
		client:  client,
		aliases: cfg.Graph.AliasTable(),
		marker:  marker,
		metrics: observability.NewMetrics(),
		audit:   audit,
		tracing: tracing,
	}, nil
}

// controllerOptions returns the fetch options without consumers; callers
// set Notifier, Status and Observer.
func (a *app) controllerOptions() fetch.Options {
	return fetch.Options{
		MaxDepth:       a.cfg.Graph.MaxDepth,
		ChunkSize:      a.cfg.Graph.ChunkSize,
		Fields:         table.Fields(),
		FlagFields:     table.FlagFields(),
		Marker:         a.marker,
		NotifyInterval: a.cfg.Graph.NotifyInterval,
		DefaultRoot:    a.cfg.Graph.DefaultRoot,
		ResolveRoot:    a.aliases.Resolve,
		Logger:         a.logger,
		Metrics:        a.metrics,
		Audit:          a.audit,
	}
}

func (a *app) projector() table.Projector {
	return table.Projector{Tag: a.cfg.Graph.Tag, BugURL: a.client.BugURL}
}

// close flushes traces and closes the audit log.
func (a *app) close(ctx context.Context) error {
	return errors.Join(a.tracing.Shutdown(ctx), a.audit.Close())
}

// statusLog reports controller status text through the logger. Failed
// queries are already logged at warn level by the controller.
type statusLog struct {
	logger *slog.Logger
}

func (s statusLog) SetStatus(msg string) {
	if msg != "" {
		s.logger.Info("fetch status", "message", msg)
	}
}

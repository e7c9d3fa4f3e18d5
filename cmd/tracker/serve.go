package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/bugtracker/internal/config"
	"github.com/efebarandurmaz/bugtracker/internal/dashboard"
	"github.com/efebarandurmaz/bugtracker/internal/fetch"
	"github.com/efebarandurmaz/bugtracker/internal/server"
)

type serveOptions struct {
	request requestFlags
	listen  string
	flags   bool
}

func newServeCmd(configPath *string) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve [root]",
		Short: "Serve the dashboard and keep the graph current",
		Long: `Serve starts a cycle for root and serves the dashboard, the JSON API,
health endpoints and Prometheus metrics. Browsers start new cycles through
POST /api/cycles. Editing the config file restarts the cycle when the
graph defaults change.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), a, args, opts)
		},
	}

	opts.request.bind(cmd.Flags())
	cmd.Flags().StringVar(&opts.listen, "listen", "", "Listen address (default from config)")
	cmd.Flags().BoolVar(&opts.flags, "flags", false, "Fetch the flag and attachment fields in the first cycle")
	return cmd
}

// runServe owns a's shutdown: tracing and the audit log close through the
// shutdown hooks.
func runServe(ctx context.Context, a *app, args []string, opts serveOptions) error {
	listen := a.cfg.Dashboard.Listen
	if opts.listen != "" {
		listen = opts.listen
	}

	gs := server.NewGracefulServer(
		&server.HealthConfig{Version: version},
		&server.ShutdownConfig{Logger: a.logger},
	)

	d := dashboard.New(&dashboard.Config{
		ListenAddr: listen,
		Tag:        a.cfg.Graph.Tag,
		BugURL:     a.client.BugURL,
		TreeURL:    a.client.TreeURL,
		Health:     gs.Health.Handler(),
		Metrics:    a.metrics,
		Audit:      a.audit,
		Logger:     a.logger,
	})

	fopts := a.controllerOptions()
	fopts.Notifier = d.Emitter
	fopts.Status = d.Emitter
	fopts.Observer = d.Emitter
	ctrl := fetch.NewController(a.client, fopts)
	d.Attach(ctrl)

	gs.Health.RegisterCheck("bugzilla", server.BugzillaHealthChecker(a.cfg.Bugzilla.BaseURL, a.client.Version))
	gs.Health.RegisterCheck("cycle", server.CycleHealthChecker(ctrl.Current, a.cfg.Graph.StuckAfter))

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loopDone := make(chan struct{})

	gs.RegisterHook(server.HTTPServerShutdownHook("dashboard", d.Server.Stop))
	gs.RegisterHook(server.ControllerShutdownHook(stopLoop, loopDone))
	gs.RegisterHook(server.TracingShutdownHook(a.tracing.Shutdown))
	gs.RegisterHook(server.AuditLoggerShutdownHook(a.audit.Close))

	var g errgroup.Group
	g.Go(func() error {
		defer close(loopDone)
		return ctrl.Run(loopCtx)
	})
	g.Go(func() error {
		err := d.Server.Start()
		if err != nil {
			gs.Shutdown.Trigger("dashboard server failed")
		}
		return err
	})

	ctrl.Start(opts.request.request(ctrl, args, opts.flags))

	a.loader.Watch(func(cfg *config.Config, err error) {
		if err != nil {
			a.logger.Error("config reload failed", "path", a.loader.Path(), "error", err)
			return
		}
		restarted := reloadGraph(ctrl, a.cfg, cfg)
		a.cfg.Graph = cfg.Graph
		a.logger.Info("config reloaded", "path", a.loader.Path(), "restarted", restarted)
		a.audit.LogConfigReload(a.loader.Path(), restarted)
	})

	shutdownErr := gs.Run(ctx)
	if shutdownErr != nil {
		shutdownErr = fmt.Errorf("shutdown: %w", shutdownErr)
	}
	return errors.Join(g.Wait(), shutdownErr)
}

// reloadGraph applies changed graph defaults to ctrl and restarts the
// current cycle with them. A cycle started for an explicit root keeps that
// root and its flag setting. Other settings take effect on the next
// process start.
func reloadGraph(ctrl *fetch.Controller, old, cfg *config.Config) bool {
	o, n := old.Graph, cfg.Graph
	if o.MaxDepth == n.MaxDepth && o.ChunkSize == n.ChunkSize && o.DefaultRoot == n.DefaultRoot {
		return false
	}
	ctrl.SetDefaults(n.DefaultRoot, n.MaxDepth, n.ChunkSize)

	req := ctrl.Request("")
	if cy := ctrl.Current(); cy != nil {
		prev := cy.Request()
		if prev.Root != o.DefaultRoot {
			req.Root = prev.Root
		}
		req.Flags = prev.Flags
	}
	ctrl.Start(req)
	return true
}

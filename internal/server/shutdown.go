package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Hook priorities. Lower runs first.
const (
	PriorityHTTP       = 10
	PriorityController = 20
	PriorityTracing    = 80
	PriorityAudit      = 95
)

const defaultShutdownTimeout = 30 * time.Second

// ShutdownHook is a function called during shutdown.
type ShutdownHook struct {
	Name     string
	Priority int
	Fn       func(ctx context.Context) error
}

// ShutdownConfig configures the shutdown handler.
type ShutdownConfig struct {
	// Timeout bounds all hooks together. Zero selects 30s.
	Timeout time.Duration
	Logger  *slog.Logger
}

// ShutdownHandler runs its hooks once, in priority order, when the context
// given to Run ends or Trigger is called. Signal handling belongs to the
// caller's context.
type ShutdownHandler struct {
	mu      sync.Mutex
	hooks   []ShutdownHook
	timeout time.Duration
	logger  *slog.Logger

	trigger  chan struct{}
	stopping chan struct{}
	done     chan struct{}
	reason   string
	err      error

	triggerOnce sync.Once
	runOnce     sync.Once
}

// NewShutdownHandler creates a handler. config may be nil.
func NewShutdownHandler(config *ShutdownConfig) *ShutdownHandler {
	h := &ShutdownHandler{
		timeout:  defaultShutdownTimeout,
		logger:   slog.Default(),
		trigger:  make(chan struct{}),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	if config != nil {
		if config.Timeout > 0 {
			h.timeout = config.Timeout
		}
		if config.Logger != nil {
			h.logger = config.Logger
		}
	}
	return h
}

// RegisterHook adds a hook. Hooks of equal priority run in registration
// order.
func (h *ShutdownHandler) RegisterHook(name string, priority int, fn func(ctx context.Context) error) {
	h.Register(ShutdownHook{Name: name, Priority: priority, Fn: fn})
}

// Register adds a prepared hook such as HTTPServerShutdownHook.
func (h *ShutdownHandler) Register(hook ShutdownHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook)
	sort.SliceStable(h.hooks, func(i, j int) bool {
		return h.hooks[i].Priority < h.hooks[j].Priority
	})
}

// Trigger starts shutdown without waiting for the context, for example when
// a listener fails. Only the first reason is kept.
func (h *ShutdownHandler) Trigger(reason string) {
	h.triggerOnce.Do(func() {
		h.mu.Lock()
		h.reason = reason
		h.mu.Unlock()
		close(h.trigger)
	})
}

// Run blocks until ctx ends or Trigger is called, then runs the hooks and
// returns their joined errors. Further calls wait for the first to finish.
func (h *ShutdownHandler) Run(ctx context.Context) error {
	h.runOnce.Do(func() {
		select {
		case <-ctx.Done():
			h.logger.Info("shutting down", "reason", context.Cause(ctx))
		case <-h.trigger:
			h.mu.Lock()
			reason := h.reason
			h.mu.Unlock()
			h.logger.Info("shutting down", "reason", reason)
		}
		close(h.stopping)
		h.runHooks()
		close(h.done)
	})
	<-h.done
	return h.Err()
}

func (h *ShutdownHandler) runHooks() {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	hooks := append([]ShutdownHook(nil), h.hooks...)
	h.mu.Unlock()

	// A failed hook does not stop the rest.
	var errs []error
	for _, hook := range hooks {
		start := time.Now()
		if err := hook.Fn(ctx); err != nil {
			h.logger.Error("shutdown hook failed", "hook", hook.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", hook.Name, err))
			continue
		}
		h.logger.Debug("shutdown hook done", "hook", hook.Name, "duration", time.Since(start))
	}

	h.mu.Lock()
	h.err = errors.Join(errs...)
	h.mu.Unlock()
}

// Stopping is closed when the hooks start running.
func (h *ShutdownHandler) Stopping() <-chan struct{} {
	return h.stopping
}

// Done is closed when every hook has returned.
func (h *ShutdownHandler) Done() <-chan struct{} {
	return h.done
}

// Err returns the joined hook errors once Done is closed.
func (h *ShutdownHandler) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// HTTPServerShutdownHook stops a server before anything it depends on.
func HTTPServerShutdownHook(name string, shutdownFn func(ctx context.Context) error) ShutdownHook {
	return ShutdownHook{Name: name, Priority: PriorityHTTP, Fn: shutdownFn}
}

// ControllerShutdownHook stops a fetch loop and waits for its outstanding
// queries to return, or for the shutdown deadline.
func ControllerShutdownHook(stopFn func(), done <-chan struct{}) ShutdownHook {
	return ShutdownHook{
		Name:     "fetch-controller",
		Priority: PriorityController,
		Fn: func(ctx context.Context) error {
			stopFn()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("waiting for fetch loop: %w", ctx.Err())
			}
		},
	}
}

// TracingShutdownHook flushes pending spans.
func TracingShutdownHook(shutdownFn func(ctx context.Context) error) ShutdownHook {
	return ShutdownHook{Name: "tracing", Priority: PriorityTracing, Fn: shutdownFn}
}

// AuditLoggerShutdownHook closes the audit log last so it records the
// cycles cancelled by earlier hooks.
func AuditLoggerShutdownHook(closeFn func() error) ShutdownHook {
	return ShutdownHook{
		Name:     "audit-logger",
		Priority: PriorityAudit,
		Fn:       func(context.Context) error { return closeFn() },
	}
}

// GracefulServer pairs health endpoints with a shutdown handler. Readiness
// turns false as soon as shutdown starts.
type GracefulServer struct {
	Health   *HealthServer
	Shutdown *ShutdownHandler
}

// NewGracefulServer creates the pair. Either config may be nil.
func NewGracefulServer(healthConfig *HealthConfig, shutdownConfig *ShutdownConfig) *GracefulServer {
	g := &GracefulServer{
		Health:   NewHealthServer(healthConfig),
		Shutdown: NewShutdownHandler(shutdownConfig),
	}
	g.Shutdown.RegisterHook("readiness", 0, func(context.Context) error {
		g.Health.SetReady(false)
		return nil
	})
	return g
}

// RegisterHook adds a shutdown hook.
func (g *GracefulServer) RegisterHook(hook ShutdownHook) {
	g.Shutdown.Register(hook)
}

// Run marks the process ready and blocks until shutdown has finished.
func (g *GracefulServer) Run(ctx context.Context) error {
	g.Health.SetReady(true)
	return g.Shutdown.Run(ctx)
}

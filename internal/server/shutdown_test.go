package server

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func runAsync(ctx context.Context, h *ShutdownHandler) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- h.Run(ctx) }()
	return errc
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown timed out")
		return nil
	}
}

func TestNewShutdownHandler_Defaults(t *testing.T) {
	if h := NewShutdownHandler(nil); h.timeout != 30*time.Second {
		t.Fatalf("expected default timeout, got %v", h.timeout)
	}
	if h := NewShutdownHandler(&ShutdownConfig{Timeout: time.Second}); h.timeout != time.Second {
		t.Fatalf("expected configured timeout, got %v", h.timeout)
	}
}

func TestShutdownHandler_HookOrder(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: 5 * time.Second})

	var mu sync.Mutex
	var order []string
	hook := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	h.Register(AuditLoggerShutdownHook(func() error { return hook("audit")(context.Background()) }))
	h.Register(HTTPServerShutdownHook("dashboard", hook("dashboard")))
	h.Register(TracingShutdownHook(hook("tracing")))
	h.RegisterHook("controller", PriorityController, hook("controller"))
	h.RegisterHook("controller-2", PriorityController, hook("controller-2"))

	ctx, cancel := context.WithCancel(context.Background())
	errc := runAsync(ctx, h)
	cancel()
	if err := waitErr(t, errc); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := "dashboard controller controller-2 tracing audit"
	if got := strings.Join(order, " "); got != want {
		t.Fatalf("expected order %q, got %q", want, got)
	}
}

func TestShutdownHandler_HookWithError(t *testing.T) {
	var logs bytes.Buffer
	h := NewShutdownHandler(&ShutdownConfig{
		Timeout: 5 * time.Second,
		Logger:  slog.New(slog.NewTextHandler(&logs, nil)),
	})

	called := false
	h.RegisterHook("failing", 10, func(ctx context.Context) error {
		return errors.New("hook failed")
	})
	h.RegisterHook("after", 20, func(ctx context.Context) error {
		called = true
		return nil
	})

	errc := runAsync(context.Background(), h)
	h.Trigger("listener failed")
	err := waitErr(t, errc)

	if !called {
		t.Fatal("expected second hook to be called despite first failing")
	}
	if err == nil || !strings.Contains(err.Error(), "failing: hook failed") {
		t.Fatalf("expected joined hook error, got %v", err)
	}
	if h.Err() != err {
		t.Fatalf("expected Err to match Run, got %v", h.Err())
	}
	if !strings.Contains(logs.String(), "shutdown hook failed") || !strings.Contains(logs.String(), "listener failed") {
		t.Fatalf("expected reason and failure to be logged, got %s", logs.String())
	}
}

func TestShutdownHandler_StoppingBeforeDone(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: 10 * time.Second})

	release := make(chan struct{})
	h.RegisterHook("slow", 10, func(ctx context.Context) error {
		<-release
		return nil
	})

	errc := runAsync(context.Background(), h)
	h.Trigger("test")

	select {
	case <-h.Stopping():
	case <-time.After(2 * time.Second):
		t.Fatal("expected shutdown to have started")
	}
	select {
	case <-h.Done():
		t.Fatal("expected slow hook to hold Done")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := waitErr(t, errc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestShutdownHandler_RunsHooksOnce(t *testing.T) {
	h := NewShutdownHandler(nil)
	var calls int
	h.RegisterHook("count", 10, func(context.Context) error {
		calls++
		return nil
	})

	h.Trigger("first")
	h.Trigger("second")
	first := runAsync(context.Background(), h)
	second := runAsync(context.Background(), h)
	waitErr(t, first)
	waitErr(t, second)

	if calls != 1 {
		t.Fatalf("expected hooks to run once, ran %d times", calls)
	}
	if h.reason != "first" {
		t.Fatalf("expected first reason to be kept, got %q", h.reason)
	}
}

func TestShutdownHandler_TimeoutBoundsHooks(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: 20 * time.Millisecond})
	h.Register(ControllerShutdownHook(func() {}, make(chan struct{})))

	h.Trigger("test")
	err := waitErr(t, runAsync(context.Background(), h))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestControllerShutdownHook(t *testing.T) {
	done := make(chan struct{})
	stopped := false
	hook := ControllerShutdownHook(func() {
		stopped = true
		close(done)
	}, done)

	if hook.Priority != PriorityController {
		t.Fatalf("expected controller priority, got %d", hook.Priority)
	}
	if err := hook.Fn(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stopped {
		t.Fatal("expected stop function to be called")
	}
}

func TestCommonHooks(t *testing.T) {
	closed := false
	audit := AuditLoggerShutdownHook(func() error {
		closed = true
		return nil
	})
	tracing := TracingShutdownHook(func(ctx context.Context) error { return errors.New("exporter gone") })

	if audit.Priority <= tracing.Priority {
		t.Fatalf("expected audit logger to close after tracing (%d <= %d)", audit.Priority, tracing.Priority)
	}
	if err := audit.Fn(context.Background()); err != nil || !closed {
		t.Fatalf("expected audit close to run, err=%v", err)
	}
	if err := tracing.Fn(context.Background()); err == nil {
		t.Fatal("expected tracing error to propagate")
	}
}

func TestGracefulServer_NotReadyOnShutdown(t *testing.T) {
	g := NewGracefulServer(&HealthConfig{Version: "test"}, &ShutdownConfig{Timeout: time.Second})

	readyDuringHooks := true
	g.RegisterHook(HTTPServerShutdownHook("dashboard", func(ctx context.Context) error {
		g.Health.mu.RLock()
		readyDuringHooks = g.Health.ready
		g.Health.mu.RUnlock()
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- g.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for {
		g.Health.mu.RLock()
		ready := g.Health.ready
		g.Health.mu.RUnlock()
		if ready {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected ready while running")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := waitErr(t, errc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if readyDuringHooks {
		t.Fatal("expected readiness to drop before the dashboard stops")
	}
}

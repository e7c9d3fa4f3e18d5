// Package server provides health checks and graceful shutdown for the
// long-running tracker commands.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/bugtracker/internal/fetch"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// severity orders statuses; the worst check decides the overall status.
func (s HealthStatus) severity() int {
	switch s {
	case HealthStatusDegraded:
		return 1
	case HealthStatusUnhealthy:
		return 2
	}
	return 0
}

// checkTimeout bounds each check.
const checkTimeout = 5 * time.Second

// HealthCheck is the result of one named check.
type HealthCheck struct {
	Name    string            `json:"name"`
	Status  HealthStatus      `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// HealthResponse is the body of every health endpoint.
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Checks    []HealthCheck `json:"checks,omitempty"`
}

// HealthChecker performs one check. It should honour ctx.
type HealthChecker func(ctx context.Context) HealthCheck

// HealthConfig configures the health server.
type HealthConfig struct {
	Version string
}

// HealthServer serves /healthz with the registered checks, and the
// /readyz and /livez endpoints. It starts live but not ready.
type HealthServer struct {
	mu      sync.RWMutex
	checks  map[string]HealthChecker
	version string
	ready   bool
	live    bool
}

// NewHealthServer creates a health server. config may be nil.
func NewHealthServer(config *HealthConfig) *HealthServer {
	s := &HealthServer{checks: make(map[string]HealthChecker), live: true}
	if config != nil {
		s.version = config.Version
	}
	return s
}

// RegisterCheck adds or replaces the check called name.
func (s *HealthServer) RegisterCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = checker
}

func (s *HealthServer) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

func (s *HealthServer) SetLive(live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = live
}

// Handler serves /healthz, /readyz and /livez, with /health, /ready and
// /live as aliases.
func (s *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, prefix := range []string{"/health", "/healthz"} {
		mux.HandleFunc(prefix, s.handleHealth)
	}
	for _, path := range []string{"/ready", "/readyz"} {
		mux.HandleFunc(path, s.stateHandler(func() bool { return s.ready }))
	}
	for _, path := range []string{"/live", "/livez"} {
		mux.HandleFunc(path, s.stateHandler(func() bool { return s.live }))
	}
	return mux
}

// Check runs the registered checks concurrently. Results are sorted by
// name.
func (s *HealthServer) Check(ctx context.Context) HealthResponse {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checkers := make([]HealthChecker, len(names))
	for i, name := range names {
		checkers[i] = s.checks[name]
	}
	version := s.version
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	results := make([]HealthCheck, len(names))
	var g errgroup.Group
	for i := range checkers {
		g.Go(func() error {
			results[i] = checkers[i](ctx)
			results[i].Name = names[i]
			return nil
		})
	}
	_ = g.Wait()

	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   version,
		Checks:    results,
	}
	for _, c := range results {
		if c.Status.severity() > resp.Status.severity() {
			resp.Status = c.Status
		}
	}
	return resp
}

// handleHealth answers 503 only when a check is unhealthy; degraded is
// still served.
func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.Check(r.Context())
	code := http.StatusOK
	if resp.Status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *HealthServer) stateHandler(up func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		ok := up()
		s.mu.RUnlock()

		resp := HealthResponse{Status: HealthStatusHealthy, Timestamp: time.Now().UTC()}
		code := http.StatusOK
		if !ok {
			resp.Status = HealthStatusUnhealthy
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// BugzillaHealthChecker reports whether the upstream answers. versionFn is
// typically (*bugzilla.Client).Version.
func BugzillaHealthChecker(baseURL string, versionFn func(ctx context.Context) (string, error)) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		version, err := versionFn(ctx)
		if err != nil {
			return HealthCheck{
				Status:  HealthStatusUnhealthy,
				Message: "Bugzilla unreachable: " + err.Error(),
				Details: map[string]string{"base_url": baseURL},
			}
		}
		return HealthCheck{
			Status:  HealthStatusHealthy,
			Message: "Bugzilla OK",
			Details: map[string]string{"base_url": baseURL, "version": version},
		}
	}
}

// CycleHealthChecker reports on the current fetch cycle. A cycle still
// fetching after stuckAfter is degraded: a query that never returns keeps
// it from completing. A finished cycle with failed requests is degraded
// too. stuckAfter <= 0 disables the stuck check.
func CycleHealthChecker(current func() *fetch.Cycle, stuckAfter time.Duration) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		cy := current()
		if cy == nil {
			return HealthCheck{Status: HealthStatusHealthy, Message: "No cycle started"}
		}

		s := cy.Summary()
		details := map[string]string{
			"cycle":     s.ID,
			"root":      s.Root,
			"state":     string(s.State),
			"nodes":     strconv.Itoa(s.Nodes),
			"in_flight": strconv.Itoa(s.InFlight),
			"pending":   strconv.Itoa(s.Pending),
			"failures":  strconv.Itoa(len(s.Failures)),
		}

		switch {
		case s.State == fetch.StateFetching && stuckAfter > 0 && s.Duration() > stuckAfter:
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: fmt.Sprintf("Cycle %s for %s", s.StateText(), s.Duration().Round(time.Second)),
				Details: details,
			}
		case s.State == fetch.StateDone && len(s.Failures) > 0:
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: fmt.Sprintf("Cycle done with %d failed request(s)", len(s.Failures)),
				Details: details,
			}
		default:
			return HealthCheck{
				Status:  HealthStatusHealthy,
				Message: "Cycle " + s.StateText(),
				Details: details,
			}
		}
	}
}

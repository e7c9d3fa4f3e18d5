package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/efebarandurmaz/bugtracker/internal/bug"
	"github.com/efebarandurmaz/bugtracker/internal/depgraph"
)

// State represents the lifecycle of a fetch cycle.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateDone       State = "done"
	StateSuperseded State = "superseded"
	StateCancelled  State = "cancelled"
)

// Failure kinds recorded in a Summary.
const (
	FailureTransport = "transport"
	FailureMalformed = "malformed"
	FailureOther     = "error"
)

// Request describes one cycle. MaxDepth is the number of dependency levels
// fetched below the root, so bugs are stored at discovery depths
// 1..MaxDepth. A negative MaxDepth or a non-positive ChunkSize selects the
// controller's default.
type Request struct {
	Root      string `json:"root"`
	MaxDepth  int    `json:"max_depth"`
	ChunkSize int    `json:"chunk_size"`
	Flags     bool   `json:"flags"`
}

// DepthStats counts the queries issued for one discovery depth.
type DepthStats struct {
	Depth     int `json:"depth"`
	Issued    int `json:"issued"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	IDs       int `json:"ids"`
}

// Failure records a chunk whose query failed. Its IDs were dropped.
type Failure struct {
	Depth   int       `json:"depth"`
	IDs     []bug.ID  `json:"ids"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Summary is a point-in-time view of a cycle.
type Summary struct {
	ID        string `json:"id"`
	Root      string `json:"root"`
	BlockedBy string `json:"blocked_by"`
	State     State  `json:"state"`
	Depth     int    `json:"depth"` // lowest depth with a query in flight, -1 if none
	MaxDepth  int    `json:"max_depth"`
	ChunkSize int    `json:"chunk_size"`
	Flags     bool   `json:"flags"`

	Depths            []DepthStats `json:"depths"` // depths 1..MaxDepth
	InFlight          int          `json:"in_flight"`
	Pending           int          `json:"pending"`
	Nodes             int          `json:"nodes"`
	AtMaxDepth        []bug.ID     `json:"at_max_depth"`
	Truncated         int          `json:"truncated"`
	ReachabilityFlips int          `json:"reachability_flips"`
	Stale             int          `json:"stale"`
	Failures          []Failure    `json:"failures"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Finished reports whether the cycle left the fetching state.
func (s Summary) Finished() bool {
	return s.State != StateFetching && s.State != StateIdle
}

// Duration is the elapsed time of the cycle so far.
func (s Summary) Duration() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if s.FinishedAt != nil {
		return s.FinishedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}

// DepthAt returns the query counts for discovery depth d.
func (s Summary) DepthAt(d int) DepthStats {
	if d < 1 || d > len(s.Depths) {
		return DepthStats{Depth: d}
	}
	return s.Depths[d-1]
}

func (s *Summary) stats(d int) *DepthStats {
	return &s.Depths[d-1]
}

// Queries returns the totals across depths.
func (s Summary) Queries() (issued, succeeded, failed int) {
	for _, d := range s.Depths {
		issued += d.Issued
		succeeded += d.Succeeded
		failed += d.Failed
	}
	return issued, succeeded, failed
}

// StateText renders the state for status lines, e.g. "fetching depth 2".
func (s Summary) StateText() string {
	if s.State == StateFetching && s.Depth >= 0 {
		return fmt.Sprintf("fetching depth %d", s.Depth)
	}
	return string(s.State)
}

func (s Summary) clone() Summary {
	out := s
	out.Depths = append([]DepthStats(nil), s.Depths...)
	out.AtMaxDepth = append([]bug.ID(nil), s.AtMaxDepth...)
	out.Failures = make([]Failure, len(s.Failures))
	for i, f := range s.Failures {
		f.IDs = append([]bug.ID(nil), f.IDs...)
		out.Failures[i] = f
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// Cycle is one breadth-first expansion from a root. Its Store may be read
// at any time; everything else is owned by the controller loop.
type Cycle struct {
	id        string
	req       Request
	blockedBy string
	fields    []string
	store     *depgraph.Store
	accepted  chan struct{} // closed once the loop made the cycle current
	done      chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	span     trace.Span
	batcher  *depgraph.Batcher
	reach    *depgraph.Reachability
	inFlight []int
	notify   *rate.Sometimes

	mu      sync.RWMutex
	summary Summary
}

// ID returns the cycle's unique ID.
func (cy *Cycle) ID() string { return cy.id }

// Request returns the normalized request the cycle runs.
func (cy *Cycle) Request() Request { return cy.req }

// Store returns the cycle's dependency graph.
func (cy *Cycle) Store() *depgraph.Store { return cy.store }

// Done is closed when the cycle finishes or is superseded.
func (cy *Cycle) Done() <-chan struct{} { return cy.done }

// Summary returns a copy of the cycle's current summary.
func (cy *Cycle) Summary() Summary {
	cy.mu.RLock()
	defer cy.mu.RUnlock()
	return cy.summary.clone()
}

// Wait blocks until the cycle is done or ctx is cancelled.
func (cy *Cycle) Wait(ctx context.Context) (Summary, error) {
	select {
	case <-cy.done:
		return cy.Summary(), nil
	case <-ctx.Done():
		return cy.Summary(), ctx.Err()
	}
}

func (cy *Cycle) update(fn func(s *Summary)) {
	cy.mu.Lock()
	defer cy.mu.Unlock()
	fn(&cy.summary)
}

func (cy *Cycle) totalInFlight() int {
	total := 0
	for _, n := range cy.inFlight {
		total += n
	}
	return total
}

func (cy *Cycle) lowestInFlight() int {
	for d, n := range cy.inFlight {
		if n > 0 {
			return d
		}
	}
	return -1
}

func (cy *Cycle) complete() bool {
	return cy.totalInFlight() == 0 && cy.batcher.PendingCount() == 0
}

// refresh copies the loop-owned counters into the summary.
func (cy *Cycle) refresh() {
	inFlight := cy.totalInFlight()
	depth := cy.lowestInFlight()
	pending := cy.batcher.PendingCount()
	truncated := cy.batcher.Truncated()
	flips := cy.reach.Flips()
	nodes := cy.store.Len()

	cy.update(func(s *Summary) {
		s.InFlight = inFlight
		s.Depth = depth
		s.Pending = pending
		s.Truncated = truncated
		s.ReachabilityFlips = flips
		s.Nodes = nodes
	})
}

// end moves the cycle to a final state and releases its context. Done is
// closed separately, once every consumer was told.
func (cy *Cycle) end(state State) Summary {
	now := time.Now()
	cy.update(func(s *Summary) {
		s.State = state
		s.FinishedAt = &now
		s.Depth = -1
	})
	if cy.cancel != nil {
		cy.cancel()
	}
	return cy.Summary()
}

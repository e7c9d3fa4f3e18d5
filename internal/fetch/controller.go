// Package fetch drives breadth-first, depth-bounded expansion of a bug
// dependency graph through a chunked remote query interface.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/efebarandurmaz/bugtracker/internal/bug"
	"github.com/efebarandurmaz/bugtracker/internal/bugzilla"
	"github.com/efebarandurmaz/bugtracker/internal/depgraph"
	"github.com/efebarandurmaz/bugtracker/internal/observability"
)

// Defaults for Options fields left unset; see each field for what unset
// means.
const (
	DefaultMaxDepth       = 4
	DefaultNotifyInterval = 250 * time.Millisecond
)

// ErrRunning is returned by Run when the loop is already running.
var ErrRunning = errors.New("fetch: controller already running")

// Querier is the remote query interface. *bugzilla.Client implements it.
type Querier interface {
	Query(ctx context.Context, q bugzilla.Query) (*bugzilla.Response, error)
}

// Notifier is told that the current cycle's graph changed. Consumers
// re-derive their view from Cycle.Store().
type Notifier interface {
	GraphUpdated()
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func()

func (f NotifierFunc) GraphUpdated() { f() }

// StatusReporter receives human-readable progress and error text. An empty
// message clears the status.
type StatusReporter interface {
	SetStatus(msg string)
}

// Observer is told when cycles start and end, including superseded ones.
type Observer interface {
	CycleStarted(s Summary)
	CycleFinished(s Summary)
}

// Options configures a Controller.
type Options struct {
	// MaxDepth is the number of dependency levels fetched below the root.
	// Negative selects DefaultMaxDepth; zero fetches nothing.
	MaxDepth int
	// ChunkSize bounds the IDs per query. Non-positive selects
	// depgraph.DefaultChunkSize.
	ChunkSize int

	// Fields are the record fields every query requests beyond the edges
	// and the marker field. FlagFields are added for Request.Flags cycles.
	Fields     []string
	FlagFields []string
	Marker     *bug.Marker

	// NotifyInterval throttles GraphUpdated while fetching. Zero selects
	// DefaultNotifyInterval; a negative value notifies on every response.
	NotifyInterval time.Duration

	DefaultRoot string
	ResolveRoot func(root string) string

	Notifier Notifier
	Status   StatusReporter
	Observer Observer
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Audit    *observability.AuditLogger
}

type result struct {
	cycleID string
	depth   int
	ids     []bug.ID
	resp    *bugzilla.Response
	err     error
	elapsed time.Duration
}

// Controller owns the fetch loop. All cycle state is mutated on the
// goroutine running Run; queries run on their own goroutines and post
// their results back tagged with the cycle ID.
type Controller struct {
	querier Querier
	opts    Options
	logger  *slog.Logger

	starts  chan *Cycle
	results chan result
	stopped chan struct{}
	running atomic.Bool
	wg      sync.WaitGroup

	// loop-owned
	runCtx     context.Context
	active     *Cycle
	superseded map[string]*Cycle

	mu       sync.RWMutex
	current  *Cycle
	defaults Request
}

// NewController creates a controller over q.
func NewController(q Querier, opts Options) *Controller {
	if opts.MaxDepth < 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = depgraph.DefaultChunkSize
	}
	if opts.Marker == nil {
		opts.Marker = bug.MustMarker("", "")
	}
	if opts.NotifyInterval == 0 {
		opts.NotifyInterval = DefaultNotifyInterval
	}
	if opts.DefaultRoot == "" {
		opts.DefaultRoot = bugzilla.DefaultRoot
	}
	if opts.ResolveRoot == nil {
		opts.ResolveRoot = bugzilla.DefaultAliases().Resolve
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Controller{
		querier:    q,
		opts:       opts,
		logger:     opts.Logger,
		starts:     make(chan *Cycle),
		results:    make(chan result),
		stopped:    make(chan struct{}),
		superseded: make(map[string]*Cycle),
		defaults: Request{
			Root:      opts.DefaultRoot,
			MaxDepth:  opts.MaxDepth,
			ChunkSize: opts.ChunkSize,
		},
	}
}

// SetDefaults replaces the values used for unset Request fields.
func (c *Controller) SetDefaults(root string, maxDepth, chunkSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if root != "" {
		c.defaults.Root = root
	}
	if maxDepth >= 0 {
		c.defaults.MaxDepth = maxDepth
	}
	if chunkSize > 0 {
		c.defaults.ChunkSize = chunkSize
	}
}

// Request returns a request for root using the current defaults.
func (c *Controller) Request(root string) Request {
	return c.normalize(Request{Root: root, MaxDepth: -1})
}

func (c *Controller) normalize(req Request) Request {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if req.Root == "" {
		req.Root = c.defaults.Root
	}
	if req.MaxDepth < 0 {
		req.MaxDepth = c.defaults.MaxDepth
	}
	if req.ChunkSize <= 0 {
		req.ChunkSize = c.defaults.ChunkSize
	}
	return req
}

// Current returns the most recently started cycle, or nil.
func (c *Controller) Current() *Cycle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Start begins a new cycle, superseding the current one. It blocks until
// the loop has made the cycle current. If the loop has stopped the returned
// cycle is already cancelled.
func (c *Controller) Start(req Request) *Cycle {
	req = c.normalize(req)

	extra := append([]string(nil), c.opts.Fields...)
	if req.Flags {
		extra = append(extra, c.opts.FlagFields...)
	}
	fields := bugzilla.Fields(c.opts.Marker.Field(), extra...)

	store := depgraph.NewStore()
	cy := &Cycle{
		id:        uuid.NewString(),
		req:       req,
		blockedBy: c.opts.ResolveRoot(req.Root),
		fields:    fields,
		store:     store,
		accepted:  make(chan struct{}),
		done:      make(chan struct{}),
		batcher:   depgraph.NewBatcher(store, req.MaxDepth),
		inFlight:  make([]int, req.MaxDepth+1),
	}
	// A descendant may list the root among its dependencies.
	cy.batcher.Exclude(bug.ID(cy.blockedBy))
	if c.opts.NotifyInterval > 0 {
		cy.notify = &rate.Sometimes{Interval: c.opts.NotifyInterval}
	} else {
		cy.notify = &rate.Sometimes{Every: 1}
	}

	metrics := c.opts.Metrics
	cy.reach = depgraph.NewReachability(store, c.logger.With("cycle", cy.id), func(bug.ID) {
		metrics.RecordFlip()
	})

	depths := make([]DepthStats, req.MaxDepth)
	for i := range depths {
		depths[i].Depth = i + 1
	}
	cy.summary = Summary{
		ID:        cy.id,
		Root:      req.Root,
		BlockedBy: cy.blockedBy,
		State:     StateIdle,
		Depth:     -1,
		MaxDepth:  req.MaxDepth,
		ChunkSize: req.ChunkSize,
		Flags:     req.Flags,
		Depths:    depths,
	}

	select {
	case c.starts <- cy:
		<-cy.accepted
	case <-c.stopped:
		cy.end(StateCancelled)
		close(cy.done)
	}
	return cy
}

// Run executes the loop until ctx is cancelled. The active cycle is then
// cancelled and Run waits for outstanding queries to return.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	c.runCtx = ctx
	defer func() {
		close(c.stopped)
		c.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			if cy := c.active; cy != nil && !cy.complete() {
				c.retire(cy, StateCancelled)
			}
			return nil
		case cy := <-c.starts:
			c.begin(cy)
		case r := <-c.results:
			c.handle(r)
		}
	}
}

func (c *Controller) begin(cy *Cycle) {
	if prev := c.active; prev != nil && !prev.complete() {
		c.retire(prev, StateSuperseded)
		if prev.totalInFlight() > 0 {
			c.superseded[prev.id] = prev
		}
	}

	ctx, cancel := context.WithCancel(c.runCtx)
	ctx, span := observability.StartCycleSpan(ctx, cy.id, cy.blockedBy, cy.req.MaxDepth, cy.req.ChunkSize)
	cy.ctx, cy.cancel, cy.span = ctx, cancel, span

	c.active = cy
	c.mu.Lock()
	c.current = cy
	c.mu.Unlock()
	close(cy.accepted)

	now := time.Now()
	cy.update(func(s *Summary) {
		s.State = StateFetching
		s.StartedAt = now
	})

	c.logger.Info("cycle started", "cycle", cy.id, "root", cy.req.Root, "blocked_by", cy.blockedBy,
		"max_depth", cy.req.MaxDepth, "chunk_size", cy.req.ChunkSize)
	c.opts.Audit.LogCycleStart(cy.id, cy.blockedBy, cy.req.MaxDepth)
	if c.opts.Observer != nil {
		c.opts.Observer.CycleStarted(cy.Summary())
	}
	c.setStatus("Loading bugs…")

	if cy.req.MaxDepth > 0 {
		c.issue(cy, 1, nil)
	}
	cy.refresh()
	if cy.complete() {
		c.finish(cy)
	}
}

// retire ends a cycle that still has work outstanding.
func (c *Controller) retire(cy *Cycle, state State) {
	c.logger.Info("cycle "+string(state), "cycle", cy.id, "in_flight", cy.totalInFlight(),
		"pending", cy.batcher.PendingCount())
	cy.refresh()
	s := cy.end(state)
	observability.RecordCycleResult(cy.span, string(state), s.Nodes, len(s.Failures))
	cy.span.End()
	c.opts.Metrics.RecordCycle(string(state), s.Duration())
	c.opts.Audit.LogCycleEnd(cy.id, string(state), s.Duration(), s.Nodes, len(s.Failures))
	if c.opts.Observer != nil {
		c.opts.Observer.CycleFinished(s)
	}
	close(cy.done)
}

// issue sends one query for bugs at discovery depth. With no ids it is the
// root query, which asks for the bugs blocking the root.
func (c *Controller) issue(cy *Cycle, depth int, ids []bug.ID) {
	q := bugzilla.Query{IDs: ids, Fields: cy.fields}
	if len(ids) == 0 {
		q.BlockedBy = cy.blockedBy
	}

	cy.inFlight[depth]++
	cy.update(func(s *Summary) {
		st := s.stats(depth)
		st.Issued++
		st.IDs += len(ids)
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, span := observability.StartQuerySpan(cy.ctx, depth, len(ids))
		start := time.Now()
		resp, err := c.querier.Query(ctx, q)
		elapsed := time.Since(start)
		if err != nil {
			observability.RecordError(span, err)
		} else if resp != nil {
			observability.RecordQueryResult(span, len(resp.Bugs), elapsed)
		}
		span.End()

		select {
		case c.results <- result{cycleID: cy.id, depth: depth, ids: ids, resp: resp, err: err, elapsed: elapsed}:
		case <-c.stopped:
		}
	}()
}

// issueChunk takes up to one chunk from depth and queries it. It reports
// whether a query was issued.
func (c *Controller) issueChunk(cy *Cycle, depth int) bool {
	total := cy.batcher.PendingCount()
	ids := cy.batcher.TakeChunk(depth, cy.req.ChunkSize)
	if len(ids) == 0 {
		return false
	}
	c.setStatus(fmt.Sprintf("Fetching %d/%d remaining dependencies…", len(ids), total))
	c.issue(cy, depth, ids)
	return true
}

func (c *Controller) handle(r result) {
	cy := c.active
	if cy == nil || cy.id != r.cycleID {
		c.discard(r)
		return
	}

	cy.inFlight[r.depth]--
	if r.err != nil {
		c.fail(cy, r)
	} else {
		c.absorb(cy, r)
	}

	c.advance(cy)
	cy.refresh()

	if cy.complete() {
		c.finish(cy)
		return
	}
	s := cy.Summary()
	c.opts.Metrics.SetProgress(s.InFlight, s.Pending)
	if c.opts.Notifier != nil {
		cy.notify.Do(c.opts.Notifier.GraphUpdated)
	}
}

// discard drops a response whose cycle is no longer active.
func (c *Controller) discard(r result) {
	c.opts.Metrics.RecordStale()
	c.opts.Metrics.RecordQuery(r.depth, len(r.ids), observability.OutcomeStale, r.elapsed)

	cy, ok := c.superseded[r.cycleID]
	if !ok {
		c.logger.Debug("discarding response of unknown cycle", "cycle", r.cycleID, "depth", r.depth)
		return
	}
	cy.inFlight[r.depth]--
	cy.update(func(s *Summary) {
		s.Stale++
		s.InFlight = cy.totalInFlight()
	})
	if cy.totalInFlight() == 0 {
		delete(c.superseded, cy.id)
	}
	c.logger.Debug("discarding stale response", "cycle", r.cycleID, "depth", r.depth, "ids", len(r.ids))
}

func (c *Controller) fail(cy *Cycle, r result) {
	kind, outcome := FailureOther, observability.OutcomeTransport
	switch {
	case bugzilla.IsMalformed(r.err):
		kind, outcome = FailureMalformed, observability.OutcomeMalformed
	case bugzilla.IsTransport(r.err):
		kind = FailureTransport
	}
	c.opts.Metrics.RecordQuery(r.depth, len(r.ids), outcome, r.elapsed)

	f := Failure{
		Depth:   r.depth,
		IDs:     r.ids,
		Kind:    kind,
		Message: r.err.Error(),
		At:      time.Now(),
	}
	cy.update(func(s *Summary) {
		s.stats(r.depth).Failed++
		s.Failures = append(s.Failures, f)
	})

	c.logger.Warn("query failed", "cycle", cy.id, "depth", r.depth, "ids", len(r.ids), "kind", kind, "error", r.err)
	c.opts.Audit.LogQueryError(cy.id, r.depth, len(r.ids), r.err)
	c.setStatus(fmt.Sprintf("There was an error with a request: %s", f.Message))
}

// absorb merges the bugs of a response for discovery depth d. Records are
// stored first so that edges between siblings of the same response resolve
// against the store before any ID is queued. Their dependencies are queued
// at d+1, which the batcher discards past the maximum depth.
func (c *Controller) absorb(cy *Cycle, r result) {
	c.opts.Metrics.RecordQuery(r.depth, len(r.ids), observability.OutcomeOK, r.elapsed)
	cy.update(func(s *Summary) { s.stats(r.depth).Succeeded++ })
	if r.resp == nil {
		return
	}

	root := bug.ID(cy.blockedBy)
	bugs := make([]bug.Node, 0, len(r.resp.Bugs))
	for _, n := range r.resp.Bugs {
		if n.ID != root {
			bugs = append(bugs, n)
		}
	}

	next := r.depth + 1
	added := 0
	var atMax []bug.ID
	for _, n := range bugs {
		c.opts.Marker.Apply(&n)
		n.Depth = r.depth
		if _, existed := cy.store.Upsert(n); existed {
			cy.reach.Reevaluate(n.ID)
			continue
		}
		added++
		cy.reach.Assign(n.ID, r.depth)
		if r.depth == cy.req.MaxDepth {
			atMax = append(atMax, n.ID)
		}
	}

	for _, n := range bugs {
		for _, dep := range n.DependsOn {
			if dep == root {
				continue
			}
			cy.store.AddBlocker(dep, n.ID)
			if cy.store.Has(dep) {
				cy.reach.Reevaluate(dep)
			}
		}
		cy.batcher.Enqueue(next, n.DependsOn)
	}

	c.opts.Metrics.RecordNodes(added)
	if len(atMax) > 0 {
		cy.update(func(s *Summary) { s.AtMaxDepth = append(s.AtMaxDepth, atMax...) })
	}

	for next <= cy.req.MaxDepth && cy.batcher.Pending(next) >= cy.req.ChunkSize {
		if !c.issueChunk(cy, next) {
			break
		}
	}
}

// advance flushes the remainder of every level that can no longer grow:
// one with no query in flight and nothing pending at any shallower depth.
func (c *Controller) advance(cy *Cycle) {
	busy := false
	for d := 1; d <= cy.req.MaxDepth; d++ {
		if !busy {
			for cy.batcher.Pending(d) > 0 {
				c.issueChunk(cy, d)
			}
		}
		if cy.inFlight[d] > 0 || cy.batcher.Pending(d) > 0 {
			busy = true
		}
	}
}

func (c *Controller) finish(cy *Cycle) {
	s := cy.Summary()
	if n := len(s.Failures); n > 0 {
		c.setStatus(fmt.Sprintf("Done with %d failed request(s); last error: %s", n, s.Failures[n-1].Message))
	} else {
		c.setStatus("")
	}

	s = cy.end(StateDone)
	if c.opts.Notifier != nil {
		c.opts.Notifier.GraphUpdated()
	}

	observability.RecordCycleResult(cy.span, string(StateDone), s.Nodes, len(s.Failures))
	cy.span.End()
	c.opts.Metrics.RecordCycle(string(StateDone), s.Duration())
	c.opts.Metrics.SetProgress(0, 0)
	c.opts.Audit.LogCycleEnd(cy.id, string(StateDone), s.Duration(), s.Nodes, len(s.Failures))

	c.logger.Info("cycle done", "cycle", cy.id, "nodes", s.Nodes, "failures", len(s.Failures),
		"truncated", s.Truncated, "at_max_depth", len(s.AtMaxDepth), "flips", s.ReachabilityFlips,
		"duration", s.Duration())
	if c.opts.Observer != nil {
		c.opts.Observer.CycleFinished(s)
	}
	close(cy.done)
}

func (c *Controller) setStatus(msg string) {
	if c.opts.Status != nil {
		c.opts.Status.SetStatus(msg)
	}
}

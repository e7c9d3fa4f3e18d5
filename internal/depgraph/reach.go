package depgraph

import (
	"log/slog"

	"github.com/efebarandurmaz/bugtracker/internal/bug"
)

// NoDepth marks an evaluation without a discovery depth, as on revisits.
const NoDepth = -1

// Reachability maintains the reachable-without-devalued flag of each node
// in a Store. Updates are incremental and one hop deep: a flip does not
// cascade to descendants until they are themselves re-evaluated.
type Reachability struct {
	store  *Store
	logger *slog.Logger
	onFlip func(id bug.ID)
	flips  int
}

// NewReachability creates a propagator over store. onFlip, if not nil, is
// called after every false to true transition.
func NewReachability(store *Store, logger *slog.Logger, onFlip func(id bug.ID)) *Reachability {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reachability{store: store, logger: logger, onFlip: onFlip}
}

// Evaluate computes the flag for n without storing it.
func (r *Reachability) Evaluate(n bug.Node, depth int) bool {
	switch {
	case n.Devalued:
		return false
	case n.Reachable:
		return true
	case depth == 1:
		return true
	}
	for _, parent := range r.store.Blockers(n.ID) {
		if r.store.Reachable(parent) {
			return true
		}
	}
	return false
}

// Assign evaluates a freshly stored node at its discovery depth and stores
// the result.
func (r *Reachability) Assign(id bug.ID, depth int) bool {
	n, ok := r.store.Get(id)
	if !ok {
		return false
	}
	reachable := r.Evaluate(n, depth)
	r.store.SetReachable(id, reachable)
	return reachable
}

// Reevaluate recomputes the flag of a stored node that was reached again
// and reports whether it flipped from false to true.
func (r *Reachability) Reevaluate(id bug.ID) bool {
	n, ok := r.store.Get(id)
	if !ok {
		return false
	}

	before := n.Reachable
	after := r.Evaluate(n, NoDepth)
	r.store.SetReachable(id, after)

	if before || !after {
		return false
	}

	r.flips++
	r.logger.Info("bug became reachable through a later path", "bug", id)
	if r.onFlip != nil {
		r.onFlip(id)
	}
	return true
}

// Flips returns the number of false to true transitions seen so far.
func (r *Reachability) Flips() int {
	return r.flips
}

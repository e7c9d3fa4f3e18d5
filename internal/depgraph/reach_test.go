package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/efebarandurmaz/bugtracker/internal/bug"
)

func store(t *testing.T, s *Store, r *Reachability, n bug.Node, depth int) {
	t.Helper()
	n.Depth = depth
	s.Upsert(n)
	r.Assign(n.ID, depth)
	for _, d := range n.DependsOn {
		s.AddBlocker(d, n.ID)
	}
}

func TestReachability_Evaluate(t *testing.T) {
	s := NewStore()
	r := NewReachability(s, nil, nil)

	devalued := node("d")
	devalued.Devalued = true
	devalued.Reachable = true
	assert.False(t, r.Evaluate(devalued, 1), "devalued wins over depth 1")

	cached := node("c")
	cached.Reachable = true
	assert.True(t, r.Evaluate(cached, NoDepth))

	assert.True(t, r.Evaluate(node("x"), 1))
	assert.False(t, r.Evaluate(node("x"), 2), "no reachable blocker")
	assert.False(t, r.Evaluate(node("x"), NoDepth))
}

func TestReachability_ThroughBlockers(t *testing.T) {
	s := NewStore()
	r := NewReachability(s, nil, nil)

	store(t, s, r, node("A", "B"), 1)
	store(t, s, r, node("B", "C"), 2)
	store(t, s, r, node("C"), 3)

	assert.True(t, s.Reachable("A"))
	assert.True(t, s.Reachable("B"))
	assert.True(t, s.Reachable("C"))
}

func TestReachability_UsesRemoteBlocks(t *testing.T) {
	s := NewStore()
	r := NewReachability(s, nil, nil)

	store(t, s, r, node("A"), 1)
	child := node("B")
	child.Blocks = []bug.ID{"A"}
	store(t, s, r, child, 2)

	assert.True(t, s.Reachable("B"))
}

func TestReachability_DevaluedSolePath(t *testing.T) {
	s := NewStore()
	r := NewReachability(s, nil, nil)

	a := node("A", "B")
	a.Devalued = true
	store(t, s, r, a, 1)
	store(t, s, r, node("B"), 2)

	assert.False(t, s.Reachable("A"))
	assert.False(t, s.Reachable("B"))
}

func TestReachability_ReevaluateFlips(t *testing.T) {
	s := NewStore()
	var flipped []bug.ID
	r := NewReachability(s, nil, func(id bug.ID) { flipped = append(flipped, id) })

	// X is first reached through devalued D.
	d := node("D", "X")
	d.Devalued = true
	store(t, s, r, d, 1)
	store(t, s, r, node("X"), 2)
	assert.False(t, s.Reachable("X"))

	// A later reachable parent lists X.
	store(t, s, r, node("P", "X"), 1)
	assert.True(t, r.Reevaluate("X"))
	assert.True(t, s.Reachable("X"))

	// Already true: no second flip.
	assert.False(t, r.Reevaluate("X"))
	assert.False(t, r.Reevaluate("missing"))

	assert.Equal(t, []bug.ID{"X"}, flipped)
	assert.Equal(t, 1, r.Flips())
}

func TestReachability_Monotonic(t *testing.T) {
	s := NewStore()
	r := NewReachability(s, nil, nil)

	store(t, s, r, node("A", "B"), 1)
	store(t, s, r, node("B"), 2)
	assert.True(t, s.Reachable("B"))

	// B re-upserted by an unreachable parent stays reachable.
	s.Upsert(node("B"))
	r.Reevaluate("B")
	assert.True(t, s.Reachable("B"))
}

func TestReachability_DevaluationOverridesCachedTrue(t *testing.T) {
	s := NewStore()
	r := NewReachability(s, nil, nil)

	store(t, s, r, node("A"), 1)
	assert.True(t, s.Reachable("A"))

	again := node("A")
	again.Devalued = true
	s.Upsert(again)
	r.Reevaluate("A")
	assert.False(t, s.Reachable("A"))
}

func TestReachability_ReevaluateIsOneHop(t *testing.T) {
	s := NewStore()
	r := NewReachability(s, nil, nil)

	// D (devalued) -> X -> Y, so X and Y start unreachable.
	d := node("D", "X")
	d.Devalued = true
	store(t, s, r, d, 1)
	store(t, s, r, node("X", "Y"), 2)
	store(t, s, r, node("Y"), 3)
	assert.False(t, s.Reachable("Y"))

	store(t, s, r, node("P", "X"), 1)
	assert.True(t, r.Reevaluate("X"))

	// Y is not recomputed when its blocker flips.
	assert.False(t, s.Reachable("Y"))
}

package depgraph

import (
	"sync"

	"github.com/efebarandurmaz/bugtracker/internal/bug"
)

// Store holds the records fetched in one cycle, keyed by ID. It is the only
// place that answers "have we already seen this bug". Readers such as the
// dashboard may call it concurrently with the fetch loop; every accessor
// returns copies.
type Store struct {
	mu       sync.RWMutex
	nodes    map[bug.ID]*bug.Node
	order    []bug.ID
	inferred map[bug.ID][]bug.ID // child -> parents that listed it in depends_on
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		nodes:    make(map[bug.ID]*bug.Node),
		inferred: make(map[bug.ID][]bug.ID),
	}
}

// Has reports whether id has been stored.
func (s *Store) Has(id bug.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.nodes[id]
	return ok
}

// Get returns a copy of the stored node.
func (s *Store) Get(id bug.ID) (bug.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return bug.Node{}, false
	}
	return n.Clone(), true
}

// Upsert inserts n or merges it into the existing record with the same ID,
// and returns the stored result and whether the ID was already present.
func (s *Store) Upsert(n bug.Node) (bug.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.nodes[n.ID]; ok {
		merged := bug.Merge(*existing, n)
		*existing = merged
		return merged.Clone(), true
	}

	stored := n.Clone()
	if stored.Devalued {
		stored.Reachable = false
	}
	s.nodes[n.ID] = &stored
	s.order = append(s.order, n.ID)
	return stored.Clone(), false
}

// SetReachable records the reachability flag. A devalued node always
// stays unreachable. It returns false if id is not stored.
func (s *Store) SetReachable(id bug.ID, reachable bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return false
	}
	n.Reachable = reachable && !n.Devalued
	return true
}

// Reachable returns the cached flag for id; unknown IDs are unreachable.
func (s *Store) Reachable(id bug.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	return ok && n.Reachable
}

// AddBlocker records that parent lists child in its depends_on. The child
// does not need to be stored yet.
func (s *Store) AddBlocker(child, parent bug.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.inferred[child] {
		if p == parent {
			return
		}
	}
	s.inferred[child] = append(s.inferred[child], parent)
}

// Blockers returns the IDs that id blocks: the remote "blocks" list plus
// every parent seen listing id in its depends_on.
func (s *Store) Blockers(id bug.ID) []bug.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []bug.ID
	seen := make(map[bug.ID]struct{})
	add := func(ids []bug.ID) {
		for _, b := range ids {
			if _, ok := seen[b]; ok {
				continue
			}
			seen[b] = struct{}{}
			out = append(out, b)
		}
	}
	if n, ok := s.nodes[id]; ok {
		add(n.Blocks)
	}
	add(s.inferred[id])
	return out
}

// All returns copies of every node in insertion order.
func (s *Store) All() []bug.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]bug.Node, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.nodes[id].Clone())
	}
	return out
}

// Len returns the number of stored nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.nodes)
}

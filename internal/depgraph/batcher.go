package depgraph

import "github.com/efebarandurmaz/bugtracker/internal/bug"

// DefaultChunkSize bounds the number of IDs in one query.
const DefaultChunkSize = 100

// Batcher holds the pending IDs of one cycle, one FIFO level per discovery
// depth 1..maxDepth. Depth 0 is the root, which is never queued. It does no
// I/O and is not safe for concurrent use; the fetch loop owns it.
type Batcher struct {
	store     *Store
	maxDepth  int
	levels    [][]bug.ID
	queued    map[bug.ID]struct{}
	truncated map[bug.ID]struct{}
}

// NewBatcher creates a Batcher that consults store to skip known IDs.
func NewBatcher(store *Store, maxDepth int) *Batcher {
	if maxDepth < 0 {
		maxDepth = 0
	}
	return &Batcher{
		store:     store,
		maxDepth:  maxDepth,
		levels:    make([][]bug.ID, maxDepth+1),
		queued:    make(map[bug.ID]struct{}),
		truncated: make(map[bug.ID]struct{}),
	}
}

// Exclude marks ids as never to be queued, without counting them as
// truncated. The fetch loop excludes the root.
func (b *Batcher) Exclude(ids ...bug.ID) {
	for _, id := range ids {
		b.queued[id] = struct{}{}
	}
}

// MaxDepth is the deepest level the Batcher accepts.
func (b *Batcher) MaxDepth() int {
	return b.maxDepth
}

// Enqueue appends ids at depth. IDs already stored, already queued in this
// cycle, or repeated within ids are skipped. Beyond maxDepth every ID is
// skipped; those never seen otherwise are counted as truncated.
func (b *Batcher) Enqueue(depth int, ids []bug.ID) (added, skipped int) {
	if depth < 1 {
		return 0, len(ids)
	}
	if depth > b.maxDepth {
		for _, id := range ids {
			if _, ok := b.queued[id]; ok || b.store.Has(id) {
				continue
			}
			b.truncated[id] = struct{}{}
		}
		return 0, len(ids)
	}

	for _, id := range ids {
		if _, ok := b.queued[id]; ok || b.store.Has(id) {
			skipped++
			continue
		}
		b.queued[id] = struct{}{}
		b.levels[depth] = append(b.levels[depth], id)
		added++
	}
	return added, skipped
}

// TakeChunk removes up to maxSize IDs from depth in FIFO order. IDs that
// were stored after being queued are dropped instead of returned.
func (b *Batcher) TakeChunk(depth, maxSize int) []bug.ID {
	if depth < 1 || depth > b.maxDepth || maxSize <= 0 {
		return nil
	}

	level := b.levels[depth]
	var chunk []bug.ID
	i := 0
	for ; i < len(level) && len(chunk) < maxSize; i++ {
		if b.store.Has(level[i]) {
			continue
		}
		chunk = append(chunk, level[i])
	}
	b.levels[depth] = level[i:]
	if len(b.levels[depth]) == 0 {
		b.levels[depth] = nil
	}
	return chunk
}

// Pending returns the number of IDs waiting at depth.
func (b *Batcher) Pending(depth int) int {
	if depth < 1 || depth > b.maxDepth {
		return 0
	}
	return len(b.levels[depth])
}

// PendingCount returns the number of IDs waiting across all levels.
func (b *Batcher) PendingCount() int {
	total := 0
	for _, level := range b.levels {
		total += len(level)
	}
	return total
}

// Truncated counts the distinct IDs discarded for exceeding maxDepth.
func (b *Batcher) Truncated() int {
	return len(b.truncated)
}

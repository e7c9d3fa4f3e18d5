package depgraph

import (
	"fmt"
	"sort"

	"github.com/efebarandurmaz/bugtracker/internal/bug"
)

const maxLabelLen = 48

// Analyze builds a graph view of the nodes of one cycle. root labels the
// implicit root node; nodes at discovery depth 1 hang off it.
func Analyze(root string, nodes []bug.Node) *Graph {
	g := &Graph{Root: root}

	kinds := make(map[string]NodeKind) // track existing node IDs

	// 1. Root node
	if root != "" {
		g.Nodes = append(g.Nodes, Node{
			ID:    root,
			Label: root,
			Kind:  NodeRoot,
		})
		kinds[root] = NodeRoot
	}

	// 2. Fetched bugs
	for _, n := range nodes {
		id := n.ID.String()
		if _, ok := kinds[id]; ok {
			continue
		}
		v := viewNode(n)
		g.Nodes = append(g.Nodes, v)
		kinds[id] = v.Kind
	}

	// 3. Edges, with placeholder nodes for targets never fetched
	for _, n := range nodes {
		from := n.ID.String()
		if root != "" && n.Depth == 1 {
			g.Edges = append(g.Edges, Edge{From: root, To: from, Kind: EdgeRoot})
		}
		for _, dep := range n.DependsOn {
			to := dep.String()
			kind := EdgeDependsOn
			if _, ok := kinds[to]; !ok {
				g.Nodes = append(g.Nodes, Node{
					ID:    to,
					Label: "#" + to,
					Kind:  NodeUnfetched,
					Depth: n.Depth + 1,
				})
				kinds[to] = NodeUnfetched
			}
			if kinds[to] == NodeUnfetched {
				kind = EdgeDangling
			}
			g.Edges = append(g.Edges, Edge{From: from, To: to, Kind: kind})
		}
	}

	g.computeStats()

	return g
}

func viewNode(n bug.Node) Node {
	kind := NodeUnreachable
	switch {
	case n.Devalued:
		kind = NodeDevalued
	case n.Reachable:
		kind = NodeReachable
	}

	label := "#" + n.ID.String()
	if summary := n.String("summary"); summary != "" {
		if len(summary) > maxLabelLen {
			summary = summary[:maxLabelLen-3] + "..."
		}
		label = fmt.Sprintf("#%s %s", n.ID, summary)
	}

	status := n.String("status")
	meta := map[string]string{}
	if status != "" {
		meta["status"] = status
	}
	if who := n.String("assigned_to"); who != "" {
		meta["assigned_to"] = who
	}
	if len(meta) == 0 {
		meta = nil
	}

	return Node{
		ID:       n.ID.String(),
		Label:    label,
		Kind:     kind,
		Depth:    n.Depth,
		Resolved: IsResolved(status),
		Metadata: meta,
	}
}

// IsResolved reports whether a Bugzilla status is terminal.
func IsResolved(status string) bool {
	switch status {
	case "RESOLVED", "VERIFIED", "CLOSED":
		return true
	}
	return false
}

// computeStats computes graph metrics
func (g *Graph) computeStats() {
	g.Stats.TotalNodes = len(g.Nodes)
	g.Stats.TotalEdges = len(g.Edges)
	g.Stats.DepthHistogram = make(map[int]int)

	fanOut := make(map[string]int)
	fanIn := make(map[string]int)

	for _, n := range g.Nodes {
		switch n.Kind {
		case NodeReachable:
			g.Stats.ReachableCount++
		case NodeUnreachable:
			g.Stats.UnreachableCount++
		case NodeDevalued:
			g.Stats.DevaluedCount++
		case NodeUnfetched:
			g.Stats.UnfetchedCount++
		}
		if n.Resolved {
			g.Stats.ResolvedCount++
		}
		if n.Kind != NodeRoot && n.Kind != NodeUnfetched {
			g.Stats.DepthHistogram[n.Depth]++
		}
	}

	for _, e := range g.Edges {
		if e.Kind == EdgeRoot {
			continue
		}
		fanOut[e.From]++
		fanIn[e.To]++
	}

	// Sorted so ties resolve to the lowest ID.
	ids := make([]string, 0, len(fanOut))
	for id := range fanOut {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bug.Less(bug.ID(ids[i]), bug.ID(ids[j])) })
	for _, id := range ids {
		if fanOut[id] > g.Stats.MaxFanOut {
			g.Stats.MaxFanOut = fanOut[id]
			g.Stats.HotspotNode = id
		}
	}
	for _, count := range fanIn {
		if count > g.Stats.MaxFanIn {
			g.Stats.MaxFanIn = count
		}
	}

	// Detect connected components using union-find
	g.Stats.ConnectedComponents = g.countComponents()

	// Detect cycles
	g.Stats.CyclicDeps = g.detectCycles()
}

// countComponents counts connected components via union-find, ignoring
// the root so that separate subtrees under it count separately.
func (g *Graph) countComponents() int {
	parent := make(map[string]string)
	var find func(string) string
	find = func(x string) string {
		if parent[x] == "" {
			parent[x] = x
		}
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b string) {
		fa, fb := find(a), find(b)
		if fa != fb {
			parent[fa] = fb
		}
	}

	for _, n := range g.Nodes {
		if n.Kind != NodeRoot {
			find(n.ID)
		}
	}
	for _, e := range g.Edges {
		if e.Kind != EdgeRoot {
			union(e.From, e.To)
		}
	}

	roots := make(map[string]bool)
	for _, n := range g.Nodes {
		if n.Kind != NodeRoot {
			roots[find(n.ID)] = true
		}
	}
	return len(roots)
}

// detectCycles finds dependency cycles among bugs using DFS
func (g *Graph) detectCycles() [][]string {
	adj := make(map[string][]string)
	nodes := make(map[string]bool)

	for _, e := range g.Edges {
		if e.Kind == EdgeDependsOn {
			adj[e.From] = append(adj[e.From], e.To)
			nodes[e.From] = true
			nodes[e.To] = true
		}
	}

	var cycles [][]string
	visited := make(map[string]int) // 0=unvisited, 1=in-progress, 2=done
	path := make([]string, 0)

	var dfs func(node string)
	dfs = func(node string) {
		if visited[node] == 2 {
			return
		}
		if visited[node] == 1 {
			// Found cycle - extract it
			cycle := make([]string, 0)
			for i := len(path) - 1; i >= 0; i-- {
				cycle = append(cycle, path[i])
				if path[i] == node {
					break
				}
			}
			for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
				cycle[i], cycle[j] = cycle[j], cycle[i]
			}
			cycles = append(cycles, cycle)
			return
		}
		visited[node] = 1
		path = append(path, node)
		for _, next := range adj[node] {
			dfs(next)
		}
		path = path[:len(path)-1]
		visited[node] = 2
	}

	// Sort for deterministic output
	sorted := make([]string, 0, len(nodes))
	for n := range nodes {
		sorted = append(sorted, n)
	}
	sort.Slice(sorted, func(i, j int) bool { return bug.Less(bug.ID(sorted[i]), bug.ID(sorted[j])) })

	for _, n := range sorted {
		if visited[n] == 0 {
			dfs(n)
		}
	}

	return cycles
}

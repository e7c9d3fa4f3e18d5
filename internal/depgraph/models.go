package depgraph

// Node represents a bug in an exported graph view
type Node struct {
	ID       string            `json:"id"`
	Label    string            `json:"label"`
	Kind     NodeKind          `json:"kind"`
	Depth    int               `json:"depth"`
	Resolved bool              `json:"resolved,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NodeKind classifies graph nodes by their reachability state
type NodeKind string

const (
	NodeRoot        NodeKind = "root"
	NodeReachable   NodeKind = "reachable"
	NodeUnreachable NodeKind = "unreachable" // only reached through devalued bugs
	NodeDevalued    NodeKind = "devalued"
	NodeUnfetched   NodeKind = "unfetched" // edge target never fetched (depth cut or failed chunk)
)

// Edge represents a directed edge between two nodes
type Edge struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Kind  EdgeKind `json:"kind"`
	Label string   `json:"label,omitempty"`
}

// EdgeKind classifies relationships
type EdgeKind string

const (
	EdgeDependsOn EdgeKind = "depends_on" // parent depends on child
	EdgeRoot      EdgeKind = "root"       // root query result
	EdgeDangling  EdgeKind = "dangling"   // target not in the store
)

// Graph is a snapshot of one cycle's store
type Graph struct {
	Root  string     `json:"root"`
	Nodes []Node     `json:"nodes"`
	Edges []Edge     `json:"edges"`
	Stats GraphStats `json:"stats"`
}

// GraphStats holds computed metrics about the graph
type GraphStats struct {
	TotalNodes          int         `json:"total_nodes"`
	TotalEdges          int         `json:"total_edges"`
	ReachableCount      int         `json:"reachable_count"`
	UnreachableCount    int         `json:"unreachable_count"`
	DevaluedCount       int         `json:"devalued_count"`
	UnfetchedCount      int         `json:"unfetched_count"`
	ResolvedCount       int         `json:"resolved_count"`
	MaxFanOut           int         `json:"max_fan_out"`  // most dependencies
	MaxFanIn            int         `json:"max_fan_in"`   // most dependents
	HotspotNode         string      `json:"hotspot_node"` // node with most dependencies
	ConnectedComponents int         `json:"connected_components"`
	CyclicDeps          [][]string  `json:"cyclic_deps,omitempty"`
	DepthHistogram      map[int]int `json:"depth_histogram"` // discovery depth -> node count
}

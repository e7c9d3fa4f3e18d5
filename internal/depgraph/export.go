package depgraph

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// nodeStyle is how one node kind is drawn in both DOT and Mermaid.
type nodeStyle struct {
	color string
	shape string // Graphviz shape
	open  string // Mermaid shape delimiters
	close string
}

var nodeStyles = map[NodeKind]nodeStyle{
	NodeRoot:        {color: "#1f6feb", shape: "box3d", open: "[[", close: "]]"},
	NodeReachable:   {color: "#238636", shape: "box", open: "[", close: "]"},
	NodeUnreachable: {color: "#d29922", shape: "box", open: "[", close: "]"},
	NodeDevalued:    {color: "#f85149", shape: "octagon", open: "{{", close: "}}"},
	NodeUnfetched:   {color: "#8b949e", shape: "ellipse", open: "([", close: "])"},
}

// nodeKinds fixes the order classDefs are written in.
var nodeKinds = []NodeKind{NodeRoot, NodeReachable, NodeUnreachable, NodeDevalued, NodeUnfetched}

func styleOf(kind NodeKind) nodeStyle {
	if s, ok := nodeStyles[kind]; ok {
		return s
	}
	return nodeStyle{color: "#30363d", shape: "box", open: "[", close: "]"}
}

type edgeStyle struct {
	line  string // Graphviz style
	color string
	arrow string // Mermaid arrow
}

var edgeStyles = map[EdgeKind]edgeStyle{
	EdgeDependsOn: {line: "solid", color: "#3fb950", arrow: "-->"},
	EdgeRoot:      {line: "bold", color: "#58a6ff", arrow: "==>"},
	EdgeDangling:  {line: "dotted", color: "#8b949e", arrow: "-.->"},
}

func edgeStyleOf(kind EdgeKind) edgeStyle {
	if s, ok := edgeStyles[kind]; ok {
		return s
	}
	return edgeStyles[EdgeDependsOn]
}

// WriteDOT writes g as a Graphviz digraph, one dashed cluster per
// discovery depth.
func WriteDOT(w io.Writer, g *Graph) error {
	p := &printer{w: w}
	p.printf("digraph dependencies {\n")
	p.printf("  rankdir=LR;\n  node [fontname=\"Helvetica\"];\n  edge [fontname=\"Helvetica\" fontsize=10];\n\n")

	for depth, nodes := range byDepth(g) {
		p.printf("  subgraph cluster_depth_%d {\n", depth)
		p.printf("    label=\"depth %d\";\n    style=dashed;\n    color=\"#58a6ff\";\n", depth)
		for _, n := range nodes {
			s := styleOf(n.Kind)
			fill := "filled"
			if n.Resolved {
				fill = `"filled,dashed"`
			}
			p.printf("    %q [label=\"%s\" shape=%s style=%s fillcolor=%q];\n",
				n.ID, escapeDOT(n.Label), s.shape, fill, s.color)
		}
		p.printf("  }\n\n")
	}

	for _, e := range g.Edges {
		s := edgeStyleOf(e.Kind)
		var label string
		if e.Label != "" {
			label = fmt.Sprintf(" label=\"%s\"", escapeDOT(e.Label))
		}
		p.printf("  %q -> %q [style=%s color=%q%s];\n", e.From, e.To, s.line, s.color, label)
	}
	p.printf("}\n")
	return p.err
}

// WriteMermaid writes g as a left-to-right Mermaid flowchart with one
// class per node kind.
func WriteMermaid(w io.Writer, g *Graph) error {
	p := &printer{w: w}
	p.printf("graph LR\n")

	for depth, nodes := range byDepth(g) {
		p.printf("  subgraph depth_%d\n", depth)
		for _, n := range nodes {
			s := styleOf(n.Kind)
			p.printf("    %s%s\"%s\"%s\n", mermaidID(n.ID), s.open, strings.ReplaceAll(n.Label, `"`, "'"), s.close)
		}
		p.printf("  end\n")
	}

	for _, e := range g.Edges {
		var label string
		if e.Label != "" {
			label = "|" + e.Label + "|"
		}
		p.printf("  %s %s%s %s\n", mermaidID(e.From), edgeStyleOf(e.Kind).arrow, label, mermaidID(e.To))
	}

	for _, kind := range nodeKinds {
		p.printf("  classDef %s fill:%s\n", kind, styleOf(kind).color)
	}
	for _, n := range g.Nodes {
		p.printf("  class %s %s\n", mermaidID(n.ID), n.Kind)
	}
	return p.err
}

// ExportDOT returns WriteDOT output as a string.
func ExportDOT(g *Graph) string {
	var b strings.Builder
	_ = WriteDOT(&b, g)
	return b.String()
}

// ExportMermaid returns WriteMermaid output as a string.
func ExportMermaid(g *Graph) string {
	var b strings.Builder
	_ = WriteMermaid(&b, g)
	return b.String()
}

// ExportJSON serializes the graph to indented JSON.
func ExportJSON(g *Graph) ([]byte, error) {
	return json.MarshalIndent(g, "", "  ")
}

// FormatStats returns a plain-text summary of g.Stats.
func FormatStats(g *Graph) string {
	st := g.Stats
	var b strings.Builder
	p := &printer{w: &b}
	p.printf("Dependency Graph Statistics\n==========================\n\n")

	rows := []struct {
		label string
		value any
	}{
		{"Root:        ", g.Root},
		{"Nodes:       ", fmt.Sprintf("%d total", st.TotalNodes)},
		{"  Reachable:   ", st.ReachableCount},
		{"  Unreachable: ", st.UnreachableCount},
		{"  Devalued:    ", st.DevaluedCount},
		{"  Unfetched:   ", st.UnfetchedCount},
		{"  Resolved:    ", st.ResolvedCount},
		{"Edges:       ", fmt.Sprintf("%d total", st.TotalEdges)},
		{"Max Fan-Out: ", fmt.Sprintf("%d (%s)", st.MaxFanOut, st.HotspotNode)},
		{"Max Fan-In:  ", st.MaxFanIn},
		{"Components:  ", st.ConnectedComponents},
	}
	for _, r := range rows {
		p.printf("%s%v\n", r.label, r.value)
	}

	if len(st.DepthHistogram) > 0 {
		p.printf("\nBugs per depth:\n")
		levels := make([]int, 0, len(st.DepthHistogram))
		for d := range st.DepthHistogram {
			levels = append(levels, d)
		}
		sort.Ints(levels)
		for _, d := range levels {
			p.printf("  %d: %d\n", d, st.DepthHistogram[d])
		}
	}

	if len(st.CyclicDeps) > 0 {
		p.printf("\nCyclic Dependencies: %d\n", len(st.CyclicDeps))
		for i, cycle := range st.CyclicDeps {
			p.printf("  %d: %s\n", i+1, strings.Join(cycle, " -> "))
		}
	}
	return b.String()
}

// printer keeps the first write error so callers check once.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

// byDepth yields the nodes of each discovery depth, shallowest first.
func byDepth(g *Graph) func(yield func(int, []Node) bool) {
	groups := make(map[int][]Node)
	for _, n := range g.Nodes {
		groups[n.Depth] = append(groups[n.Depth], n)
	}
	levels := make([]int, 0, len(groups))
	for d := range groups {
		levels = append(levels, d)
	}
	sort.Ints(levels)

	return func(yield func(int, []Node) bool) {
		for _, d := range levels {
			if !yield(d, groups[d]) {
				return
			}
		}
	}
}

func escapeDOT(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// mermaidID maps a bug ID onto Mermaid's identifier alphabet.
func mermaidID(s string) string {
	return "n_" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, s)
}

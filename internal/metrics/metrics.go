// Package metrics builds the end-of-cycle report printed by `tracker fetch`.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/efebarandurmaz/bugtracker/internal/bug"
	"github.com/efebarandurmaz/bugtracker/internal/depgraph"
	"github.com/efebarandurmaz/bugtracker/internal/fetch"
)

// Report formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// CycleReport collects statistics for one finished fetch cycle.
type CycleReport struct {
	CycleID    string    `json:"cycle_id" yaml:"cycle_id"`
	Root       string    `json:"root" yaml:"root"`
	State      string    `json:"state" yaml:"state"`
	MaxDepth   int       `json:"max_depth" yaml:"max_depth"`
	ChunkSize  int       `json:"chunk_size" yaml:"chunk_size"`
	Flags      bool      `json:"flags" yaml:"flags"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	DurationMS int64     `json:"duration_ms" yaml:"duration_ms"`

	Queries QueryMetrics   `json:"queries" yaml:"queries"`
	Depths  []DepthMetrics `json:"depths" yaml:"depths"`
	Graph   GraphMetrics   `json:"graph" yaml:"graph"`

	Rows              int      `json:"rows" yaml:"rows"`
	Truncated         int      `json:"truncated" yaml:"truncated"`
	AtMaxDepth        []string `json:"at_max_depth,omitempty" yaml:"at_max_depth,omitempty"`
	ReachabilityFlips int      `json:"reachability_flips" yaml:"reachability_flips"`
	Stale             int      `json:"stale" yaml:"stale"`
	Errors            []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

type QueryMetrics struct {
	Issued    int `json:"issued" yaml:"issued"`
	Succeeded int `json:"succeeded" yaml:"succeeded"`
	Failed    int `json:"failed" yaml:"failed"`
}

type DepthMetrics struct {
	Depth     int `json:"depth" yaml:"depth"`
	Issued    int `json:"issued" yaml:"issued"`
	Succeeded int `json:"succeeded" yaml:"succeeded"`
	Failed    int `json:"failed" yaml:"failed"`
	IDs       int `json:"ids" yaml:"ids"`
}

type GraphMetrics struct {
	Nodes       int `json:"nodes" yaml:"nodes"`
	Edges       int `json:"edges" yaml:"edges"`
	Reachable   int `json:"reachable" yaml:"reachable"`
	Unreachable int `json:"unreachable" yaml:"unreachable"`
	Devalued    int `json:"devalued" yaml:"devalued"`
	Unfetched   int `json:"unfetched" yaml:"unfetched"`
	Resolved    int `json:"resolved" yaml:"resolved"`
	Components  int `json:"components" yaml:"components"`
	Cycles      int `json:"cycles" yaml:"cycles"`
}

// New builds a report from a cycle summary. g may be nil when the graph
// was not analyzed.
func New(s fetch.Summary, g *depgraph.Graph) *CycleReport {
	r := &CycleReport{
		CycleID:           s.ID,
		Root:              s.Root,
		State:             string(s.State),
		MaxDepth:          s.MaxDepth,
		ChunkSize:         s.ChunkSize,
		Flags:             s.Flags,
		StartedAt:         s.StartedAt,
		DurationMS:        s.Duration().Milliseconds(),
		Truncated:         s.Truncated,
		ReachabilityFlips: s.ReachabilityFlips,
		Stale:             s.Stale,
	}
	if s.FinishedAt != nil {
		r.FinishedAt = *s.FinishedAt
	}

	r.Queries.Issued, r.Queries.Succeeded, r.Queries.Failed = s.Queries()
	for _, d := range s.Depths {
		r.Depths = append(r.Depths, DepthMetrics(d))
	}
	for _, id := range s.AtMaxDepth {
		r.AtMaxDepth = append(r.AtMaxDepth, string(id))
	}
	for _, f := range s.Failures {
		r.Errors = append(r.Errors, describeFailure(f))
	}

	if g != nil {
		r.Graph = GraphMetrics{
			Nodes:       g.Stats.TotalNodes,
			Edges:       g.Stats.TotalEdges,
			Reachable:   g.Stats.ReachableCount,
			Unreachable: g.Stats.UnreachableCount,
			Devalued:    g.Stats.DevaluedCount,
			Unfetched:   g.Stats.UnfetchedCount,
			Resolved:    g.Stats.ResolvedCount,
			Components:  g.Stats.ConnectedComponents,
			Cycles:      len(g.Stats.CyclicDeps),
		}
	}
	return r
}

// SetRows records how many rows survived the table filter.
func (r *CycleReport) SetRows(n int) {
	r.Rows = n
}

func describeFailure(f fetch.Failure) string {
	target := "root query"
	if len(f.IDs) > 0 {
		target = bug.JoinIDs(f.IDs)
	}
	return fmt.Sprintf("depth %d %s failed (%s): %s", f.Depth, target, f.Kind, f.Message)
}

// Write renders the report in the given format.
func (r *CycleReport) Write(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case "", FormatText:
		r.PrintSummary(w)
		return nil
	case FormatJSON:
		data, err := r.JSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	case FormatYAML:
		data, err := r.YAML()
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// PrintSummary writes a human-readable summary.
func (r *CycleReport) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "\n╔══════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║       BUG TRACKER CYCLE REPORT       ║\n")
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ Cycle:       %-23s║\n", r.CycleID)
	fmt.Fprintf(w, "║ Root:        %-23s║\n", r.Root)
	fmt.Fprintf(w, "║ State:       %-23s║\n", r.State)
	fmt.Fprintf(w, "║ Duration:    %-23s║\n", (time.Duration(r.DurationMS) * time.Millisecond).String())
	fmt.Fprintf(w, "║ Max Depth:   %-23d║\n", r.MaxDepth)
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ QUERIES\n")
	fmt.Fprintf(w, "║   Issued:      %d\n", r.Queries.Issued)
	fmt.Fprintf(w, "║   Succeeded:   %d\n", r.Queries.Succeeded)
	fmt.Fprintf(w, "║   Failed:      %d\n", r.Queries.Failed)
	for _, d := range r.Depths {
		fmt.Fprintf(w, "║   depth %-3d   %3d issued, %3d failed, %4d ids\n", d.Depth, d.Issued, d.Failed, d.IDs)
	}
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ GRAPH\n")
	fmt.Fprintf(w, "║   Nodes:       %d\n", r.Graph.Nodes)
	fmt.Fprintf(w, "║   Edges:       %d\n", r.Graph.Edges)
	fmt.Fprintf(w, "║   Reachable:   %d\n", r.Graph.Reachable)
	fmt.Fprintf(w, "║   Devalued:    %d\n", r.Graph.Devalued)
	fmt.Fprintf(w, "║   Resolved:    %d\n", r.Graph.Resolved)
	fmt.Fprintf(w, "║   Unfetched:   %d\n", r.Graph.Unfetched)
	fmt.Fprintf(w, "║   Rows shown:  %d\n", r.Rows)
	fmt.Fprintf(w, "║   Truncated:   %d\n", r.Truncated)
	fmt.Fprintf(w, "║   Flips:       %d\n", r.ReachabilityFlips)
	if len(r.AtMaxDepth) > 0 {
		fmt.Fprintf(w, "║   At max depth: %s\n", strings.Join(r.AtMaxDepth, ","))
	}
	if len(r.Errors) > 0 {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ ERRORS\n")
		for _, e := range r.Errors {
			fmt.Fprintf(w, "║   • %s\n", e)
		}
	}
	fmt.Fprintf(w, "╚══════════════════════════════════════╝\n")
}

// JSON returns the report as formatted JSON.
func (r *CycleReport) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// YAML returns the report as YAML.
func (r *CycleReport) YAML() ([]byte, error) {
	return yaml.Marshal(r)
}

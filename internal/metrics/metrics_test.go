package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/efebarandurmaz/bugtracker/internal/bug"
	"github.com/efebarandurmaz/bugtracker/internal/depgraph"
	"github.com/efebarandurmaz/bugtracker/internal/fetch"
)

func testSummary() fetch.Summary {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(1500 * time.Millisecond)
	return fetch.Summary{
		ID:        "c1",
		Root:      "100",
		State:     fetch.StateDone,
		Depth:     -1,
		MaxDepth:  3,
		ChunkSize: 50,
		Depths: []fetch.DepthStats{
			{Depth: 1, Issued: 1, Succeeded: 1},
			{Depth: 2, Issued: 2, Succeeded: 1, Failed: 1, IDs: 3},
		},
		Nodes:      3,
		AtMaxDepth: []bug.ID{"7"},
		Truncated:  2,
		Failures: []fetch.Failure{
			{Depth: 2, IDs: []bug.ID{"3", "4"}, Kind: "http", Message: "502 Bad Gateway"},
			{Depth: 1, Kind: "transport", Message: "connection reset"},
		},
		StartedAt:  started,
		FinishedAt: &finished,
	}
}

func testGraph() *depgraph.Graph {
	return depgraph.Analyze("100", []bug.Node{
		{ID: "1", DependsOn: []bug.ID{"2"}, Reachable: true, Depth: 1},
	})
}

func TestNew(t *testing.T) {
	g := testGraph()
	r := New(testSummary(), g)
	r.SetRows(1)

	if r.CycleID != "c1" || r.State != "done" || r.DurationMS != 1500 {
		t.Fatalf("unexpected header %+v", r)
	}
	if r.Queries != (QueryMetrics{Issued: 3, Succeeded: 2, Failed: 1}) {
		t.Fatalf("unexpected query totals %+v", r.Queries)
	}
	if len(r.Depths) != 2 || r.Depths[1].IDs != 3 {
		t.Fatalf("unexpected depths %+v", r.Depths)
	}
	if r.Graph.Nodes != len(g.Nodes) || r.Graph.Nodes == 0 {
		t.Fatalf("expected graph stats to be copied, got %+v", r.Graph)
	}
	if r.Rows != 1 {
		t.Fatalf("expected 1 row, got %d", r.Rows)
	}

	want := []string{
		"depth 2 3,4 failed (http): 502 Bad Gateway",
		"depth 1 root query failed (transport): connection reset",
	}
	if strings.Join(r.Errors, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected errors %q", r.Errors)
	}
}

func TestNew_WithoutGraph(t *testing.T) {
	s := testSummary()
	s.FinishedAt = nil
	s.State = fetch.StateFetching
	r := New(s, nil)
	if r.Graph != (GraphMetrics{}) {
		t.Fatalf("expected empty graph metrics, got %+v", r.Graph)
	}
	if !r.FinishedAt.IsZero() {
		t.Fatalf("expected no finish time, got %v", r.FinishedAt)
	}
}

func TestWrite_Formats(t *testing.T) {
	r := New(testSummary(), testGraph())

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := r.Write(&buf, ""); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		for _, s := range []string{"BUG TRACKER CYCLE REPORT", "Issued:      3", "At max depth: 7", "ERRORS", "root query failed"} {
			if !strings.Contains(out, s) {
				t.Errorf("expected %q in text report:\n%s", s, out)
			}
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := r.Write(&buf, "JSON"); err != nil {
			t.Fatal(err)
		}
		var got map[string]any
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if got["cycle_id"] != "c1" || got["duration_ms"] != float64(1500) {
			t.Fatalf("unexpected JSON %v", got)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := r.Write(&buf, FormatYAML); err != nil {
			t.Fatal(err)
		}
		var got CycleReport
		if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid YAML: %v", err)
		}
		if got.MaxDepth != 3 || got.Queries.Failed != 1 || len(got.AtMaxDepth) != 1 {
			t.Fatalf("unexpected YAML report %+v", got)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if err := r.Write(&bytes.Buffer{}, "xml"); err == nil {
			t.Fatal("expected error for unknown format")
		}
	})
}

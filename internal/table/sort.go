package table

import (
	"sort"
	"strings"

	"github.com/efebarandurmaz/bugtracker/internal/bug"
)

// Sort orders rows by column key in place. Equal rows keep their order.
// An empty key leaves rows untouched.
func Sort(rows []Row, key string, desc bool) {
	if key == "" {
		return
	}
	less := func(a, b Row) bool {
		switch key {
		case ColID:
			return bug.Less(a.ID, b.ID)
		case ColPriority:
			return a.PriorityKey < b.PriorityKey
		default:
			return strings.ToLower(a.Cell(key)) < strings.ToLower(b.Cell(key))
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if desc {
			return less(rows[j], rows[i])
		}
		return less(rows[i], rows[j])
	})
}

// ReporterCount is the number of visible bugs one user reported.
type ReporterCount struct {
	Name string `json:"name"`
	Bugs int    `json:"bugs"`
}

// Reporters counts rows per reporter, most prolific first.
func Reporters(rows []Row) []ReporterCount {
	counts := make(map[string]int)
	for _, r := range rows {
		if r.Reporter != "" {
			counts[r.Reporter]++
		}
	}
	out := make([]ReporterCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, ReporterCount{Name: name, Bugs: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bugs != out[j].Bugs {
			return out[i].Bugs > out[j].Bugs
		}
		return out[i].Name < out[j].Name
	})
	return out
}

package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/efebarandurmaz/bugtracker/internal/bug"
	"github.com/efebarandurmaz/bugtracker/internal/fetch"
)

// SummaryLine describes a finished cycle in one line.
func SummaryLine(s fetch.Summary) string {
	issued, _, failed := s.Queries()
	line := fmt.Sprintf("Cycle %s in %s: %d bugs, %d/%d queries failed, %d truncated edge(s)",
		s.State, s.Duration().Round(time.Millisecond), s.Nodes, failed, issued, s.Truncated)
	if len(s.AtMaxDepth) > 0 {
		line += "; max depth reached at " + bug.JoinIDs(s.AtMaxDepth)
	}
	return line
}

// SummaryView renders the closing summary shown after the watch screen
// exits.
func SummaryView(s fetch.Summary, styles *Styles) string {
	if styles == nil {
		styles = DefaultStyles()
	}

	var b strings.Builder
	b.WriteString(styles.Title.Render("Fetch Summary"))
	b.WriteString(" ")
	b.WriteString(styles.StateBadge(s.State).Render(string(s.State)))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "  Root:       %s\n", s.Root)
	fmt.Fprintf(&b, "  Bugs:       %d\n", s.Nodes)
	fmt.Fprintf(&b, "  Duration:   %s\n", s.Duration().Round(time.Millisecond))
	for _, d := range s.Depths {
		fmt.Fprintf(&b, "  Depth %d:    %d queries, %d failed, %d ids\n", d.Depth, d.Issued, d.Failed, d.IDs)
	}
	if s.Truncated > 0 {
		fmt.Fprintf(&b, "  Truncated:  %d edge(s) past max depth %d\n", s.Truncated, s.MaxDepth)
	}

	if len(s.Failures) > 0 {
		b.WriteString("\n")
		b.WriteString(styles.Error.Render(fmt.Sprintf("  %d failed request(s)", len(s.Failures))))
		b.WriteString("\n")
		for _, f := range s.Failures {
			target := "root query"
			if len(f.IDs) > 0 {
				target = bug.JoinIDs(f.IDs)
			}
			fmt.Fprintf(&b, "    depth %d %s: %s\n", f.Depth, target, f.Message)
		}
	}

	return styles.Border.Render(b.String())
}

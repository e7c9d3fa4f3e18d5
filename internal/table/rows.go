package table

import (
	"regexp"
	"strings"

	"github.com/efebarandurmaz/bugtracker/internal/bug"
)

// DefaultTag is the project name used in milestone and priority whiteboard
// tags, e.g. "[Australis:M3]" and "[Australis:P1]".
const DefaultTag = "Australis"

// NoMilestone is shown for bugs without a milestone tag.
const NoMilestone = "--"

var (
	priorityTag  = regexp.MustCompile(`\[P[^\]]+\]`)
	milestoneTag = regexp.MustCompile(`\[M[^\]]+\]`)
	barePriority = regexp.MustCompile(`^(P\d)$`)
)

// Row is a record projected for display.
type Row struct {
	ID          bug.ID            `json:"id"`
	URL         string            `json:"url,omitempty"`
	Cells       map[string]string `json:"cells"`
	Status      string            `json:"status"`
	Product     string            `json:"product"`
	Whiteboard  string            `json:"whiteboard"`
	Keywords    []string          `json:"keywords,omitempty"`
	Reporter    string            `json:"reporter,omitempty"`
	Resolved    bool              `json:"resolved"`
	Devalued    bool              `json:"devalued"`
	Reachable   bool              `json:"reachable"`
	Depth       int               `json:"depth"`
	PriorityKey string            `json:"-"`
}

// Cell returns the display text of column key.
func (r Row) Cell(key string) string {
	return r.Cells[key]
}

// Projector turns records into rows.
type Projector struct {
	// Tag is the project name in whiteboard tags. Empty selects DefaultTag.
	Tag string
	// BugURL links a row to the bug, if set.
	BugURL func(id bug.ID) string
}

func (p Projector) tag() string {
	if p.Tag == "" {
		return DefaultTag
	}
	return p.Tag
}

// Rows projects every node, keeping their order.
func (p Projector) Rows(nodes []bug.Node) []Row {
	rows := make([]Row, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, p.Row(n))
	}
	return rows
}

// Row projects one record.
func (p Projector) Row(n bug.Node) Row {
	wbRaw := n.String(bug.FieldWhiteboard)
	wb, priority, milestone := p.splitWhiteboard(wbRaw)
	if priority == "" {
		priority = n.String(ColPriority)
	}

	status := n.String(ColStatus)
	cells := map[string]string{
		ColID:          string(n.ID),
		ColStatus:      prefix(status, 4),
		ColResolution:  prefix(n.String(ColResolution), 4),
		ColAssignee:    ShortenUsername(n.String(ColAssignee)),
		ColProduct:     n.String(ColProduct),
		ColComponent:   strings.Replace(n.String(ColComponent), "and Customization", "& Cust.", 1),
		ColSummary:     n.String(ColSummary),
		ColWhiteboard:  strings.TrimSpace(wb),
		ColPriority:    priority,
		ColMilestone:   milestone,
		ColKeywords:    strings.Join(n.Strings(ColKeywords), ", "),
		ColFlags:       flagCell(n.Fields[ColFlags]),
		ColAttachments: attachmentCell(n.Fields[ColAttachments]),
	}
	if cells[ColMilestone] == "" {
		cells[ColMilestone] = NoMilestone
	}

	r := Row{
		ID:          n.ID,
		Cells:       cells,
		Status:      status,
		Product:     cells[ColProduct],
		Whiteboard:  wbRaw,
		Keywords:    n.Strings(ColKeywords),
		Reporter:    n.String(FieldCreator),
		Resolved:    IsResolved(status, wbRaw),
		Devalued:    n.Devalued,
		Reachable:   n.Reachable,
		Depth:       n.Depth,
		PriorityKey: barePriority.ReplaceAllString(priority, "$1,"),
	}
	if p.BugURL != nil {
		r.URL = p.BugURL(n.ID)
	}
	return r
}

// splitWhiteboard shortens the project tags and lifts the first priority
// and milestone tags out of the whiteboard.
func (p Projector) splitWhiteboard(wb string) (rest, priority, milestone string) {
	tag := p.tag()
	wb = strings.Replace(wb, "["+tag+":M", "[M", 1)
	wb = strings.Replace(wb, "["+tag+":P", "[P", 1)

	wb, priority = cut(wb, priorityTag)
	wb, milestone = cut(wb, milestoneTag)
	return wb, priority, milestone
}

// cut removes the first match of re from s and returns it without its
// brackets.
func cut(s string, re *regexp.Regexp) (string, string) {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return s, ""
	}
	return s[:loc[0]] + s[loc[1]:], s[loc[0]+1 : loc[1]-1]
}

// IsResolved reports whether a bug counts as resolved: a RESOLVED or
// VERIFIED status, or a "[fixed" whiteboard tag from a project branch.
func IsResolved(status, whiteboard string) bool {
	switch status {
	case "RESOLVED", "VERIFIED":
		return true
	}
	return strings.Contains(whiteboard, "[fixed")
}

// ShortenUsername drops the +bmo and +bugs suffixes users add to their
// Bugzilla addresses.
func ShortenUsername(name string) string {
	name = strings.Replace(name, "+bmo", "", 1)
	return strings.Replace(name, "+bugs", "", 1)
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// flagText renders a flag as name+status, with the requestee if any,
// e.g. "review?(dao)".
func flagText(flag map[string]any) string {
	s := bug.Text(flag["name"]) + bug.Text(flag["status"])
	if requestee := bug.Text(flag["requestee"]); requestee != "" {
		s += "(" + ShortenUsername(requestee) + ")"
	}
	return s
}

func flagList(v any) []string {
	items, _ := v.([]any)
	var out []string
	for _, item := range items {
		if flag, ok := item.(map[string]any); ok {
			out = append(out, flagText(flag))
		}
	}
	return out
}

func flagCell(v any) string {
	return strings.Join(flagList(v), " ")
}

// attachmentCell lists the flags of live attachments, or "(none)" when a
// live patch carries no flag at all.
func attachmentCell(v any) string {
	items, _ := v.([]any)
	var flags []string
	livePatch := false
	for _, item := range items {
		att, ok := item.(map[string]any)
		if !ok || truthy(att["is_obsolete"]) {
			continue
		}
		flags = append(flags, flagList(att["flags"])...)
		if truthy(att["is_patch"]) {
			livePatch = true
		}
	}
	if len(flags) == 0 && livePatch {
		return "(none)"
	}
	return strings.Join(flags, " ")
}

// truthy accepts the boolean and 0/1 encodings Bugzilla versions use.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != "" && t != "0"
	}
	return false
}

package table

import (
	"net/url"
	"regexp"
	"strings"
)

// Resolved filter values.
const (
	ResolvedAny = ""
	ResolvedNo  = "0"
	ResolvedYes = "1"
)

// Sort directions.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// excludedProducts never appear in the table.
var excludedProducts = []string{"Thunderbird", "SeaMonkey"}

var (
	shortMilestone = regexp.MustCompile(`(?i)^\[m`)
	shortPriority  = regexp.MustCompile(`(?i)^\[p`)
)

// Filter selects and orders rows. The zero value hides nothing except
// meta and devalued bugs; use DefaultFilter for the dashboard defaults.
type Filter struct {
	Resolved   string `json:"resolved"`
	Product    string `json:"product"`
	Meta       bool   `json:"meta"`
	MMinus     bool   `json:"mMinus"`
	Whiteboard string `json:"whiteboard"`
	Flags      bool   `json:"flags"`
	Sort       string `json:"sort"`
	SortDir    string `json:"sortDir"`
}

// DefaultFilter shows everything and sorts nothing.
func DefaultFilter() Filter {
	return Filter{Meta: true, MMinus: true}
}

// ParseFilter reads a filter from URL query parameters. Unknown or
// malformed values fall back to the defaults.
func ParseFilter(v url.Values) Filter {
	f := DefaultFilter()
	switch r := v.Get("resolved"); r {
	case ResolvedNo, ResolvedYes:
		f.Resolved = r
	}
	f.Product = v.Get("product")
	f.Meta = v.Get("meta") != "0"
	f.MMinus = v.Get("mMinus") != "0"
	f.Whiteboard = v.Get("whiteboard")
	f.Flags = v.Get("flags") == "1"
	f.Sort = v.Get("sort")
	if v.Get("sortDir") == SortDesc {
		f.SortDir = SortDesc
	} else if f.Sort != "" {
		f.SortDir = SortAsc
	}
	return f
}

// Values encodes the filter as query parameters, omitting defaults.
func (f Filter) Values() url.Values {
	v := url.Values{}
	set := func(key, val string) {
		if val != "" {
			v.Set(key, val)
		}
	}
	set("resolved", f.Resolved)
	set("product", f.Product)
	if !f.Meta {
		v.Set("meta", "0")
	}
	if !f.MMinus {
		v.Set("mMinus", "0")
	}
	set("whiteboard", f.Whiteboard)
	if f.Flags {
		v.Set("flags", "1")
	}
	set("sort", f.Sort)
	if f.Sort != "" && f.SortDir == SortDesc {
		v.Set("sortDir", SortDesc)
	}
	return v
}

// Matcher is a Filter compiled for one project tag.
type Matcher struct {
	f     Filter
	query string
}

// Matcher compiles the filter. The short "[M" and "[P" prefixes shown in
// the table are expanded to the full project tags before matching.
func (f Filter) Matcher(tag string) Matcher {
	if tag == "" {
		tag = DefaultTag
	}
	q := shortMilestone.ReplaceAllLiteralString(f.Whiteboard, "["+tag+":M")
	q = shortPriority.ReplaceAllLiteralString(q, "["+tag+":P")
	return Matcher{f: f, query: strings.ToLower(q)}
}

// Match reports whether r passes the filter.
func (m Matcher) Match(r Row) bool {
	f := m.f
	switch f.Resolved {
	case ResolvedYes:
		if !r.Resolved {
			return false
		}
	case ResolvedNo:
		if r.Resolved {
			return false
		}
	}

	for _, p := range excludedProducts {
		if strings.EqualFold(r.Product, p) {
			return false
		}
	}
	if f.Product != "" && r.Product != f.Product {
		return false
	}

	if !f.Meta && hasKeyword(r.Keywords, "meta") {
		return false
	}
	if !f.MMinus && r.Devalued {
		return false
	}

	if m.query != "" &&
		!strings.Contains(strings.ToLower(r.Whiteboard), m.query) &&
		!strings.Contains(strings.ToLower(strings.Join(r.Keywords, " ")), m.query) {
		return false
	}
	return true
}

func hasKeyword(keywords []string, kw string) bool {
	for _, k := range keywords {
		if k == kw {
			return true
		}
	}
	return false
}

// Select filters rows with f, expanding whiteboard queries with p's tag,
// and sorts the result by f.Sort.
func Select(p Projector, rows []Row, f Filter) []Row {
	m := f.Matcher(p.Tag)
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if m.Match(r) {
			out = append(out, r)
		}
	}
	Sort(out, f.Sort, f.SortDir == SortDesc)
	return out
}

package bug

import (
	"fmt"
	"regexp"
)

// DefaultMarkerPattern matches the M- / P- whiteboard tags that mark a bug
// as no longer counting toward its parents, e.g. "[Australis:M-]".
const DefaultMarkerPattern = `(?i):[mp]-\]`

// Marker decides whether a record is devalued from one text field.
type Marker struct {
	field string
	re    *regexp.Regexp
}

// NewMarker compiles pattern against field. An empty field selects the
// whiteboard.
func NewMarker(field, pattern string) (*Marker, error) {
	if field == "" {
		field = FieldWhiteboard
	}
	if pattern == "" {
		pattern = DefaultMarkerPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile devaluation marker %q: %w", pattern, err)
	}
	return &Marker{field: field, re: re}, nil
}

// MustMarker is NewMarker for patterns known at compile time.
func MustMarker(field, pattern string) *Marker {
	m, err := NewMarker(field, pattern)
	if err != nil {
		panic(err)
	}
	return m
}

// Field is the record field the marker reads.
func (m *Marker) Field() string {
	return m.field
}

// Matches reports whether n carries the marker.
func (m *Marker) Matches(n Node) bool {
	return m.re.MatchString(n.String(m.field))
}

// Apply sets n.Devalued when the marker matches. It never clears it.
func (m *Marker) Apply(n *Node) {
	if m.Matches(*n) {
		n.Devalued = true
		n.Reachable = false
	}
}

package bug

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Field names the graph itself depends on.
const (
	FieldID         = "id"
	FieldDependsOn  = "depends_on"
	FieldBlocks     = "blocks"
	FieldWhiteboard = "whiteboard"
)

// Node is one bug record held in the dependency graph.
type Node struct {
	ID        ID             `json:"id"`
	Fields    map[string]any `json:"fields,omitempty"`
	DependsOn []ID           `json:"depends_on,omitempty"`
	Blocks    []ID           `json:"blocks,omitempty"`

	// Devalued is set from the marker field and never cleared.
	Devalued bool `json:"devalued"`
	// Reachable reports a path to the root that avoids devalued nodes.
	Reachable bool `json:"reachable"`
	// Depth is the first-discovery depth. Diagnostic only.
	Depth int `json:"depth"`
}

// Decode builds a Node from one element of a Bugzilla "bugs" array. Edge
// lists are lifted out of the field map; every other key is kept as-is.
func Decode(data []byte) (Node, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Node{}, fmt.Errorf("decode bug: %w", err)
	}

	idRaw, ok := raw[FieldID]
	if !ok {
		return Node{}, fmt.Errorf("decode bug: missing %q", FieldID)
	}

	var n Node
	if err := json.Unmarshal(idRaw, &n.ID); err != nil {
		return Node{}, fmt.Errorf("decode bug: %w", err)
	}

	if n.DependsOn, ok = decodeEdges(raw[FieldDependsOn]); !ok {
		return Node{}, fmt.Errorf("decode bug %s: bad %q", n.ID, FieldDependsOn)
	}
	if n.Blocks, ok = decodeEdges(raw[FieldBlocks]); !ok {
		return Node{}, fmt.Errorf("decode bug %s: bad %q", n.ID, FieldBlocks)
	}

	n.Fields = make(map[string]any, len(raw))
	for key, value := range raw {
		switch key {
		case FieldID, FieldDependsOn, FieldBlocks:
			continue
		}
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return Node{}, fmt.Errorf("decode bug %s: field %q: %w", n.ID, key, err)
		}
		n.Fields[key] = v
	}

	return n, nil
}

func decodeEdges(raw json.RawMessage) ([]ID, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, true
	}
	var ids []ID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false
	}
	return ids, true
}

// Clone returns a copy that shares no maps or slices with n.
func (n Node) Clone() Node {
	c := n
	if n.Fields != nil {
		c.Fields = make(map[string]any, len(n.Fields))
		for k, v := range n.Fields {
			c.Fields[k] = v
		}
	}
	c.DependsOn = slices.Clone(n.DependsOn)
	c.Blocks = slices.Clone(n.Blocks)
	return c
}

// Value returns the raw field value.
func (n Node) Value(key string) (any, bool) {
	v, ok := n.Fields[key]
	return v, ok
}

// String returns a field as text. User objects from older Bugzilla APIs
// ({"name": ...}) collapse to their name; lists are joined with ", ".
func (n Node) String(key string) string {
	return Text(n.Fields[key])
}

// Strings returns a list field as text values. A scalar becomes a
// single-element list.
func (n Node) Strings(key string) []string {
	switch v := n.Fields[key].(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := Text(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := Text(v); s != "" {
			return []string{s}
		}
		return nil
	}
}

// Text renders a decoded JSON value for display.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		if name, ok := t["name"]; ok {
			return Text(name)
		}
		return ""
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := Text(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}

// Merge folds incoming into existing. Values already fetched are never
// replaced by empty or missing ones, edge lists are unioned, devaluation
// is sticky and the first-discovery depth is kept.
func Merge(existing, incoming Node) Node {
	out := existing.Clone()
	if out.Fields == nil {
		out.Fields = make(map[string]any, len(incoming.Fields))
	}
	for k, v := range incoming.Fields {
		if isEmpty(v) {
			continue
		}
		out.Fields[k] = v
	}

	out.DependsOn = union(out.DependsOn, incoming.DependsOn)
	out.Blocks = union(out.Blocks, incoming.Blocks)
	out.Devalued = existing.Devalued || incoming.Devalued
	out.Reachable = (existing.Reachable || incoming.Reachable) && !out.Devalued
	if out.Depth == 0 {
		out.Depth = incoming.Depth
	}
	return out
}

func union(a, b []ID) []ID {
	if len(b) == 0 {
		return a
	}
	seen := make(map[ID]struct{}, len(a)+len(b))
	for _, id := range a {
		seen[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		a = append(a, id)
	}
	return a
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

package bugzilla

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/efebarandurmaz/bugtracker/internal/bug"
)

// Query selects bugs either by ID or by the bug they block. Exactly one of
// IDs and BlockedBy is expected to be set.
type Query struct {
	IDs       []bug.ID
	BlockedBy string
	Fields    []string
}

// Values encodes the query as /rest/bug parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	if len(q.IDs) > 0 {
		v.Set("id", bug.JoinIDs(q.IDs))
	}
	if q.BlockedBy != "" {
		v.Set("blocks", q.BlockedBy)
	}
	if len(q.Fields) > 0 {
		v.Set("include_fields", strings.Join(q.Fields, ","))
	}
	return v
}

// Response is the decoded body of a /rest/bug call.
type Response struct {
	Bugs []bug.Node
}

// DecodeResponse parses a {"bugs": [...]} body. A body without a "bugs"
// array, or with an undecodable element, is a MalformedResponseError.
func DecodeResponse(r io.Reader) (*Response, error) {
	var body struct {
		Bugs *[]json.RawMessage `json:"bugs"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, &MalformedResponseError{Err: err}
	}
	if body.Bugs == nil {
		return nil, &MalformedResponseError{Err: errors.New(`missing "bugs" array`)}
	}

	resp := &Response{Bugs: make([]bug.Node, 0, len(*body.Bugs))}
	for i, raw := range *body.Bugs {
		n, err := bug.Decode(raw)
		if err != nil {
			return nil, &MalformedResponseError{Err: fmt.Errorf("bug %d: %w", i, err)}
		}
		resp.Bugs = append(resp.Bugs, n)
	}
	return resp, nil
}

// Fields returns the field list for a query: the graph's own fields, the
// marker field and the given extras, without duplicates.
func Fields(markerField string, extra ...string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(f string) {
		if f == "" || seen[f] {
			return
		}
		seen[f] = true
		out = append(out, f)
	}
	add(bug.FieldID)
	add(bug.FieldDependsOn)
	add(bug.FieldBlocks)
	add(markerField)
	for _, f := range extra {
		add(f)
	}
	return out
}

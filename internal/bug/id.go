package bug

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID identifies a bug. Bugzilla returns numeric IDs, but the graph treats
// them as opaque so aliases and test fixtures can use arbitrary strings.
type ID string

// UnmarshalJSON accepts both JSON numbers and JSON strings.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("bug id: empty value")
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("bug id: %w", err)
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("bug id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes numeric IDs as numbers and everything else as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, ok := id.Int(); ok && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Int returns the numeric value of the ID, if it has one.
func (id ID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (id ID) String() string {
	return string(id)
}

// Less orders numeric IDs numerically and places them before non-numeric
// IDs, which are ordered lexically.
func Less(a, b ID) bool {
	an, aok := a.Int()
	bn, bok := b.Int()
	switch {
	case aok && bok:
		return an < bn
	case aok:
		return true
	case bok:
		return false
	default:
		return a < b
	}
}

// ParseIDs splits a comma separated list of IDs, ignoring blanks.
func ParseIDs(s string) []ID {
	var ids []ID
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			ids = append(ids, ID(part))
		}
	}
	return ids
}

// JoinIDs is the inverse of ParseIDs.
func JoinIDs(ids []ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}

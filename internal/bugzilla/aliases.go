package bugzilla

import (
	"sort"
	"strings"
)

// DefaultRoot is the alias used when no root is given.
const DefaultRoot = "australis-meta"

// Aliases maps short names to root bugs.
type Aliases map[string]string

// DefaultAliases returns the built-in alias table.
func DefaultAliases() Aliases {
	return Aliases{
		"australis-meta": "870032",
	}
}

// Resolve turns a user supplied root into the value sent as "blocks": a
// configured alias maps to its bug, anything else (a numeric ID or a
// Bugzilla-side alias) passes through trimmed. Alias names match without
// regard to case; names are stored lowercased.
func (a Aliases) Resolve(root string) string {
	root = strings.TrimSpace(root)
	if id, ok := a[strings.ToLower(root)]; ok {
		return id
	}
	return root
}

// Names returns the alias names in sorted order.
func (a Aliases) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

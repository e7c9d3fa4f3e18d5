// Package table projects dependency graph records into the dashboard's
// filterable, sortable bug table.
package table

// Column keys.
const (
	ColID          = "id"
	ColStatus      = "status"
	ColResolution  = "resolution"
	ColAssignee    = "assigned_to"
	ColProduct     = "product"
	ColComponent   = "component"
	ColSummary     = "summary"
	ColWhiteboard  = "whiteboard"
	ColPriority    = "priority"
	ColMilestone   = "milestone"
	ColKeywords    = "keywords"
	ColFlags       = "flags"
	ColAttachments = "attachments"
)

// FieldCreator is fetched for reporter counts but never shown.
const FieldCreator = "creator"

// Column is one table column. Virtual columns are derived and have no
// remote field.
type Column struct {
	Key     string `json:"key"`
	Title   string `json:"title"`
	Virtual bool   `json:"virtual,omitempty"`
}

var baseColumns = []Column{
	{Key: ColID, Title: "ID"},
	{Key: ColStatus, Title: "Status"},
	{Key: ColResolution, Title: ""},
	{Key: ColAssignee, Title: "Assignee"},
	{Key: ColProduct, Title: "Prod."},
	{Key: ColComponent, Title: "Comp."},
	{Key: ColSummary, Title: "Summary"},
	{Key: ColWhiteboard, Title: "Whiteboard"},
	{Key: ColPriority, Title: "Pri."},
	{Key: ColMilestone, Title: "M?", Virtual: true},
	{Key: ColKeywords, Title: "Keywords"},
}

var flagColumns = []Column{
	{Key: ColFlags, Title: "Flags"},
	{Key: ColAttachments, Title: "Attachment Flags"},
}

// Columns returns the visible columns, with the flag columns appended when
// flags is set.
func Columns(flags bool) []Column {
	cols := append([]Column(nil), baseColumns...)
	if flags {
		cols = append(cols, flagColumns...)
	}
	return cols
}

// Fields returns the remote fields needed to fill the base columns and the
// reporter counts.
func Fields() []string {
	fields := []string{FieldCreator}
	for _, c := range baseColumns {
		if !c.Virtual {
			fields = append(fields, c.Key)
		}
	}
	return fields
}

// FlagFields returns the remote fields of the flag columns.
func FlagFields() []string {
	fields := make([]string, 0, len(flagColumns))
	for _, c := range flagColumns {
		fields = append(fields, c.Key)
	}
	return fields
}

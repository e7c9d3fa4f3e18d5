package dashboard

import (
	"time"

	"github.com/efebarandurmaz/bugtracker/internal/fetch"
	"github.com/efebarandurmaz/bugtracker/internal/table"
)

// Event types broadcast to SSE clients.
const (
	EventConnected     = "connected"
	EventCycleStarted  = "cycle.started"
	EventGraphUpdated  = "graph.updated"
	EventStatus        = "status"
	EventCycleFinished = "cycle.finished"
	EventLog           = "log"
)

// Log levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// CycleRun is the dashboard's record of one fetch cycle.
type CycleRun struct {
	fetch.Summary
	Queries       int     `json:"queries"`
	FailedQueries int     `json:"failed_queries"`
	DurationSecs  float64 `json:"duration_seconds"`
}

func newRun(s fetch.Summary) *CycleRun {
	issued, _, failed := s.Queries()
	return &CycleRun{
		Summary:       s,
		Queries:       issued,
		FailedQueries: failed,
		DurationSecs:  s.Duration().Seconds(),
	}
}

// DashboardStats holds aggregate statistics.
type DashboardStats struct {
	TotalCycles      int                   `json:"total_cycles"`
	ActiveCycles     int                   `json:"active_cycles"`
	DoneCycles       int                   `json:"done_cycles"`
	SupersededCycles int                   `json:"superseded_cycles"`
	CancelledCycles  int                   `json:"cancelled_cycles"`
	TotalQueries     int                   `json:"total_queries"`
	FailedQueries    int                   `json:"failed_queries"`
	AvgDuration      float64               `json:"avg_duration_seconds"`
	SuccessRate      float64               `json:"success_rate"`
	Reporters        []table.ReporterCount `json:"reporters,omitempty"`
}

// Event represents a real-time dashboard event.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	CycleID   string      `json:"cycle_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// LogEntry represents a log line for a cycle.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CycleID   string    `json:"cycle_id"`
}

// StatusView is the body of GET /api/status.
type StatusView struct {
	Cycle     *fetch.Summary `json:"cycle,omitempty"`
	Message   string         `json:"message"`
	UpdatedAt time.Time      `json:"updated_at"`
	TreeURL   string         `json:"tree_url,omitempty"`
}

// BugsView is the body of GET /api/bugs.
type BugsView struct {
	CycleID string         `json:"cycle_id,omitempty"`
	State   fetch.State    `json:"state,omitempty"`
	Filter  table.Filter   `json:"filter"`
	Columns []table.Column `json:"columns"`
	Rows    []table.Row    `json:"rows"`
	Total   int            `json:"total"`
	// Refetching is set when the request started a new cycle to load
	// flag fields.
	Refetching bool `json:"refetching,omitempty"`
}

// CycleRequest is the body of POST /api/cycles. A missing max_depth or
// chunk_size selects the configured default.
type CycleRequest struct {
	Root      string `json:"root"`
	MaxDepth  *int   `json:"max_depth"`
	ChunkSize int    `json:"chunk_size"`
	Flags     bool   `json:"flags"`
}

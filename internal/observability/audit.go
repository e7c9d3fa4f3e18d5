package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventCycleStart   AuditEventType = "cycle.start"
	AuditEventCycleEnd     AuditEventType = "cycle.end"
	AuditEventQueryError   AuditEventType = "query.error"
	AuditEventCycleRequest AuditEventType = "api.cycle_request"
	AuditEventConfigReload AuditEventType = "config.reload"
)

// AuditEvent is one JSON line of the audit log.
type AuditEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventType   AuditEventType `json:"event_type"`
	SessionID   string         `json:"session_id"`
	CycleID     string         `json:"cycle_id,omitempty"`
	Remote      string         `json:"remote,omitempty"`
	Success     bool           `json:"success"`
	DurationMS  int64          `json:"duration_ms,omitempty"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled bool
	// OutputPath is a file appended to, or "stdout" or "stderr" (the
	// default).
	OutputPath string
	// SessionID tags every event; empty generates one per process.
	SessionID string
}

// AuditLogger records cycles, failed queries and operator actions. A nil
// or disabled logger drops events.
type AuditLogger struct {
	mu        sync.Mutex
	w         io.Writer
	file      *os.File // owned, closed by Close
	sessionID string
}

// NewAuditLogger opens the configured output. A nil config disables the
// log.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil || !config.Enabled {
		return &AuditLogger{}, nil
	}

	l := &AuditLogger{sessionID: config.SessionID}
	if l.sessionID == "" {
		l.sessionID = "session-" + uuid.NewString()
	}

	switch config.OutputPath {
	case "stdout":
		l.w = os.Stdout
	case "stderr", "":
		l.w = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		l.w, l.file = f, f
	}
	return l, nil
}

// NewAuditWriter creates an enabled logger writing to w. The caller keeps
// ownership of w.
func NewAuditWriter(w io.Writer, sessionID string) *AuditLogger {
	return &AuditLogger{w: w, sessionID: sessionID}
}

// Log writes event, filling in the timestamp and session.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if l == nil || l.w == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(data)
	return err
}

func (l *AuditLogger) LogCycleStart(cycleID, root string, maxDepth int) {
	l.Log(&AuditEvent{
		EventType: AuditEventCycleStart,
		CycleID:   cycleID,
		Success:   true,
		Message:   "Cycle started for " + root,
		Details:   map[string]any{"root": root, "max_depth": maxDepth},
	})
}

// LogCycleEnd records how a cycle ended. A cycle with failed queries is
// not a success even when it reached done.
func (l *AuditLogger) LogCycleEnd(cycleID, state string, duration time.Duration, nodes, failures int) {
	l.Log(&AuditEvent{
		EventType:  AuditEventCycleEnd,
		CycleID:    cycleID,
		Success:    failures == 0,
		DurationMS: duration.Milliseconds(),
		Message:    fmt.Sprintf("Cycle %s: %d bugs", state, nodes),
		Details:    map[string]any{"state": state, "nodes": nodes, "failures": failures},
	})
}

func (l *AuditLogger) LogQueryError(cycleID string, depth, ids int, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventQueryError,
		CycleID:     cycleID,
		Message:     fmt.Sprintf("Query at depth %d failed", depth),
		ErrorDetail: err.Error(),
		Details:     map[string]any{"depth": depth, "ids": ids},
	})
}

// LogCycleRequest records a cycle started through the HTTP API.
func (l *AuditLogger) LogCycleRequest(remote, root string, maxDepth int, flags bool) {
	l.Log(&AuditEvent{
		EventType: AuditEventCycleRequest,
		Remote:    remote,
		Success:   true,
		Message:   "Cycle requested for " + root,
		Details:   map[string]any{"root": root, "max_depth": maxDepth, "flags": flags},
	})
}

// LogConfigReload records a configuration change picked up from disk.
func (l *AuditLogger) LogConfigReload(path string, restarted bool) {
	l.Log(&AuditEvent{
		EventType: AuditEventConfigReload,
		Success:   true,
		Message:   "Configuration reloaded from " + path,
		Details:   map[string]any{"restarted_cycle": restarted},
	})
}

// Close closes the log file, if the logger opened one.
func (l *AuditLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.file.Close()
	l.file, l.w = nil, nil
	return err
}

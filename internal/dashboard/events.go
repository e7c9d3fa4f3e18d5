package dashboard

import (
	"fmt"
	"sync"
	"time"

	"github.com/efebarandurmaz/bugtracker/internal/bug"
	"github.com/efebarandurmaz/bugtracker/internal/fetch"
)

// Source exposes the cycle the dashboard shows. *fetch.Controller
// implements it.
type Source interface {
	Current() *fetch.Cycle
}

// Emitter receives controller callbacks and forwards them to the store and
// hub. It implements fetch.Notifier, fetch.StatusReporter and
// fetch.Observer. Callbacks arrive on the controller loop and must not
// block it.
type Emitter struct {
	store *Store
	hub   *Hub

	mu     sync.Mutex
	src    Source
	logged map[string]int // failures already logged, per cycle
}

// NewEmitter creates a new event emitter.
func NewEmitter(store *Store, hub *Hub) *Emitter {
	return &Emitter{store: store, hub: hub, logged: make(map[string]int)}
}

// Bind sets the source read on GraphUpdated.
func (e *Emitter) Bind(src Source) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.src = src
}

func (e *Emitter) current() *fetch.Cycle {
	e.mu.Lock()
	src := e.src
	e.mu.Unlock()
	if src == nil {
		return nil
	}
	return src.Current()
}

// CycleStarted records a new run and broadcasts "cycle.started".
func (e *Emitter) CycleStarted(s fetch.Summary) {
	run := e.store.PutRun(s)

	root := s.Root
	if s.BlockedBy != "" && s.BlockedBy != s.Root {
		root = fmt.Sprintf("%s (bug %s)", s.Root, s.BlockedBy)
	}
	e.Log(s.ID, LevelInfo, fmt.Sprintf("Cycle started for %s, max depth %d", root, s.MaxDepth))

	e.hub.Broadcast(&Event{
		Type:      EventCycleStarted,
		Timestamp: time.Now(),
		CycleID:   s.ID,
		Data:      run,
	})
}

// GraphUpdated refreshes the current run and broadcasts "graph.updated".
// Clients re-fetch /api/bugs in response.
func (e *Emitter) GraphUpdated() {
	cy := e.current()
	if cy == nil {
		return
	}
	s := cy.Summary()
	run := e.store.PutRun(s)
	e.logFailures(s)

	e.hub.Broadcast(&Event{
		Type:      EventGraphUpdated,
		Timestamp: time.Now(),
		CycleID:   s.ID,
		Data:      run,
	})
}

// SetStatus stores the status line and broadcasts "status".
func (e *Emitter) SetStatus(msg string) {
	e.store.SetStatus(msg)

	var cycleID string
	if cy := e.current(); cy != nil {
		cycleID = cy.ID()
	}
	e.hub.Broadcast(&Event{
		Type:      EventStatus,
		Timestamp: time.Now(),
		CycleID:   cycleID,
		Data:      map[string]string{"message": msg},
	})
}

// CycleFinished records the final run and broadcasts "cycle.finished".
func (e *Emitter) CycleFinished(s fetch.Summary) {
	run := e.store.PutRun(s)
	e.logFailures(s)

	level := LevelInfo
	if len(s.Failures) > 0 {
		level = LevelWarn
	}
	msg := fmt.Sprintf("Cycle %s: %d bugs, %d failed request(s), %d truncated edge(s)",
		s.State, s.Nodes, len(s.Failures), s.Truncated)
	if len(s.AtMaxDepth) > 0 {
		msg += fmt.Sprintf("; max depth reached at %s", bug.JoinIDs(s.AtMaxDepth))
	}
	e.Log(s.ID, level, msg)

	e.mu.Lock()
	delete(e.logged, s.ID)
	e.mu.Unlock()

	e.hub.Broadcast(&Event{
		Type:      EventCycleFinished,
		Timestamp: time.Now(),
		CycleID:   s.ID,
		Data:      run,
	})
}

// logFailures logs the failures of s not yet logged.
func (e *Emitter) logFailures(s fetch.Summary) {
	e.mu.Lock()
	from := e.logged[s.ID]
	e.logged[s.ID] = len(s.Failures)
	e.mu.Unlock()

	for _, f := range s.Failures[min(from, len(s.Failures)):] {
		target := "root query"
		if len(f.IDs) > 0 {
			target = bug.JoinIDs(f.IDs)
		}
		e.Log(s.ID, LevelError, fmt.Sprintf("Depth %d %s failed (%s): %s", f.Depth, target, f.Kind, f.Message))
	}
}

// Log adds a LogEntry to the store, broadcasts "log" event.
func (e *Emitter) Log(cycleID, level, message string) {
	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		CycleID:   cycleID,
	}

	e.store.AddLog(entry)

	e.hub.Broadcast(&Event{
		Type:      EventLog,
		Timestamp: time.Now(),
		CycleID:   cycleID,
		Data:      entry,
	})
}

package dashboard

import (
	"sort"
	"sync"
	"time"

	"github.com/efebarandurmaz/bugtracker/internal/fetch"
)

const (
	maxRuns      = 100
	maxTotalLogs = 10000
)

// Store provides thread-safe in-memory storage for cycle runs, logs and the
// current status message.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*CycleRun
	logs []LogEntry

	status   string
	statusAt time.Time
}

// NewStore creates a new Store instance.
func NewStore() *Store {
	return &Store{
		runs: make(map[string]*CycleRun),
		logs: make([]LogEntry, 0, 256),
	}
}

// PutRun inserts or replaces the run for s.ID.
func (s *Store) PutRun(sum fetch.Summary) *CycleRun {
	run := newRun(sum)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run
	s.evictOldRuns()
	return run
}

// GetRun retrieves a cycle run by ID.
func (s *Store) GetRun(id string) (*CycleRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok
}

// ListRuns returns all runs sorted by StartedAt descending.
func (s *Store) ListRuns() []*CycleRun {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*CycleRun, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	return runs
}

// GetStats computes and returns aggregate statistics.
func (s *Store) GetStats() *DashboardStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &DashboardStats{
		TotalCycles: len(s.runs),
	}

	var totalDuration time.Duration
	var clean int

	for _, run := range s.runs {
		switch run.State {
		case fetch.StateFetching, fetch.StateIdle:
			stats.ActiveCycles++
		case fetch.StateDone:
			stats.DoneCycles++
			totalDuration += run.Duration()
			if run.FailedQueries == 0 {
				clean++
			}
		case fetch.StateSuperseded:
			stats.SupersededCycles++
		case fetch.StateCancelled:
			stats.CancelledCycles++
		}

		stats.TotalQueries += run.Queries
		stats.FailedQueries += run.FailedQueries
	}

	if stats.DoneCycles > 0 {
		stats.AvgDuration = totalDuration.Seconds() / float64(stats.DoneCycles)
		stats.SuccessRate = float64(clean) / float64(stats.DoneCycles)
	}

	return stats
}

// SetStatus replaces the current status message.
func (s *Store) SetStatus(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = msg
	s.statusAt = time.Now()
}

// Status returns the current status message and when it was set.
func (s *Store) Status() (string, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status, s.statusAt
}

// AddLog adds a log entry to the store.
func (s *Store) AddLog(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs = append(s.logs, entry)

	if len(s.logs) > maxTotalLogs {
		s.logs = s.logs[len(s.logs)-maxTotalLogs:]
	}
}

// GetLogs retrieves logs for a specific cycle, most recent first.
func (s *Store) GetLogs(cycleID string, limit int) []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filtered := []LogEntry{}
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].CycleID == cycleID {
			filtered = append(filtered, s.logs[i])
			if limit > 0 && len(filtered) >= limit {
				break
			}
		}
	}

	return filtered
}

// evictOldRuns removes the oldest finished runs if we exceed maxRuns.
// Must be called with lock held.
func (s *Store) evictOldRuns() {
	if len(s.runs) <= maxRuns {
		return
	}

	type runTime struct {
		id   string
		time time.Time
	}

	var finished []runTime
	for id, run := range s.runs {
		if run.Finished() {
			t := run.StartedAt
			if run.FinishedAt != nil {
				t = *run.FinishedAt
			}
			finished = append(finished, runTime{id: id, time: t})
		}
	}

	sort.Slice(finished, func(i, j int) bool {
		return finished[i].time.Before(finished[j].time)
	})

	toDelete := len(s.runs) - maxRuns
	for i := 0; i < toDelete && i < len(finished); i++ {
		delete(s.runs, finished[i].id)
	}
}

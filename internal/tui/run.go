package tui

import (
	"context"
	"errors"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/efebarandurmaz/bugtracker/internal/fetch"
)

// sender is satisfied by *tea.Program.
type sender interface {
	Send(msg tea.Msg)
}

// Bridge forwards controller callbacks to a running program. It
// implements fetch.Notifier, fetch.StatusReporter and fetch.Observer.
// Callbacks before Attach or after Detach are dropped.
type Bridge struct {
	mu  sync.RWMutex
	out sender
}

// NewBridge creates a detached bridge.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Attach starts forwarding to s.
func (b *Bridge) Attach(s sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.out = s
}

// Detach stops forwarding.
func (b *Bridge) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.out = nil
}

func (b *Bridge) send(msg tea.Msg) {
	b.mu.RLock()
	out := b.out
	b.mu.RUnlock()
	if out != nil {
		out.Send(msg)
	}
}

func (b *Bridge) GraphUpdated() {
	b.send(graphUpdatedMsg{})
}

func (b *Bridge) SetStatus(msg string) {
	b.send(statusMsg{text: msg})
}

func (b *Bridge) CycleStarted(s fetch.Summary) {
	b.send(cycleStartedMsg{summary: s})
}

func (b *Bridge) CycleFinished(s fetch.Summary) {
	b.send(cycleFinishedMsg{summary: s})
}

// RunWatch runs the watch screen until the user quits or ctx ends. It
// returns the last cycle summary shown, if any.
func RunWatch(ctx context.Context, cycles Cycles, bridge *Bridge, opts WatchOptions) (*fetch.Summary, error) {
	p := tea.NewProgram(NewWatchModel(cycles, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	bridge.Attach(p)
	defer bridge.Detach()

	final, err := p.Run()
	if err != nil && !(errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil) {
		return nil, fmt.Errorf("TUI error: %w", err)
	}

	m, ok := final.(WatchModel)
	if !ok {
		return nil, nil
	}
	if s, ok := m.Summary(); ok {
		return &s, nil
	}
	return nil, nil
}

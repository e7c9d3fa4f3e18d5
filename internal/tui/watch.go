// Package tui renders the live bug table in the terminal while a fetch
// cycle is running.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/efebarandurmaz/bugtracker/internal/fetch"
	"github.com/efebarandurmaz/bugtracker/internal/table"
)

// Cycles is the controller surface the watch screen drives.
// *fetch.Controller implements it.
type Cycles interface {
	Current() *fetch.Cycle
	Start(req fetch.Request) *fetch.Cycle
}

// Messages posted by Bridge from the controller loop.
type (
	graphUpdatedMsg  struct{}
	statusMsg        struct{ text string }
	cycleStartedMsg  struct{ summary fetch.Summary }
	cycleFinishedMsg struct{ summary fetch.Summary }
	restartedMsg     struct{ id string }
)

// header and footer lines around the table viewport
const chromeHeight = 6

// sortKeys is the order the sort key cycles through.
var sortKeys = []string{"", table.ColID, table.ColPriority, table.ColMilestone, table.ColStatus, table.ColAssignee}

// WatchOptions configures the watch screen.
type WatchOptions struct {
	// Request starts the first cycle; build it with Controller.Request.
	Request   fetch.Request
	Projector table.Projector
	Filter    table.Filter
}

type keyMap struct {
	Refetch  key.Binding
	Flags    key.Binding
	Resolved key.Binding
	Meta     key.Binding
	MMinus   key.Binding
	Sort     key.Binding
	Up       key.Binding
	Down     key.Binding
	Quit     key.Binding
}

func (km keyMap) ShortHelp() []key.Binding {
	return []key.Binding{km.Refetch, km.Flags, km.Resolved, km.Meta, km.MMinus, km.Sort, km.Quit}
}

func (km keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{km.Up, km.Down},
		{km.Refetch, km.Flags, km.Sort},
		{km.Resolved, km.Meta, km.MMinus},
		{km.Quit},
	}
}

func newKeyMap() keyMap {
	return keyMap{
		Refetch: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refetch"),
		),
		Flags: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "flags"),
		),
		Resolved: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "resolved"),
		),
		Meta: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "meta"),
		),
		MMinus: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "M-"),
		),
		Sort: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "sort"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "scroll down"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// WatchModel shows the current cycle's bug table and progress.
type WatchModel struct {
	cycles    Cycles
	projector table.Projector
	filter    table.Filter
	request   fetch.Request

	styles   *Styles
	spinner  spinner.Model
	viewport viewport.Model
	help     help.Model
	keys     keyMap

	summary  fetch.Summary
	hasCycle bool
	status   string
	rows     []table.Row
	total    int
	width    int
	height   int
	quitting bool
}

// NewWatchModel creates the watch screen over cycles.
func NewWatchModel(cycles Cycles, opts WatchOptions) WatchModel {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	styles := DefaultStyles()
	sp.Style = styles.Spinner

	return WatchModel{
		cycles:    cycles,
		projector: opts.Projector,
		filter:    opts.Filter,
		request:   opts.Request,
		styles:    styles,
		spinner:   sp,
		viewport:  viewport.New(80, 24-chromeHeight),
		help:      help.New(),
		keys:      newKeyMap(),
		width:     80,
		height:    24,
	}
}

// Summary returns the last cycle summary the screen saw.
func (m WatchModel) Summary() (fetch.Summary, bool) {
	return m.summary, m.hasCycle
}

// Rows returns the rows currently shown.
func (m WatchModel) Rows() []table.Row {
	return m.rows
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.start(m.request))
}

// start runs Controller.Start off the update goroutine; the controller
// loop may itself be blocked sending to the program.
func (m WatchModel) start(req fetch.Request) tea.Cmd {
	cycles := m.cycles
	return func() tea.Msg {
		cy := cycles.Start(req)
		return restartedMsg{id: cy.ID()}
	}
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chromeHeight, 1)
		m.help.Width = msg.Width
		m.render()
		return m, nil

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case graphUpdatedMsg, restartedMsg:
		m.refresh()
		return m, nil

	case statusMsg:
		m.status = msg.text
		return m, nil

	case cycleStartedMsg:
		m.summary = msg.summary
		m.hasCycle = true
		m.refresh()
		return m, nil

	case cycleFinishedMsg:
		if cy := m.cycles.Current(); cy == nil || cy.ID() == msg.summary.ID {
			m.summary = msg.summary
			m.hasCycle = true
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, m.keys.Refetch):
			return m, m.start(m.currentRequest())

		case key.Matches(msg, m.keys.Flags):
			m.filter.Flags = !m.filter.Flags
			req := m.currentRequest()
			if m.filter.Flags && !req.Flags {
				req.Flags = true
				m.status = "Refetching with flag fields"
				return m, m.start(req)
			}
			m.refresh()
			return m, nil

		case key.Matches(msg, m.keys.Resolved):
			switch m.filter.Resolved {
			case table.ResolvedAny:
				m.filter.Resolved = table.ResolvedNo
			case table.ResolvedNo:
				m.filter.Resolved = table.ResolvedYes
			default:
				m.filter.Resolved = table.ResolvedAny
			}
			m.refresh()
			return m, nil

		case key.Matches(msg, m.keys.Meta):
			m.filter.Meta = !m.filter.Meta
			m.refresh()
			return m, nil

		case key.Matches(msg, m.keys.MMinus):
			m.filter.MMinus = !m.filter.MMinus
			m.refresh()
			return m, nil

		case key.Matches(msg, m.keys.Sort):
			m.filter.Sort = nextSort(m.filter.Sort)
			m.filter.SortDir = table.SortAsc
			m.refresh()
			return m, nil
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func nextSort(current string) string {
	for i, k := range sortKeys {
		if k == current {
			return sortKeys[(i+1)%len(sortKeys)]
		}
	}
	return sortKeys[0]
}

func (m WatchModel) currentRequest() fetch.Request {
	if cy := m.cycles.Current(); cy != nil {
		return cy.Request()
	}
	return m.request
}

// refresh re-derives the rows from the current cycle's store.
func (m *WatchModel) refresh() {
	cy := m.cycles.Current()
	if cy == nil {
		m.render()
		return
	}
	m.summary = cy.Summary()
	m.hasCycle = true

	nodes := cy.Store().All()
	m.total = len(nodes)
	m.rows = table.Select(m.projector, m.projector.Rows(nodes), m.filter)
	m.render()
}

func (m *WatchModel) render() {
	if len(m.rows) == 0 {
		m.viewport.SetContent(m.styles.Help.Render("No bugs to show."))
		return
	}
	m.viewport.SetContent(table.Render(table.Columns(m.filter.Flags), m.rows, table.RenderOptions{Width: m.width}))
}

func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")
	b.WriteString(m.filterView())
	b.WriteString("\n\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.statusView())
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m WatchModel) headerView() string {
	title := m.styles.Title.Render("Bug dependencies")
	if !m.hasCycle {
		return lipgloss.JoinHorizontal(lipgloss.Top, title, " ", m.spinner.View(), m.styles.Subtitle.Render(" starting"))
	}

	s := m.summary
	parts := []string{
		title,
		" ",
		m.styles.StateBadge(s.State).Render(s.StateText()),
	}
	if s.State == fetch.StateFetching {
		parts = append(parts, " ", m.spinner.View())
	}
	parts = append(parts, m.styles.Subtitle.Render(fmt.Sprintf(
		" root %s, max depth %d, %d of %d bugs shown", s.Root, s.MaxDepth, len(m.rows), m.total)))
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m WatchModel) filterView() string {
	toggle := func(label string, on bool) string {
		if on {
			return m.styles.FilterOn.Render("[x] " + label)
		}
		return m.styles.FilterOff.Render("[ ] " + label)
	}

	resolved := "resolved: any"
	switch m.filter.Resolved {
	case table.ResolvedNo:
		resolved = "resolved: hide"
	case table.ResolvedYes:
		resolved = "resolved: only"
	}
	sort := "sort: none"
	if m.filter.Sort != "" {
		sort = "sort: " + m.filter.Sort
	}

	return strings.Join([]string{
		m.styles.Subtitle.Render(resolved),
		toggle("meta", m.filter.Meta),
		toggle("M-", m.filter.MMinus),
		toggle("flags", m.filter.Flags),
		m.styles.Subtitle.Render(sort),
	}, "  ")
}

func (m WatchModel) statusView() string {
	if m.status != "" {
		return m.styles.Status.Render(m.status)
	}
	if m.hasCycle && m.summary.Finished() {
		line := SummaryLine(m.summary)
		if len(m.summary.Failures) > 0 {
			return m.styles.Error.Render(line)
		}
		return m.styles.Subtitle.Render(line)
	}
	return ""
}

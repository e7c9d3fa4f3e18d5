package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/efebarandurmaz/bugtracker/internal/fetch"
)

// Color constants matching the dark dashboard theme
const (
	ColorBg     = "#0d1117"
	ColorCard   = "#161b22"
	ColorBorder = "#30363d"
	ColorBlue   = "#58a6ff"
	ColorGreen  = "#3fb950"
	ColorRed    = "#f85149"
	ColorYellow = "#d29922"
	ColorGray   = "#8b949e"
	ColorText   = "#c9d1d9"
	ColorBright = "#f0f6fc"
)

// Styles holds all lipgloss styles for the TUI
type Styles struct {
	// Text styles
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Help     lipgloss.Style
	Status   lipgloss.Style
	Error    lipgloss.Style

	// Cycle state badges
	StateFetching   lipgloss.Style
	StateDone       lipgloss.Style
	StateSuperseded lipgloss.Style
	StateCancelled  lipgloss.Style
	StateIdle       lipgloss.Style

	// Active filter toggles
	FilterOn  lipgloss.Style
	FilterOff lipgloss.Style

	Border  lipgloss.Style
	Spinner lipgloss.Style
}

// DefaultStyles creates the default style set
func DefaultStyles() *Styles {
	badge := lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorBg)).
		Padding(0, 1).
		Bold(true)

	return &Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(ColorBright)),

		Subtitle: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorText)),

		Help: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorGray)).
			Italic(true),

		Status: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorYellow)),

		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorRed)),

		StateFetching:   badge.Background(lipgloss.Color(ColorBlue)),
		StateDone:       badge.Background(lipgloss.Color(ColorGreen)),
		StateSuperseded: badge.Background(lipgloss.Color(ColorYellow)),
		StateCancelled:  badge.Background(lipgloss.Color(ColorRed)),
		StateIdle:       badge.Background(lipgloss.Color(ColorGray)),

		FilterOn: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorBlue)).
			Bold(true),

		FilterOff: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorGray)),

		Border: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorBorder)).
			Padding(0, 1),

		Spinner: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorBlue)),
	}
}

// StateBadge returns the badge style for a cycle state.
func (s *Styles) StateBadge(state fetch.State) lipgloss.Style {
	switch state {
	case fetch.StateFetching:
		return s.StateFetching
	case fetch.StateDone:
		return s.StateDone
	case fetch.StateSuperseded:
		return s.StateSuperseded
	case fetch.StateCancelled:
		return s.StateCancelled
	default:
		return s.StateIdle
	}
}

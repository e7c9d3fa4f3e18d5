package table

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Palette shared with the terminal UI.
const (
	colorBorder = "#30363d"
	colorHeader = "#58a6ff"
	colorText   = "#c9d1d9"
	colorMuted  = "#8b949e"
	colorRed    = "#f85149"
)

// RenderOptions controls terminal rendering.
type RenderOptions struct {
	// Width caps the table width; zero leaves it unbounded.
	Width int
	// MaxCell truncates long cells such as summaries. Zero selects 60.
	MaxCell int
}

// Render draws rows as a bordered table. Resolved rows are muted and
// devalued rows are drawn in red.
func Render(cols []Column, rows []Row, opts RenderOptions) string {
	maxCell := opts.MaxCell
	if maxCell <= 0 {
		maxCell = 60
	}

	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = c.Title
	}

	data := make([][]string, len(rows))
	for i, r := range rows {
		cells := make([]string, len(cols))
		for j, c := range cols {
			cells[j] = truncate(r.Cell(c.Key), maxCell)
		}
		data[i] = cells
	}

	base := lipgloss.NewStyle().Padding(0, 1)
	header := base.Bold(true).Foreground(lipgloss.Color(colorHeader))
	text := base.Foreground(lipgloss.Color(colorText))
	muted := base.Foreground(lipgloss.Color(colorMuted))
	devalued := base.Foreground(lipgloss.Color(colorRed))

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(colorBorder))).
		Headers(headers...).
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			if row < 0 || row >= len(rows) {
				return text
			}
			switch {
			case rows[row].Devalued:
				return devalued
			case rows[row].Resolved:
				return muted
			}
			return text
		})
	if opts.Width > 0 {
		t = t.Width(opts.Width)
	}
	return t.String()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

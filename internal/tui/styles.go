package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/torosent/gatesim/internal/runner"
)

var (
	colorPrimary = lipgloss.Color("#7D56F4")
	colorGood    = lipgloss.Color("#04B575")
	colorError   = lipgloss.Color("#FF5F87")
	colorWarning = lipgloss.Color("#FFAF00")
	colorSubtle  = lipgloss.Color("#767676")
	colorBorder  = lipgloss.Color("#3C3C3C")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true).
			MarginBottom(1)
	subtleStyle   = lipgloss.NewStyle().Foreground(colorSubtle)
	valueStyle    = lipgloss.NewStyle().Foreground(colorGood).Bold(true)
	errorStyle    = lipgloss.NewStyle().Foreground(colorError)
	noticeStyle   = lipgloss.NewStyle().Foreground(colorGood)
	selectedStyle = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	keyStyle      = lipgloss.NewStyle().Bold(true)
	detailStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)

var statusStyles = map[runner.Status]lipgloss.Style{
	runner.StatusIdle:      lipgloss.NewStyle().Foreground(colorSubtle),
	runner.StatusRunning:   lipgloss.NewStyle().Foreground(colorGood).Bold(true),
	runner.StatusPaused:    lipgloss.NewStyle().Foreground(colorWarning).Bold(true),
	runner.StatusCompleted: lipgloss.NewStyle().Foreground(colorPrimary),
	runner.StatusError:     lipgloss.NewStyle().Foreground(colorError).Bold(true),
}

func renderStatus(s runner.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		style = subtleStyle
	}
	return style.Width(10).Render(string(s))
}

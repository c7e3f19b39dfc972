package tui

import "github.com/charmbracelet/lipgloss"

var (
	// HeaderStyle styles the column header row.
	HeaderStyle = lipgloss.NewStyle().Bold(true)

	// NoticeStyle styles the stage-tagged message line under the table.
	NoticeStyle = lipgloss.NewStyle().Faint(true)

	statusStyles = map[string]lipgloss.Style{
		"completed": lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		"installed": lipgloss.NewStyle().Foreground(lipgloss.Color("2")),

		"downloading": lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		"pending":     lipgloss.NewStyle().Foreground(lipgloss.Color("4")),

		"skipped": lipgloss.NewStyle().Foreground(lipgloss.Color("3")),

		"failed": lipgloss.NewStyle().Foreground(lipgloss.Color("1")),

		"queued": lipgloss.NewStyle().Faint(true),
	}
)

// StatusStyle returns the lipgloss style for a request or install status.
func StatusStyle(status string) lipgloss.Style {
	if s, ok := statusStyles[status]; ok {
		return s
	}
	return lipgloss.NewStyle()
}

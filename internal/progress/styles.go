package progress

import "github.com/charmbracelet/lipgloss"

var (
	panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444466")).
		Padding(0, 2)

	title = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#00ffff"))

	label = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888899")).
		Width(14)

	value = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#00ccff")).
		Bold(true)

	graphStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))

	hint = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#666688")).
		Italic(true)

	good    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff88"))
	warning = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffaa00"))
	bad     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff4444"))
)

package ui

import "github.com/charmbracelet/lipgloss"

// Theme holds the styles used by the now-playing view
type Theme struct {
	Accent  lipgloss.Style
	Dim     lipgloss.Style
	Text    lipgloss.Style
	Title   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Border  lipgloss.Style
}

// DefaultTheme returns the colored theme, or a plain one when noColor is set
func DefaultTheme(noColor bool) Theme {
	if noColor {
		plain := lipgloss.NewStyle()
		return Theme{
			Accent:  plain,
			Dim:     plain,
			Text:    plain,
			Title:   plain.Bold(true),
			Success: plain,
			Warning: plain,
			Border:  plain.Border(lipgloss.NormalBorder()).Padding(0, 1),
		}
	}
	return Theme{
		Accent:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6FF7")),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6F93")),
		Text:    lipgloss.NewStyle().Foreground(lipgloss.Color("#E6E6FA")),
		Title:   lipgloss.NewStyle().Foreground(lipgloss.Color("#8EEBFF")).Bold(true),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("#5CFF5C")).Bold(true),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD166")).Bold(true),
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C7CFF")).
			Padding(0, 1),
	}
}

package ui

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

var (
	// Primary colors
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	secondaryColor = lipgloss.Color("#06B6D4") // Cyan
	accentColor    = lipgloss.Color("#10B981") // Emerald
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red

	// Background gradients
	bgDark   = lipgloss.Color("#0F172A")
	bgMedium = lipgloss.Color("#1E293B")
	bgLight  = lipgloss.Color("#334155")

	// Text colors
	textPrimary   = lipgloss.Color("#F8FAFC")
	textSecondary = lipgloss.Color("#CBD5E1")
	textMuted     = lipgloss.Color("#94A3B8")
)

// Styles for the inspector panels
var (
	appStyle = lipgloss.NewStyle().
			Padding(1, 2)

	titleStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(lipgloss.Color("#FFFFFF")).
			Bold(true).
			Padding(0, 2).
			MarginBottom(1)

	badgeStyle = lipgloss.NewStyle().
			Background(secondaryColor).
			Foreground(bgDark).
			Bold(true).
			Padding(0, 1).
			MarginRight(2)

	panelTitleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(bgLight).
			Padding(0, 1)

	focusedPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(bgMedium).
			Foreground(textSecondary).
			Padding(0, 1)

	pausedStyle = lipgloss.NewStyle().
			Background(warningColor).
			Foreground(bgDark).
			Bold(true).
			Padding(0, 1)

	dirtyStyle = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)

	helpBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2)
)

// tableStyles is the shared chrome for all three panel tables.
func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(primaryColor).
		BorderBottom(true).
		Bold(true).
		Foreground(primaryColor)
	s.Selected = s.Selected.
		Foreground(bgDark).
		Background(secondaryColor).
		Bold(false)
	return s
}

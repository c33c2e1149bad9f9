package main

import "github.com/charmbracelet/lipgloss"

// Theme defines the visual styling for the chronicle dashboard.
type Theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Warning   lipgloss.Color
	Error     lipgloss.Color
	Muted     lipgloss.Color
}

// DefaultTheme returns the default theme for chronicle-dash.
func DefaultTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("12"),  // Blue
		Secondary: lipgloss.Color("14"),  // Cyan
		Success:   lipgloss.Color("10"),  // Green
		Warning:   lipgloss.Color("11"),  // Yellow
		Error:     lipgloss.Color("9"),   // Red
		Muted:     lipgloss.Color("240"), // Gray
	}
}

// Styles holds the pre-built lipgloss styles shared across views.
type Styles struct {
	Title       lipgloss.Style
	Selected    lipgloss.Style
	Normal      lipgloss.Style
	Muted       lipgloss.Style
	Badge       lipgloss.Style
	SearchInput lipgloss.Style
	HelpTitle   lipgloss.Style
	HelpKey     lipgloss.Style
	HelpDesc    lipgloss.Style
	HelpContent lipgloss.Style
	HelpFooter  lipgloss.Style
}

// DefaultStyles builds the style set for a theme.
func DefaultStyles(theme Theme) Styles {
	return Styles{
		Title:       lipgloss.NewStyle().Bold(true).Foreground(theme.Primary).Padding(1, 0, 0, 0),
		Selected:    lipgloss.NewStyle().Bold(true).Foreground(theme.Secondary),
		Normal:      lipgloss.NewStyle(),
		Muted:       lipgloss.NewStyle().Foreground(theme.Muted),
		Badge:       lipgloss.NewStyle().Foreground(theme.Warning),
		SearchInput: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(theme.Primary).Padding(0, 1).Width(60),
		HelpTitle:   lipgloss.NewStyle().Bold(true).Foreground(theme.Primary).Padding(1, 0),
		HelpKey:     lipgloss.NewStyle().Foreground(theme.Secondary),
		HelpDesc:    lipgloss.NewStyle().Foreground(theme.Muted),
		HelpContent: lipgloss.NewStyle().Padding(0, 0, 1, 2),
		HelpFooter:  lipgloss.NewStyle().Foreground(theme.Muted),
	}
}

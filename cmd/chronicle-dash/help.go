package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// helpBinding represents a key binding with its description.
type helpBinding struct {
	key  string
	desc string
}

// getSessionsHelpBindings returns help bindings for SessionsView.
func getSessionsHelpBindings() []helpBinding {
	return []helpBinding{
		{"j/k or ↑/↓", "Navigate sessions"},
		{"enter", "Show session observations"},
		{"tab", "Switch to observations"},
		{"/", "Open search"},
		{"?", "Toggle help"},
		{"q or ctrl+c", "Quit"},
	}
}

// getObservationsHelpBindings returns help bindings for ObservationsView.
func getObservationsHelpBindings() []helpBinding {
	return []helpBinding{
		{"j/k or ↑/↓", "Navigate observations"},
		{"enter", "View observation details"},
		{"esc", "Return to sessions"},
		{"tab", "Switch to sessions"},
		{"/", "Open search"},
		{"?", "Toggle help"},
		{"q or ctrl+c", "Quit"},
	}
}

// getSearchHelpBindings returns help bindings for SearchView.
func getSearchHelpBindings() []helpBinding {
	return []helpBinding{
		{"↑/↓", "Navigate results"},
		{"enter", "View selected observation"},
		{"esc", "Cancel search"},
		{"Type to search", "Full-text query over observations"},
	}
}

// getDetailHelpBindings returns help bindings for DetailView.
func getDetailHelpBindings() []helpBinding {
	return []helpBinding{
		{"esc or backspace", "Go back"},
		{"?", "Toggle help"},
		{"q or ctrl+c", "Quit"},
	}
}

// getHelpBindingsForView returns help bindings for the given view.
func getHelpBindingsForView(view ViewType) []helpBinding {
	switch view {
	case ObservationsView:
		return getObservationsHelpBindings()
	case SearchView:
		return getSearchHelpBindings()
	case DetailView:
		return getDetailHelpBindings()
	default:
		return getSessionsHelpBindings()
	}
}

// getViewName returns the display name for a view.
func getViewName(view ViewType) string {
	switch view {
	case SessionsView:
		return "Sessions"
	case ObservationsView:
		return "Observations"
	case SearchView:
		return "Search"
	case DetailView:
		return "Detail"
	default:
		return "Unknown View"
	}
}

// renderHelpOverlay renders the help overlay panel.
func (m Model) renderHelpOverlay() string {
	title := m.styles.HelpTitle.Render("Help - " + getViewName(m.previousView))
	content := m.renderHelpContent()
	footer := m.styles.HelpFooter.Render("Press ? or Esc to close")

	return lipgloss.JoinVertical(lipgloss.Left, title, content, footer)
}

// renderHelpContent renders the key bindings list.
func (m Model) renderHelpContent() string {
	bindings := getHelpBindingsForView(m.previousView)

	var contentBuilder strings.Builder
	keyStyle := m.styles.HelpKey.Width(20)

	for _, binding := range bindings {
		key := keyStyle.Render(binding.key)
		desc := m.styles.HelpDesc.Render(binding.desc)
		contentBuilder.WriteString(lipgloss.JoinHorizontal(lipgloss.Left, key, desc))
		contentBuilder.WriteString("\n")
	}

	return m.styles.HelpContent.Render(contentBuilder.String())
}

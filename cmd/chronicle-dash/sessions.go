package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"chronicle/pkg/protocol"
)

// shortSessionID abbreviates a UUID-style session ID for list rows.
func shortSessionID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// relativeAge renders an epoch-ms timestamp as a coarse relative age.
func relativeAge(epochMs int64, now time.Time) string {
	if epochMs == 0 {
		return "-"
	}
	d := now.Sub(time.UnixMilli(epochMs))
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// sessionState returns "active" or "ended" for a session row.
func sessionState(s protocol.Session) string {
	if s.EndedAtEpoch > 0 {
		return "ended"
	}
	return "active"
}

// renderSessionsView renders the sessions list with a cursor on the selected
// row. Each row shows the abbreviated session ID, project, prompt count,
// state, and how long ago the session started.
func renderSessionsView(sessions []protocol.Session, cursor int, theme Theme, styles Styles) string {
	var b strings.Builder
	b.WriteString(styles.Title.Render("Sessions"))
	b.WriteString("\n")

	if len(sessions) == 0 {
		b.WriteString(styles.Muted.Render("No sessions yet. Start the daemon with `chronicle start`."))
		b.WriteString("\n")
		return b.String()
	}

	header := fmt.Sprintf("  %-10s %-20s %-8s %-8s %s", "SESSION", "PROJECT", "PROMPTS", "STATE", "STARTED")
	b.WriteString(styles.Muted.Render(header))
	b.WriteString("\n")

	now := time.Now()
	for i, s := range sessions {
		marker := "  "
		rowStyle := styles.Normal
		if i == cursor {
			marker = "> "
			rowStyle = styles.Selected
		}

		stateStyle := lipgloss.NewStyle().Foreground(theme.Muted)
		if sessionState(s) == "active" {
			stateStyle = lipgloss.NewStyle().Foreground(theme.Success)
		}

		row := fmt.Sprintf("%-10s %-20s %-8d ",
			shortSessionID(s.MemorySessionID),
			truncateCell(s.Project, 20),
			s.PromptCounter)
		b.WriteString(marker)
		b.WriteString(rowStyle.Render(row))
		b.WriteString(stateStyle.Render(fmt.Sprintf("%-8s ", sessionState(s))))
		b.WriteString(styles.Muted.Render(relativeAge(s.StartedAtEpoch, now)))
		b.WriteString("\n")
	}

	return b.String()
}

// truncateCell truncates s to width characters, appending an ellipsis when
// something was cut.
func truncateCell(s string, width int) string {
	if len(s) <= width {
		return s
	}
	if width <= 1 {
		return s[:width]
	}
	return s[:width-1] + "…"
}

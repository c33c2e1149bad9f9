package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"chronicle/pkg/observe"
	"chronicle/pkg/protocol"
)

// typeBadge renders an observation type as a colored bracket badge.
func typeBadge(obsType string, theme Theme) string {
	color := theme.Secondary
	switch obsType {
	case "bugfix", "change":
		color = theme.Warning
	case "discovery", "finding":
		color = theme.Primary
	case "decision":
		color = theme.Success
	}
	return lipgloss.NewStyle().Foreground(color).Render("[" + obsType + "]")
}

// renderObservationsView renders the observation list with a cursor on the
// selected row. When sessionFilter is set, a scope line names the session
// the list is narrowed to.
func renderObservationsView(obs []protocol.Observation, cursor int, sessionFilter string, theme Theme, styles Styles) string {
	var b strings.Builder
	b.WriteString(styles.Title.Render("Observations"))
	b.WriteString("\n")

	if sessionFilter != "" {
		b.WriteString(styles.Muted.Render("session: " + shortSessionID(sessionFilter)))
		b.WriteString("\n")
	}

	if len(obs) == 0 {
		b.WriteString(styles.Muted.Render("No observations yet."))
		b.WriteString("\n")
		return b.String()
	}

	now := time.Now()
	for i, o := range obs {
		marker := "  "
		titleStyle := styles.Normal
		if i == cursor {
			marker = "> "
			titleStyle = styles.Selected
		}

		title := truncateCell(strings.ReplaceAll(o.Title, "\n", " "), 64)
		b.WriteString(marker)
		b.WriteString(typeBadge(o.Type, theme))
		b.WriteString(" ")
		b.WriteString(titleStyle.Render(title))
		b.WriteString(" ")
		b.WriteString(styles.Muted.Render(relativeAge(o.CreatedAtEpoch, now)))
		b.WriteString("\n")
	}

	return b.String()
}

// renderObservationDetail renders one observation in full: metadata, the
// narrative, and the fact/concept/file lists decoded from their JSON columns.
func renderObservationDetail(o *protocol.Observation, theme Theme, styles Styles) string {
	var b strings.Builder

	b.WriteString(styles.Title.Render(o.Title))
	b.WriteString("\n")
	if o.Subtitle != "" {
		b.WriteString(styles.Muted.Render(o.Subtitle))
		b.WriteString("\n")
	}

	meta := fmt.Sprintf("%s  session %s  project %s  %s",
		typeBadge(o.Type, theme),
		shortSessionID(o.MemorySessionID),
		o.Project,
		relativeAge(o.CreatedAtEpoch, time.Now()))
	b.WriteString(meta)
	b.WriteString("\n\n")

	if o.Narrative != "" {
		b.WriteString(o.Narrative)
		b.WriteString("\n")
	}

	writeListSection(&b, "Facts", observe.ListFromJSON(o.Facts), styles)
	writeListSection(&b, "Concepts", observe.ListFromJSON(o.Concepts), styles)
	writeListSection(&b, "Files read", observe.ListFromJSON(o.FilesRead), styles)
	writeListSection(&b, "Files modified", observe.ListFromJSON(o.FilesModified), styles)

	return b.String()
}

// writeListSection appends a titled bullet list, skipping empty lists.
func writeListSection(b *strings.Builder, title string, items []string, styles Styles) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n")
	b.WriteString(styles.Selected.Render(title))
	b.WriteString("\n")
	for _, item := range items {
		b.WriteString("  • ")
		b.WriteString(item)
		b.WriteString("\n")
	}
}

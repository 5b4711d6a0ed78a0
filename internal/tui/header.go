package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Mr-Dark-debug/traviz/internal/relations"
	"github.com/Mr-Dark-debug/traviz/pkg/timeutil"
)

// renderHeader produces the top bar:
//
//	TRAVIZ | trace.json | Merged | Show all | 42/120 spans | +1.2s..+3.4s | @ 12:00:01.200 | ⇢ Handoffs (7)
func renderHeader(m *Model) string {
	sep := headerSepStyle.Render(" │ ")
	parts := []string{headerBrandStyle.Render("TRAVIZ")}

	if rt := m.sess.Trace(); rt != nil {
		source := m.sess.Source()
		if !strings.Contains(source, "://") {
			source = filepath.Base(source)
		}
		origin := int64(m.frame.Bounds.Start)
		parts = append(parts,
			headerMetaStyle.Render(source),
			headerMetaStyle.Render(m.frame.Mode),
			headerMetaStyle.Render(m.frame.Filter),
			headerMetaStyle.Render(fmt.Sprintf("%d/%d spans", len(m.frame.Rows), rt.Len())),
			headerMetaStyle.Render(fmt.Sprintf("%s..%s",
				timeutil.Offset(int64(m.frame.Window.Start), origin),
				timeutil.Offset(int64(m.frame.Window.End), origin))),
			headerMetaStyle.Render("@ "+timeutil.FormatTimestamp(int64(m.frame.Window.Start))),
		)
		if v := m.frame.RelationView; v != "" && v != relations.NoRelationsView {
			parts = append(parts, headerMetaStyle.Render(fmt.Sprintf("⇢ %s (%d)", v, m.sess.Relations().Len())))
		}
		if n := m.sess.Interaction().CollapsedCount(); n > 0 {
			parts = append(parts, headerMetaStyle.Render(fmt.Sprintf("%d collapsed", n)))
		}
	} else {
		parts = append(parts, headerMetaStyle.Render("Trace Viewer"))
	}
	if m.sess.Loading() {
		parts = append(parts, headerLoadingStyle.Render("loading..."))
	}

	content := parts[0]
	for _, p := range parts[1:] {
		content += sep + p
	}
	return headerBarStyle.Width(m.width).MaxWidth(m.width).Render(content)
}

// renderFooter produces the bottom status bar with keyboard hints, or
// the open-file prompt.
func renderFooter(m *Model) string {
	if m.prompting {
		return promptStyle.Width(m.width).Render(m.prompt.View())
	}

	var left string
	switch {
	case m.err != nil:
		left = statusErrorStyle.Render(m.statusMsg)
	case m.statusMsg != "":
		left = statusStyle.Render(m.statusMsg)
	}
	right := m.help.ShortHelpView(keys.ShortHelp())

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		right = ""
		gap = max(m.width-lipgloss.Width(left), 0)
	}

	bar := left + strings.Repeat(" ", gap) + right
	return lipgloss.NewStyle().
		Background(colorBgSurface).
		Width(m.width).
		MaxWidth(m.width).
		Render(bar)
}

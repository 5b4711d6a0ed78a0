package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Mr-Dark-debug/traviz/internal/modes"
	"github.com/Mr-Dark-debug/traviz/internal/session"
	"github.com/Mr-Dark-debug/traviz/pkg/jsonutil"
	"github.com/Mr-Dark-debug/traviz/pkg/timeutil"
)

// renderDetail renders the selected span, or the analysis report when
// one is shown.
func renderDetail(m *Model, width, height int) string {
	var lines []string
	if m.report != "" {
		lines = append(lines, panelTitleStyle.Render("Analysis")+detailDimStyle.Render("  esc to close"))
		for _, line := range strings.Split(strings.TrimRight(m.report, "\n"), "\n") {
			lines = append(lines, detailValueStyle.Render(truncate(line, width)))
		}
		return clipLines(lines, height)
	}

	d, ok := m.sess.SelectedDetail()
	if !ok {
		lines = append(lines, panelTitleStyle.Render("Detail"))
		lines = append(lines, emptyStateStyle.Render("The selected span is not part of this trace."))
		return clipLines(lines, height)
	}

	lines = append(lines, panelTitleStyle.Render("Detail")+"  "+detailValueStyle.Render(truncate(d.Name, width-8)))
	lines = append(lines, detailLine(width,
		field{"ID", d.ID},
		field{"Kind", d.Kind.String()},
		field{"Node", d.Node},
		field{"Thread", d.Thread},
	))
	timing := []field{
		{"Start", "+" + timeutil.FormatNanos(int64(d.Start))},
		{"Duration", timeutil.FormatNanos(int64(d.Duration))},
		{"Events", fmt.Sprintf("%d (%d in subtree)", len(d.Events), d.SubtreeEvents)},
	}
	if d.Open {
		timing = append(timing, field{"Open", "never ended"})
	}
	if d.Orphan {
		timing = append(timing, field{"Orphan", "parent missing"})
	}
	lines = append(lines, detailLine(width, timing...))
	if d.Kind != modes.KindRaw && len(d.Sources) > 0 {
		lines = append(lines, detailLine(width, field{"Sources", strings.Join(d.Sources, ", ")}))
	}

	for _, diag := range d.Diagnostics {
		lines = append(lines, detailWarnStyle.Render(truncate(diag.String(), width)))
	}

	if len(d.Attributes) > 0 {
		lines = append(lines, detailSectionStyle.Render("Attributes"))
		lines = append(lines, attributeLines(d.Attributes, width)...)
	}

	if len(d.Outgoing)+len(d.Incoming) > 0 {
		lines = append(lines, detailSectionStyle.Render("Relations")+detailDimStyle.Render("  n/N to follow"))
		lines = append(lines, linkLines("→", d.Outgoing, width)...)
		lines = append(lines, linkLines("←", d.Incoming, width)...)
	}

	if len(d.Events) > 0 {
		lines = append(lines, detailSectionStyle.Render("Events"))
		origin := m.frame.Bounds.Start
		for _, ev := range d.Events {
			at := timeutil.Offset(int64(ev.Time), int64(origin))
			lines = append(lines, detailDimStyle.Render(at)+" "+detailValueStyle.Render(truncate(ev.Name, width-len(at)-1)))
		}
	}

	return clipLines(lines, height)
}

// linkLines renders one line per relation: direction, the span at the
// other end, its node, the delay and the relation name.
func linkLines(arrow string, links []session.Link, width int) []string {
	lines := make([]string, 0, len(links))
	for _, l := range links {
		text := fmt.Sprintf("%s (%s) +%s", l.Name, l.Node, timeutil.FormatNanos(int64(l.Delay)))
		lines = append(lines, detailLabelStyle.Render(arrow)+" "+
			detailValueStyle.Render(truncate(text, width-len(l.Relation)-5))+" "+
			detailDimStyle.Render("["+l.Relation+"]"))
	}
	return lines
}

// renderDetailPanel wraps detail in a styled panel.
func renderDetailPanel(m *Model, width, height int) string {
	content := renderDetail(m, width-4, height-1)
	return panelStyle.Width(width).Height(height - 1).Render(content)
}

// ── helpers ──

type field struct {
	label string
	value string
}

// detailLine lays out fields side by side, skipping empty values.
func detailLine(width int, fields ...field) string {
	var parts []string
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		parts = append(parts, detailLabelStyle.Render(f.label)+" "+detailValueStyle.Render(f.value))
	}
	return lipgloss.NewStyle().MaxWidth(max(width, 0)).Render(strings.Join(parts, "   "))
}

// attributeLines renders key = value pairs. JSON documents are expanded
// over several lines.
func attributeLines(attrs []session.Attr, width int) []string {
	var lines []string
	for _, a := range attrs {
		key := detailLabelStyle.Render(a.Key)
		if !jsonutil.IsDocument(a.Value) {
			lines = append(lines, key+" "+detailValueStyle.Render(truncate(a.Value, width-len(a.Key)-1)))
			continue
		}
		lines = append(lines, key)
		for _, l := range strings.Split(jsonutil.PrettyJSON(a.Value), "\n") {
			lines = append(lines, detailDimStyle.Render("  "+truncate(l, width-2)))
		}
	}
	return lines
}

func clipLines(lines []string, height int) string {
	if height > 0 && len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

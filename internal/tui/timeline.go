package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Mr-Dark-debug/traviz/internal/modes"
	"github.com/Mr-Dark-debug/traviz/internal/trace"
	"github.com/Mr-Dark-debug/traviz/internal/viewport"
	"github.com/Mr-Dark-debug/traviz/pkg/timeutil"
)

// renderOverview draws the timeline strip: the trace extent with the
// selected window bracketed by its handles.
func renderOverview(m *Model) string {
	vp := m.sess.Viewport()
	tm := vp.TimelineMapping()
	width := m.spanWidth()

	label := "trace"
	handleStyle := overviewHandleStyle
	if g := vp.Gesture(); g != viewport.Idle {
		label = g.String()
		handleStyle = overviewActiveStyle
	}
	if st := vp.State(); st.TimelineZoom != 1 {
		label += fmt.Sprintf(" x%.2g", st.TimelineZoom)
	}

	cells := make([]string, width)
	for i := range cells {
		cells[i] = " "
	}
	if lo, hi, ok := cellRange(tm, m.frame.Bounds.Start, m.frame.Bounds.End); ok {
		for i := lo; i < hi; i++ {
			cells[i] = overviewTrackStyle.Render("─")
		}
	}
	if lo, hi, ok := cellRange(tm, m.frame.Window.Start, m.frame.Window.End); ok {
		for i := lo; i < hi; i++ {
			cells[i] = overviewWindowStyle.Render("━")
		}
	}
	if c := cellAt(tm, m.frame.Window.Start); c >= 0 {
		cells[c] = handleStyle.Render("[")
	}
	if c := cellAt(tm, m.frame.Window.End); c >= 0 {
		cells[c] = handleStyle.Render("]")
	} else if lo, hi, ok := cellRange(tm, m.frame.Window.Start, m.frame.Window.End); ok && hi == width && lo < hi {
		cells[hi-1] = handleStyle.Render("]")
	}

	return axisStyle.Render(padRight(label, m.opts.LabelWidth)) + strings.Join(cells, "")
}

// renderAxis draws tick labels for the span area, as offsets from the
// trace start.
func renderAxis(m *Model) string {
	sm := m.sess.Viewport().SpanMapping()
	width := m.spanWidth()
	buf := []rune(strings.Repeat(" ", width))

	ticks := timeutil.Ticks(int64(sm.Start), int64(sm.End), max(width/14, 1))
	origin := int64(m.frame.Bounds.Start)
	for _, t := range ticks {
		if c := cellAt(sm, trace.Time(t)); c >= 0 {
			overlay(buf, c, "╵"+timeutil.Offset(t, origin))
		}
	}

	label := "window " + timeutil.FormatNanos(int64(m.frame.Window.Width()))
	return axisStyle.Render(padRight(label, m.opts.LabelWidth) + string(buf))
}

// renderRows draws exactly height span rows, starting at the scroll
// offset.
func renderRows(m *Model, height int) string {
	if height <= 0 {
		return ""
	}
	lines := make([]string, 0, height)

	switch {
	case m.sess.Trace() == nil:
		lines = append(lines, emptyStateStyle.Render("No trace loaded. Press o to open a file."))
	case len(m.frame.Rows) == 0:
		lines = append(lines, emptyStateStyle.Render("No spans in this window."))
	default:
		sm := m.sess.Viewport().SpanMapping()
		ui := m.sess.Interaction()
		selected, _ := ui.Selected()
		hovered, _ := ui.Hovered()
		for i := m.offset; i < len(m.frame.Rows) && len(lines) < height; i++ {
			r := m.frame.Rows[i]
			lines = append(lines, renderRow(r, sm, m.opts.LabelWidth, rowState{
				selected: r.ID == selected,
				hovered:  r.ID == hovered,
				cursor:   i == m.cursor,
				linked:   m.sess.Linked(r.Sources),
			}))
		}
	}

	for len(lines) < height {
		lines = append(lines, "")
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

type rowState struct {
	selected bool
	hovered  bool
	cursor   bool
	// linked marks rows touched by a relation of the active view.
	linked bool
}

// renderRow draws the label column and the bar of one span row.
func renderRow(r modes.RenderableSpan, sm viewport.Mapping, labelWidth int, st rowState) string {
	marker := "  "
	switch {
	case r.HasHiddenChildren:
		marker = "▸ "
	case st.linked:
		marker = "⇢ "
	}
	indent := strings.Repeat(" ", min(r.Depth, labelWidth/3))
	prefix := " "
	if st.cursor {
		prefix = "›"
	}
	label := padRight(prefix+indent+marker+r.Name, labelWidth-1) + " "

	style := rowLabelStyle
	if r.Kind != modes.KindRaw {
		style = rowSyntheticStyle
	}
	switch {
	case st.selected:
		style = rowSelectedStyle
	case st.hovered:
		style = rowHoverStyle.Inherit(style)
	}
	label = style.Render(label)
	return label + renderBar(r, sm)
}

// renderBar draws a row's interval on the span surface.
func renderBar(r modes.RenderableSpan, sm viewport.Mapping) string {
	width := int(sm.Width)
	if width <= 0 {
		return ""
	}
	lo, hi, ok := cellRange(sm, r.Start, r.End)
	if !ok {
		return strings.Repeat(" ", width)
	}

	fill := "█"
	style := lipgloss.NewStyle().Foreground(nodeColor(r.Node))
	switch r.Kind {
	case modes.KindMerged:
		fill = "▓"
	case modes.KindGap:
		fill = "░"
		style = gapBarStyle
	}

	bar := []rune(strings.Repeat(fill, hi-lo))
	if r.Length == modes.LengthText {
		need := len([]rune(r.Name)) + 2
		if hi-lo < need {
			hi = min(lo+need, width)
			bar = []rune(strings.Repeat(fill, hi-lo))
		}
		overlay(bar, 1, truncate(r.Name, hi-lo-2))
	}
	if r.Open && len(bar) > 0 {
		bar[len(bar)-1] = '»'
	}

	return strings.Repeat(" ", lo) + style.Render(string(bar)) + strings.Repeat(" ", width-hi)
}

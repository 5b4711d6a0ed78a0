package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Mr-Dark-debug/traviz/internal/analysis"
	"github.com/Mr-Dark-debug/traviz/internal/viewport"
)

// Keyboard window steps.
const (
	shiftStep = 0.1
	zoomIn    = 0.8
	zoomOut   = 1.25
)

// handleKey routes keyboard input outside the open prompt.
func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	vp := m.sess.Viewport()
	ui := m.sess.Interaction()

	switch {
	case key.Matches(msg, keys.Quit):
		return tea.Quit

	case key.Matches(msg, keys.Open):
		m.prompting = true
		m.prompt.SetValue("")
		return tea.Batch(m.prompt.Focus(), textinput.Blink)

	case key.Matches(msg, keys.Fetch):
		return m.fetch()

	case key.Matches(msg, keys.CancelLoad):
		if m.sess.Loading() {
			m.sess.CancelLoad()
			m.statusMsg = "Load cancelled"
		}

	case key.Matches(msg, keys.NextMode):
		m.statusMsg = "Mode: " + m.sess.CycleMode(1).Name
	case key.Matches(msg, keys.PrevMode):
		m.statusMsg = "Mode: " + m.sess.CycleMode(-1).Name
	case key.Matches(msg, keys.NextFilter):
		m.statusMsg = "Node filter: " + m.sess.CycleFilter(1)
	case key.Matches(msg, keys.PrevFilter):
		m.statusMsg = "Node filter: " + m.sess.CycleFilter(-1)
	case key.Matches(msg, keys.NextRelations):
		m.statusMsg = "Relations: " + m.sess.CycleRelationView(1)
	case key.Matches(msg, keys.PrevRelations):
		m.statusMsg = "Relations: " + m.sess.CycleRelationView(-1)
	case key.Matches(msg, keys.FollowOut):
		m.follow(true)
	case key.Matches(msg, keys.FollowIn):
		m.follow(false)

	case key.Matches(msg, keys.Down):
		m.moveCursor(1)
	case key.Matches(msg, keys.Up):
		m.moveCursor(-1)
	case key.Matches(msg, keys.PageDown):
		m.moveCursor(max(m.listHeight()-1, 1))
	case key.Matches(msg, keys.PageUp):
		m.moveCursor(-max(m.listHeight()-1, 1))
	case key.Matches(msg, keys.Top):
		m.moveCursor(-len(m.frame.Rows))
	case key.Matches(msg, keys.Bottom):
		m.moveCursor(len(m.frame.Rows))

	case key.Matches(msg, keys.Select):
		if id, ok := m.cursorRow(); ok {
			m.sess.Click(id, viewport.ButtonLeft)
		}
	case key.Matches(msg, keys.Collapse):
		if id, ok := m.cursorRow(); ok {
			m.sess.Click(id, viewport.ButtonMiddle)
		}
	case key.Matches(msg, keys.ExpandAll):
		ui.ExpandAll()

	case key.Matches(msg, keys.Back):
		if m.report != "" {
			m.report = ""
		} else {
			ui.Deselect()
		}

	case key.Matches(msg, keys.PanLeft):
		vp.ShiftWindow(-shiftStep)
	case key.Matches(msg, keys.PanRight):
		vp.ShiftWindow(shiftStep)
	case key.Matches(msg, keys.ZoomIn):
		vp.ScaleWindow(zoomIn)
	case key.Matches(msg, keys.ZoomOut):
		vp.ScaleWindow(zoomOut)
	case key.Matches(msg, keys.TimelineIn):
		vp.ZoomTimeline(1)
	case key.Matches(msg, keys.TimelineOut):
		vp.ZoomTimeline(-1)
	case key.Matches(msg, keys.TimelineFit):
		vp.FitTimeline()

	case key.Matches(msg, keys.Analyze):
		m.analyze()
	}
	return nil
}

func (m *Model) handlePromptKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, keys.PromptSubmit):
		path := strings.TrimSpace(m.prompt.Value())
		m.prompting = false
		m.prompt.Blur()
		if path == "" {
			return nil
		}
		return m.openFile(path)
	case key.Matches(msg, keys.PromptCancel):
		m.prompting = false
		m.prompt.Blur()
		return nil
	}
	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	return cmd
}

func (m *Model) moveCursor(delta int) {
	if len(m.frame.Rows) == 0 {
		return
	}
	m.cursor = clamp(m.cursor+delta, 0, len(m.frame.Rows)-1)
	m.scrollTo(m.cursor)
}

func (m *Model) cursorRow() (string, bool) {
	if m.cursor < 0 || m.cursor >= len(m.frame.Rows) {
		return "", false
	}
	return m.frame.Rows[m.cursor].ID, true
}

// follow selects the span at the other end of a relation of the selected
// row and moves the cursor onto the row showing it.
func (m *Model) follow(outgoing bool) {
	id, ok := m.sess.FollowRelation(outgoing)
	if !ok {
		m.statusMsg = "No relation to follow"
		return
	}
	m.frame = m.sess.Frame()
	for i, r := range m.frame.Rows {
		if r.ID == id || slices.Contains(r.Sources, id) {
			m.cursor = i
			m.scrollTo(i)
			return
		}
	}
	m.statusMsg = "Related span is not shown in this mode"
}

// analyze reports statistics for the selected span's name, or hotspots
// only when nothing is selected.
func (m *Model) analyze() {
	rt := m.sess.Trace()
	if rt == nil {
		m.statusMsg = "Nothing loaded"
		return
	}
	var q analysis.SpanQuery
	if d, ok := m.sess.SelectedDetail(); ok {
		q.Name = d.Name
		if len(d.Sources) > 0 {
			if sp, ok := rt.Span(d.Sources[0]); ok {
				q.Name = sp.Name
			}
		}
	}
	m.report = analysis.FormatReport(analysis.NewAnalyzer(rt).FullAnalysis(q))
	m.statusMsg = fmt.Sprintf("Analysis of %d spans", rt.Len())
}

// ────────────────────────────────────────────────────────────
// Mouse
// ────────────────────────────────────────────────────────────

// surfaceAt maps a screen row to the time surface under it.
func (m Model) surfaceAt(y int) (viewport.Surface, bool) {
	switch {
	case y == overviewRow:
		return viewport.SurfaceTimeline, true
	case y >= axisRow && y < firstSpanRow+m.listHeight():
		return viewport.SurfaceSpans, true
	}
	return 0, false
}

func mouseButton(b tea.MouseButton) viewport.Button {
	switch b {
	case tea.MouseButtonLeft:
		return viewport.ButtonLeft
	case tea.MouseButtonMiddle:
		return viewport.ButtonMiddle
	case tea.MouseButtonRight:
		return viewport.ButtonRight
	}
	return viewport.ButtonNone
}

// handleMouse translates terminal mouse input into viewport events and
// span clicks. Presses outside both surfaces are ignored; motion outside
// them ends any gesture.
func (m *Model) handleMouse(msg tea.MouseMsg) {
	surface, onSurface := m.surfaceAt(msg.Y)
	x := float64(msg.X - m.opts.LabelWidth)
	ui := m.sess.Interaction()

	ui.BeginFrame()
	if i, ok := m.rowAt(msg.Y); ok {
		ui.Hover(m.frame.Rows[i].ID)
	}

	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button == tea.MouseButtonWheelUp || msg.Button == tea.MouseButtonWheelDown {
			if !onSurface {
				return
			}
			delta := 1.0
			if msg.Button == tea.MouseButtonWheelDown {
				delta = -1
			}
			ev := viewport.Scroll{Surface: surface, X: max(x, 0), Delta: delta, Ctrl: msg.Ctrl}
			if !m.sess.HandlePointer(ev) && surface == viewport.SurfaceSpans {
				m.offset -= int(delta) * 3
			}
			return
		}
		if !onSurface {
			return
		}
		// Presses are ignored until the active gesture returns to idle.
		if m.sess.Viewport().Gesture() != viewport.Idle {
			return
		}
		btn := mouseButton(msg.Button)
		if i, ok := m.rowAt(msg.Y); ok && (msg.X < m.opts.LabelWidth || btn != viewport.ButtonRight) {
			m.cursor = i
			m.sess.Click(m.frame.Rows[i].ID, btn)
		}
		if x >= 0 {
			m.sess.HandlePointer(viewport.PointerDown{Surface: surface, X: x, Button: btn})
		}

	case tea.MouseActionMotion:
		if onSurface {
			m.sess.HandlePointer(viewport.PointerMove{Surface: surface, X: x})
		} else {
			m.sess.HandlePointer(viewport.PointerLeave{Surface: surface})
		}

	case tea.MouseActionRelease:
		m.sess.HandlePointer(viewport.PointerUp{Surface: surface, X: x, Button: mouseButton(msg.Button)})
	}
}

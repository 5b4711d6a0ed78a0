package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mr-Dark-debug/traviz/internal/database"
	"github.com/Mr-Dark-debug/traviz/internal/modes"
	"github.com/Mr-Dark-debug/traviz/internal/relations"
	"github.com/Mr-Dark-debug/traviz/internal/session"
	"github.com/Mr-Dark-debug/traviz/internal/trace"
	"github.com/Mr-Dark-debug/traviz/internal/viewport"
	"github.com/Mr-Dark-debug/traviz/pkg/timeutil"
)

const labelWidth = 20

func tp(v trace.Time) *trace.Time { return &v }

func rec(id, parent, name string, start, end trace.Time) trace.Record {
	return trace.Record{ID: id, ParentID: parent, Name: name, Node: "api", Start: tp(start), End: tp(end)}
}

// smallTrace is a[0,1000] with children b[100,400] and c[500,900].
func smallTrace() *trace.RawTrace {
	return trace.Build([]trace.Record{
		rec("a", "", "request", 0, 1000),
		rec("b", "a", "db.query", 100, 400),
		rec("c", "a", "render", 500, 900),
	})
}

// wideTrace is a root with n children, one row each.
func wideTrace(n int) *trace.RawTrace {
	records := []trace.Record{rec("root", "", "root", 0, 1000)}
	for i := 0; i < n; i++ {
		records = append(records, rec(fmt.Sprintf("c%02d", i), "root", "child", trace.Time(i), trace.Time(i+1)))
	}
	return trace.Build(records)
}

func loaded(rt *trace.RawTrace) session.LoadFunc {
	return func(context.Context) (*trace.RawTrace, error) { return rt, nil }
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "space":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func mouse(x, y int, action tea.MouseAction, button tea.MouseButton) tea.MouseMsg {
	return tea.MouseMsg{X: x, Y: y, Action: action, Button: button}
}

// newModel returns a 120x40 viewer with rt loaded.
func newModel(t *testing.T, rt *trace.RawTrace, opts Options) Model {
	t.Helper()
	return newModelWith(t, rt, opts, session.Options{})
}

func newModelWith(t *testing.T, rt *trace.RawTrace, opts Options, sessOpts session.Options) Model {
	t.Helper()
	sess, err := session.New(sessOpts)
	require.NoError(t, err)
	t.Cleanup(sess.Close)

	opts.Session = sess
	opts.LabelWidth = labelWidth
	m := NewModel(context.Background(), opts)
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	if rt != nil {
		ticket := sess.BeginLoad(context.Background(), "trace.json")
		m = update(t, m, loadedMsg{res: ticket.Run(loaded(rt)), file: true})
	}
	return m
}

func TestResizeSetsSurfaceWidths(t *testing.T) {
	m := newModel(t, nil, Options{})
	vp := m.sess.Viewport()
	assert.Equal(t, 100.0, vp.TimelineMapping().Width)
	assert.Equal(t, 100.0, vp.SpanMapping().Width)
	assert.Contains(t, m.View(), "No trace loaded")
}

func TestLoadedMessageInstallsTrace(t *testing.T) {
	m := newModel(t, smallTrace(), Options{})
	require.Len(t, m.frame.Rows, 3)
	assert.Equal(t, "a", m.frame.Rows[0].ID)
	assert.Contains(t, m.statusMsg, "Loaded 3 spans")

	view := m.View()
	assert.Contains(t, view, "TRAVIZ")
	assert.Contains(t, view, "db.query")
	assert.Contains(t, renderHeader(&m), "@ "+timeutil.FormatTimestamp(int64(m.frame.Window.Start)))
}

func TestStaleAndFailedLoads(t *testing.T) {
	m := newModel(t, nil, Options{})
	first := m.sess.BeginLoad(context.Background(), "first")
	second := m.sess.BeginLoad(context.Background(), "second")

	m = update(t, m, loadedMsg{res: first.Run(loaded(smallTrace()))})
	assert.Nil(t, m.sess.Trace())
	assert.NoError(t, m.err)

	m = update(t, m, loadedMsg{res: second.Run(func(context.Context) (*trace.RawTrace, error) {
		return nil, errors.New("boom")
	})})
	assert.Error(t, m.err)
	assert.Contains(t, m.statusMsg, "boom")
	assert.Nil(t, m.sess.Trace())
}

func TestLoadRecordsRecentFile(t *testing.T) {
	catalog, err := database.NewDBService(":memory:")
	require.NoError(t, err)
	defer catalog.Close()

	m := newModel(t, smallTrace(), Options{Catalog: catalog})
	require.NotNil(t, m.sess.Trace())

	files, err := catalog.RecentFiles(0)
	require.NoError(t, err)
	require.Len(t, files, 1)
	abs, _ := filepath.Abs("trace.json")
	assert.Equal(t, abs, files[0].Path)
	assert.Equal(t, 3, files[0].SpanCount)
}

func TestKeysCycleModeAndFilter(t *testing.T) {
	m := newModel(t, smallTrace(), Options{})
	before := m.frame.Mode

	m = update(t, m, keyMsg("m"))
	assert.NotEqual(t, before, m.frame.Mode)
	m = update(t, m, keyMsg("M"))
	assert.Equal(t, before, m.frame.Mode)

	filter := m.frame.Filter
	m = update(t, m, keyMsg("f"))
	assert.NotEqual(t, filter, m.frame.Filter)
}

func TestKeyboardSelectionAndCollapse(t *testing.T) {
	m := newModel(t, smallTrace(), Options{})

	m = update(t, m, keyMsg("j"))
	m = update(t, m, keyMsg("enter"))
	id, ok := m.sess.Interaction().Selected()
	require.True(t, ok)
	assert.Equal(t, "b", id)
	assert.Contains(t, m.View(), "Detail")

	m = update(t, m, keyMsg("k"))
	m = update(t, m, keyMsg("space"))
	assert.True(t, m.sess.Interaction().IsCollapsed("a"))
	require.Len(t, m.frame.Rows, 1)
	assert.True(t, m.frame.Rows[0].HasHiddenChildren)

	m = update(t, m, keyMsg("e"))
	assert.Len(t, m.frame.Rows, 3)

	m = update(t, m, keyMsg("esc"))
	_, ok = m.sess.Interaction().Selected()
	assert.False(t, ok)
}

func TestRelationKeys(t *testing.T) {
	set, err := relations.NewSet([]relations.Relation{{
		Name: "query then render",
		From: modes.Selector{Name: modes.EqualTo("db.query")},
		To:   modes.Selector{Name: modes.EqualTo("render")},
	}}, nil)
	require.NoError(t, err)
	m := newModelWith(t, smallTrace(), Options{}, session.Options{Relations: set})
	assert.NotContains(t, renderHeader(&m), "⇢")

	m = update(t, m, keyMsg("v"))
	assert.Equal(t, relations.AllRelationsView, m.frame.RelationView)
	assert.Equal(t, "Relations: "+relations.AllRelationsView, m.statusMsg)
	assert.Contains(t, renderHeader(&m), "⇢ "+relations.AllRelationsView+" (1)")

	m = update(t, m, keyMsg("j"))
	m = update(t, m, keyMsg("enter"))
	detail := renderDetail(&m, 80, 30)
	assert.Contains(t, detail, "Relations")
	assert.Contains(t, detail, "render (api)")
	assert.Contains(t, detail, "[query then render]")

	m = update(t, m, keyMsg("n"))
	id, ok := m.sess.Interaction().Selected()
	require.True(t, ok)
	assert.Equal(t, "c", id)
	assert.Equal(t, 2, m.cursor)

	m = update(t, m, keyMsg("N"))
	id, _ = m.sess.Interaction().Selected()
	assert.Equal(t, "b", id)
	assert.Equal(t, 1, m.cursor)

	m = update(t, m, keyMsg("N"))
	assert.Equal(t, "No relation to follow", m.statusMsg)

	sm := m.sess.Viewport().SpanMapping()
	assert.Contains(t, renderRow(m.frame.Rows[1], sm, labelWidth, rowState{linked: true}), "⇢ db.query")
	assert.NotContains(t, renderRow(m.frame.Rows[0], sm, labelWidth, rowState{}), "⇢")

	m = update(t, m, keyMsg("V"))
	assert.Equal(t, relations.NoRelationsView, m.frame.RelationView)
}

func TestKeyboardWindow(t *testing.T) {
	m := newModel(t, smallTrace(), Options{})

	m = update(t, m, keyMsg("+"))
	assert.Equal(t, trace.Window{Start: 100, End: 900}, m.frame.Window)

	m = update(t, m, keyMsg("l"))
	assert.Equal(t, trace.Window{Start: 180, End: 980}, m.frame.Window)

	m = update(t, m, keyMsg("-"))
	assert.Equal(t, trace.Window{Start: 80, End: 1000}, m.frame.Window)
}

func TestTimelineDragMovesWindow(t *testing.T) {
	m := newModel(t, smallTrace(), Options{})
	m = update(t, m, keyMsg("+"))
	require.Equal(t, trace.Window{Start: 100, End: 900}, m.frame.Window)

	// The timeline maps [0,1000] onto 100 cells, so the window spans
	// cells 10 to 90.
	m = update(t, m, mouse(labelWidth+50, overviewRow, tea.MouseActionPress, tea.MouseButtonLeft))
	assert.Equal(t, viewport.DraggingWholeInterval, m.sess.Viewport().Gesture())

	m = update(t, m, mouse(labelWidth+60, overviewRow, tea.MouseActionMotion, tea.MouseButtonLeft))
	assert.Equal(t, trace.Window{Start: 200, End: 1000}, m.frame.Window)

	m = update(t, m, mouse(labelWidth+60, overviewRow, tea.MouseActionRelease, tea.MouseButtonLeft))
	assert.Equal(t, viewport.Idle, m.sess.Viewport().Gesture())
}

func TestHandleDragAndLeave(t *testing.T) {
	m := newModel(t, smallTrace(), Options{})
	m = update(t, m, keyMsg("+"))

	m = update(t, m, mouse(labelWidth+10, overviewRow, tea.MouseActionPress, tea.MouseButtonLeft))
	assert.Equal(t, viewport.DraggingLeftHandle, m.sess.Viewport().Gesture())
	m = update(t, m, mouse(labelWidth+30, overviewRow, tea.MouseActionMotion, tea.MouseButtonLeft))
	assert.Equal(t, trace.Window{Start: 300, End: 900}, m.frame.Window)

	// Moving onto the footer ends the gesture.
	m = update(t, m, mouse(labelWidth+30, 39, tea.MouseActionMotion, tea.MouseButtonLeft))
	assert.Equal(t, viewport.Idle, m.sess.Viewport().Gesture())
	assert.Equal(t, trace.Window{Start: 300, End: 900}, m.frame.Window)
}

func TestClickSelectsAndMiddleCollapses(t *testing.T) {
	m := newModel(t, smallTrace(), Options{})

	m = update(t, m, mouse(2, firstSpanRow+1, tea.MouseActionPress, tea.MouseButtonLeft))
	id, _ := m.sess.Interaction().Selected()
	assert.Equal(t, "b", id)
	assert.Equal(t, 1, m.cursor)
	m = update(t, m, mouse(2, firstSpanRow+1, tea.MouseActionRelease, tea.MouseButtonLeft))

	m = update(t, m, mouse(2, firstSpanRow, tea.MouseActionPress, tea.MouseButtonMiddle))
	assert.True(t, m.sess.Interaction().IsCollapsed("a"))
	assert.Len(t, m.frame.Rows, 1)
}

func TestPressesDuringDragAreIgnored(t *testing.T) {
	m := newModel(t, smallTrace(), Options{})

	m = update(t, m, mouse(labelWidth+10, firstSpanRow+1, tea.MouseActionPress, tea.MouseButtonRight))
	require.Equal(t, viewport.DraggingWholeInterval, m.sess.Viewport().Gesture())

	m = update(t, m, mouse(2, firstSpanRow, tea.MouseActionPress, tea.MouseButtonMiddle))
	assert.False(t, m.sess.Interaction().IsCollapsed("a"))
	m = update(t, m, mouse(2, firstSpanRow+2, tea.MouseActionPress, tea.MouseButtonLeft))
	_, selected := m.sess.Interaction().Selected()
	assert.False(t, selected)
	assert.Equal(t, viewport.DraggingWholeInterval, m.sess.Viewport().Gesture())

	m = update(t, m, mouse(labelWidth+10, firstSpanRow+1, tea.MouseActionRelease, tea.MouseButtonRight))
	require.Equal(t, viewport.Idle, m.sess.Viewport().Gesture())

	m = update(t, m, mouse(2, firstSpanRow, tea.MouseActionPress, tea.MouseButtonMiddle))
	assert.True(t, m.sess.Interaction().IsCollapsed("a"))
}

func TestHoverFollowsPointer(t *testing.T) {
	m := newModel(t, smallTrace(), Options{})

	m = update(t, m, mouse(5, firstSpanRow+2, tea.MouseActionMotion, tea.MouseButtonNone))
	id, ok := m.sess.Interaction().Hovered()
	require.True(t, ok)
	assert.Equal(t, "c", id)

	m = update(t, m, mouse(5, 0, tea.MouseActionMotion, tea.MouseButtonNone))
	_, ok = m.sess.Interaction().Hovered()
	assert.False(t, ok)
}

func TestWheel(t *testing.T) {
	m := newModel(t, wideTrace(60), Options{})
	require.Len(t, m.frame.Rows, 61)

	m = update(t, m, mouse(labelWidth+5, firstSpanRow+2, tea.MouseActionPress, tea.MouseButtonWheelDown))
	assert.Equal(t, 3, m.offset)
	m = update(t, m, mouse(labelWidth+5, firstSpanRow+2, tea.MouseActionPress, tea.MouseButtonWheelUp))
	assert.Equal(t, 0, m.offset)

	ctrl := mouse(labelWidth+50, firstSpanRow+2, tea.MouseActionPress, tea.MouseButtonWheelDown)
	ctrl.Ctrl = true
	m = update(t, m, ctrl)
	assert.InDelta(t, 1/1.25, m.sess.Viewport().State().SpanZoom, 1e-9)

	m = update(t, m, mouse(labelWidth+50, overviewRow, tea.MouseActionPress, tea.MouseButtonWheelUp))
	assert.InDelta(t, 1.25, m.sess.Viewport().State().TimelineZoom, 1e-9)
}

func TestAnalyzeShowsReport(t *testing.T) {
	m := newModel(t, smallTrace(), Options{})
	m = update(t, m, keyMsg("j"))
	m = update(t, m, keyMsg("enter"))
	m = update(t, m, keyMsg("a"))
	assert.Contains(t, m.report, "db.query")
	assert.Contains(t, m.View(), "Analysis")

	m = update(t, m, keyMsg("esc"))
	assert.Empty(t, m.report)
}

func TestOpenPrompt(t *testing.T) {
	m := newModel(t, nil, Options{})
	m = update(t, m, keyMsg("o"))
	require.True(t, m.prompting)

	for _, r := range "missing.json" {
		m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	assert.Equal(t, "missing.json", m.prompt.Value())

	next, cmd := m.Update(keyMsg("enter"))
	m = next.(Model)
	assert.False(t, m.prompting)
	require.NotNil(t, cmd)
	assert.True(t, m.sess.Loading())

	m = update(t, m, cmd())
	assert.Error(t, m.err)
	assert.False(t, m.sess.Loading())
}

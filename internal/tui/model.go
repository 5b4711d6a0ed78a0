package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/Mr-Dark-debug/traviz/internal/collector"
	"github.com/Mr-Dark-debug/traviz/internal/database"
	"github.com/Mr-Dark-debug/traviz/internal/modes"
	"github.com/Mr-Dark-debug/traviz/internal/session"
	"github.com/Mr-Dark-debug/traviz/internal/trace"
	"github.com/Mr-Dark-debug/traviz/internal/tracefile"
)

// Screen rows above the span list.
const (
	headerRow    = 0
	overviewRow  = 1
	axisRow      = 2
	firstSpanRow = 3
)

// Options configures the viewer.
type Options struct {
	Session *session.Session
	// LabelWidth is the width of the span name column, in cells.
	LabelWidth int
	// Catalog records opened files. Optional.
	Catalog database.Store
	// Collector enables fetching. Optional.
	Collector *collector.Client
	// InitialFile is loaded on start when set.
	InitialFile string
	Logger      *zap.Logger
}

// ────────────────────────────────────────────────────────────
// Model
// ────────────────────────────────────────────────────────────

// Model is the root BubbleTea model for the traviz viewer. All trace and
// view state lives in the session; the model holds layout and the last
// rendered frame.
type Model struct {
	ctx    context.Context
	sess   *session.Session
	opts   Options
	logger *zap.Logger

	frame  session.Frame
	offset int
	cursor int
	width  int
	height int

	prompt    textinput.Model
	prompting bool
	help      help.Model
	// report replaces the detail panel with analysis output.
	report string

	statusMsg string
	err       error
}

// NewModel creates a viewer over opts.Session. Loads started by the model
// are cancelled when ctx is.
func NewModel(ctx context.Context, opts Options) Model {
	if opts.LabelWidth < 8 {
		opts.LabelWidth = 32
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ti := textinput.New()
	ti.Prompt = "open: "
	ti.Placeholder = "path/to/trace.json"
	ti.CharLimit = 1024

	m := Model{
		ctx:       ctx,
		sess:      opts.Session,
		opts:      opts,
		logger:    opts.Logger,
		prompt:    ti,
		help:      newHelp(),
		statusMsg: "Press o to open a trace file",
	}
	m.frame = m.sess.Frame()
	return m
}

// ────────────────────────────────────────────────────────────
// Messages
// ────────────────────────────────────────────────────────────

// loadedMsg carries a finished background load back to the UI loop.
type loadedMsg struct {
	res  session.LoadResult
	file bool
}

// ────────────────────────────────────────────────────────────
// Init
// ────────────────────────────────────────────────────────────

func (m Model) Init() tea.Cmd {
	if m.opts.InitialFile != "" {
		return m.openFile(m.opts.InitialFile)
	}
	return nil
}

// openFile starts a background load of path.
func (m *Model) openFile(path string) tea.Cmd {
	ticket := m.sess.BeginLoad(m.ctx, path)
	m.statusMsg = fmt.Sprintf("Loading %s...", filepath.Base(path))
	m.err = nil
	return func() tea.Msg {
		res := ticket.Run(func(ctx context.Context) (*trace.RawTrace, error) {
			return tracefile.Load(ctx, path)
		})
		return loadedMsg{res: res, file: true}
	}
}

// fetch asks the collector for the current window, or the last five
// minutes when nothing is loaded.
func (m *Model) fetch() tea.Cmd {
	if m.opts.Collector == nil {
		m.statusMsg = "No collector configured"
		return nil
	}
	q := collector.Query{Window: m.frame.Window}
	if m.sess.Trace() == nil {
		now := time.Now()
		q.Window = trace.Window{
			Start: trace.FromMillis(now.Add(-5 * time.Minute).UnixMilli()),
			End:   trace.FromMillis(now.UnixMilli()),
		}
	}
	if f, ok := m.activeFilter(); ok {
		q.Filter = f
	}
	client := m.opts.Collector
	ticket := m.sess.BeginLoad(m.ctx, client.URL())
	m.statusMsg = "Fetching from " + client.URL() + "..."
	m.err = nil
	return func() tea.Msg {
		res := ticket.Run(func(ctx context.Context) (*trace.RawTrace, error) {
			return client.FetchTrace(ctx, q)
		})
		return loadedMsg{res: res}
	}
}

// activeFilter narrows a collector query to the nodes admitted by the
// active node filter, when the loaded trace names them.
func (m *Model) activeFilter() (modes.AttributionSet, bool) {
	rt := m.sess.Trace()
	if rt == nil {
		return modes.AttributionSet{}, false
	}
	var filter modes.NodeFilter
	for _, f := range m.sess.Filters() {
		if f.Name == m.sess.FilterName() {
			filter = f
		}
	}
	seen := make(map[string]bool)
	var set modes.AttributionSet
	for _, s := range rt.Spans() {
		if !seen[s.Node] && filter.Match(s.Node, s.Thread) {
			seen[s.Node] = true
			set.Nodes = append(set.Nodes, s.Node)
		}
	}
	return set, len(set.Nodes) > 0
}

// ────────────────────────────────────────────────────────────
// Update
// ────────────────────────────────────────────────────────────

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width / 2
		w := float64(m.spanWidth())
		m.sess.Viewport().Resize(w, w)

	case tea.KeyMsg:
		if m.prompting {
			cmd = m.handlePromptKey(msg)
		} else {
			cmd = m.handleKey(msg)
		}

	case tea.MouseMsg:
		m.handleMouse(msg)

	case loadedMsg:
		m.handleLoaded(msg)

	default:
		if m.prompting {
			m.prompt, cmd = m.prompt.Update(msg)
		}
	}

	m.refresh()
	return m, cmd
}

func (m *Model) handleLoaded(msg loadedMsg) {
	err := m.sess.Complete(msg.res)
	switch {
	case errors.Is(err, session.ErrStaleLoad):
		return
	case errors.Is(err, context.Canceled):
		m.statusMsg = "Load cancelled"
		return
	case err != nil:
		m.err = err
		m.statusMsg = fmt.Sprintf("Error: %v", err)
		return
	}

	m.err = nil
	m.offset, m.cursor = 0, 0
	m.report = ""
	rt := m.sess.Trace()
	m.statusMsg = fmt.Sprintf("Loaded %d spans in %s", rt.Len(), msg.res.Elapsed.Round(time.Millisecond))
	if n := len(rt.Diagnostics()); n > 0 {
		m.statusMsg += fmt.Sprintf("  %d diagnostics", n)
	}
	if msg.file && m.opts.Catalog != nil {
		path := msg.res.Ticket.Source
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		if err := m.opts.Catalog.RecordRecentFile(path, rt.Len()); err != nil {
			m.logger.Warn("recording recent file", zap.String("path", path), zap.Error(err))
		}
	}
}

// refresh renders a new frame and keeps the cursor and scroll offset
// inside it.
func (m *Model) refresh() {
	m.frame = m.sess.Frame()
	n := len(m.frame.Rows)
	m.cursor = clamp(m.cursor, 0, max(n-1, 0))
	m.offset = clamp(m.offset, 0, max(n-m.listHeight(), 0))
}

// ────────────────────────────────────────────────────────────
// Layout
// ────────────────────────────────────────────────────────────

// spanWidth is the width of both time surfaces, in cells.
func (m Model) spanWidth() int {
	return max(m.width-m.opts.LabelWidth, 1)
}

func (m Model) detailHeight() int {
	if _, ok := m.sess.Interaction().Selected(); !ok && m.report == "" {
		return 0
	}
	return clamp((m.height-firstSpanRow-1)/2, 0, 14)
}

// listHeight is the number of visible span rows.
func (m Model) listHeight() int {
	return max(m.height-firstSpanRow-1-m.detailHeight(), 0)
}

// rowAt returns the index of the span row at screen row y.
func (m Model) rowAt(y int) (int, bool) {
	if y < firstSpanRow || y >= firstSpanRow+m.listHeight() {
		return 0, false
	}
	i := m.offset + y - firstSpanRow
	return i, i < len(m.frame.Rows)
}

// scrollTo makes row i visible.
func (m *Model) scrollTo(i int) {
	h := m.listHeight()
	if i < m.offset {
		m.offset = i
	}
	if h > 0 && i >= m.offset+h {
		m.offset = i - h + 1
	}
}

// ────────────────────────────────────────────────────────────
// View
// ────────────────────────────────────────────────────────────

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	out := renderHeader(&m) + "\n" +
		renderOverview(&m) + "\n" +
		renderAxis(&m) + "\n" +
		renderRows(&m, m.listHeight())
	if h := m.detailHeight(); h > 0 {
		out += "\n" + renderDetailPanel(&m, m.width, h)
	}
	return out + "\n" + renderFooter(&m)
}

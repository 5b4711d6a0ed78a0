package session

import (
	"fmt"
	"time"

	"github.com/Mr-Dark-debug/traviz/internal/modes"
	"github.com/Mr-Dark-debug/traviz/internal/trace"
	"github.com/Mr-Dark-debug/traviz/internal/viewport"
)

// Frame is everything needed to draw one screen.
type Frame struct {
	Rows         []modes.RenderableSpan
	Diagnostics  []trace.Diagnostic
	Window       trace.Window
	Bounds       trace.Window
	Mode         string
	Filter       string
	RelationView string
	Generation   uint64
}

// Frame renders the active mode over the current window and applies
// collapse state. Results are cached per (generation, mode, window).
func (s *Session) Frame() Frame {
	w := s.vp.Window()
	mode := s.activeMode()
	f := Frame{
		Window:       w,
		Bounds:       s.vp.Bounds(),
		Mode:         mode.Name,
		Filter:       s.FilterName(),
		RelationView: s.RelationView(),
		Generation:   s.generation,
	}
	if s.rt == nil {
		return f
	}

	start := time.Now()
	res := s.render(mode, w)
	f.Rows = modes.ApplyCollapse(s.rt, res.Spans, s.ui.IsCollapsed)
	f.Diagnostics = res.Diagnostics

	s.lastRows = make(map[string]modes.RenderableSpan, len(f.Rows))
	for _, r := range f.Rows {
		s.lastRows[r.ID] = r
	}
	s.observer.Rendered(time.Since(start), len(f.Rows), len(f.Diagnostics))
	s.publish()
	return f
}

func (s *Session) render(mode modes.Mode, w trace.Window) modes.Result {
	if s.cache == nil {
		return modes.Render(s.rt, w, mode)
	}
	key := fmt.Sprintf("%d|%s|%d|%d", s.generation, mode.Key(), w.Start, w.End)
	if v, ok := s.cache.Get(key); ok {
		return v.(modes.Result)
	}
	res := modes.Render(s.rt, w, mode)
	s.cache.Set(key, res, 1)
	return res
}

func (s *Session) activeMode() modes.Mode {
	return s.mode.WithPredicate(s.opts.Filters[s.filter])
}

// Mode returns the active mode.
func (s *Session) Mode() modes.Mode { return s.activeMode() }

// SetMode activates a registered mode. Window and interaction state are
// left alone.
func (s *Session) SetMode(name string) error {
	m, err := s.reg.Get(name)
	if err != nil {
		return err
	}
	s.mode = m
	return nil
}

// CycleMode moves delta positions through the registry.
func (s *Session) CycleMode(delta int) modes.Mode {
	s.mode = s.reg.Cycle(s.mode.Name, delta)
	return s.activeMode()
}

// FilterName returns the node filter used by filtered modes.
func (s *Session) FilterName() string { return s.opts.Filters[s.filter].Name }

// Filters lists the available node filters.
func (s *Session) Filters() []modes.NodeFilter { return s.opts.Filters }

// SetFilter selects a node filter by name.
func (s *Session) SetFilter(name string) error {
	for i, f := range s.opts.Filters {
		if f.Name == name {
			s.filter = i
			return nil
		}
	}
	return fmt.Errorf("unknown node filter %q", name)
}

// CycleFilter moves delta positions through the node filters.
func (s *Session) CycleFilter(delta int) string {
	n := len(s.opts.Filters)
	s.filter = ((s.filter+delta)%n + n) % n
	return s.FilterName()
}

// HandlePointer forwards a pointer event to the viewport.
func (s *Session) HandlePointer(ev viewport.Event) bool { return s.vp.Handle(ev) }

// Click applies a span-row click: middle toggles collapse, left selects.
// It reports whether the click changed anything.
func (s *Session) Click(id string, button viewport.Button) bool {
	if id == "" {
		return false
	}
	switch button {
	case viewport.ButtonMiddle:
		s.ui.ToggleCollapsed(id)
		return true
	case viewport.ButtonLeft:
		s.ui.Select(id)
		return true
	}
	return false
}

// Row returns a row of the last rendered frame.
func (s *Session) Row(id string) (modes.RenderableSpan, bool) {
	r, ok := s.lastRows[id]
	return r, ok
}

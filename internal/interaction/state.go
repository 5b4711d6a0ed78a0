// Package interaction holds per-span UI state keyed by stable row ids.
package interaction

// State is the collapsed/selected/hovered state of the span rows. Ids that
// no longer appear in the rendered output are simply never consulted, so
// the state survives mode switches and window changes.
type State struct {
	collapsed map[string]bool
	selected  string
	hovered   string
}

// New returns an empty state.
func New() *State {
	return &State{collapsed: make(map[string]bool)}
}

// ToggleCollapsed flips the collapsed flag of id and returns the new value.
func (s *State) ToggleCollapsed(id string) bool {
	if s.collapsed[id] {
		delete(s.collapsed, id)
		return false
	}
	s.collapsed[id] = true
	return true
}

// IsCollapsed reports whether id is collapsed. Unknown ids are expanded.
func (s *State) IsCollapsed(id string) bool { return s.collapsed[id] }

// CollapsedCount returns the number of collapsed ids.
func (s *State) CollapsedCount() int { return len(s.collapsed) }

// ExpandAll clears every collapsed flag.
func (s *State) ExpandAll() { clear(s.collapsed) }

// Select makes id the single selected span. An empty id clears it.
func (s *State) Select(id string) { s.selected = id }

// Deselect clears the selection.
func (s *State) Deselect() { s.selected = "" }

// Selected returns the selected id, if any.
func (s *State) Selected() (string, bool) { return s.selected, s.selected != "" }

// Hover records the span under the pointer for the current frame.
func (s *State) Hover(id string) { s.hovered = id }

// Hovered returns the hovered id, if any.
func (s *State) Hovered() (string, bool) { return s.hovered, s.hovered != "" }

// BeginFrame drops per-frame state.
func (s *State) BeginFrame() { s.hovered = "" }

// Reset clears everything; called when a new trace is loaded.
func (s *State) Reset() {
	clear(s.collapsed)
	s.selected = ""
	s.hovered = ""
}

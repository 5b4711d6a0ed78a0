package modes

import "github.com/Mr-Dark-debug/traviz/internal/trace"

// ApplyCollapse hides every row whose raw spans descend from a collapsed
// span, whatever shape the mode gave the tree. A row whose own id is
// collapsed keeps its place but loses its nested rows. Rows nested under a
// hidden row are hidden too. Collapsed rows that lost rows are marked with
// HasHiddenChildren.
//
// rows must be in depth-first order as produced by Render. rt may be nil,
// in which case only the nesting of rows is consulted. The input is not
// modified.
func ApplyCollapse(rt *trace.RawTrace, rows []RenderableSpan, collapsed func(id string) bool) []RenderableSpan {
	below := ancestryCheck(rt, collapsed)

	out := make([]RenderableSpan, 0, len(rows))
	// stack holds the out indexes of the kept rows enclosing the current one.
	var stack []int
	skipDepth := -1
	for _, r := range rows {
		for len(stack) > 0 && out[stack[len(stack)-1]].Depth >= r.Depth {
			stack = stack[:len(stack)-1]
		}
		if skipDepth >= 0 {
			if r.Depth > skipDepth {
				markEnclosing(out, stack, collapsed)
				continue
			}
			skipDepth = -1
		}

		if below(r) {
			markEnclosing(out, stack, collapsed)
			skipDepth = r.Depth
			continue
		}

		r.HasHiddenChildren = false
		out = append(out, r)
		if collapsed(r.ID) {
			skipDepth = r.Depth
		}
		stack = append(stack, len(out)-1)
	}
	return out
}

// ancestryCheck returns a function reporting whether any source span of a
// row has a collapsed strict ancestor. Results are memoized per span.
func ancestryCheck(rt *trace.RawTrace, collapsed func(id string) bool) func(RenderableSpan) bool {
	if rt == nil {
		return func(RenderableSpan) bool { return false }
	}
	memo := make(map[string]bool)
	var hidden func(s *trace.Span) bool
	hidden = func(s *trace.Span) bool {
		p := s.Parent()
		if p == nil {
			return false
		}
		if v, ok := memo[p.ID]; ok {
			return v
		}
		v := collapsed(p.ID) || hidden(p)
		memo[p.ID] = v
		return v
	}
	return func(r RenderableSpan) bool {
		for _, id := range r.Sources {
			if s, ok := rt.Span(id); ok && hidden(s) {
				return true
			}
		}
		return false
	}
}

// markEnclosing flags the innermost kept row enclosing a hidden row when
// that row, or one of its sources, is collapsed.
func markEnclosing(out []RenderableSpan, stack []int, collapsed func(id string) bool) {
	if len(stack) == 0 {
		return
	}
	r := &out[stack[len(stack)-1]]
	if collapsed(r.ID) {
		r.HasHiddenChildren = true
		return
	}
	for _, id := range r.Sources {
		if collapsed(id) {
			r.HasHiddenChildren = true
			return
		}
	}
}

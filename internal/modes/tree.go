package modes

import (
	"sort"

	"github.com/Mr-Dark-debug/traviz/internal/trace"
)

// node is an output row under construction.
type node struct {
	row      RenderableSpan
	children []*node
}

var showDecision = Decision{Visible: true, Length: LengthTime}

// buildTree collects the spans of rt that overlap w, or have a descendant
// that does, keeping the raw hierarchy. When decide hides a span its
// visible descendants attach to the nearest visible ancestor.
func buildTree(rt *trace.RawTrace, w trace.Window, decide func(*trace.Span) Decision) []*node {
	inWindow := make(map[string]bool)
	for _, s := range rt.SpansIn(w) {
		for p := s; p != nil && !inWindow[p.ID]; p = p.Parent() {
			inWindow[p.ID] = true
		}
	}

	var roots []*node
	var visit func(s *trace.Span, into *[]*node)
	visit = func(s *trace.Span, into *[]*node) {
		if !inWindow[s.ID] {
			return
		}
		d := showDecision
		if decide != nil {
			d = decide(s)
		}
		target := into
		if d.Visible {
			n := &node{row: rowFor(s, d)}
			*into = append(*into, n)
			target = &n.children
		}
		for _, c := range s.Children() {
			visit(c, target)
		}
	}
	for _, r := range rt.Roots() {
		visit(r, &roots)
	}
	return roots
}

func rowFor(s *trace.Span, d Decision) RenderableSpan {
	length := d.Length
	if length == "" {
		length = LengthTime
	}
	return RenderableSpan{
		ID:         s.ID,
		Kind:       KindRaw,
		Name:       d.displayName(s),
		Node:       s.Node,
		Thread:     s.Thread,
		FullStart:  s.Start,
		FullEnd:    s.End,
		Sources:    []string{s.ID},
		Orphan:     s.Orphan,
		Open:       s.Open,
		Length:     length,
		EventCount: len(s.Events),
	}
}

// nodeLess orders siblings by start time, then raw before merged before
// gap rows, then by id.
func nodeLess(a, b *node) bool {
	if a.row.FullStart != b.row.FullStart {
		return a.row.FullStart < b.row.FullStart
	}
	if a.row.Kind != b.row.Kind {
		return a.row.Kind < b.row.Kind
	}
	return a.row.ID < b.row.ID
}

func sortNodes(ns []*node) {
	sort.SliceStable(ns, func(i, j int) bool { return nodeLess(ns[i], ns[j]) })
}

// flatten emits rows depth-first with parents, depths and clipped intervals.
func flatten(roots []*node, w trace.Window) []RenderableSpan {
	var out []RenderableSpan
	var walk func(ns []*node, parentID string, depth int)
	walk = func(ns []*node, parentID string, depth int) {
		sortNodes(ns)
		for _, n := range ns {
			r := n.row
			r.ParentID = parentID
			r.Depth = depth
			r.Start, r.End = w.Clip(r.FullStart, r.FullEnd)
			out = append(out, r)
			walk(n.children, r.ID, depth+1)
		}
	}
	walk(roots, "", 0)
	return out
}

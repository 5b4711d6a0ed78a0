package trace

import (
	"fmt"
	"sort"
)

// DiagnosticKind classifies an ingestion problem.
type DiagnosticKind string

const (
	DiagDuplicateID        DiagnosticKind = "duplicate-id"
	DiagMissingID          DiagnosticKind = "missing-id"
	DiagMissingStart       DiagnosticKind = "missing-start"
	DiagInvertedInterval   DiagnosticKind = "inverted-interval"
	DiagDanglingParent     DiagnosticKind = "dangling-parent"
	DiagCycle              DiagnosticKind = "parent-cycle"
	DiagExcludedSubtree    DiagnosticKind = "excluded-subtree"
	DiagChildEscapesParent DiagnosticKind = "child-escapes-parent"
	DiagEventOutOfRange    DiagnosticKind = "event-out-of-range"
)

// Diagnostic records an inconsistency found while building a trace.
// Diagnostics never abort a load.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	SpanID  string         `json:"span_id"`
	Message string         `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s %s: %s", d.Kind, d.SpanID, d.Message)
}

// RawTrace is the immutable forest of spans for one loaded file.
type RawTrace struct {
	spans    map[string]*Span
	roots    []*Span
	preorder []*Span
	index    *index
	bounds   Window
	diags    []Diagnostic
	excluded map[string]DiagnosticKind
}

// Build resolves parent links, computes bounds and indexes the records.
// Inconsistent input is repaired or excluded and reported through
// Diagnostics; Build itself never fails.
func Build(records []Record) *RawTrace {
	b := &builder{
		byID:      make(map[string]*Span, len(records)),
		malformed: make(map[string]bool),
		rt: &RawTrace{
			spans:    make(map[string]*Span, len(records)),
			excluded: make(map[string]DiagnosticKind),
		},
	}
	b.collect(records)
	b.closeOpenSpans()
	b.link()
	b.finish()
	return b.rt
}

type builder struct {
	rt        *RawTrace
	byID      map[string]*Span
	order     []*Span
	malformed map[string]bool

	// cutOff holds well-formed spans whose parent is malformed.
	cutOff      []*Span
	maxObserved Time
	seenTime    bool
	anon        int
}

func (b *builder) diag(kind DiagnosticKind, id, format string, args ...any) {
	b.rt.diags = append(b.rt.diags, Diagnostic{Kind: kind, SpanID: id, Message: fmt.Sprintf(format, args...)})
}

func (b *builder) observe(t Time) {
	if !b.seenTime || t > b.maxObserved {
		b.maxObserved = t
		b.seenTime = true
	}
}

func (b *builder) collect(records []Record) {
	for i := range records {
		rec := &records[i]

		id := rec.ID
		if id == "" {
			b.anon++
			id = fmt.Sprintf("anon-%d", b.anon)
			b.diag(DiagMissingID, id, "record %d has no span id", i)
		}
		if _, dup := b.byID[id]; dup || b.malformed[id] {
			b.diag(DiagDuplicateID, id, "record %d repeats an existing span id and was dropped", i)
			continue
		}

		if rec.Start == nil {
			b.malformed[id] = true
			b.rt.excluded[id] = DiagMissingStart
			b.diag(DiagMissingStart, id, "span %q has no start time; its subtree is excluded", rec.Name)
			continue
		}

		s := &Span{
			ID:         id,
			ParentID:   rec.ParentID,
			TraceID:    rec.TraceID,
			Node:       rec.Node,
			Thread:     rec.Thread,
			Name:       rec.Name,
			Start:      *rec.Start,
			Attributes: rec.Attributes,
			Events:     append([]Event(nil), rec.Events...),
		}
		if s.Attributes == nil {
			s.Attributes = Attributes{}
		}
		sort.SliceStable(s.Events, func(i, j int) bool { return s.Events[i].Time < s.Events[j].Time })
		b.observe(s.Start)

		if rec.End == nil {
			s.Open = true
		} else {
			s.End = *rec.End
			if s.End < s.Start {
				b.diag(DiagInvertedInterval, id, "end %d precedes start %d; end clamped to start", s.End, s.Start)
				s.End = s.Start
			}
			b.observe(s.End)
		}
		for _, ev := range s.Events {
			b.observe(ev.Time)
		}

		b.byID[id] = s
		b.order = append(b.order, s)
	}
}

func (b *builder) closeOpenSpans() {
	for _, s := range b.order {
		if !s.Open {
			continue
		}
		s.End = b.maxObserved
		if s.End < s.Start {
			s.End = s.Start
		}
	}
}

func (b *builder) link() {
	for _, s := range b.order {
		switch {
		case s.ParentID == "":
			b.rt.roots = append(b.rt.roots, s)
		case s.ParentID == s.ID:
			// Never reachable from a root; reported with the other cycles.
		case b.malformed[s.ParentID]:
			b.cutOff = append(b.cutOff, s)
		default:
			if p, ok := b.byID[s.ParentID]; ok {
				p.children = append(p.children, s)
				s.parent = p
				continue
			}
			s.Orphan = true
			b.rt.roots = append(b.rt.roots, s)
			b.diag(DiagDanglingParent, s.ID, "parent %q does not exist; promoted to root", s.ParentID)
		}
	}
}

func (b *builder) finish() {
	rt := b.rt

	reached := make(map[string]bool, len(b.order))
	var mark func(s *Span)
	mark = func(s *Span) {
		reached[s.ID] = true
		for _, c := range s.children {
			mark(c)
		}
	}
	for _, r := range rt.roots {
		mark(r)
	}

	cut := make(map[string]bool)
	for _, s := range b.cutOff {
		var walk func(s *Span)
		walk = func(s *Span) {
			cut[s.ID] = true
			for _, c := range s.children {
				walk(c)
			}
		}
		walk(s)
	}

	for _, s := range b.order {
		if reached[s.ID] {
			rt.spans[s.ID] = s
			continue
		}
		if cut[s.ID] {
			rt.excluded[s.ID] = DiagExcludedSubtree
			b.diag(DiagExcludedSubtree, s.ID, "ancestor has no start time")
			continue
		}
		rt.excluded[s.ID] = DiagCycle
		b.diag(DiagCycle, s.ID, "parent chain never reaches a root")
	}

	sortSpans(rt.roots)
	var walk func(s *Span, depth int)
	walk = func(s *Span, depth int) {
		s.depth = depth
		sortSpans(s.children)
		rt.preorder = append(rt.preorder, s)
		s.SubtreeStart, s.SubtreeEnd = s.Start, s.End
		for _, ev := range s.Events {
			if ev.Time < s.Start || ev.Time > s.End {
				b.diag(DiagEventOutOfRange, s.ID, "event %q at %d lies outside [%d, %d]", ev.Name, ev.Time, s.Start, s.End)
			}
		}
		for _, c := range s.children {
			walk(c, depth+1)
			if c.Start < s.Start || c.End > s.End {
				b.diag(DiagChildEscapesParent, c.ID, "interval [%d, %d] escapes parent %q [%d, %d]", c.Start, c.End, s.ID, s.Start, s.End)
			}
			if c.SubtreeStart < s.SubtreeStart {
				s.SubtreeStart = c.SubtreeStart
			}
			if c.SubtreeEnd > s.SubtreeEnd {
				s.SubtreeEnd = c.SubtreeEnd
			}
		}
	}
	for _, r := range rt.roots {
		walk(r, 0)
	}

	rt.bounds = boundsOf(rt.roots)
	rt.index = newIndex(rt.preorder)
}

func boundsOf(roots []*Span) Window {
	if len(roots) == 0 {
		return Window{Start: 0, End: 1}
	}
	w := Window{Start: roots[0].SubtreeStart, End: roots[0].SubtreeEnd}
	for _, r := range roots[1:] {
		if r.SubtreeStart < w.Start {
			w.Start = r.SubtreeStart
		}
		if r.SubtreeEnd > w.End {
			w.End = r.SubtreeEnd
		}
	}
	if w.End <= w.Start {
		w.End = w.Start + 1
	}
	return w
}

// Bounds returns [trace_start, trace_end].
func (rt *RawTrace) Bounds() Window { return rt.bounds }

// Len returns the number of spans in the forest.
func (rt *RawTrace) Len() int { return len(rt.preorder) }

// Span looks up a span by id. Excluded spans are not found.
func (rt *RawTrace) Span(id string) (*Span, bool) {
	s, ok := rt.spans[id]
	return s, ok
}

// Roots returns root spans, orphans included, ordered by (Start, ID).
func (rt *RawTrace) Roots() []*Span { return rt.roots }

// ChildrenOf returns the children of id ordered by (Start, ID).
func (rt *RawTrace) ChildrenOf(id string) []*Span {
	if s, ok := rt.spans[id]; ok {
		return s.children
	}
	return nil
}

// SpansIn returns every span whose own interval overlaps w, ordered by
// (Start, ID).
func (rt *RawTrace) SpansIn(w Window) []*Span {
	return rt.index.overlapping(w)
}

// Walk visits the forest depth-first in render order. Returning false
// from fn skips the span's children.
func (rt *RawTrace) Walk(fn func(s *Span) bool) {
	var walk func(s *Span)
	walk = func(s *Span) {
		if !fn(s) {
			return
		}
		for _, c := range s.children {
			walk(c)
		}
	}
	for _, r := range rt.roots {
		walk(r)
	}
}

// Spans returns all spans in depth-first render order.
func (rt *RawTrace) Spans() []*Span { return rt.preorder }

// Diagnostics returns the problems found at build time, in discovery order.
func (rt *RawTrace) Diagnostics() []Diagnostic { return rt.diags }

// Excluded returns the ids left out of the forest, sorted.
func (rt *RawTrace) Excluded() []string {
	ids := make([]string, 0, len(rt.excluded))
	for id := range rt.excluded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ExclusionReason reports why id was left out of the forest.
func (rt *RawTrace) ExclusionReason(id string) (DiagnosticKind, bool) {
	k, ok := rt.excluded[id]
	return k, ok
}

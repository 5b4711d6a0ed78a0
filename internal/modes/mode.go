// Package modes turns a raw trace into the ordered span rows shown for a
// time window.
//
// A Mode pairs a display name with one of a closed set of option types.
// Render dispatches on the option type; each variant is a pure function of
// (trace, window, options). Output rows carry mode-defined stable ids so
// that UI state survives re-rendering.
package modes

import (
	"fmt"
	"strings"

	"github.com/Mr-Dark-debug/traviz/internal/trace"
)

// Kind distinguishes raw rows from rows a mode synthesized.
type Kind int

const (
	KindRaw Kind = iota
	KindMerged
	KindGap
)

func (k Kind) String() string {
	switch k {
	case KindMerged:
		return "merged"
	case KindGap:
		return "gap"
	default:
		return "raw"
	}
}

// DisplayLength decides what a row's bar width follows.
type DisplayLength string

const (
	// LengthTime sizes the bar by its time interval.
	LengthTime DisplayLength = "time"
	// LengthText widens the bar to fit its label.
	LengthText DisplayLength = "text"
)

// RenderableSpan is one output row of a mode.
type RenderableSpan struct {
	// ID is the stable identity: a raw span id or a synthetic id.
	ID       string
	ParentID string
	Depth    int
	Kind     Kind

	Name   string
	Node   string
	Thread string

	// Start and End are clipped to the render window.
	Start trace.Time
	End   trace.Time
	// FullStart and FullEnd are the unclipped interval.
	FullStart trace.Time
	FullEnd   trace.Time

	// Sources lists the raw span ids behind this row.
	Sources []string

	Orphan            bool
	Open              bool
	HasHiddenChildren bool
	Length            DisplayLength
	EventCount        int
}

// Result is the output of one render pass.
type Result struct {
	Spans []RenderableSpan
	// Diagnostics lists the subtrees that could not be rendered.
	Diagnostics []trace.Diagnostic
}

// Options is implemented by the option struct of every mode variant.
type Options interface {
	isOptions()
}

// IdentityOptions renders raw spans with their original hierarchy.
type IdentityOptions struct{}

// FilterOptions renders the spans whose attribution matches Predicate.
// A nil Predicate matches everything.
type FilterOptions struct {
	Predicate Predicate
}

// MergeOptions folds consecutive siblings sharing name and node into one row.
type MergeOptions struct{}

// GapOptions inserts a marker row wherever consecutive siblings are
// separated by at least MinGap.
type GapOptions struct {
	MinGap trace.Time
}

func (IdentityOptions) isOptions() {}
func (FilterOptions) isOptions() {}
func (MergeOptions) isOptions() {}
func (GapOptions) isOptions() {}
func (StructuredOptions) isOptions() {}

// Mode is a named, registered transformation.
type Mode struct {
	Name    string
	Options Options
}

// Key identifies the mode together with its options, for caching.
func (m Mode) Key() string {
	switch o := m.Options.(type) {
	case FilterOptions:
		if o.Predicate == nil {
			return m.Name + "|*"
		}
		return m.Name + "|" + o.Predicate.Key()
	case GapOptions:
		return fmt.Sprintf("%s|gap=%d", m.Name, o.MinGap)
	default:
		return m.Name
	}
}

// WithPredicate returns a copy of m whose filter predicate is p. Modes
// without a predicate are returned unchanged.
func (m Mode) WithPredicate(p Predicate) Mode {
	if _, ok := m.Options.(FilterOptions); ok {
		m.Options = FilterOptions{Predicate: p}
	}
	return m
}

// Render evaluates mode over rt restricted to w. It never fails: spans the
// trace could not place are reported in Result.Diagnostics.
func Render(rt *trace.RawTrace, w trace.Window, mode Mode) Result {
	if rt == nil {
		return Result{}
	}
	res := Result{Diagnostics: excludedDiagnostics(rt)}

	var roots []*node
	switch o := mode.Options.(type) {
	case nil, IdentityOptions:
		roots = buildTree(rt, w, nil)
	case FilterOptions:
		if o.Predicate == nil {
			roots = buildTree(rt, w, nil)
			break
		}
		roots = buildTree(rt, w, func(s *trace.Span) Decision {
			if o.Predicate.Match(s.Node, s.Thread) {
				return showDecision
			}
			return Decision{}
		})
	case StructuredOptions:
		roots = buildTree(rt, w, o.decide)
	case MergeOptions:
		roots = mergeSiblings(buildTree(rt, w, nil))
	case GapOptions:
		roots = insertGaps(buildTree(rt, w, nil), w, o.MinGap)
	default:
		res.Diagnostics = append(res.Diagnostics, trace.Diagnostic{
			Kind:    "unknown-mode",
			Message: fmt.Sprintf("mode %q has unsupported options %T", mode.Name, mode.Options),
		})
	}

	res.Spans = flatten(roots, w)
	return res
}

func excludedDiagnostics(rt *trace.RawTrace) []trace.Diagnostic {
	var out []trace.Diagnostic
	for _, d := range rt.Diagnostics() {
		switch d.Kind {
		case trace.DiagMissingStart, trace.DiagExcludedSubtree, trace.DiagCycle:
			out = append(out, d)
		}
	}
	return out
}

// IDs returns the row ids in order.
func IDs(spans []RenderableSpan) []string {
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.ID
	}
	return out
}

// Outline renders rows as an indented text tree, one row per line.
func Outline(spans []RenderableSpan) string {
	var b strings.Builder
	for _, s := range spans {
		b.WriteString(strings.Repeat("  ", s.Depth))
		b.WriteString(s.Name)
		fmt.Fprintf(&b, " [%d, %d] (%s)", s.Start, s.End, s.ID)
		if s.HasHiddenChildren {
			b.WriteString(" +")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

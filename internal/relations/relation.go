// Package relations finds causal links between spans that the parent and
// child hierarchy does not express, such as a request on one node and
// the span that handles it on another.
//
// A Relation pairs a from selector with a to selector and optional
// attribute constraints. A View names the relations that are active at
// once. Find evaluates a view over a raw trace and Index answers which
// relations leave or enter a given span.
package relations

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/Mr-Dark-debug/traviz/internal/modes"
	"github.com/Mr-Dark-debug/traviz/internal/trace"
)

// AttributeOp compares an attribute of the from span with one of the to
// span.
type AttributeOp string

const (
	// AttrEqual requires both values to have the same text.
	AttrEqual AttributeOp = "equal"
	// AttrOneGreater requires both to be integers with to == from+1.
	AttrOneGreater AttributeOp = "one_greater"
)

// AttributeLink constrains a pair of attributes. A missing attribute on
// either side fails the link.
type AttributeLink struct {
	From string      `json:"from" mapstructure:"from"`
	To   string      `json:"to" mapstructure:"to"`
	Op   AttributeOp `json:"op" mapstructure:"op"`
}

func (l AttributeLink) matches(from, to *trace.Span) bool {
	fv, ok := from.Attributes[l.From]
	if !ok {
		return false
	}
	tv, ok := to.Attributes[l.To]
	if !ok {
		return false
	}
	switch l.Op {
	case AttrEqual, "":
		return fv.Text() == tv.Text()
	case AttrOneGreater:
		f, err := strconv.ParseInt(fv.Text(), 10, 64)
		if err != nil {
			return false
		}
		t, err := strconv.ParseInt(tv.Text(), 10, 64)
		if err != nil {
			return false
		}
		return f+1 == t && f+1 > f
	default:
		return false
	}
}

// NodeScope restricts the nodes of the two ends.
type NodeScope string

const (
	AllNodes      NodeScope = "all_nodes"
	SameNode      NodeScope = "same_node"
	DifferentNode NodeScope = "different_node"
)

// MatchType says how many to spans one from span links to.
type MatchType string

const (
	// MatchAll links every qualifying to span.
	MatchAll MatchType = "all"
	// MatchClosest links only the earliest qualifying to span.
	MatchClosest MatchType = "closest"
)

// Relation links a from span to every to span that starts after it ends
// and satisfies the selectors, attribute links and node scope.
type Relation struct {
	Name        string          `json:"name" mapstructure:"name"`
	Description string          `json:"description,omitempty" mapstructure:"description"`
	From        modes.Selector  `json:"from" mapstructure:"from"`
	To          modes.Selector  `json:"to" mapstructure:"to"`
	Attributes  []AttributeLink `json:"attributes,omitempty" mapstructure:"attributes"`
	// MaxTimeDiff bounds the distance between the two start times. Zero
	// means unbounded.
	MaxTimeDiff time.Duration `json:"max_time_diff,omitempty" mapstructure:"max_time_diff"`
	Nodes       NodeScope     `json:"nodes,omitempty" mapstructure:"nodes"`
	Match       MatchType     `json:"match,omitempty" mapstructure:"match"`
}

// Matches reports whether from and to satisfy everything but timing.
func (r *Relation) Matches(from, to *trace.Span) bool {
	if !r.From.Matches(from) || !r.To.Matches(to) {
		return false
	}
	for _, l := range r.Attributes {
		if !l.matches(from, to) {
			return false
		}
	}
	switch r.Nodes {
	case SameNode:
		return from.Node == to.Node
	case DifferentNode:
		return from.Node != to.Node
	}
	return true
}

// Validate checks the name, conditions and enumerations.
func (r *Relation) Validate() error {
	if r.Name == "" {
		return errors.New("relation has no name")
	}
	if err := r.From.Validate(); err != nil {
		return fmt.Errorf("relation %s: from: %w", r.Name, err)
	}
	if err := r.To.Validate(); err != nil {
		return fmt.Errorf("relation %s: to: %w", r.Name, err)
	}
	for i, l := range r.Attributes {
		if l.From == "" || l.To == "" {
			return fmt.Errorf("relation %s: attribute link %d needs both attribute names", r.Name, i)
		}
		switch l.Op {
		case "", AttrEqual, AttrOneGreater:
		default:
			return fmt.Errorf("relation %s: unknown attribute op %q", r.Name, l.Op)
		}
	}
	if r.MaxTimeDiff < 0 {
		return fmt.Errorf("relation %s: negative max_time_diff", r.Name)
	}
	switch r.Nodes {
	case "", AllNodes, SameNode, DifferentNode:
	default:
		return fmt.Errorf("relation %s: unknown node scope %q", r.Name, r.Nodes)
	}
	switch r.Match {
	case "", MatchAll, MatchClosest:
	default:
		return fmt.Errorf("relation %s: unknown match type %q", r.Name, r.Match)
	}
	return nil
}

// Instance is one found relation between two spans.
type Instance struct {
	Relation string `json:"relation"`
	From     string `json:"from"`
	To       string `json:"to"`
	// Delay is the time from the end of From to the start of To.
	Delay trace.Time `json:"delay_ns"`
}

// Find evaluates rels over every span of rt. Spans are grouped by name
// and ordered by start; for each from span the candidates are the to
// spans starting at or after its end. Results follow the order of rels,
// then from name, to name and from span start.
func Find(rt *trace.RawTrace, rels []Relation) []Instance {
	byName := make(map[string][]*trace.Span)
	for _, s := range rt.Spans() {
		byName[s.Name] = append(byName[s.Name], s)
	}
	names := make([]string, 0, len(byName))
	for name, spans := range byName {
		names = append(names, name)
		sort.SliceStable(spans, func(i, j int) bool {
			if spans[i].Start != spans[j].Start {
				return spans[i].Start < spans[j].Start
			}
			return spans[i].ID < spans[j].ID
		})
	}
	sort.Strings(names)

	var out []Instance
	for i := range rels {
		r := &rels[i]
		var fromNames, toNames []string
		for _, name := range names {
			if r.From.Name.Matches(name) {
				fromNames = append(fromNames, name)
			}
			if r.To.Name.Matches(name) {
				toNames = append(toNames, name)
			}
		}
		for _, fn := range fromNames {
			for _, tn := range toNames {
				out = r.link(out, byName[fn], byName[tn])
			}
		}
	}
	return out
}

func (r *Relation) link(out []Instance, froms, tos []*trace.Span) []Instance {
	for _, from := range froms {
		first := sort.Search(len(tos), func(i int) bool { return tos[i].Start >= from.End })
		for _, to := range tos[first:] {
			if r.MaxTimeDiff > 0 && to.Start-from.Start > trace.Time(r.MaxTimeDiff) {
				break
			}
			if to == from || !r.Matches(from, to) {
				continue
			}
			out = append(out, Instance{Relation: r.Name, From: from.ID, To: to.ID, Delay: to.Start - from.End})
			if r.Match == MatchClosest {
				break
			}
		}
	}
	return out
}

// Index looks up instances by span.
type Index struct {
	all      []Instance
	outgoing map[string][]int
	incoming map[string][]int
}

// NewIndex indexes instances by their from and to spans.
func NewIndex(instances []Instance) *Index {
	ix := &Index{
		all:      instances,
		outgoing: make(map[string][]int),
		incoming: make(map[string][]int),
	}
	for i, in := range instances {
		ix.outgoing[in.From] = append(ix.outgoing[in.From], i)
		ix.incoming[in.To] = append(ix.incoming[in.To], i)
	}
	return ix
}

// All returns every instance in discovery order.
func (ix *Index) All() []Instance {
	if ix == nil {
		return nil
	}
	return ix.all
}

// Len is the number of instances.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.all)
}

// Outgoing returns the instances that start at span id.
func (ix *Index) Outgoing(id string) []Instance {
	if ix == nil {
		return nil
	}
	return ix.pick(ix.outgoing[id])
}

// Incoming returns the instances that end at span id.
func (ix *Index) Incoming(id string) []Instance {
	if ix == nil {
		return nil
	}
	return ix.pick(ix.incoming[id])
}

func (ix *Index) pick(idx []int) []Instance {
	if len(idx) == 0 {
		return nil
	}
	out := make([]Instance, len(idx))
	for i, n := range idx {
		out[i] = ix.all[n]
	}
	return out
}

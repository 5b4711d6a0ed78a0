// Package trace holds the in-memory model of one loaded trace.
//
// A RawTrace is built once from deserialized span records and is
// read-only afterwards. All timestamps are unix nanoseconds.
package trace

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Time is a point on the shared trace clock in unix nanoseconds.
type Time int64

// FromMillis converts a unix millisecond timestamp.
func FromMillis(ms int64) Time {
	return Time(ms * int64(time.Millisecond))
}

// Millis truncates t to unix milliseconds.
func (t Time) Millis() int64 {
	return int64(t) / int64(time.Millisecond)
}

// Std returns t as a time.Time.
func (t Time) Std() time.Time {
	return time.Unix(0, int64(t))
}

// Window is a closed time interval.
type Window struct {
	Start Time `json:"start"`
	End   Time `json:"end"`
}

// Width returns End - Start.
func (w Window) Width() Time { return w.End - w.Start }

// Valid reports whether Start < End.
func (w Window) Valid() bool { return w.Start < w.End }

// Overlaps reports whether [start, end] intersects w. Touching bounds count.
func (w Window) Overlaps(start, end Time) bool {
	return start <= w.End && end >= w.Start
}

// Contains reports whether o lies entirely inside w.
func (w Window) Contains(o Window) bool {
	return o.Start >= w.Start && o.End <= w.End
}

// Clip restricts [start, end] to w. Intervals outside w collapse onto
// the nearest bound.
func (w Window) Clip(start, end Time) (Time, Time) {
	start = clampTime(start, w.Start, w.End)
	end = clampTime(end, w.Start, w.End)
	return start, end
}

func (w Window) String() string {
	return fmt.Sprintf("[%d, %d]", w.Start, w.End)
}

func clampTime(t, lo, hi Time) Time {
	if t < lo {
		return lo
	}
	if t > hi {
		return hi
	}
	return t
}

// ValueKind tags the type held by a Value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
	KindFloat
	KindBool
)

// Value is an attribute value: a string, number or bool.
type Value struct {
	Kind  ValueKind
	Str   string
	Int   int64
	Float float64
	Bool  bool
}

func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func IntValue(i int64) Value { return Value{Kind: KindInt, Int: i} }
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Text renders the value the way it is shown and matched.
func (v Value) Text() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return v.Str
	}
}

// Attributes maps keys to values.
type Attributes map[string]Value

// Keys returns the attribute keys in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Event is a point-in-time record attached to a span.
type Event struct {
	Time       Time
	Name       string
	Attributes Attributes
}

// Record is one deserialized span as produced by a trace file parser.
// A nil Start marks a malformed record; a nil End marks a span that was
// still open at capture time.
type Record struct {
	ID         string
	ParentID   string
	TraceID    string
	Node       string
	Thread     string
	Name       string
	Start      *Time
	End        *Time
	Attributes Attributes
	Events     []Event
}

// Span is a resolved span inside a RawTrace.
type Span struct {
	ID         string
	ParentID   string
	TraceID    string
	Node       string
	Thread     string
	Name       string
	Start      Time
	End        Time
	Attributes Attributes
	Events     []Event

	// Open is set when the record had no end time; End is then the
	// maximum timestamp observed in the trace.
	Open bool
	// Orphan is set when ParentID names a span that is not in the trace.
	// Such spans are promoted to roots.
	Orphan bool

	// SubtreeStart and SubtreeEnd bound the span and all its descendants.
	SubtreeStart Time
	SubtreeEnd   Time

	parent   *Span
	children []*Span
	depth    int
}

// Duration returns End - Start.
func (s *Span) Duration() Time { return s.End - s.Start }

// Parent returns the enclosing span, or nil for roots (including orphans).
func (s *Span) Parent() *Span { return s.parent }

// Children returns the direct children ordered by (Start, ID).
func (s *Span) Children() []*Span { return s.children }

// Depth is 0 for roots.
func (s *Span) Depth() int { return s.depth }

// Extent returns the span's own interval.
func (s *Span) Extent() Window { return Window{Start: s.Start, End: s.End} }

// spanLess orders spans by start time, ties broken by id.
func spanLess(a, b *Span) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.ID < b.ID
}

func sortSpans(spans []*Span) {
	sort.SliceStable(spans, func(i, j int) bool { return spanLess(spans[i], spans[j]) })
}

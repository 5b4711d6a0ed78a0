package session

import (
	"time"

	"github.com/Mr-Dark-debug/traviz/internal/modes"
	"github.com/Mr-Dark-debug/traviz/internal/trace"
)

// Attr is one attribute line of the detail panel.
type Attr struct {
	Key   string
	Value string
}

// Detail describes the selected row. Times are offsets from trace start.
type Detail struct {
	ID     string
	Name   string
	Kind   modes.Kind
	Node   string
	Thread string

	Start    trace.Time
	End      trace.Time
	Duration trace.Time
	Open     bool
	Orphan   bool

	Attributes []Attr
	Events     []trace.Event
	// SubtreeEvents counts events of the span and all its descendants.
	SubtreeEvents int
	// Sources lists the raw spans behind a synthetic row.
	Sources []string
	// Diagnostics concerning this span.
	Diagnostics []trace.Diagnostic
	// Outgoing and Incoming list the relations of the active view that
	// leave or enter the row's spans.
	Outgoing []Link
	Incoming []Link
}

// SelectedDetail returns the detail of the selected row.
func (s *Session) SelectedDetail() (*Detail, bool) {
	id, ok := s.ui.Selected()
	if !ok {
		return nil, false
	}
	return s.Detail(id)
}

// Detail describes row id: a raw span, or a synthetic row of the last
// frame.
func (s *Session) Detail(id string) (*Detail, bool) {
	if s.rt == nil {
		return nil, false
	}
	origin := s.rt.Bounds().Start

	if sp, ok := s.rt.Span(id); ok {
		d := &Detail{
			ID:       sp.ID,
			Name:     sp.Name,
			Kind:     modes.KindRaw,
			Node:     sp.Node,
			Thread:   sp.Thread,
			Start:    sp.Start - origin,
			End:      sp.End - origin,
			Duration: sp.Duration(),
			Open:     sp.Open,
			Orphan:   sp.Orphan,
			Events:   sp.Events,
			Sources:  []string{sp.ID},
		}
		for _, k := range sp.Attributes.Keys() {
			d.Attributes = append(d.Attributes, Attr{Key: k, Value: sp.Attributes[k].Text()})
		}
		d.SubtreeEvents = subtreeEvents(sp)
		for _, diag := range s.rt.Diagnostics() {
			if diag.SpanID == sp.ID {
				d.Diagnostics = append(d.Diagnostics, diag)
			}
		}
		d.Outgoing, d.Incoming = s.links(d.Sources)
		return d, true
	}

	row, ok := s.lastRows[id]
	if !ok {
		return nil, false
	}
	d := &Detail{
		ID:       row.ID,
		Name:     row.Name,
		Kind:     row.Kind,
		Node:     row.Node,
		Thread:   row.Thread,
		Start:    row.FullStart - origin,
		End:      row.FullEnd - origin,
		Duration: row.FullEnd - row.FullStart,
		Open:     row.Open,
		Orphan:   row.Orphan,
		Sources:  row.Sources,
	}
	for _, src := range row.Sources {
		if sp, ok := s.rt.Span(src); ok {
			d.Events = append(d.Events, sp.Events...)
			d.SubtreeEvents += subtreeEvents(sp)
		}
	}
	d.Outgoing, d.Incoming = s.links(row.Sources)
	return d, true
}

func subtreeEvents(sp *trace.Span) int {
	n := len(sp.Events)
	for _, c := range sp.Children() {
		n += subtreeEvents(c)
	}
	return n
}

// Summary is a concurrency-safe snapshot of the session, served by the
// status endpoint.
type Summary struct {
	Source      string       `json:"source"`
	Generation  uint64       `json:"generation"`
	Spans       int          `json:"spans"`
	Diagnostics int          `json:"diagnostics"`
	Bounds      trace.Window `json:"bounds"`
	Window      trace.Window `json:"window"`
	Mode        string       `json:"mode"`
	Filter      string       `json:"filter"`
	Relations   string       `json:"relation_view"`
	Loading     bool         `json:"loading"`
	LoadedAt    *time.Time   `json:"loaded_at,omitempty"`
}

// Summary returns the latest snapshot. Safe for concurrent use.
func (s *Session) Summary() Summary { return *s.summary.Load() }

func (s *Session) publish() {
	sum := &Summary{
		Source:     s.source,
		Generation: s.generation,
		Bounds:     s.vp.Bounds(),
		Window:     s.vp.Window(),
		Mode:       s.mode.Name,
		Filter:     s.FilterName(),
		Relations:  s.RelationView(),
		Loading:    s.Loading(),
	}
	if s.rt != nil {
		sum.Spans = s.rt.Len()
		sum.Diagnostics = len(s.rt.Diagnostics())
		at := s.loadedAt
		sum.LoadedAt = &at
	}
	s.summary.Store(sum)
}

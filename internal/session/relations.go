package session

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Mr-Dark-debug/traviz/internal/relations"
	"github.com/Mr-Dark-debug/traviz/internal/trace"
)

// Link is one relation seen from a detail row: the span at the other end
// and the relation that joins them.
type Link struct {
	Relation string
	SpanID   string
	Name     string
	Node     string
	Delay    trace.Time
}

// RelationView returns the name of the active relation view.
func (s *Session) RelationView() string { return s.rels.Views()[s.relView].Name }

// RelationViews lists the available relation views.
func (s *Session) RelationViews() []relations.View { return s.rels.Views() }

// SetRelationView activates a relation view by name.
func (s *Session) SetRelationView(name string) error {
	for i, v := range s.rels.Views() {
		if v.Name == name {
			s.relView = i
			s.relIndex = nil
			return nil
		}
	}
	return fmt.Errorf("%q: %w", name, relations.ErrUnknownView)
}

// CycleRelationView moves delta positions through the relation views.
func (s *Session) CycleRelationView(delta int) string {
	n := len(s.rels.Views())
	s.relView = ((s.relView+delta)%n + n) % n
	s.relIndex = nil
	return s.RelationView()
}

// Relations returns the relations of the active view over the loaded
// trace. They are found once per load and view.
func (s *Session) Relations() *relations.Index {
	if s.rt == nil {
		return nil
	}
	if s.relIndex != nil && s.relGen == s.generation {
		return s.relIndex
	}
	found, err := s.rels.Find(s.rt, s.RelationView())
	if err != nil {
		s.logger.Warn("finding relations failed", zap.String("view", s.RelationView()), zap.Error(err))
	}
	s.relIndex = relations.NewIndex(found)
	s.relGen = s.generation
	s.logger.Debug("relations found",
		zap.String("view", s.RelationView()),
		zap.Int("instances", s.relIndex.Len()))
	return s.relIndex
}

// links resolves the relations touching any of sources.
func (s *Session) links(sources []string) (out, in []Link) {
	ix := s.Relations()
	if ix.Len() == 0 {
		return nil, nil
	}
	for _, id := range sources {
		for _, r := range ix.Outgoing(id) {
			out = append(out, s.link(r, r.To))
		}
		for _, r := range ix.Incoming(id) {
			in = append(in, s.link(r, r.From))
		}
	}
	return out, in
}

func (s *Session) link(r relations.Instance, other string) Link {
	l := Link{Relation: r.Relation, SpanID: other, Delay: r.Delay}
	if sp, ok := s.rt.Span(other); ok {
		l.Name, l.Node = sp.Name, sp.Node
	}
	return l
}

// Linked reports whether any source span has a relation in the active
// view.
func (s *Session) Linked(sources []string) bool {
	ix := s.Relations()
	if ix.Len() == 0 {
		return false
	}
	for _, id := range sources {
		if len(ix.Outgoing(id)) > 0 || len(ix.Incoming(id)) > 0 {
			return true
		}
	}
	return false
}

// FollowRelation selects the span at the other end of the first outgoing
// (or incoming) relation of the selected row and moves the window, keeping
// its width, so that span is in view. It returns the new selection.
func (s *Session) FollowRelation(outgoing bool) (string, bool) {
	d, ok := s.SelectedDetail()
	if !ok {
		return "", false
	}
	links := d.Incoming
	if outgoing {
		links = d.Outgoing
	}
	if len(links) == 0 {
		return "", false
	}
	target, ok := s.rt.Span(links[0].SpanID)
	if !ok {
		return "", false
	}
	s.ui.Select(target.ID)

	w := s.vp.Window()
	if !w.Overlaps(target.Start, target.End) {
		half := w.Width() / 2
		s.vp.SetWindow(trace.Window{Start: target.Start - half, End: target.Start - half + w.Width()})
	}
	return target.ID, true
}

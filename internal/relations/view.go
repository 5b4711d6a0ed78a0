package relations

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Mr-Dark-debug/traviz/internal/trace"
)

// Names of the views every Set provides.
const (
	NoRelationsView  = "No relations"
	AllRelationsView = "All relations"
)

var (
	// ErrUnknownRelation is returned when a view names an undefined relation.
	ErrUnknownRelation = errors.New("unknown relation")
	// ErrUnknownView is returned for a view name that is not defined.
	ErrUnknownView = errors.New("unknown relation view")
)

// View is a named selection of relations shown together.
type View struct {
	Name      string   `json:"name" mapstructure:"name"`
	Relations []string `json:"relations" mapstructure:"relations"`
	Builtin   bool     `json:"-" mapstructure:"-"`
}

// Validate checks the name.
func (v *View) Validate() error {
	if v.Name == "" {
		return errors.New("relation view has no name")
	}
	return nil
}

// Set holds the defined relations and the views over them. Names are
// unique; a later definition replaces an earlier one of the same name.
type Set struct {
	relations []Relation
	byName    map[string]int
	views     []View
}

// NewSet builds a set from rels and views. The built-in views come first
// and cannot be replaced. A view naming an undefined relation is an
// error.
func NewSet(rels []Relation, views []View) (*Set, error) {
	s := &Set{byName: make(map[string]int)}
	for _, r := range rels {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if i, ok := s.byName[r.Name]; ok {
			s.relations[i] = r
			continue
		}
		s.byName[r.Name] = len(s.relations)
		s.relations = append(s.relations, r)
	}

	s.views = []View{
		{Name: NoRelationsView, Relations: []string{}, Builtin: true},
		{Name: AllRelationsView, Relations: s.Names(), Builtin: true},
	}
	for _, v := range views {
		if err := v.Validate(); err != nil {
			return nil, err
		}
		for _, name := range v.Relations {
			if _, ok := s.byName[name]; !ok {
				return nil, fmt.Errorf("view %s: %q: %w", v.Name, name, ErrUnknownRelation)
			}
		}
		i := s.viewIndex(v.Name)
		switch {
		case i < 0:
			s.views = append(s.views, v)
		case s.views[i].Builtin:
			return nil, fmt.Errorf("view %s is built in", v.Name)
		default:
			s.views[i] = v
		}
	}
	return s, nil
}

// Relation returns the relation called name.
func (s *Set) Relation(name string) (Relation, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Relation{}, false
	}
	return s.relations[i], true
}

// Relations returns every relation in definition order.
func (s *Set) Relations() []Relation {
	return append([]Relation(nil), s.relations...)
}

// Names returns the relation names, sorted.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.relations))
	for _, r := range s.relations {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}

// Views returns every view, built-in ones first.
func (s *Set) Views() []View {
	return append([]View(nil), s.views...)
}

// View returns the view called name.
func (s *Set) View(name string) (View, bool) {
	if i := s.viewIndex(name); i >= 0 {
		return s.views[i], true
	}
	return View{}, false
}

func (s *Set) viewIndex(name string) int {
	for i, v := range s.views {
		if v.Name == name {
			return i
		}
	}
	return -1
}

// Find evaluates the relations of view over rt.
func (s *Set) Find(rt *trace.RawTrace, view string) ([]Instance, error) {
	v, ok := s.View(view)
	if !ok {
		return nil, fmt.Errorf("%q: %w", view, ErrUnknownView)
	}
	if rt == nil || len(v.Relations) == 0 {
		return nil, nil
	}
	rels := make([]Relation, 0, len(v.Relations))
	for _, name := range v.Relations {
		r, ok := s.Relation(name)
		if !ok {
			return nil, fmt.Errorf("view %s: %q: %w", v.Name, name, ErrUnknownRelation)
		}
		rels = append(rels, r)
	}
	return Find(rt, rels), nil
}

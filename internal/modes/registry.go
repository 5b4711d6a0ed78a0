package modes

import (
	"errors"
	"fmt"

	"github.com/Mr-Dark-debug/traviz/internal/trace"
)

var (
	ErrDuplicateMode = errors.New("duplicate mode name")
	ErrUnknownMode   = errors.New("unknown mode")
)

// Names of the built-in modes.
const (
	ModeEverything = "Everything"
	ModeFiltered   = "Filtered"
	ModeMerged     = "Merged"
	ModeGaps       = "Gaps"
)

// BuiltinModes returns the fixed mode table. minGap configures the gap mode.
func BuiltinModes(minGap trace.Time) []Mode {
	return []Mode{
		{Name: ModeEverything, Options: IdentityOptions{}},
		{Name: ModeFiltered, Options: FilterOptions{Predicate: ShowAll()}},
		{Name: ModeMerged, Options: MergeOptions{}},
		{Name: ModeGaps, Options: GapOptions{MinGap: minGap}},
	}
}

// Registry is an ordered table of modes addressable by name.
type Registry struct {
	modes  []Mode
	byName map[string]int
}

// NewRegistry builds a registry; names must be unique and non-empty.
func NewRegistry(modes ...Mode) (*Registry, error) {
	r := &Registry{byName: make(map[string]int, len(modes))}
	for _, m := range modes {
		if err := r.add(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(m Mode) error {
	if m.Name == "" {
		return fmt.Errorf("registering mode: empty name")
	}
	if _, dup := r.byName[m.Name]; dup {
		return fmt.Errorf("registering %q: %w", m.Name, ErrDuplicateMode)
	}
	if so, ok := m.Options.(StructuredOptions); ok {
		if err := so.Validate(); err != nil {
			return fmt.Errorf("registering %q: %w", m.Name, err)
		}
	}
	r.byName[m.Name] = len(r.modes)
	r.modes = append(r.modes, m)
	return nil
}

// Len returns the number of registered modes.
func (r *Registry) Len() int { return len(r.modes) }

// Names lists the modes in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.modes))
	for i, m := range r.modes {
		out[i] = m.Name
	}
	return out
}

// Get looks a mode up by name.
func (r *Registry) Get(name string) (Mode, error) {
	i, ok := r.byName[name]
	if !ok {
		return Mode{}, fmt.Errorf("%q: %w", name, ErrUnknownMode)
	}
	return r.modes[i], nil
}

// Cycle returns the mode delta positions after name, wrapping around.
func (r *Registry) Cycle(name string, delta int) Mode {
	if len(r.modes) == 0 {
		return Mode{Name: ModeEverything, Options: IdentityOptions{}}
	}
	i := r.byName[name]
	n := len(r.modes)
	return r.modes[((i+delta)%n+n)%n]
}

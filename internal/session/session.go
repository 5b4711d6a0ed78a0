// Package session owns one loaded trace together with its viewport,
// interaction state and active display mode, and runs the per-frame render
// pipeline.
//
// Loading happens in the background: BeginLoad hands out a ticket, the
// caller runs the load with the ticket's context, and Complete installs
// the result unless a newer load superseded it. Until then the previous
// trace stays renderable.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/Mr-Dark-debug/traviz/internal/interaction"
	"github.com/Mr-Dark-debug/traviz/internal/modes"
	"github.com/Mr-Dark-debug/traviz/internal/relations"
	"github.com/Mr-Dark-debug/traviz/internal/trace"
	"github.com/Mr-Dark-debug/traviz/internal/viewport"
)

// ErrStaleLoad is returned by Complete for a ticket superseded by a newer
// BeginLoad.
var ErrStaleLoad = errors.New("load superseded by a newer request")

// Observer receives session events; telemetry implements it.
type Observer interface {
	LoadStarted(source string)
	LoadFinished(source string, spans int, elapsed time.Duration, err error)
	LoadDiscarded(source string)
	Rendered(elapsed time.Duration, spans, diagnostics int)
}

type nopObserver struct{}

func (nopObserver) LoadStarted(string) {}
func (nopObserver) LoadFinished(string, int, time.Duration, error) {}
func (nopObserver) LoadDiscarded(string) {}
func (nopObserver) Rendered(time.Duration, int, int) {}

// Options configures a session.
type Options struct {
	Viewport viewport.Config
	// InitialFraction is the share of the trace selected after a load.
	InitialFraction float64
	Registry        *modes.Registry
	DefaultMode     string
	Filters         []modes.NodeFilter
	// Relations and their views; nil offers only the built-in views.
	Relations           *relations.Set
	DefaultRelationView string
	// CacheEntries bounds the render cache; zero disables it.
	CacheEntries int64
	Logger       *zap.Logger
	Observer     Observer
}

// Session is the single owner of the trace and all view state. Apart from
// Summary, its methods must be called from the UI loop.
type Session struct {
	opts     Options
	logger   *zap.Logger
	observer Observer

	rt         *trace.RawTrace
	source     string
	generation uint64
	loadedAt   time.Time

	vp     *viewport.Controller
	ui     *interaction.State
	reg    *modes.Registry
	mode   modes.Mode
	filter int

	rels     *relations.Set
	relView  int
	relIndex *relations.Index
	relGen   uint64

	cache    *ristretto.Cache
	lastRows map[string]modes.RenderableSpan

	mu      sync.Mutex
	seq     uint64
	pending *Ticket

	summary atomic.Pointer[Summary]
}

// New creates an empty session.
func New(opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.InitialFraction <= 0 || opts.InitialFraction > 1 {
		opts.InitialFraction = 1
	}
	if len(opts.Filters) == 0 {
		opts.Filters = modes.BuiltinFilters()
	}
	if opts.Registry == nil {
		reg, err := modes.NewRegistry(modes.BuiltinModes(trace.Time(time.Millisecond))...)
		if err != nil {
			return nil, err
		}
		opts.Registry = reg
	}

	if opts.Relations == nil {
		set, err := relations.NewSet(nil, nil)
		if err != nil {
			return nil, err
		}
		opts.Relations = set
	}

	s := &Session{
		opts:     opts,
		logger:   opts.Logger,
		observer: opts.Observer,
		ui:       interaction.New(),
		reg:      opts.Registry,
		rels:     opts.Relations,
	}
	s.mode = s.reg.Cycle("", 0)
	if opts.DefaultMode != "" {
		m, err := s.reg.Get(opts.DefaultMode)
		if err != nil {
			return nil, fmt.Errorf("default mode: %w", err)
		}
		s.mode = m
	}
	if opts.DefaultRelationView != "" {
		if err := s.SetRelationView(opts.DefaultRelationView); err != nil {
			return nil, fmt.Errorf("default relation view: %w", err)
		}
	}

	if opts.CacheEntries > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: opts.CacheEntries * 10,
			MaxCost:     opts.CacheEntries,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("creating render cache: %w", err)
		}
		s.cache = cache
	}

	empty := trace.Window{Start: 0, End: 1}
	s.vp = viewport.NewController(opts.Viewport, empty, empty, 0, 0)
	s.publish()
	return s, nil
}

// Close releases the render cache and cancels a pending load.
func (s *Session) Close() {
	s.CancelLoad()
	if s.cache != nil {
		s.cache.Close()
	}
}

// Trace returns the loaded trace, or nil.
func (s *Session) Trace() *trace.RawTrace { return s.rt }

// Source describes where the loaded trace came from.
func (s *Session) Source() string { return s.source }

// Generation counts successful loads.
func (s *Session) Generation() uint64 { return s.generation }

// Viewport returns the viewport controller.
func (s *Session) Viewport() *viewport.Controller { return s.vp }

// Interaction returns the span UI state.
func (s *Session) Interaction() *interaction.State { return s.ui }

// Registry returns the mode registry.
func (s *Session) Registry() *modes.Registry { return s.reg }

// initialWindow selects the configured leading share of bounds.
func (s *Session) initialWindow(b trace.Window) trace.Window {
	w := b
	if f := s.opts.InitialFraction; f < 1 {
		w.End = b.Start + trace.Time(float64(b.Width())*f)
	}
	return w
}

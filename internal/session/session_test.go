package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mr-Dark-debug/traviz/internal/modes"
	"github.com/Mr-Dark-debug/traviz/internal/trace"
	"github.com/Mr-Dark-debug/traviz/internal/viewport"
)

func tp(v trace.Time) *trace.Time { return &v }

func rec(id, parent, name string, start, end trace.Time) trace.Record {
	return trace.Record{ID: id, ParentID: parent, Name: name, Node: "n1", Start: tp(start), End: tp(end)}
}

// scenarioTrace is R[0,100] with children C1[10,50] and C2[60,90].
func scenarioTrace() *trace.RawTrace {
	r := rec("R", "", "root", 0, 100)
	c1 := rec("C1", "R", "first", 10, 50)
	c1.Events = []trace.Event{{Time: 20, Name: "e1"}}
	c2 := rec("C2", "R", "second", 60, 90)
	c2.Events = []trace.Event{{Time: 70, Name: "e2"}, {Time: 80, Name: "e3"}}
	r.Attributes = trace.Attributes{"shard_id": trace.IntValue(2)}
	return trace.Build([]trace.Record{r, c1, c2})
}

func loaded(rt *trace.RawTrace) LoadFunc {
	return func(context.Context) (*trace.RawTrace, error) { return rt, nil }
}

type recorder struct {
	mu        sync.Mutex
	started   int
	finished  int
	failed    int
	discarded int
	renders   int
}

func (r *recorder) LoadStarted(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recorder) LoadFinished(_ string, _ int, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished++
	if err != nil {
		r.failed++
	}
}

func (r *recorder) LoadDiscarded(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discarded++
}

func (r *recorder) Rendered(time.Duration, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders++
}

func newSession(t *testing.T, opts Options) *Session {
	t.Helper()
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// TestFrameScenario checks the window and collapse scenarios end to end.
func TestFrameScenario(t *testing.T) {
	s := newSession(t, Options{CacheEntries: 64})
	assert.Empty(t, s.Frame().Rows, "nothing loaded")

	require.NoError(t, s.Load(context.Background(), "scenario", loaded(scenarioTrace())))
	f := s.Frame()
	require.Equal(t, []string{"R", "C1", "C2"}, modes.IDs(f.Rows))
	assert.Equal(t, []int{0, 1, 1}, []int{f.Rows[0].Depth, f.Rows[1].Depth, f.Rows[2].Depth})
	assert.Equal(t, trace.Window{Start: 0, End: 100}, f.Window)

	s.Viewport().SetWindow(trace.Window{Start: 70, End: 100})
	f = s.Frame()
	require.Equal(t, []string{"R", "C2"}, modes.IDs(f.Rows))
	assert.Equal(t, trace.Time(70), f.Rows[0].Start)
	assert.Equal(t, trace.Time(90), f.Rows[1].End)

	s.Viewport().SetWindow(trace.Window{Start: 0, End: 100})
	require.True(t, s.Click("R", viewport.ButtonMiddle))
	f = s.Frame()
	require.Equal(t, []string{"R"}, modes.IDs(f.Rows))
	assert.True(t, f.Rows[0].HasHiddenChildren)

	s.Click("R", viewport.ButtonMiddle)
	assert.Equal(t, []string{"R", "C1", "C2"}, modes.IDs(s.Frame().Rows))
	assert.False(t, s.Click("", viewport.ButtonLeft))
	assert.False(t, s.Click("R", viewport.ButtonRight))
}

// TestModeSwitchKeepsState checks that switching modes leaves the window
// and the interaction state alone.
func TestModeSwitchKeepsState(t *testing.T) {
	s := newSession(t, Options{})
	require.NoError(t, s.Load(context.Background(), "scenario", loaded(scenarioTrace())))
	s.Viewport().SetWindow(trace.Window{Start: 5, End: 95})
	s.Click("C1", viewport.ButtonLeft)
	s.Click("R", viewport.ButtonMiddle)

	next := s.CycleMode(1)
	assert.Equal(t, modes.ModeFiltered, next.Name)
	assert.Equal(t, trace.Window{Start: 5, End: 95}, s.Viewport().Window())
	sel, ok := s.Interaction().Selected()
	require.True(t, ok)
	assert.Equal(t, "C1", sel)
	assert.True(t, s.Interaction().IsCollapsed("R"))

	assert.Equal(t, modes.ModeEverything, s.CycleMode(-1).Name)
	require.NoError(t, s.SetMode(modes.ModeGaps))
	assert.Equal(t, modes.ModeGaps, s.Frame().Mode)
	assert.ErrorIs(t, s.SetMode("nope"), modes.ErrUnknownMode)
}

// TestFilterSelection checks that the node filter drives filtered mode.
func TestFilterSelection(t *testing.T) {
	s := newSession(t, Options{DefaultMode: modes.ModeFiltered})
	require.NoError(t, s.Load(context.Background(), "scenario", loaded(scenarioTrace())))
	assert.Equal(t, "Show all", s.FilterName())
	assert.Len(t, s.Frame().Rows, 3)

	assert.Equal(t, "Show none", s.CycleFilter(1))
	f := s.Frame()
	assert.Empty(t, f.Rows)
	assert.Equal(t, "Show none", f.Filter)

	require.NoError(t, s.SetFilter("Show all"))
	assert.Len(t, s.Frame().Rows, 3)
	assert.Error(t, s.SetFilter("missing"))
}

// TestStaleLoadIsDiscarded checks that only the newest ticket installs.
func TestStaleLoadIsDiscarded(t *testing.T) {
	obs := &recorder{}
	s := newSession(t, Options{Observer: obs})

	first := s.BeginLoad(context.Background(), "first")
	second := s.BeginLoad(context.Background(), "second")
	assert.ErrorIs(t, first.Context().Err(), context.Canceled, "superseded load is cancelled")
	assert.True(t, s.Loading())

	other := trace.Build([]trace.Record{rec("X", "", "x", 0, 10)})
	err := s.Complete(first.Run(loaded(other)))
	require.ErrorIs(t, err, ErrStaleLoad)
	assert.Nil(t, s.Trace())

	require.NoError(t, s.Complete(second.Run(loaded(scenarioTrace()))))
	assert.Equal(t, "second", s.Source())
	assert.Equal(t, uint64(1), s.Generation())
	assert.False(t, s.Loading())
	assert.ErrorIs(t, second.Context().Err(), context.Canceled, "finished tickets release their context")

	assert.ErrorIs(t, s.Complete(second.Run(loaded(other))), ErrStaleLoad, "a ticket installs once")
	assert.Equal(t, 2, obs.started)
	assert.Equal(t, 1, obs.finished)
	assert.Equal(t, 2, obs.discarded)
}

// TestCancelLoad checks that a cancelled load cannot complete.
func TestCancelLoad(t *testing.T) {
	s := newSession(t, Options{})
	tk := s.BeginLoad(context.Background(), "slow")

	started := make(chan struct{})
	done := make(chan LoadResult)
	go func() {
		done <- tk.Run(func(ctx context.Context) (*trace.RawTrace, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
	}()
	<-started
	s.CancelLoad()
	res := <-done
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.ErrorIs(t, s.Complete(res), ErrStaleLoad)
	assert.False(t, s.Loading())
}

// TestFailedLoadKeepsTrace checks that an error leaves the old trace
// and view state in place.
func TestFailedLoadKeepsTrace(t *testing.T) {
	obs := &recorder{}
	s := newSession(t, Options{Observer: obs})
	require.NoError(t, s.Load(context.Background(), "good", loaded(scenarioTrace())))
	s.Viewport().SetWindow(trace.Window{Start: 20, End: 40})
	s.Click("C1", viewport.ButtonLeft)

	boom := errors.New("disk on fire")
	err := s.Load(context.Background(), "bad", func(context.Context) (*trace.RawTrace, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "loading bad")

	assert.Equal(t, "good", s.Source())
	assert.Equal(t, trace.Window{Start: 20, End: 40}, s.Viewport().Window())
	_, ok := s.Interaction().Selected()
	assert.True(t, ok)
	assert.Equal(t, 1, obs.failed)

	err = s.Load(context.Background(), "nil", func(context.Context) (*trace.RawTrace, error) { return nil, nil })
	assert.Error(t, err)
}

// TestNewLoadResetsViewState checks the swap resets interaction state,
// the viewport and cached renders.
func TestNewLoadResetsViewState(t *testing.T) {
	s := newSession(t, Options{CacheEntries: 16, InitialFraction: 0.5})
	require.NoError(t, s.Load(context.Background(), "a", loaded(scenarioTrace())))
	assert.Equal(t, trace.Window{Start: 0, End: 50}, s.Viewport().Window())
	s.Frame()
	s.Click("R", viewport.ButtonMiddle)
	s.Click("C2", viewport.ButtonLeft)

	next := trace.Build([]trace.Record{rec("R", "", "other-root", 1000, 2000)})
	require.NoError(t, s.Load(context.Background(), "b", loaded(next)))
	assert.False(t, s.Interaction().IsCollapsed("R"))
	_, ok := s.Interaction().Selected()
	assert.False(t, ok)
	assert.Equal(t, trace.Window{Start: 1000, End: 1500}, s.Viewport().Window())

	f := s.Frame()
	require.Len(t, f.Rows, 1)
	assert.Equal(t, "other-root", f.Rows[0].Name)
	assert.Equal(t, uint64(2), f.Generation)
}

// TestDetail checks raw and synthetic row details.
func TestDetail(t *testing.T) {
	s := newSession(t, Options{})
	_, ok := s.SelectedDetail()
	assert.False(t, ok)

	rt := trace.Build([]trace.Record{
		rec("P", "", "parent", 100, 200),
		rec("a", "P", "poll", 110, 120),
		rec("b", "P", "poll", 130, 140),
	})
	require.NoError(t, s.Load(context.Background(), "merge", loaded(rt)))
	s.Click("P", viewport.ButtonLeft)
	d, ok := s.SelectedDetail()
	require.True(t, ok)
	assert.Equal(t, trace.Time(0), d.Start)
	assert.Equal(t, trace.Time(100), d.End)
	assert.Equal(t, []string{"P"}, d.Sources)

	require.NoError(t, s.SetMode(modes.ModeMerged))
	f := s.Frame()
	require.Equal(t, []string{"P", "merge:a+2"}, modes.IDs(f.Rows))
	d, ok = s.Detail("merge:a+2")
	require.True(t, ok)
	assert.Equal(t, modes.KindMerged, d.Kind)
	assert.Equal(t, []string{"a", "b"}, d.Sources)
	assert.Equal(t, trace.Time(10), d.Start)
	assert.Equal(t, trace.Time(30), d.Duration)

	_, ok = s.Detail("nope")
	assert.False(t, ok)
}

// TestDetailCountsSubtreeEvents checks attributes and event totals.
func TestDetailCountsSubtreeEvents(t *testing.T) {
	s := newSession(t, Options{})
	require.NoError(t, s.Load(context.Background(), "scenario", loaded(scenarioTrace())))

	d, ok := s.Detail("R")
	require.True(t, ok)
	assert.Empty(t, d.Events)
	assert.Equal(t, 3, d.SubtreeEvents)
	assert.Equal(t, []Attr{{Key: "shard_id", Value: "2"}}, d.Attributes)

	d, ok = s.Detail("C2")
	require.True(t, ok)
	assert.Len(t, d.Events, 2)
	assert.Equal(t, 2, d.SubtreeEvents)
}

// TestSummary checks the published snapshot.
func TestSummary(t *testing.T) {
	s := newSession(t, Options{})
	sum := s.Summary()
	assert.Zero(t, sum.Spans)
	assert.Nil(t, sum.LoadedAt)

	require.NoError(t, s.Load(context.Background(), "scenario", loaded(scenarioTrace())))
	s.Viewport().SetWindow(trace.Window{Start: 10, End: 20})
	s.Frame()

	sum = s.Summary()
	assert.Equal(t, "scenario", sum.Source)
	assert.Equal(t, 3, sum.Spans)
	assert.Equal(t, trace.Window{Start: 0, End: 100}, sum.Bounds)
	assert.Equal(t, trace.Window{Start: 10, End: 20}, sum.Window)
	assert.Equal(t, modes.ModeEverything, sum.Mode)
	assert.NotNil(t, sum.LoadedAt)
}

// TestDefaultModeMustExist checks constructor validation.
func TestDefaultModeMustExist(t *testing.T) {
	_, err := New(Options{DefaultMode: "nope"})
	assert.ErrorIs(t, err, modes.ErrUnknownMode)
}

package modes

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/Mr-Dark-debug/traviz/internal/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var identity = Mode{Name: ModeEverything, Options: IdentityOptions{}}

func at(t trace.Time) *trace.Time { return &t }

func rec(id, parent, node string, start, end trace.Time) trace.Record {
	return trace.Record{ID: id, ParentID: parent, Name: id, Node: node, Start: at(start), End: at(end)}
}

// sample is R[0,100] with C1[10,50] and C2[60,90].
func sample() *trace.RawTrace {
	return trace.Build([]trace.Record{
		rec("R", "", "n1", 0, 100),
		rec("C2", "R", "n1", 60, 90),
		rec("C1", "R", "n1", 10, 50),
	})
}

func win(start, end trace.Time) trace.Window { return trace.Window{Start: start, End: end} }

// TestIdentityFullWindowScenario checks the [R, C1, C2] rendering.
func TestIdentityFullWindowScenario(t *testing.T) {
	res := Render(sample(), win(0, 100), identity)

	require.Equal(t, []string{"R", "C1", "C2"}, IDs(res.Spans))
	assert.Equal(t, 0, res.Spans[0].Depth)
	assert.Equal(t, 1, res.Spans[1].Depth)
	assert.Equal(t, 1, res.Spans[2].Depth)
	assert.Equal(t, "R", res.Spans[1].ParentID)
	assert.Equal(t, "R", res.Spans[2].ParentID)
	assert.Empty(t, res.Diagnostics)
}

// TestIdentityClippedWindowScenario checks that C1 drops out of [70,100]
// and the remaining rows are clipped.
func TestIdentityClippedWindowScenario(t *testing.T) {
	res := Render(sample(), win(70, 100), identity)

	require.Equal(t, []string{"R", "C2"}, IDs(res.Spans))
	assert.Equal(t, trace.Time(70), res.Spans[0].Start)
	assert.Equal(t, trace.Time(100), res.Spans[0].End)
	assert.Equal(t, trace.Time(0), res.Spans[0].FullStart)
	assert.Equal(t, trace.Time(70), res.Spans[1].Start)
	assert.Equal(t, trace.Time(90), res.Spans[1].End)
}

func randomTrace(rng *rand.Rand, n int) *trace.RawTrace {
	var records []trace.Record
	for i := 0; i < n; i++ {
		parent := ""
		if i > 0 && rng.Intn(4) != 0 {
			parent = fmt.Sprintf("s%03d", rng.Intn(i))
		}
		start := trace.Time(rng.Int63n(10_000))
		end := start + trace.Time(rng.Int63n(2_000))
		records = append(records, rec(fmt.Sprintf("s%03d", i), parent, fmt.Sprintf("n%d", rng.Intn(3)), start, end))
	}
	if rng.Intn(2) == 0 {
		records = append(records, rec("orphan", "nowhere", "n0", 500, 900))
	}
	return trace.Build(records)
}

// TestIdentityLaw checks that a full-bounds identity render reproduces the
// raw forest exactly.
func TestIdentityLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		rt := randomTrace(rng, 150)
		res := Render(rt, rt.Bounds(), identity)

		require.Len(t, res.Spans, rt.Len())
		for j, s := range rt.Spans() {
			row := res.Spans[j]
			assert.Equal(t, s.ID, row.ID)
			assert.Equal(t, s.Depth(), row.Depth)
			parent := ""
			if s.Parent() != nil {
				parent = s.Parent().ID
			}
			assert.Equal(t, parent, row.ParentID)
			assert.Equal(t, s.Start, row.Start)
			assert.Equal(t, s.End, row.End)
		}
	}
}

// TestIdentityWindowMonotonic checks ids(w1) ⊆ ids(w2) for w1 ⊆ w2.
func TestIdentityWindowMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	rt := randomTrace(rng, 300)
	b := rt.Bounds()

	for i := 0; i < 100; i++ {
		a := b.Start + trace.Time(rng.Int63n(int64(b.Width())))
		z := a + 1 + trace.Time(rng.Int63n(int64(b.End-a)+1))
		outer := win(a, z)
		innerStart := a + trace.Time(rng.Int63n(int64(z-a)))
		inner := win(innerStart, innerStart+1+trace.Time(rng.Int63n(int64(z-innerStart))))
		require.True(t, outer.Contains(inner))

		outerIDs := map[string]bool{}
		for _, id := range IDs(Render(rt, outer, identity).Spans) {
			outerIDs[id] = true
		}
		for _, id := range IDs(Render(rt, inner, identity).Spans) {
			assert.True(t, outerIDs[id], "%s rendered in %v but not in %v", id, inner, outer)
		}
	}
}

// TestCollapseScenario checks collapse of R and its undo.
func TestCollapseScenario(t *testing.T) {
	rows := Render(sample(), win(0, 100), identity).Spans
	collapsed := map[string]bool{"R": true}

	out := ApplyCollapse(sample(), rows, func(id string) bool { return collapsed[id] })
	require.Equal(t, []string{"R"}, IDs(out))
	assert.True(t, out[0].HasHiddenChildren)

	collapsed["R"] = false
	out = ApplyCollapse(sample(), rows, func(id string) bool { return collapsed[id] })
	assert.Equal(t, []string{"R", "C1", "C2"}, IDs(out))
	assert.False(t, out[0].HasHiddenChildren)
	assert.False(t, rows[0].HasHiddenChildren, "input rows must not be modified")
}

// TestCollapseRemovesExactlyDescendants checks collapse on random forests.
func TestCollapseRemovesExactlyDescendants(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	rt := randomTrace(rng, 200)
	rows := Render(rt, rt.Bounds(), identity).Spans

	for i := 0; i < 30; i++ {
		target := rt.Spans()[rng.Intn(rt.Len())]
		descendants := map[string]bool{}
		var mark func(s *trace.Span)
		mark = func(s *trace.Span) {
			for _, c := range s.Children() {
				descendants[c.ID] = true
				mark(c)
			}
		}
		mark(target)

		out := ApplyCollapse(sample(), rows, func(id string) bool { return id == target.ID })
		assert.Len(t, out, len(rows)-len(descendants))
		for _, r := range out {
			assert.False(t, descendants[r.ID])
		}
		assert.Equal(t, len(descendants) > 0, func() bool {
			for _, r := range out {
				if r.ID == target.ID {
					return r.HasHiddenChildren
				}
			}
			return false
		}())
	}
}

// TestCollapseFollowsRawAncestryAcrossModes checks that a collapsed span
// hides its descendants even when a mode merges it into a synthetic row or
// filters it out and re-parents its children.
func TestCollapseFollowsRawAncestryAcrossModes(t *testing.T) {
	rt := trace.Build([]trace.Record{
		rec("R", "", "n1", 0, 100),
		{ID: "C1", ParentID: "R", Name: "work", Node: "n1", Start: at(10), End: at(40)},
		{ID: "G", ParentID: "C1", Name: "G", Node: "n2", Start: at(15), End: at(20)},
		{ID: "C2", ParentID: "R", Name: "work", Node: "n1", Start: at(50), End: at(80)},
	})
	collapsed := func(id string) bool { return id == "C1" }

	cases := []struct {
		mode Mode
		open []string
		want []string
	}{
		{identity, []string{"R", "C1", "G", "C2"}, []string{"R", "C1", "C2"}},
		{Mode{Name: ModeMerged, Options: MergeOptions{}}, []string{"R", "merge:C1+2", "G"}, []string{"R", "merge:C1+2"}},
		{Mode{Name: ModeGaps, Options: GapOptions{MinGap: 5}}, []string{"R", "C1", "G", "gap:R:40", "C2"}, []string{"R", "C1", "gap:R:40", "C2"}},
		{Mode{Name: ModeFiltered, Options: FilterOptions{Predicate: AttributionSet{Nodes: []string{"n2"}}}}, []string{"G"}, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.mode.Name, func(t *testing.T) {
			rows := Render(rt, rt.Bounds(), tc.mode).Spans
			require.Equal(t, tc.open, IDs(rows))

			out := ApplyCollapse(rt, rows, collapsed)
			assert.Equal(t, tc.want, IDs(out))
			for _, r := range out {
				assert.NotEqual(t, "G", r.ID)
			}
			assert.Equal(t, tc.open, IDs(ApplyCollapse(rt, rows, func(string) bool { return false })))
		})
	}

	merged := ApplyCollapse(rt, Render(rt, rt.Bounds(), Mode{Name: ModeMerged, Options: MergeOptions{}}).Spans, collapsed)
	assert.True(t, merged[1].HasHiddenChildren)
	assert.False(t, merged[0].HasHiddenChildren)
}

// TestDanglingParentRendersAsRoot checks the orphan scenario end to end.
func TestDanglingParentRendersAsRoot(t *testing.T) {
	rt := trace.Build([]trace.Record{
		rec("R", "", "n1", 0, 100),
		rec("X", "ghost", "n1", 20, 30),
	})
	res := Render(rt, rt.Bounds(), identity)

	require.Equal(t, []string{"R", "X"}, IDs(res.Spans))
	assert.Equal(t, 0, res.Spans[1].Depth)
	assert.True(t, res.Spans[1].Orphan)
	require.Len(t, rt.Diagnostics(), 1)
	assert.Equal(t, trace.DiagDanglingParent, rt.Diagnostics()[0].Kind)
}

// TestMalformedSubtreesDegrade checks that bad input is excluded and
// reported while the rest still renders.
func TestMalformedSubtreesDegrade(t *testing.T) {
	rt := trace.Build([]trace.Record{
		rec("R", "", "n1", 0, 100),
		{ID: "broken", ParentID: "R", Name: "broken"},
		rec("under", "broken", "n1", 10, 20),
		rec("a", "b", "n1", 5, 6),
		rec("b", "a", "n1", 5, 6),
	})
	res := Render(rt, rt.Bounds(), identity)

	assert.Equal(t, []string{"R"}, IDs(res.Spans))
	kinds := map[trace.DiagnosticKind]int{}
	for _, d := range res.Diagnostics {
		kinds[d.Kind]++
	}
	assert.Equal(t, 1, kinds[trace.DiagMissingStart])
	assert.Equal(t, 1, kinds[trace.DiagExcludedSubtree])
	assert.Equal(t, 2, kinds[trace.DiagCycle])
}

// TestSiblingTieBreakByID checks deterministic order for equal starts.
func TestSiblingTieBreakByID(t *testing.T) {
	rt := trace.Build([]trace.Record{
		rec("P", "", "n1", 0, 10),
		rec("b", "P", "n1", 1, 2),
		rec("a", "P", "n1", 1, 3),
	})
	assert.Equal(t, []string{"P", "a", "b"}, IDs(Render(rt, rt.Bounds(), identity).Spans))
}

// TestFilterReparentsToNearestIncludedAncestor checks filtered mode.
func TestFilterReparentsToNearestIncludedAncestor(t *testing.T) {
	rt := trace.Build([]trace.Record{
		rec("R", "", "alpha", 0, 100),
		rec("M", "R", "beta", 10, 90),
		rec("L", "M", "alpha", 20, 30),
		rec("K", "R", "alpha", 15, 16),
	})
	mode := Mode{Name: ModeFiltered, Options: FilterOptions{Predicate: AttributionSet{Nodes: []string{"alpha"}}}}
	res := Render(rt, rt.Bounds(), mode)

	require.Equal(t, []string{"R", "K", "L"}, IDs(res.Spans))
	assert.Equal(t, "R", res.Spans[2].ParentID)
	assert.Equal(t, 1, res.Spans[2].Depth)

	none := Render(rt, rt.Bounds(), Mode{Name: "none", Options: FilterOptions{Predicate: ShowNone()}})
	assert.Empty(t, none.Spans)

	all := Render(rt, rt.Bounds(), Mode{Name: "all", Options: FilterOptions{}})
	assert.Len(t, all.Spans, 4)
}

// TestAttributionSetThreads checks the thread axis of the predicate.
func TestAttributionSetThreads(t *testing.T) {
	p := AttributionSet{Threads: []string{"io"}}
	assert.True(t, p.Match("any-node", "io"))
	assert.False(t, p.Match("any-node", "cpu"))
	assert.Equal(t, AttributionSet{Nodes: []string{"b", "a"}}.Key(), AttributionSet{Nodes: []string{"a", "b"}}.Key())
}

// TestNodeFilterFirstMatchWins checks rule precedence and default hide.
func TestNodeFilterFirstMatchWins(t *testing.T) {
	f := NodeFilter{Name: "no-validators", Rules: []NodeRule{
		{Node: Contains("validator"), Show: false},
		{Node: Any(), Show: true},
	}}
	assert.False(t, f.Match("validator-1", ""))
	assert.True(t, f.Match("rpc-0", ""))
	assert.False(t, NodeFilter{Name: "empty"}.Match("rpc-0", ""))
	require.NoError(t, f.Validate())
	assert.Error(t, NodeFilter{Name: "x", Rules: []NodeRule{{Node: Condition{Op: "regex"}}}}.Validate())
}

// TestStructuredMode checks selectors, renaming and node admission.
func TestStructuredMode(t *testing.T) {
	records := []trace.Record{
		rec("R", "", "n1", 0, 100),
		rec("C1", "R", "n1", 10, 50),
		rec("C2", "R", "n2", 60, 90),
	}
	records[1].Name = "verify_chunk"
	records[1].Attributes = trace.Attributes{"height": trace.IntValue(42), "shard": trace.IntValue(3)}
	rt := trace.Build(records)

	opts := StructuredOptions{
		Rules: []Rule{
			{
				Name:     "short",
				Selector: Selector{Name: EqualTo("verify_chunk"), Attributes: map[string]Condition{"height": Any()}},
				Decision: Decision{Visible: true, Length: LengthText, ReplaceName: "VC@{attr:height}", AddAttributes: []string{"shard", "missing"}},
			},
			ShowSpan("R"),
		},
		ShowNodes: []Condition{EqualTo("n1")},
	}
	require.NoError(t, opts.Validate())
	res := Render(rt, rt.Bounds(), Mode{Name: "custom", Options: opts})

	require.Equal(t, []string{"R", "C1"}, IDs(res.Spans))
	assert.Equal(t, "VC@42 shard=3", res.Spans[1].Name)
	assert.Equal(t, LengthText, res.Spans[1].Length)

	hidden := Render(rt, rt.Bounds(), Mode{Name: "c", Options: StructuredOptions{Rules: []Rule{ShowSpan("verify_chunk")}}})
	assert.Equal(t, []string{"C1"}, IDs(hidden.Spans), "C1 is hoisted when R is hidden")
	assert.Equal(t, 0, hidden.Spans[0].Depth)
}

// TestConditionMatches covers every operator.
func TestConditionMatches(t *testing.T) {
	assert.True(t, Any().Matches("x"))
	assert.False(t, Condition{Op: MatchNone}.Matches("x"))
	assert.True(t, EqualTo("x").Matches("x"))
	assert.True(t, NotEqualTo("x").Matches("y"))
	assert.True(t, Contains("ell").Matches("hello"))
	assert.False(t, Condition{Op: "bogus"}.Matches("x"))
}

// TestMergedMode checks folding of consecutive like-named siblings.
func TestMergedMode(t *testing.T) {
	rt := trace.Build([]trace.Record{
		rec("P", "", "n1", 0, 100),
		{ID: "a1", ParentID: "P", Name: "poll", Node: "n1", Start: at(10), End: at(20)},
		{ID: "a2", ParentID: "P", Name: "poll", Node: "n1", Start: at(25), End: at(30)},
		{ID: "k", ParentID: "a2", Name: "inner", Node: "n1", Start: at(26), End: at(27)},
		{ID: "b", ParentID: "P", Name: "write", Node: "n1", Start: at(40), End: at(50)},
		{ID: "a3", ParentID: "P", Name: "poll", Node: "n1", Start: at(60), End: at(70)},
	})
	res := Render(rt, rt.Bounds(), Mode{Name: ModeMerged, Options: MergeOptions{}})

	require.Equal(t, []string{"P", "merge:a1+2", "k", "b", "a3"}, IDs(res.Spans))
	merged := res.Spans[1]
	assert.Equal(t, KindMerged, merged.Kind)
	assert.Equal(t, []string{"a1", "a2"}, merged.Sources)
	assert.Equal(t, trace.Time(10), merged.FullStart)
	assert.Equal(t, trace.Time(30), merged.FullEnd)
	assert.Equal(t, "poll x2", merged.Name)
	assert.Equal(t, 2, res.Spans[2].Depth)
}

// TestGapMode checks gap markers and their ordering.
func TestGapMode(t *testing.T) {
	res := Render(sample(), win(0, 100), Mode{Name: ModeGaps, Options: GapOptions{MinGap: 5}})

	require.Equal(t, []string{"R", "C1", "gap:R:50", "C2"}, IDs(res.Spans))
	gap := res.Spans[2]
	assert.Equal(t, KindGap, gap.Kind)
	assert.Equal(t, trace.Time(50), gap.Start)
	assert.Equal(t, trace.Time(60), gap.End)
	assert.Equal(t, 1, gap.Depth)

	wide := Render(sample(), win(0, 100), Mode{Name: ModeGaps, Options: GapOptions{MinGap: 20}})
	assert.Equal(t, []string{"R", "C1", "C2"}, IDs(wide.Spans))

	outside := Render(sample(), win(70, 100), Mode{Name: ModeGaps, Options: GapOptions{MinGap: 5}})
	assert.Equal(t, []string{"R", "C2"}, IDs(outside.Spans))
}

// TestSyntheticTieBreak checks the (start, kind, id) ordering rule.
func TestSyntheticTieBreak(t *testing.T) {
	ns := []*node{
		{row: RenderableSpan{ID: "gap:P:5", Kind: KindGap, FullStart: 5}},
		{row: RenderableSpan{ID: "z", Kind: KindRaw, FullStart: 5}},
		{row: RenderableSpan{ID: "merge:a+2", Kind: KindMerged, FullStart: 5}},
		{row: RenderableSpan{ID: "y", Kind: KindRaw, FullStart: 1}},
	}
	out := flatten(ns, win(0, 10))
	assert.Equal(t, []string{"y", "z", "merge:a+2", "gap:P:5"}, IDs(out))
}

// TestRegistry checks lookup, duplicates and cycling.
func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(BuiltinModes(5)...)
	require.NoError(t, err)
	assert.Equal(t, []string{ModeEverything, ModeFiltered, ModeMerged, ModeGaps}, reg.Names())

	m, err := reg.Get(ModeMerged)
	require.NoError(t, err)
	assert.IsType(t, MergeOptions{}, m.Options)

	_, err = reg.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownMode)

	assert.Equal(t, ModeEverything, reg.Cycle(ModeGaps, 1).Name)
	assert.Equal(t, ModeGaps, reg.Cycle(ModeEverything, -1).Name)

	_, err = NewRegistry(identity, identity)
	assert.ErrorIs(t, err, ErrDuplicateMode)

	bad := Mode{Name: "bad", Options: StructuredOptions{ShowNodes: []Condition{{Op: "regex"}}}}
	_, err = NewRegistry(bad)
	assert.Error(t, err)
}

// TestRenderNilTrace checks rendering before anything is loaded.
func TestRenderNilTrace(t *testing.T) {
	assert.Empty(t, Render(nil, win(0, 1), identity).Spans)
}

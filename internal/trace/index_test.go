package trace

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSpansInScenario checks overlap queries on the small sample trace.
func TestSpansInScenario(t *testing.T) {
	rt := Build(sampleRecords())

	assert.Equal(t, []string{"R", "C1", "C2"}, ids(rt.SpansIn(Window{Start: 0, End: 100})))
	assert.Equal(t, []string{"R", "C2"}, ids(rt.SpansIn(Window{Start: 70, End: 100})))
	assert.Equal(t, []string{"R", "C1"}, ids(rt.SpansIn(Window{Start: 50, End: 55})), "touching end counts")
	assert.Empty(t, rt.SpansIn(Window{Start: 101, End: 200}))
}

// TestSpansInMatchesLinearScan compares the index against brute force on
// random traces.
func TestSpansInMatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var records []Record
	for i := 0; i < 2000; i++ {
		start := Time(rng.Int63n(100_000))
		end := start + Time(rng.Int63n(5_000))
		records = append(records, rec(fmt.Sprintf("s%04d", i), "", start, end))
	}
	rt := Build(records)

	for q := 0; q < 200; q++ {
		a := Time(rng.Int63n(110_000))
		w := Window{Start: a, End: a + Time(rng.Int63n(10_000)) + 1}

		var want []string
		for _, s := range rt.Spans() {
			if w.Overlaps(s.Start, s.End) {
				want = append(want, s.ID)
			}
		}
		got := ids(rt.SpansIn(w))
		sort.Strings(want)
		sort.Strings(got)
		if len(want) == 0 {
			assert.Empty(t, got)
			continue
		}
		assert.Equal(t, want, got, "window %v", w)
	}
}

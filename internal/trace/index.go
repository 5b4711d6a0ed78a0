package trace

import "sort"

// index answers interval-overlap queries over spans sorted by start time.
// maxEnd[i] is the largest End among spans[0..i], so it never decreases
// and bounds the scan from below.
type index struct {
	spans  []*Span
	maxEnd []Time
}

func newIndex(spans []*Span) *index {
	sorted := make([]*Span, len(spans))
	copy(sorted, spans)
	sortSpans(sorted)

	maxEnd := make([]Time, len(sorted))
	for i, s := range sorted {
		maxEnd[i] = s.End
		if i > 0 && maxEnd[i-1] > s.End {
			maxEnd[i] = maxEnd[i-1]
		}
	}
	return &index{spans: sorted, maxEnd: maxEnd}
}

func (ix *index) overlapping(w Window) []*Span {
	hi := sort.Search(len(ix.spans), func(i int) bool { return ix.spans[i].Start > w.End })
	lo := sort.Search(hi, func(i int) bool { return ix.maxEnd[i] >= w.Start })

	var out []*Span
	for i := lo; i < hi; i++ {
		if ix.spans[i].End >= w.Start {
			out = append(out, ix.spans[i])
		}
	}
	return out
}

package modes

import (
	"fmt"

	"github.com/Mr-Dark-debug/traviz/internal/trace"
	"github.com/Mr-Dark-debug/traviz/pkg/timeutil"
)

// mergeSiblings folds runs of consecutive raw siblings with equal name and
// node into one row with id "merge:<first id>+<count>". Children of the folded
// spans are pooled under the merged row.
func mergeSiblings(ns []*node) []*node {
	sortNodes(ns)
	out := make([]*node, 0, len(ns))
	for i := 0; i < len(ns); {
		j := i + 1
		for j < len(ns) && mergeable(ns[i], ns[j]) {
			j++
		}
		if j-i == 1 {
			ns[i].children = mergeSiblings(ns[i].children)
			out = append(out, ns[i])
		} else {
			out = append(out, mergeGroup(ns[i:j]))
		}
		i = j
	}
	return out
}

func mergeable(a, b *node) bool {
	return a.row.Kind == KindRaw && b.row.Kind == KindRaw &&
		a.row.Name == b.row.Name && a.row.Node == b.row.Node
}

func mergeGroup(group []*node) *node {
	first := group[0].row
	row := RenderableSpan{
		ID:        fmt.Sprintf("merge:%s+%d", first.ID, len(group)),
		Kind:      KindMerged,
		Name:      fmt.Sprintf("%s x%d", first.Name, len(group)),
		Node:      first.Node,
		Thread:    first.Thread,
		FullStart: first.FullStart,
		FullEnd:   first.FullEnd,
		Length:    LengthTime,
	}

	var children []*node
	for _, n := range group {
		r := n.row
		if r.FullStart < row.FullStart {
			row.FullStart = r.FullStart
		}
		if r.FullEnd > row.FullEnd {
			row.FullEnd = r.FullEnd
		}
		if r.Thread != row.Thread {
			row.Thread = ""
		}
		row.Sources = append(row.Sources, r.Sources...)
		row.EventCount += r.EventCount
		row.Open = row.Open || r.Open
		row.Orphan = row.Orphan || r.Orphan
		children = append(children, n.children...)
	}
	return &node{row: row, children: mergeSiblings(children)}
}

// insertGaps adds a "gap:<parent id>:<start>" row between consecutive
// siblings separated by at least minGap. Gaps outside w are skipped.
func insertGaps(ns []*node, w trace.Window, minGap trace.Time) []*node {
	return gapsUnder("", ns, w, minGap)
}

func gapsUnder(parentID string, ns []*node, w trace.Window, minGap trace.Time) []*node {
	sortNodes(ns)
	out := make([]*node, 0, len(ns))

	var reach trace.Time
	seen := false
	for _, n := range ns {
		n.children = gapsUnder(n.row.ID, n.children, w, minGap)
		if seen {
			gap := n.row.FullStart - reach
			if gap > 0 && gap >= minGap && w.Overlaps(reach, n.row.FullStart) {
				out = append(out, &node{row: RenderableSpan{
					ID:        fmt.Sprintf("gap:%s:%d", parentID, reach),
					Kind:      KindGap,
					Name:      "gap " + timeutil.FormatNanos(int64(gap)),
					Node:      n.row.Node,
					FullStart: reach,
					FullEnd:   n.row.FullStart,
					Length:    LengthTime,
				}})
			}
		}
		out = append(out, n)
		if !seen || n.row.FullEnd > reach {
			reach = n.row.FullEnd
			seen = true
		}
	}
	return out
}

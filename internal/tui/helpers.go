package tui

import (
	"math"
	"strings"

	"github.com/Mr-Dark-debug/traviz/internal/trace"
	"github.com/Mr-Dark-debug/traviz/internal/viewport"
	"github.com/Mr-Dark-debug/traviz/pkg/jsonutil"
)

// ────────────────────────────────────────────────────────────
// Cell mapping
// ────────────────────────────────────────────────────────────

// cellRange maps [start, end] onto the columns of a surface. ok is false
// when the interval lies entirely outside the visible range. A visible
// interval always covers at least one column.
func cellRange(m viewport.Mapping, start, end trace.Time) (lo, hi int, ok bool) {
	width := int(m.Width)
	if width <= 0 {
		return 0, 0, false
	}
	x0 := m.XAt(float64(start))
	x1 := m.XAt(float64(end))
	if x1 < 0 || x0 >= m.Width {
		return 0, 0, false
	}
	lo = clamp(int(math.Floor(x0)), 0, width-1)
	hi = clamp(int(math.Ceil(x1)), lo+1, width)
	return lo, hi, true
}

// cellAt returns the column of t, or -1 when t is not visible.
func cellAt(m viewport.Mapping, t trace.Time) int {
	x := m.XAt(float64(t))
	if x < 0 || x >= m.Width {
		return -1
	}
	return int(math.Floor(x))
}

// ────────────────────────────────────────────────────────────
// String helpers
// ────────────────────────────────────────────────────────────

// truncate cuts a string to maxLen runes and appends "..." if truncated.
func truncate(s string, maxLen int) string {
	return jsonutil.TruncateString(s, maxLen)
}

// padRight pads s with spaces to width runes, truncating longer strings.
func padRight(s string, width int) string {
	s = truncate(s, width)
	if n := len([]rune(s)); n < width {
		s += strings.Repeat(" ", width-n)
	}
	return s
}

// overlay writes text into buf at column col, clipping at the end.
func overlay(buf []rune, col int, text string) {
	for i, r := range []rune(text) {
		if c := col + i; c >= 0 && c < len(buf) {
			buf[c] = r
		}
	}
}

// clamp restricts val to [lo, hi].
func clamp(val, lo, hi int) int {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}

// Package timeutil provides time formatting utilities for traviz.
//
// All trace timestamps are Unix nanoseconds (int64). This package
// handles conversion to human-readable formats for the TUI, the
// time axis and report generation.
package timeutil

import (
	"fmt"
	"math"
	"time"
)

// FromNano converts a Unix nanosecond timestamp to time.Time.
func FromNano(ns int64) time.Time {
	return time.Unix(0, ns)
}

// FormatTimestamp formats a Unix nanosecond timestamp for display
// in the TUI. Format: "HH:MM:SS.mmm"
func FormatTimestamp(ns int64) string {
	t := FromNano(ns)
	return t.Format("15:04:05.000")
}

// FormatTimestampFull formats a Unix nanosecond timestamp with date.
// Format: "2006-01-02 15:04:05.000"
func FormatTimestampFull(ns int64) string {
	t := FromNano(ns)
	return t.Format("2006-01-02 15:04:05.000")
}

// FormatNanos formats a nanosecond duration compactly.
// Examples: "800ns", "12.5µs", "450ms", "1.2s", "2m 15.3s"
func FormatNanos(ns int64) string {
	neg := ""
	if ns < 0 {
		neg = "-"
		ns = -ns
	}
	d := float64(ns)
	switch {
	case ns < int64(time.Microsecond):
		return fmt.Sprintf("%s%dns", neg, ns)
	case ns < int64(time.Millisecond):
		return neg + trimFloat(d/1e3) + "µs"
	case ns < int64(time.Second):
		return neg + trimFloat(d/1e6) + "ms"
	case ns < int64(time.Minute):
		return neg + trimFloat(d/1e9) + "s"
	}
	minutes := ns / int64(time.Minute)
	remaining := float64(ns-minutes*int64(time.Minute)) / 1e9
	return fmt.Sprintf("%s%dm %.1fs", neg, minutes, remaining)
}

// trimFloat prints up to one decimal, dropping a trailing ".0".
func trimFloat(v float64) string {
	s := fmt.Sprintf("%.1f", v)
	if len(s) > 2 && s[len(s)-2:] == ".0" {
		return s[:len(s)-2]
	}
	return s
}

// Offset formats ns relative to origin, e.g. "+12.5ms".
func Offset(ns, origin int64) string {
	d := ns - origin
	if d < 0 {
		return FormatNanos(d)
	}
	return "+" + FormatNanos(d)
}

// RelativeTime returns a human-readable relative time string.
// Examples: "just now", "5s ago", "2m ago", "1h ago"
func RelativeTime(ns int64) string {
	diff := time.Since(FromNano(ns))

	switch {
	case diff < time.Second:
		return "just now"
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		days := int(diff.Hours() / 24)
		return fmt.Sprintf("%dd ago", days)
	}
}

// TickStep picks a 1-2-5 spacing so that [start, end] holds at most
// maxTicks ticks.
func TickStep(start, end int64, maxTicks int) int64 {
	if maxTicks < 1 {
		maxTicks = 1
	}
	span := end - start
	if span <= 0 {
		return 1
	}
	raw := float64(span) / float64(maxTicks)
	pow := math.Pow(10, math.Floor(math.Log10(raw)))
	for _, m := range []float64{1, 2, 5, 10} {
		if step := m * pow; step >= raw {
			if step < 1 {
				return 1
			}
			return int64(math.Ceil(step))
		}
	}
	return int64(math.Ceil(10 * pow))
}

// Ticks returns the multiples of TickStep inside [start, end].
func Ticks(start, end int64, maxTicks int) []int64 {
	step := TickStep(start, end, maxTicks)
	first := start - mod(start, step)
	if first < start {
		first += step
	}
	var out []int64
	for t := first; t <= end; t += step {
		out = append(out, t)
	}
	return out
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

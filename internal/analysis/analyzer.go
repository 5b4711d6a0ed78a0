// Package analysis computes deterministic duration statistics over a
// single loaded trace.
//
// Key capabilities:
//   - Per-name duration statistics, overall and per node
//   - Duration hotspot detection via Z-score analysis
//   - Duration trend over the trace via linear regression
//   - Dependency links between two span names with delay statistics
package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Mr-Dark-debug/traviz/internal/trace"
	"github.com/Mr-Dark-debug/traviz/pkg/timeutil"
)

// ErrNoMatchingSpans is returned when a query selects nothing.
var ErrNoMatchingSpans = errors.New("no matching spans")

// Analyzer performs analysis on one raw trace.
type Analyzer struct {
	rt *trace.RawTrace
}

// NewAnalyzer creates an analyzer over rt.
func NewAnalyzer(rt *trace.RawTrace) *Analyzer {
	return &Analyzer{rt: rt}
}

// SpanNames returns the distinct span names, sorted.
func (a *Analyzer) SpanNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range a.rt.Spans() {
		if !seen[s.Name] {
			seen[s.Name] = true
			names = append(names, s.Name)
		}
	}
	sort.Strings(names)
	return names
}

// ============================================================
// Span Statistics
// ============================================================

// Statistics summarizes the durations of a group of closed spans.
// Durations are nanoseconds.
type Statistics struct {
	Count     int     `json:"count"`
	Min       float64 `json:"min_ns"`
	Max       float64 `json:"max_ns"`
	Mean      float64 `json:"mean_ns"`
	Median    float64 `json:"median_ns"`
	StdDev    float64 `json:"std_dev_ns"`
	MinSpanID string  `json:"min_span_id"`
	MaxSpanID string  `json:"max_span_id"`

	values []float64
}

func (st *Statistics) add(s *trace.Span) {
	st.addValue(float64(s.Duration()), s.ID)
}

func (st *Statistics) addValue(d float64, id string) {
	if st.Count == 0 || d < st.Min {
		st.Min = d
		st.MinSpanID = id
	}
	if st.Count == 0 || d > st.Max {
		st.Max = d
		st.MaxSpanID = id
	}
	st.Count++
	st.values = append(st.values, d)
}

func (st *Statistics) finish() {
	if st.Count == 0 {
		return
	}
	var sum float64
	for _, v := range st.values {
		sum += v
	}
	st.Mean = sum / float64(st.Count)

	var sq float64
	for _, v := range st.values {
		sq += (v - st.Mean) * (v - st.Mean)
	}
	st.StdDev = math.Sqrt(sq / float64(st.Count))

	sorted := append([]float64(nil), st.values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		st.Median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		st.Median = sorted[mid]
	}
}

// NodeStatistics is the statistics of one node.
type NodeStatistics struct {
	Node string `json:"node"`
	Statistics
}

// SpanQuery selects the spans to analyze.
type SpanQuery struct {
	Name string
	// AttributeFilter is a comma-separated list of "key" (attribute must
	// exist) and "key=value" (attribute text must equal value) terms.
	AttributeFilter string
}

// MatchesAttributes reports whether s satisfies the attribute filter.
func (q SpanQuery) MatchesAttributes(s *trace.Span) bool {
	for _, term := range strings.Split(q.AttributeFilter, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		key, want, hasValue := strings.Cut(term, "=")
		v, ok := s.Attributes[strings.TrimSpace(key)]
		if !ok {
			return false
		}
		if hasValue && v.Text() != strings.TrimSpace(want) {
			return false
		}
	}
	return true
}

// SpanAnalysis is the result of AnalyzeSpan.
type SpanAnalysis struct {
	SpanName        string           `json:"span_name"`
	AttributeFilter string           `json:"attribute_filter,omitempty"`
	Overall         Statistics       `json:"overall"`
	PerNode         []NodeStatistics `json:"per_node"`
	// OpenSpans counts matches left out because they never ended.
	OpenSpans int    `json:"open_spans"`
	Trend     *Trend `json:"trend,omitempty"`
}

// AnalyzeSpan computes duration statistics for spans named q.Name.
func (a *Analyzer) AnalyzeSpan(q SpanQuery) (*SpanAnalysis, error) {
	res := &SpanAnalysis{SpanName: q.Name, AttributeFilter: q.AttributeFilter}
	perNode := make(map[string]*Statistics)
	var matched []*trace.Span

	for _, s := range a.rt.Spans() {
		if s.Name != q.Name || !q.MatchesAttributes(s) {
			continue
		}
		if s.Open {
			res.OpenSpans++
			continue
		}
		matched = append(matched, s)
		res.Overall.add(s)
		st, ok := perNode[s.Node]
		if !ok {
			st = &Statistics{}
			perNode[s.Node] = st
		}
		st.add(s)
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("span %q: %w", q.Name, ErrNoMatchingSpans)
	}

	res.Overall.finish()
	for node, st := range perNode {
		st.finish()
		res.PerNode = append(res.PerNode, NodeStatistics{Node: node, Statistics: *st})
	}
	sort.Slice(res.PerNode, func(i, j int) bool { return res.PerNode[i].Node < res.PerNode[j].Node })
	res.Trend = durationTrend(matched, a.rt.Bounds().Start)
	return res, nil
}

// ============================================================
// Duration Hotspot Detection
// ============================================================

// DurationHotspot identifies a span that took abnormally long compared to
// other spans of the same name.
type DurationHotspot struct {
	SpanID   string     `json:"span_id"`
	Name     string     `json:"name"`
	Node     string     `json:"node"`
	Duration trace.Time `json:"duration_ns"`
	ZScore   float64    `json:"z_score"`
	Severity string     `json:"severity"` // "low", "medium", "high"
}

// minGroup is the smallest same-name group worth scoring.
const minGroup = 3

// DetectDurationHotspots calculates the Z-score of each closed span's
// duration within its name group.
//
// A Z-score > 2.0 is considered a hotspot ("medium" severity).
// A Z-score > 3.0 is a significant hotspot ("high" severity).
func (a *Analyzer) DetectDurationHotspots() []DurationHotspot {
	groups := make(map[string][]*trace.Span)
	for _, s := range a.rt.Spans() {
		if !s.Open {
			groups[s.Name] = append(groups[s.Name], s)
		}
	}

	var hotspots []DurationHotspot
	for name, spans := range groups {
		if len(spans) < minGroup {
			continue
		}
		var sum, sumSq float64
		for _, s := range spans {
			d := float64(s.Duration())
			sum += d
			sumSq += d * d
		}
		n := float64(len(spans))
		mean := sum / n
		stddev := math.Sqrt(math.Max(0, sumSq/n-mean*mean))
		if stddev == 0 {
			continue
		}

		for _, s := range spans {
			z := (float64(s.Duration()) - mean) / stddev
			if z <= 1.5 {
				continue
			}
			severity := "low"
			if z > 3.0 {
				severity = "high"
			} else if z > 2.0 {
				severity = "medium"
			}
			hotspots = append(hotspots, DurationHotspot{
				SpanID:   s.ID,
				Name:     name,
				Node:     s.Node,
				Duration: s.Duration(),
				ZScore:   math.Round(z*100) / 100,
				Severity: severity,
			})
		}
	}

	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].ZScore != hotspots[j].ZScore {
			return hotspots[i].ZScore > hotspots[j].ZScore
		}
		return hotspots[i].SpanID < hotspots[j].SpanID
	})
	return hotspots
}

// ============================================================
// Duration Trend
// ============================================================

// Trend fits span duration against start offset.
type Trend struct {
	// Slope is nanoseconds of duration gained per second of trace time.
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	RSquared  float64 `json:"r_squared"`
	// Increasing is set when durations grow steadily over the trace.
	Increasing bool `json:"increasing"`
}

// dataPoint represents a single observation for regression analysis.
type dataPoint struct {
	x float64 // seconds since trace start
	y float64 // duration in ns
}

func durationTrend(spans []*trace.Span, origin trace.Time) *Trend {
	if len(spans) < minGroup {
		return nil
	}
	points := make([]dataPoint, len(spans))
	for i, s := range spans {
		points[i] = dataPoint{x: float64(s.Start-origin) / 1e9, y: float64(s.Duration())}
	}
	slope, intercept, rSquared := linearRegression(points)
	return &Trend{
		Slope:      math.Round(slope*1000) / 1000,
		Intercept:  math.Round(intercept*100) / 100,
		RSquared:   math.Round(rSquared*1000) / 1000,
		Increasing: slope > 0 && rSquared > 0.7,
	}
}

// linearRegression computes ordinary least squares regression.
// Returns slope (m), intercept (b), and R-squared goodness of fit.
func linearRegression(points []dataPoint) (slope, intercept, rSquared float64) {
	n := float64(len(points))
	if n < 2 {
		return 0, 0, 0
	}

	var sumX, sumY, sumXY, sumX2 float64
	for _, p := range points {
		sumX += p.x
		sumY += p.y
		sumXY += p.x * p.y
		sumX2 += p.x * p.x
	}

	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0, sumY / n, 0
	}

	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssRes, ssTot float64
	for _, p := range points {
		predicted := slope*p.x + intercept
		ssRes += (p.y - predicted) * (p.y - predicted)
		ssTot += (p.y - meanY) * (p.y - meanY)
	}

	if ssTot == 0 {
		rSquared = 1.0
	} else {
		rSquared = 1 - ssRes/ssTot
	}
	return slope, intercept, rSquared
}

// ============================================================
// Full Analysis Report
// ============================================================

// AnalysisReport is the complete output of `traviz analyze`.
type AnalysisReport struct {
	GeneratedAt string            `json:"generated_at"`
	TraceStart  trace.Time        `json:"trace_start"`
	TraceEnd    trace.Time        `json:"trace_end"`
	SpanCount   int               `json:"span_count"`
	Span        *SpanAnalysis     `json:"span,omitempty"`
	Hotspots    []DurationHotspot `json:"hotspots"`
	Warnings    []string          `json:"warnings"`
}

// FullAnalysis runs the span analysis for q (skipped when q.Name is empty)
// and hotspot detection.
func (a *Analyzer) FullAnalysis(q SpanQuery) *AnalysisReport {
	b := a.rt.Bounds()
	report := &AnalysisReport{
		GeneratedAt: time.Now().Format(time.RFC3339),
		TraceStart:  b.Start,
		TraceEnd:    b.End,
		SpanCount:   a.rt.Len(),
	}

	if q.Name != "" {
		span, err := a.AnalyzeSpan(q)
		if err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Span analysis failed: %v", err))
		} else {
			report.Span = span
			if span.Trend != nil && span.Trend.Increasing {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("%s gets slower over the trace (+%s per second, R²=%.3f).",
						span.SpanName, timeutil.FormatNanos(int64(span.Trend.Slope)), span.Trend.RSquared))
			}
		}
	}

	report.Hotspots = a.DetectDurationHotspots()
	for _, h := range report.Hotspots {
		if h.Severity == "high" {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("DURATION HOTSPOT: %s (%s) took %s (Z-score: %.2f).",
					h.Name, h.SpanID, timeutil.FormatNanos(int64(h.Duration)), h.ZScore))
		}
	}
	return report
}

// FormatReport generates a human-readable markdown report.
func FormatReport(report *AnalysisReport) string {
	var b strings.Builder

	b.WriteString("# traviz Analysis Report\n\n")
	fmt.Fprintf(&b, "**Generated:** %s\n", report.GeneratedAt)
	fmt.Fprintf(&b, "**Trace:** %s to %s (%s, %d spans)\n\n",
		timeutil.FormatTimestampFull(int64(report.TraceStart)),
		timeutil.FormatTimestampFull(int64(report.TraceEnd)),
		timeutil.FormatNanos(int64(report.TraceEnd-report.TraceStart)),
		report.SpanCount)

	if sa := report.Span; sa != nil {
		fmt.Fprintf(&b, "## Span `%s`\n\n", sa.SpanName)
		if sa.AttributeFilter != "" {
			fmt.Fprintf(&b, "Attribute filter: `%s`\n\n", sa.AttributeFilter)
		}
		b.WriteString("| Node | Count | Min | Max | Mean | Median |\n")
		b.WriteString("|------|-------|-----|-----|------|--------|\n")
		writeStatsRow(&b, "All nodes", sa.Overall)
		for _, ns := range sa.PerNode {
			writeStatsRow(&b, ns.Node, ns.Statistics)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "- **Fastest:** `%s`\n", sa.Overall.MinSpanID)
		fmt.Fprintf(&b, "- **Slowest:** `%s`\n", sa.Overall.MaxSpanID)
		if sa.OpenSpans > 0 {
			fmt.Fprintf(&b, "- **Open spans skipped:** %d\n", sa.OpenSpans)
		}
		if sa.Trend != nil {
			fmt.Fprintf(&b, "- **Trend:** %+.0f ns/s (R² %.3f)\n", sa.Trend.Slope, sa.Trend.RSquared)
		}
		b.WriteString("\n")
	}

	if len(report.Hotspots) > 0 {
		b.WriteString("## Duration Hotspots\n\n")
		b.WriteString("| Span | Node | Duration | Z-Score | Severity |\n")
		b.WriteString("|------|------|----------|---------|----------|\n")
		for _, h := range report.Hotspots {
			fmt.Fprintf(&b, "| %s | %s | %s | %.2f | %s |\n",
				h.Name, h.Node, timeutil.FormatNanos(int64(h.Duration)), h.ZScore, h.Severity)
		}
		b.WriteString("\n")
	}

	if len(report.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range report.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return b.String()
}

func writeStatsRow(b *strings.Builder, label string, st Statistics) {
	fmt.Fprintf(b, "| %s | %d | %s | %s | %s | %s |\n", label, st.Count,
		timeutil.FormatNanos(int64(st.Min)), timeutil.FormatNanos(int64(st.Max)),
		timeutil.FormatNanos(int64(st.Mean)), timeutil.FormatNanos(int64(st.Median)))
}

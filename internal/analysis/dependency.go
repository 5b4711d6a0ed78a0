package analysis

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Mr-Dark-debug/traviz/internal/trace"
	"github.com/Mr-Dark-debug/traviz/pkg/timeutil"
)

// ErrGroupAttributeMissing is returned when no span on the grouped side
// carries the group-by attribute as a string.
var ErrGroupAttributeMissing = errors.New("group attribute not found")

// Cardinality says which side of a dependency link may hold several spans.
type Cardinality string

const (
	// NToOne links several sources to one target.
	NToOne Cardinality = "n_to_1"
	// OneToN links one source to several targets.
	OneToN Cardinality = "1_to_n"
)

// SourceScope says where the other side of a link may live.
type SourceScope string

const (
	SameNode SourceScope = "self"
	AllNodes SourceScope = "all_nodes"
)

// TimingStrategy picks which eligible spans form a link.
type TimingStrategy string

const (
	EarliestFirst TimingStrategy = "earliest_first"
	LatestFirst   TimingStrategy = "latest_first"
)

// GroupAggregation says how per-group completion turns into a link delay.
type GroupAggregation string

const (
	FirstCompletedGroup GroupAggregation = "first_completed_group"
	WaitForLastGroup    GroupAggregation = "wait_for_last_group"
)

// DependencyQuery describes a dependency analysis between spans named
// Source and spans named Target.
type DependencyQuery struct {
	Source string `json:"source"`
	Target string `json:"target"`
	// Threshold is how many spans of the many side form one link.
	Threshold int `json:"threshold"`
	// LinkingAttributes must be present with equal values on both ends.
	LinkingAttributes []string `json:"linking_attributes,omitempty"`
	// GroupBy splits the many side by a string attribute; every group
	// present must reach Threshold.
	GroupBy     string           `json:"group_by,omitempty"`
	Scope       SourceScope      `json:"scope"`
	Timing      TimingStrategy   `json:"timing"`
	Aggregation GroupAggregation `json:"aggregation"`
	Cardinality Cardinality      `json:"cardinality"`
}

// WithDefaults fills unset fields with threshold 1, same node scope,
// earliest first timing, first completed group and N-to-1.
func (q DependencyQuery) WithDefaults() DependencyQuery {
	if q.Threshold < 1 {
		q.Threshold = 1
	}
	if q.Scope == "" {
		q.Scope = SameNode
	}
	if q.Timing == "" {
		q.Timing = EarliestFirst
	}
	if q.Aggregation == "" {
		q.Aggregation = FirstCompletedGroup
	}
	if q.Cardinality == "" {
		q.Cardinality = NToOne
	}
	return q
}

// Validate checks names and enumerations.
func (q DependencyQuery) Validate() error {
	if q.Source == "" {
		return errors.New("source span name is required")
	}
	if q.Target == "" {
		return errors.New("target span name is required")
	}
	switch q.Scope {
	case SameNode, AllNodes:
	default:
		return fmt.Errorf("unknown scope %q", q.Scope)
	}
	switch q.Timing {
	case EarliestFirst, LatestFirst:
	default:
		return fmt.Errorf("unknown timing strategy %q", q.Timing)
	}
	switch q.Aggregation {
	case FirstCompletedGroup, WaitForLastGroup:
	default:
		return fmt.Errorf("unknown group aggregation %q", q.Aggregation)
	}
	switch q.Cardinality {
	case NToOne, OneToN:
	default:
		return fmt.Errorf("unknown cardinality %q", q.Cardinality)
	}
	return nil
}

// DependencyLink is one formed link. Delay is the gap between the last
// of the many side and the single span, always non-negative.
type DependencyLink struct {
	Sources []string   `json:"sources"`
	Targets []string   `json:"targets"`
	Delay   trace.Time `json:"delay_ns"`
}

// NodeDependencies holds the links formed on one node. Links are keyed by
// the node of the single side: the target for N-to-1, the source for
// 1-to-N.
type NodeDependencies struct {
	Node    string           `json:"node"`
	Delays  Statistics       `json:"delays"`
	Links   []DependencyLink `json:"links"`
	MinLink *DependencyLink  `json:"min_link,omitempty"`
	MaxLink *DependencyLink  `json:"max_link,omitempty"`
}

// DependencyAnalysis is the result of AnalyzeDependency.
type DependencyAnalysis struct {
	Query   DependencyQuery    `json:"query"`
	PerNode []NodeDependencies `json:"per_node"`
	Overall Statistics         `json:"overall"`
	MinLink *DependencyLink    `json:"min_link,omitempty"`
	MaxLink *DependencyLink    `json:"max_link,omitempty"`
	Elapsed time.Duration      `json:"elapsed_ns"`
}

// Node returns the links of node, or nil when none formed there.
func (r *DependencyAnalysis) Node(node string) *NodeDependencies {
	for i := range r.PerNode {
		if r.PerNode[i].Node == node {
			return &r.PerNode[i]
		}
	}
	return nil
}

// LinkCount is the number of links over all nodes.
func (r *DependencyAnalysis) LinkCount() int {
	return r.Overall.Count
}

// linkSide describes the analysis from the point of view of the single
// span of each link (the anchor) and the spans it collects.
type linkSide struct {
	anchors    []*trace.Span
	candidates []*trace.Span
	// eligible reports whether c may be collected for anchor a.
	eligible func(a, c *trace.Span) bool
	// delay computes the link delay from the anchor and the chosen spans.
	delay func(a *trace.Span, chosen []*trace.Span, groups map[string][]*trace.Span) trace.Time
	build func(a *trace.Span, chosen []*trace.Span) DependencyLink
}

// AnalyzeDependency forms dependency links between spans named q.Source
// and spans named q.Target and reports delay statistics per node.
// Open spans take no part.
func (a *Analyzer) AnalyzeDependency(q DependencyQuery) (*DependencyAnalysis, error) {
	begin := time.Now()
	q = q.WithDefaults()
	if err := q.Validate(); err != nil {
		return nil, err
	}

	sources := a.closedSpansNamed(q.Source)
	if len(sources) == 0 {
		return nil, fmt.Errorf("source %q: %w", q.Source, ErrNoMatchingSpans)
	}
	targets := a.closedSpansNamed(q.Target)
	if len(targets) == 0 {
		return nil, fmt.Errorf("target %q: %w", q.Target, ErrNoMatchingSpans)
	}

	side := q.side(sources, targets)
	if q.GroupBy != "" && !anyGroupKey(side.candidates, q.GroupBy) {
		return nil, fmt.Errorf("%q on spans named %q: %w", q.GroupBy, side.candidates[0].Name, ErrGroupAttributeMissing)
	}

	anchorsByNode := byNode(side.anchors)
	candidatesByNode := byNode(side.candidates)

	var nodes []string
	for node := range anchorsByNode {
		if q.Scope == AllNodes || candidatesByNode[node] != nil {
			nodes = append(nodes, node)
		}
	}
	sort.Strings(nodes)

	res := &DependencyAnalysis{Query: q}
	globalUsed := make(map[string]bool)
	for _, node := range nodes {
		candidates := side.candidates
		used := make(map[string]bool)
		if q.Scope == SameNode {
			candidates = candidatesByNode[node]
			used = globalUsed
		}
		nd := NodeDependencies{Node: node}
		for _, anchor := range anchorsByNode[node] {
			if link, ok := q.formLink(side, anchor, candidates, used); ok {
				nd.record(link, anchor.ID)
			}
		}
		if len(nd.Links) > 0 {
			nd.Delays.finish()
			res.PerNode = append(res.PerNode, nd)
		}
	}

	for i := range res.PerNode {
		for j := range res.PerNode[i].Links {
			l := &res.PerNode[i].Links[j]
			res.Overall.addValue(float64(l.Delay), anchorID(q, l))
			res.MinLink, res.MaxLink = trackExtremes(&res.Overall, l, res.MinLink, res.MaxLink)
		}
	}
	res.Overall.finish()
	res.Elapsed = time.Since(begin)
	return res, nil
}

func (a *Analyzer) closedSpansNamed(name string) []*trace.Span {
	var out []*trace.Span
	for _, s := range a.rt.Spans() {
		if s.Name == name && !s.Open {
			out = append(out, s)
		}
	}
	sortByStart(out)
	return out
}

// side orients the analysis around the single span of each link.
func (q DependencyQuery) side(sources, targets []*trace.Span) linkSide {
	if q.Cardinality == OneToN {
		return linkSide{
			anchors:    sources,
			candidates: targets,
			eligible: func(s, t *trace.Span) bool {
				return t.Start >= s.End && q.linked(s, t)
			},
			delay: func(s *trace.Span, chosen []*trace.Span, _ map[string][]*trace.Span) trace.Time {
				return abs(latestStart(chosen) - s.End)
			},
			build: func(s *trace.Span, chosen []*trace.Span) DependencyLink {
				return DependencyLink{Sources: []string{s.ID}, Targets: ids(chosen)}
			},
		}
	}
	return linkSide{
		anchors:    targets,
		candidates: sources,
		eligible: func(t, s *trace.Span) bool {
			return s.End <= t.Start && q.linked(s, t)
		},
		delay: func(t *trace.Span, chosen []*trace.Span, groups map[string][]*trace.Span) trace.Time {
			if groups == nil || q.Aggregation == WaitForLastGroup {
				return abs(t.Start - latestEnd(chosen))
			}
			first := trace.Time(0)
			for i, key := range sortedKeys(groups) {
				end := latestEnd(groups[key])
				if i == 0 || end < first {
					first = end
				}
			}
			return abs(first - t.Start)
		},
		build: func(t *trace.Span, chosen []*trace.Span) DependencyLink {
			return DependencyLink{Sources: ids(chosen), Targets: []string{t.ID}}
		},
	}
}

// formLink tries to link anchor with unused candidates and marks the
// chosen candidates used on success.
func (q DependencyQuery) formLink(side linkSide, anchor *trace.Span, candidates []*trace.Span, used map[string]bool) (DependencyLink, bool) {
	var eligible []*trace.Span
	for _, c := range candidates {
		if !used[c.ID] && side.eligible(anchor, c) {
			eligible = append(eligible, c)
		}
	}

	var chosen []*trace.Span
	var chosenGroups map[string][]*trace.Span
	if q.GroupBy != "" {
		groups := make(map[string][]*trace.Span)
		for _, c := range eligible {
			if key, ok := groupKey(c, q.GroupBy); ok {
				groups[key] = append(groups[key], c)
			}
		}
		if len(groups) == 0 {
			return DependencyLink{}, false
		}
		chosenGroups = make(map[string][]*trace.Span, len(groups))
		for _, key := range sortedKeys(groups) {
			if len(groups[key]) < q.Threshold {
				return DependencyLink{}, false
			}
			picked := q.pick(groups[key])
			chosenGroups[key] = picked
			chosen = append(chosen, picked...)
		}
	} else {
		if len(eligible) < q.Threshold {
			return DependencyLink{}, false
		}
		chosen = q.pick(eligible)
	}

	link := side.build(anchor, chosen)
	link.Delay = side.delay(anchor, chosen, chosenGroups)
	for _, c := range chosen {
		used[c.ID] = true
	}
	return link, true
}

// pick takes Threshold spans from the front or back of spans, which is
// ordered by start.
func (q DependencyQuery) pick(spans []*trace.Span) []*trace.Span {
	if q.Timing == LatestFirst {
		return spans[len(spans)-q.Threshold:]
	}
	return spans[:q.Threshold]
}

// linked reports whether every linking attribute is present on both spans
// with the same value.
func (q DependencyQuery) linked(a, b *trace.Span) bool {
	for _, key := range q.LinkingAttributes {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		va, ok := a.Attributes[key]
		if !ok {
			return false
		}
		vb, ok := b.Attributes[key]
		if !ok || va != vb {
			return false
		}
	}
	return true
}

func (nd *NodeDependencies) record(link DependencyLink, anchor string) {
	nd.Links = append(nd.Links, link)
	nd.Delays.addValue(float64(link.Delay), anchor)
	l := &nd.Links[len(nd.Links)-1]
	nd.MinLink, nd.MaxLink = trackExtremes(&nd.Delays, l, nd.MinLink, nd.MaxLink)
}

// trackExtremes updates the min and max links after st took l's delay. A
// later link with an equal delay replaces the earlier one.
func trackExtremes(st *Statistics, l *DependencyLink, minLink, maxLink *DependencyLink) (*DependencyLink, *DependencyLink) {
	cp := *l
	if st.Count == 1 {
		return &cp, &cp
	}
	d := float64(l.Delay)
	if d == st.Min {
		minLink = &cp
	}
	if d == st.Max {
		maxLink = &cp
	}
	return minLink, maxLink
}

func anchorID(q DependencyQuery, l *DependencyLink) string {
	if q.Cardinality == OneToN {
		return l.Sources[0]
	}
	return l.Targets[0]
}

func groupKey(s *trace.Span, attr string) (string, bool) {
	v, ok := s.Attributes[attr]
	if !ok || v.Kind != trace.KindString {
		return "", false
	}
	return v.Str, true
}

func anyGroupKey(spans []*trace.Span, attr string) bool {
	for _, s := range spans {
		if _, ok := groupKey(s, attr); ok {
			return true
		}
	}
	return false
}

func byNode(spans []*trace.Span) map[string][]*trace.Span {
	out := make(map[string][]*trace.Span)
	for _, s := range spans {
		out[s.Node] = append(out[s.Node], s)
	}
	return out
}

func sortByStart(spans []*trace.Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].ID < spans[j].ID
	})
}

func sortedKeys(m map[string][]*trace.Span) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func latestEnd(spans []*trace.Span) trace.Time {
	t := spans[0].End
	for _, s := range spans[1:] {
		if s.End > t {
			t = s.End
		}
	}
	return t
}

func latestStart(spans []*trace.Span) trace.Time {
	t := spans[0].Start
	for _, s := range spans[1:] {
		if s.Start > t {
			t = s.Start
		}
	}
	return t
}

func ids(spans []*trace.Span) []string {
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.ID
	}
	return out
}

func abs(t trace.Time) trace.Time {
	if t < 0 {
		return -t
	}
	return t
}

// ============================================================
// Query descriptions
// ============================================================

const describePrefix = "Analysis of dependency:"

var describeArrow = regexp.MustCompile(`'([^']+)'\s*->\s*'([^']+)'`)

// String renders q as a one-line description that ParseDependencyQuery
// reads back.
func (q DependencyQuery) String() string {
	q = q.WithDefaults()
	card := "N-to-1"
	if q.Cardinality == OneToN {
		card = "1-to-N"
	}
	scope := "self"
	if q.Scope == AllNodes {
		scope = "all nodes"
	}
	timing := "Earliest First"
	if q.Timing == LatestFirst {
		timing = "Latest First"
	}
	agg := "First Completed Group"
	if q.Aggregation == WaitForLastGroup {
		agg = "Wait For Last Group"
	}
	return fmt.Sprintf("%s '%s' -> '%s' (cardinality: %s, threshold: %d, linking by: %s, group by: %s, scope: %s, timing: %s, group aggregation: %s)",
		describePrefix, q.Source, q.Target, card, q.Threshold,
		orNone(strings.Join(q.LinkingAttributes, ",")), orNone(q.GroupBy), scope, timing, agg)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

var describeParams = []string{
	"cardinality:",
	"threshold:",
	"linking by:",
	"group by:",
	"scope:",
	"timing:",
	"group aggregation:",
}

// ParseDependencyQuery reads a description produced by String. Missing
// parameters keep their defaults.
func ParseDependencyQuery(desc string) (DependencyQuery, error) {
	var q DependencyQuery
	rest, ok := strings.CutPrefix(strings.TrimSpace(desc), describePrefix)
	if !ok {
		return q, fmt.Errorf("description must start with %q", describePrefix)
	}
	m := describeArrow.FindStringSubmatch(rest)
	if m == nil {
		return q, errors.New("no 'source' -> 'target' pair in description")
	}
	q.Source, q.Target = m[1], m[2]

	open, closing := strings.Index(rest, "("), strings.LastIndex(rest, ")")
	if open < 0 || closing < open {
		return q, errors.New("description has no parameter list")
	}
	params := rest[open+1 : closing]

	for i, name := range describeParams {
		at := strings.Index(params, name)
		if at < 0 {
			continue
		}
		value := params[at+len(name):]
		end := len(value)
		for _, next := range describeParams[i+1:] {
			if n := strings.Index(value, next); n >= 0 && n < end {
				end = n
			}
		}
		params = value[end:]
		value = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(value[:end]), ","))
		if err := q.setParam(name, value); err != nil {
			return q, err
		}
	}
	return q.WithDefaults(), nil
}

func (q *DependencyQuery) setParam(name, value string) error {
	switch name {
	case "cardinality:":
		switch value {
		case "N-to-1":
			q.Cardinality = NToOne
		case "1-to-N":
			q.Cardinality = OneToN
		default:
			return fmt.Errorf("unknown cardinality: %s", value)
		}
	case "threshold:":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid threshold: %s", value)
		}
		q.Threshold = n
	case "linking by:":
		q.LinkingAttributes = nil
		if value != "none" {
			for _, a := range strings.Split(value, ",") {
				if a = strings.TrimSpace(a); a != "" {
					q.LinkingAttributes = append(q.LinkingAttributes, a)
				}
			}
		}
	case "group by:":
		q.GroupBy = ""
		if value != "none" {
			q.GroupBy = value
		}
	case "scope:":
		switch value {
		case "self":
			q.Scope = SameNode
		case "all nodes":
			q.Scope = AllNodes
		default:
			return fmt.Errorf("unknown scope: %s", value)
		}
	case "timing:":
		switch value {
		case "Earliest First":
			q.Timing = EarliestFirst
		case "Latest First":
			q.Timing = LatestFirst
		default:
			return fmt.Errorf("unknown timing strategy: %s", value)
		}
	case "group aggregation:":
		switch value {
		case "Wait For Last Group":
			q.Aggregation = WaitForLastGroup
		case "First Completed Group":
			q.Aggregation = FirstCompletedGroup
		default:
			return fmt.Errorf("unknown group aggregation strategy: %s", value)
		}
	}
	return nil
}

// FormatDependencyReport renders r as markdown.
func FormatDependencyReport(r *DependencyAnalysis) string {
	var b strings.Builder
	b.WriteString("# traviz Dependency Report\n\n")
	fmt.Fprintf(&b, "`%s`\n\n", r.Query.String())
	if r.Overall.Count == 0 {
		b.WriteString("No links formed.\n")
		return b.String()
	}

	b.WriteString("| Node | Links | Min | Max | Mean | Median |\n")
	b.WriteString("|------|-------|-----|-----|------|--------|\n")
	writeStatsRow(&b, "All nodes", r.Overall)
	for _, nd := range r.PerNode {
		writeStatsRow(&b, nd.Node, nd.Delays)
	}
	b.WriteString("\n")
	if r.MinLink != nil {
		fmt.Fprintf(&b, "- **Shortest:** %s -> %s (%s)\n",
			strings.Join(r.MinLink.Sources, ","), strings.Join(r.MinLink.Targets, ","),
			timeutil.FormatNanos(int64(r.MinLink.Delay)))
	}
	if r.MaxLink != nil {
		fmt.Fprintf(&b, "- **Longest:** %s -> %s (%s)\n",
			strings.Join(r.MaxLink.Sources, ","), strings.Join(r.MaxLink.Targets, ","),
			timeutil.FormatNanos(int64(r.MaxLink.Delay)))
	}
	fmt.Fprintf(&b, "- **Elapsed:** %s\n", r.Elapsed)
	return b.String()
}

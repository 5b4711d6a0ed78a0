package modes

import (
	"fmt"
	"sort"
	"strings"
)

// Predicate selects spans by node and thread attribution.
type Predicate interface {
	Match(node, thread string) bool
	// Key identifies the predicate for caching.
	Key() string
}

// AttributionSet matches spans whose node is in Nodes and whose thread is
// in Threads. An empty list matches everything on that axis. It mirrors
// the filter sent to the collector.
type AttributionSet struct {
	Nodes   []string `json:"nodes"`
	Threads []string `json:"threads"`
}

func (a AttributionSet) Match(node, thread string) bool {
	return (len(a.Nodes) == 0 || contains(a.Nodes, node)) &&
		(len(a.Threads) == 0 || contains(a.Threads, thread))
}

func (a AttributionSet) Key() string {
	nodes := append([]string(nil), a.Nodes...)
	threads := append([]string(nil), a.Threads...)
	sort.Strings(nodes)
	sort.Strings(threads)
	return "nodes=" + strings.Join(nodes, ",") + ";threads=" + strings.Join(threads, ",")
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// NodeRule shows or hides spans of nodes matching Node.
type NodeRule struct {
	Node Condition `json:"node" mapstructure:"node"`
	Show bool      `json:"show" mapstructure:"show"`
}

// NodeFilter is a named rule list over node names. The first matching
// rule decides; nodes matching no rule are hidden.
type NodeFilter struct {
	Name  string     `json:"name" mapstructure:"name"`
	Rules []NodeRule `json:"rules" mapstructure:"rules"`
}

func (f NodeFilter) Match(node, _ string) bool {
	for _, r := range f.Rules {
		if r.Node.Matches(node) {
			return r.Show
		}
	}
	return false
}

func (f NodeFilter) Key() string { return "filter=" + f.Name }

// Validate checks the rule conditions.
func (f NodeFilter) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("node filter has no name")
	}
	for i, r := range f.Rules {
		if err := r.Node.Validate(); err != nil {
			return fmt.Errorf("node filter %s rule %d: %w", f.Name, i, err)
		}
	}
	return nil
}

// ShowAll admits every node.
func ShowAll() NodeFilter {
	return NodeFilter{Name: "Show all", Rules: []NodeRule{{Node: Any(), Show: true}}}
}

// ShowNone hides every node.
func ShowNone() NodeFilter {
	return NodeFilter{Name: "Show none"}
}

// BuiltinFilters returns the filters every session starts with.
func BuiltinFilters() []NodeFilter {
	return []NodeFilter{ShowAll(), ShowNone()}
}

package modes

import (
	"fmt"
	"strings"

	"github.com/Mr-Dark-debug/traviz/internal/trace"
)

// MatchOp is the comparison a Condition performs.
type MatchOp string

const (
	MatchAny      MatchOp = "any"
	MatchNone     MatchOp = "none"
	MatchEqual    MatchOp = "equal_to"
	MatchNotEqual MatchOp = "not_equal_to"
	MatchContains MatchOp = "contains"
)

// Condition matches a single string value.
type Condition struct {
	Op    MatchOp `json:"op" mapstructure:"op"`
	Value string  `json:"value,omitempty" mapstructure:"value"`
}

func Any() Condition { return Condition{Op: MatchAny} }
func EqualTo(v string) Condition { return Condition{Op: MatchEqual, Value: v} }
func NotEqualTo(v string) Condition { return Condition{Op: MatchNotEqual, Value: v} }
func Contains(sub string) Condition { return Condition{Op: MatchContains, Value: sub} }

// Matches reports whether v satisfies the condition. An empty Op behaves
// like MatchAny.
func (c Condition) Matches(v string) bool {
	switch c.Op {
	case MatchAny, "":
		return true
	case MatchNone:
		return false
	case MatchEqual:
		return v == c.Value
	case MatchNotEqual:
		return v != c.Value
	case MatchContains:
		return strings.Contains(v, c.Value)
	default:
		return false
	}
}

// Validate rejects unknown operators.
func (c Condition) Validate() error {
	switch c.Op {
	case MatchAny, MatchNone, MatchEqual, MatchNotEqual, MatchContains, "":
		return nil
	default:
		return fmt.Errorf("unknown match op %q", c.Op)
	}
}

func (c Condition) String() string {
	if c.Op == MatchAny || c.Op == MatchNone || c.Op == "" {
		return string(c.Op)
	}
	return fmt.Sprintf("%s(%q)", c.Op, c.Value)
}

// Selector picks spans by name and attributes. Every listed attribute must
// be present and match.
type Selector struct {
	Name       Condition            `json:"name" mapstructure:"name"`
	Attributes map[string]Condition `json:"attributes,omitempty" mapstructure:"attributes"`
}

// Matches reports whether s is selected.
func (sel Selector) Matches(s *trace.Span) bool {
	if !sel.Name.Matches(s.Name) {
		return false
	}
	for key, cond := range sel.Attributes {
		v, ok := s.Attributes[key]
		if !ok || !cond.Matches(v.Text()) {
			return false
		}
	}
	return true
}

// Validate checks the name and attribute conditions.
func (sel Selector) Validate() error {
	if err := sel.Name.Validate(); err != nil {
		return fmt.Errorf("name: %w", err)
	}
	for key, c := range sel.Attributes {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("attribute %s: %w", key, err)
		}
	}
	return nil
}

// Decision says how a selected span is displayed.
type Decision struct {
	Visible bool          `json:"visible" mapstructure:"visible"`
	Length  DisplayLength `json:"display_length,omitempty" mapstructure:"display_length"`
	// ReplaceName is a template; {name} expands to the span name and
	// {attr:key} to an attribute value.
	ReplaceName string `json:"replace_name,omitempty" mapstructure:"replace_name"`
	// AddAttributes appends " key=value" to the name for each present key.
	AddAttributes []string `json:"add_attributes,omitempty" mapstructure:"add_attributes"`
}

func (d Decision) displayName(s *trace.Span) string {
	name := s.Name
	if d.ReplaceName != "" {
		name = expandTemplate(d.ReplaceName, s)
	}
	for _, key := range d.AddAttributes {
		if v, ok := s.Attributes[key]; ok {
			name += " " + key + "=" + v.Text()
		}
	}
	return name
}

func expandTemplate(tmpl string, s *trace.Span) string {
	var b strings.Builder
	for {
		i := strings.IndexByte(tmpl, '{')
		if i < 0 {
			b.WriteString(tmpl)
			return b.String()
		}
		j := strings.IndexByte(tmpl[i:], '}')
		if j < 0 {
			b.WriteString(tmpl)
			return b.String()
		}
		b.WriteString(tmpl[:i])
		field := tmpl[i+1 : i+j]
		switch {
		case field == "name":
			b.WriteString(s.Name)
		case strings.HasPrefix(field, "attr:"):
			if v, ok := s.Attributes[strings.TrimPrefix(field, "attr:")]; ok {
				b.WriteString(v.Text())
			}
		default:
			b.WriteString(tmpl[i : i+j+1])
		}
		tmpl = tmpl[i+j+1:]
	}
}

// Rule is one selector/decision pair of a structured mode.
type Rule struct {
	Name     string   `json:"name" mapstructure:"name"`
	Selector Selector `json:"selector" mapstructure:"selector"`
	Decision Decision `json:"decision" mapstructure:"decision"`
}

// StructuredOptions declares a mode as an ordered rule list. The first
// rule whose selector matches decides; spans matching no rule, or running
// on a node outside ShowNodes, are hidden. An empty ShowNodes admits every
// node.
type StructuredOptions struct {
	Rules     []Rule      `json:"rules" mapstructure:"rules"`
	ShowNodes []Condition `json:"show_nodes,omitempty" mapstructure:"show_nodes"`
}

func (o StructuredOptions) decide(s *trace.Span) Decision {
	if len(o.ShowNodes) > 0 {
		admitted := false
		for _, c := range o.ShowNodes {
			if c.Matches(s.Node) {
				admitted = true
				break
			}
		}
		if !admitted {
			return Decision{}
		}
	}
	for _, r := range o.Rules {
		if r.Selector.Matches(s) {
			return r.Decision
		}
	}
	return Decision{}
}

// Validate checks every condition and display length.
func (o StructuredOptions) Validate() error {
	for _, c := range o.ShowNodes {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("show_nodes: %w", err)
		}
	}
	for i, r := range o.Rules {
		if err := r.Selector.Validate(); err != nil {
			return fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
		switch r.Decision.Length {
		case "", LengthTime, LengthText:
		default:
			return fmt.Errorf("rule %d (%s): unknown display length %q", i, r.Name, r.Decision.Length)
		}
	}
	return nil
}

// ShowSpan is a rule that shows spans with exactly this name.
func ShowSpan(name string) Rule {
	return Rule{
		Name:     "show " + name,
		Selector: Selector{Name: EqualTo(name)},
		Decision: showDecision,
	}
}

package relations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mr-Dark-debug/traviz/internal/modes"
	"github.com/Mr-Dark-debug/traviz/internal/trace"
)

func tp(v trace.Time) *trace.Time { return &v }

func span(id, name, node string, start, end trace.Time, attrs trace.Attributes) trace.Record {
	return trace.Record{ID: id, Name: name, Node: node, Start: tp(start), End: tp(end), Attributes: attrs}
}

func named(name string) modes.Selector { return modes.Selector{Name: modes.EqualTo(name)} }

func pairs(in []Instance) [][2]string {
	out := make([][2]string, len(in))
	for i, x := range in {
		out[i] = [2]string{x.From, x.To}
	}
	return out
}

func messages() *trace.RawTrace {
	return trace.Build([]trace.Record{
		span("s1", "send", "n1", 0, 10, trace.Attributes{"height": trace.IntValue(5)}),
		span("s2", "send", "n1", 50, 60, trace.Attributes{"height": trace.IntValue(6)}),
		span("r0", "recv", "n2", 5, 8, nil),
		span("r1", "recv", "n2", 15, 20, trace.Attributes{"height": trace.IntValue(6)}),
		span("r2", "recv", "n1", 30, 40, trace.Attributes{"height": trace.StringValue("5")}),
		span("r3", "recv", "n2", 70, 80, trace.Attributes{"height": trace.StringValue("seven")}),
	})
}

func TestFindMatchAllAndClosest(t *testing.T) {
	rt := messages()

	all := Find(rt, []Relation{{Name: "msg", From: named("send"), To: named("recv")}})
	assert.Equal(t, [][2]string{{"s1", "r1"}, {"s1", "r2"}, {"s1", "r3"}, {"s2", "r3"}}, pairs(all),
		"to spans must start at or after the from span ends")
	assert.Equal(t, trace.Time(5), all[0].Delay)
	assert.Equal(t, "msg", all[0].Relation)

	closest := Find(rt, []Relation{{Name: "msg", From: named("send"), To: named("recv"), Match: MatchClosest}})
	assert.Equal(t, [][2]string{{"s1", "r1"}, {"s2", "r3"}}, pairs(closest))
}

func TestFindMaxTimeDiff(t *testing.T) {
	got := Find(messages(), []Relation{{Name: "msg", From: named("send"), To: named("recv"), MaxTimeDiff: 30}})
	assert.Equal(t, [][2]string{{"s1", "r1"}, {"s1", "r2"}, {"s2", "r3"}}, pairs(got),
		"measured between start times")
}

func TestFindAttributeLinks(t *testing.T) {
	rt := messages()

	equal := Find(rt, []Relation{{
		Name: "same height", From: named("send"), To: named("recv"),
		Attributes: []AttributeLink{{From: "height", To: "height", Op: AttrEqual}},
	}})
	assert.Equal(t, [][2]string{{"s1", "r2"}}, pairs(equal), "text of int 5 equals string \"5\"")

	next := Find(rt, []Relation{{
		Name: "next height", From: named("send"), To: named("recv"),
		Attributes: []AttributeLink{{From: "height", To: "height", Op: AttrOneGreater}},
	}})
	assert.Equal(t, [][2]string{{"s1", "r1"}}, pairs(next))
}

func TestFindNodeScope(t *testing.T) {
	rt := messages()

	same := Find(rt, []Relation{{Name: "local", From: named("send"), To: named("recv"), Nodes: SameNode}})
	assert.Equal(t, [][2]string{{"s1", "r2"}}, pairs(same))

	other := Find(rt, []Relation{{Name: "remote", From: named("send"), To: named("recv"), Nodes: DifferentNode}})
	assert.Equal(t, [][2]string{{"s1", "r1"}, {"s1", "r3"}, {"s2", "r3"}}, pairs(other))
}

func TestFindSelectorsAndNamePatterns(t *testing.T) {
	rt := trace.Build([]trace.Record{
		span("a", "apply_chunk", "n1", 0, 10, trace.Attributes{"shard_id": trace.IntValue(0)}),
		span("b", "apply_block", "n1", 20, 30, nil),
		span("c", "produce_chunk", "n1", 40, 50, trace.Attributes{"shard_id": trace.IntValue(0)}),
		span("d", "produce_chunk", "n1", 60, 70, trace.Attributes{"shard_id": trace.IntValue(1)}),
	})
	r := Relation{
		Name: "apply then produce",
		From: modes.Selector{Name: modes.Contains("apply")},
		To: modes.Selector{
			Name:       modes.Contains("produce"),
			Attributes: map[string]modes.Condition{"shard_id": modes.EqualTo("0")},
		},
	}
	got := Find(rt, []Relation{r})
	assert.Equal(t, [][2]string{{"b", "c"}, {"a", "c"}}, pairs(got),
		"from names are visited in sorted order")

	self := Find(rt, []Relation{{Name: "chain", From: named("produce_chunk"), To: named("produce_chunk")}})
	assert.Equal(t, [][2]string{{"c", "d"}}, pairs(self))
}

func TestIndex(t *testing.T) {
	ix := NewIndex(Find(messages(), []Relation{{Name: "msg", From: named("send"), To: named("recv")}}))
	assert.Equal(t, 4, ix.Len())
	assert.Len(t, ix.Outgoing("s1"), 3)
	assert.Len(t, ix.Incoming("r3"), 2)
	assert.Empty(t, ix.Incoming("s1"))
	assert.Empty(t, ix.Outgoing("r0"))

	var empty *Index
	assert.Zero(t, empty.Len())
	assert.Nil(t, empty.Outgoing("s1"))
	assert.Nil(t, empty.All())
}

func TestRelationValidate(t *testing.T) {
	ok := Relation{Name: "r", From: named("a"), To: named("b")}
	require.NoError(t, ok.Validate())

	tests := []struct {
		name string
		edit func(r *Relation)
	}{
		{"no name", func(r *Relation) { r.Name = "" }},
		{"bad from op", func(r *Relation) { r.From.Name.Op = "like" }},
		{"bad to attribute", func(r *Relation) {
			r.To.Attributes = map[string]modes.Condition{"x": {Op: "regex"}}
		}},
		{"half attribute link", func(r *Relation) { r.Attributes = []AttributeLink{{From: "h"}} }},
		{"bad attribute op", func(r *Relation) {
			r.Attributes = []AttributeLink{{From: "h", To: "h", Op: "less"}}
		}},
		{"negative max diff", func(r *Relation) { r.MaxTimeDiff = -1 }},
		{"bad scope", func(r *Relation) { r.Nodes = "some" }},
		{"bad match", func(r *Relation) { r.Match = "first" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ok
			tt.edit(&r)
			assert.Error(t, r.Validate())
		})
	}
}

func TestSetViews(t *testing.T) {
	msg := Relation{Name: "msg", From: named("send"), To: named("recv")}
	local := Relation{Name: "local", From: named("send"), To: named("recv"), Nodes: SameNode}

	set, err := NewSet([]Relation{msg, local}, []View{{Name: "Local only", Relations: []string{"local"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"local", "msg"}, set.Names())

	var names []string
	for _, v := range set.Views() {
		names = append(names, v.Name)
	}
	assert.Equal(t, []string{NoRelationsView, AllRelationsView, "Local only"}, names)

	all, ok := set.View(AllRelationsView)
	require.True(t, ok)
	assert.Equal(t, []string{"local", "msg"}, all.Relations)

	rt := messages()
	none, err := set.Find(rt, NoRelationsView)
	require.NoError(t, err)
	assert.Empty(t, none)

	found, err := set.Find(rt, "Local only")
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"s1", "r2"}}, pairs(found))

	found, err = set.Find(rt, AllRelationsView)
	require.NoError(t, err)
	assert.Len(t, found, 5)

	_, err = set.Find(rt, "missing")
	assert.ErrorIs(t, err, ErrUnknownView)
}

func TestNewSetRejectsBadViews(t *testing.T) {
	msg := Relation{Name: "msg", From: named("send"), To: named("recv")}

	_, err := NewSet([]Relation{msg}, []View{{Name: "v", Relations: []string{"nope"}}})
	assert.ErrorIs(t, err, ErrUnknownRelation)

	_, err = NewSet([]Relation{msg}, []View{{Name: NoRelationsView, Relations: []string{"msg"}}})
	assert.Error(t, err)

	_, err = NewSet([]Relation{{Name: ""}}, nil)
	assert.Error(t, err)

	replaced := Relation{Name: "msg", From: named("send"), To: named("recv"), Match: MatchClosest}
	set, err := NewSet([]Relation{msg, replaced}, nil)
	require.NoError(t, err)
	got, ok := set.Relation("msg")
	require.True(t, ok)
	assert.Equal(t, MatchClosest, got.Match)
	assert.Len(t, set.Relations(), 1)
}

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mr-Dark-debug/traviz/internal/trace"
	"github.com/Mr-Dark-debug/traviz/pkg/jsonutil"
)

func span(t *testing.T, rt *trace.RawTrace, id string) *trace.Span {
	t.Helper()
	sp, ok := rt.Span(id)
	require.True(t, ok)
	return sp
}

func TestDiffSpans(t *testing.T) {
	at := func(v trace.Time) *trace.Time { return &v }
	rt := trace.Build([]trace.Record{
		{ID: "a", Name: "apply", Node: "n1", Start: at(0), End: at(10), Attributes: trace.Attributes{
			"config": trace.StringValue(`{"retries":1,"mode":"fast"}`),
			"shard":  trace.IntValue(1),
			"note":   trace.StringValue("{not json"),
		}},
		{ID: "b", Name: "apply", Node: "n1", Start: at(20), End: at(40), Attributes: trace.Attributes{
			"config": trace.StringValue(`{"retries":2,"mode":"fast"}`),
			"shard":  trace.IntValue(2),
			"note":   trace.StringValue("{not json"),
		}},
	})

	changes := diffSpans(span(t, rt, "a"), span(t, rt, "b"))
	var paths []string
	for _, c := range changes {
		paths = append(paths, c.Path)
		assert.Equal(t, "update", c.Type)
	}
	assert.Equal(t, []string{"config.retries", "duration", "shard"}, paths,
		"object attributes are compared key by key")
	assert.Equal(t, jsonutil.Change{Path: "config.retries", Type: "update", OldValue: "1", NewValue: "2"}, changes[0])

	assert.Empty(t, diffSpans(span(t, rt, "a"), span(t, rt, "a")))
}

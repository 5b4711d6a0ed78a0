package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mr-Dark-debug/traviz/internal/config"
	"github.com/Mr-Dark-debug/traviz/internal/database"
	"github.com/Mr-Dark-debug/traviz/internal/modes"
	"github.com/Mr-Dark-debug/traviz/internal/relations"
	"github.com/Mr-Dark-debug/traviz/internal/session"
)

func TestAssembleBuiltinsOnly(t *testing.T) {
	cat, err := Assemble(config.Default(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{modes.ModeEverything, modes.ModeFiltered, modes.ModeMerged, modes.ModeGaps},
		cat.Registry.Names())
	assert.Len(t, cat.Filters, 2)
	assert.Len(t, cat.Relations.Views(), 2)
}

func TestAssembleMergesConfigAndStore(t *testing.T) {
	cfg := config.Default()
	cfg.Modes = []config.ModeConfig{{Name: "Database", Rules: []modes.Rule{modes.ShowSpan("db.query")}}}
	cfg.Filters = []modes.NodeFilter{{Name: "api", Rules: []modes.NodeRule{{Node: modes.EqualTo("api"), Show: true}}}}

	store, err := database.NewDBService(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveMode(&database.ModeDefinition{Name: "Database", Rules: []modes.Rule{modes.ShowSpan("other")}}))
	require.NoError(t, store.SaveMode(&database.ModeDefinition{Name: "Renders", Rules: []modes.Rule{modes.ShowSpan("render")}}))
	require.NoError(t, store.SaveFilter(&database.FilterDefinition{Name: "api"}))
	require.NoError(t, store.SaveFilter(&database.FilterDefinition{Name: "workers", Rules: []modes.NodeRule{{Node: modes.Contains("worker"), Show: true}}}))

	cat, err := Assemble(cfg, store, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		modes.ModeEverything, modes.ModeFiltered, modes.ModeMerged, modes.ModeGaps, "Database", "Renders",
	}, cat.Registry.Names())

	db, err := cat.Registry.Get("Database")
	require.NoError(t, err)
	rules := db.Options.(modes.StructuredOptions).Rules
	require.Len(t, rules, 1)
	assert.Equal(t, "show db.query", rules[0].Name)

	var names []string
	for _, f := range cat.Filters {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Show all", "Show none", "api", "workers"}, names)
	assert.True(t, cat.Filters[2].Match("api", ""))
}

func TestSessionOptions(t *testing.T) {
	cfg := config.Default()
	cfg.UI.DefaultMode = modes.ModeMerged

	cat, err := Assemble(cfg, nil, nil)
	require.NoError(t, err)
	opts := cat.SessionOptions(cfg, nil, nil)
	assert.Equal(t, cfg.UI.ZoomStep, opts.Viewport.ZoomStep)
	assert.Equal(t, cfg.Cache.RenderEntries, opts.CacheEntries)

	sess, err := session.New(opts)
	require.NoError(t, err)
	defer sess.Close()
	assert.Equal(t, modes.ModeMerged, sess.Mode().Name)
}

func TestAssembleMergesRelations(t *testing.T) {
	sel := func(name string) modes.Selector { return modes.Selector{Name: modes.EqualTo(name)} }
	cfg := config.Default()
	cfg.Relations = []relations.Relation{{Name: "handoff", From: sel("produce"), To: sel("apply")}}
	cfg.RelationViews = []relations.View{{Name: "Handoffs", Relations: []string{"handoff"}}}

	store, err := database.NewDBService(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveRelation(&database.RelationDefinition{Relation: relations.Relation{
		Name: "handoff", From: sel("other"), To: sel("other"),
	}}))
	require.NoError(t, store.SaveRelation(&database.RelationDefinition{Relation: relations.Relation{
		Name: "reply", From: sel("request"), To: sel("response"), Match: relations.MatchClosest,
	}}))
	require.NoError(t, store.SaveRelationView(&database.RelationViewDefinition{View: relations.View{
		Name: "Replies", Relations: []string{"reply"},
	}}))
	require.NoError(t, store.SaveRelationView(&database.RelationViewDefinition{View: relations.View{
		Name: "Stale", Relations: []string{"deleted"},
	}}))

	cat, err := Assemble(cfg, store, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"handoff", "reply"}, cat.Relations.Names())

	handoff, ok := cat.Relations.Relation("handoff")
	require.True(t, ok)
	assert.Equal(t, modes.EqualTo("produce"), handoff.From.Name, "configuration wins")

	var views []string
	for _, v := range cat.Relations.Views() {
		views = append(views, v.Name)
	}
	assert.Equal(t, []string{relations.NoRelationsView, relations.AllRelationsView, "Handoffs", "Replies"}, views)

	cfg.UI.DefaultRelationView = "Replies"
	sess, err := session.New(cat.SessionOptions(cfg, nil, nil))
	require.NoError(t, err)
	defer sess.Close()
	assert.Equal(t, "Replies", sess.RelationView())
}

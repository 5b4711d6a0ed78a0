// Package catalog assembles the display modes, node filters, relations and
// relation views a session offers: the built-ins, those declared in
// configuration and those saved in the catalog store.
package catalog

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Mr-Dark-debug/traviz/internal/config"
	"github.com/Mr-Dark-debug/traviz/internal/database"
	"github.com/Mr-Dark-debug/traviz/internal/modes"
	"github.com/Mr-Dark-debug/traviz/internal/relations"
	"github.com/Mr-Dark-debug/traviz/internal/session"
	"github.com/Mr-Dark-debug/traviz/internal/viewport"
)

// Source is the part of the store the catalog reads.
type Source interface {
	ListModes() ([]*database.ModeDefinition, error)
	ListFilters() ([]*database.FilterDefinition, error)
	ListRelations() ([]*database.RelationDefinition, error)
	ListRelationViews() ([]*database.RelationViewDefinition, error)
}

// Catalog is the assembled mode registry, node filter list and relation
// set.
type Catalog struct {
	Registry  *modes.Registry
	Filters   []modes.NodeFilter
	Relations *relations.Set
}

// Assemble builds the catalog. Configured entries take precedence over
// stored ones of the same name; shadowed stored entries are skipped with a
// warning. src may be nil.
func Assemble(cfg *config.Config, src Source, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	all := modes.BuiltinModes(cfg.UI.MinGap())
	all = append(all, cfg.UserModes()...)
	filters := append(modes.BuiltinFilters(), cfg.Filters...)
	rels := append([]relations.Relation(nil), cfg.Relations...)
	views := append([]relations.View(nil), cfg.RelationViews...)

	if src != nil {
		defs, err := src.ListModes()
		if err != nil {
			return nil, fmt.Errorf("listing stored modes: %w", err)
		}
		taken := make(map[string]bool, len(all))
		for _, m := range all {
			taken[m.Name] = true
		}
		for _, d := range defs {
			if taken[d.Name] {
				logger.Warn("stored mode shadowed by configuration", zap.String("mode", d.Name))
				continue
			}
			taken[d.Name] = true
			all = append(all, d.Mode())
		}

		fdefs, err := src.ListFilters()
		if err != nil {
			return nil, fmt.Errorf("listing stored filters: %w", err)
		}
		ftaken := make(map[string]bool, len(filters))
		for _, f := range filters {
			ftaken[f.Name] = true
		}
		for _, d := range fdefs {
			if ftaken[d.Name] {
				logger.Warn("stored node filter shadowed by configuration", zap.String("filter", d.Name))
				continue
			}
			ftaken[d.Name] = true
			filters = append(filters, d.Filter())
		}

		if rels, views, err = mergeRelations(src, rels, views, logger); err != nil {
			return nil, err
		}
	}

	reg, err := modes.NewRegistry(all...)
	if err != nil {
		return nil, fmt.Errorf("building mode registry: %w", err)
	}
	set, err := relations.NewSet(rels, views)
	if err != nil {
		return nil, fmt.Errorf("building relation set: %w", err)
	}
	return &Catalog{Registry: reg, Filters: filters, Relations: set}, nil
}

// mergeRelations appends the stored relations and views not shadowed by
// configuration. A stored view naming a relation that no longer exists is
// skipped with a warning.
func mergeRelations(src Source, rels []relations.Relation, views []relations.View, logger *zap.Logger) ([]relations.Relation, []relations.View, error) {
	rdefs, err := src.ListRelations()
	if err != nil {
		return nil, nil, fmt.Errorf("listing stored relations: %w", err)
	}
	taken := make(map[string]bool, len(rels))
	for _, r := range rels {
		taken[r.Name] = true
	}
	for _, d := range rdefs {
		if taken[d.Name] {
			logger.Warn("stored relation shadowed by configuration", zap.String("relation", d.Name))
			continue
		}
		taken[d.Name] = true
		rels = append(rels, d.Relation)
	}

	vdefs, err := src.ListRelationViews()
	if err != nil {
		return nil, nil, fmt.Errorf("listing stored relation views: %w", err)
	}
	vtaken := map[string]bool{relations.NoRelationsView: true, relations.AllRelationsView: true}
	for _, v := range views {
		vtaken[v.Name] = true
	}
next:
	for _, d := range vdefs {
		if vtaken[d.Name] {
			logger.Warn("stored relation view shadowed", zap.String("view", d.Name))
			continue
		}
		for _, name := range d.Relations {
			if !taken[name] {
				logger.Warn("stored relation view names an unknown relation",
					zap.String("view", d.Name), zap.String("relation", name))
				continue next
			}
		}
		vtaken[d.Name] = true
		views = append(views, d.View)
	}
	return rels, views, nil
}

// SessionOptions derives session options from cfg and the catalog.
func (c *Catalog) SessionOptions(cfg *config.Config, logger *zap.Logger, observer session.Observer) session.Options {
	return session.Options{
		Viewport: viewport.Config{
			HandleTolerance: cfg.UI.HandleTolerance,
			ZoomStep:        cfg.UI.ZoomStep,
			MinWindow:       1,
		},
		InitialFraction:     cfg.UI.InitialWindow,
		Registry:            c.Registry,
		DefaultMode:         cfg.UI.DefaultMode,
		Filters:             c.Filters,
		Relations:           c.Relations,
		DefaultRelationView: cfg.UI.DefaultRelationView,
		CacheEntries:        cfg.Cache.RenderEntries,
		Logger:              logger,
		Observer:            observer,
	}
}

package database

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Mr-Dark-debug/traviz/internal/modes"
	"github.com/Mr-Dark-debug/traviz/internal/relations"
)

// DefinitionVersion is the format version written for new definitions.
const DefinitionVersion = 1

// ErrUnsupportedVersion is returned for definitions newer than this build.
var ErrUnsupportedVersion = errors.New("unsupported definition version")

// ModeDefinition is a persisted structured mode.
type ModeDefinition struct {
	ID        string            `json:"id,omitempty"`
	Name      string            `json:"name"`
	Version   int               `json:"version"`
	Rules     []modes.Rule      `json:"rules"`
	ShowNodes []modes.Condition `json:"show_nodes,omitempty"`
	CreatedAt int64             `json:"created_at,omitempty"`
	UpdatedAt int64             `json:"updated_at,omitempty"`
}

// Mode converts the definition into a registrable mode.
func (d *ModeDefinition) Mode() modes.Mode {
	return modes.Mode{
		Name:    d.Name,
		Options: modes.StructuredOptions{Rules: d.Rules, ShowNodes: d.ShowNodes},
	}
}

// Validate checks the name, version and rules.
func (d *ModeDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("mode definition has no name")
	}
	if d.Version > DefinitionVersion {
		return fmt.Errorf("mode %s: version %d: %w", d.Name, d.Version, ErrUnsupportedVersion)
	}
	if err := (modes.StructuredOptions{Rules: d.Rules, ShowNodes: d.ShowNodes}).Validate(); err != nil {
		return fmt.Errorf("mode %s: %w", d.Name, err)
	}
	return nil
}

// FilterDefinition is a persisted node filter.
type FilterDefinition struct {
	ID        string           `json:"id,omitempty"`
	Name      string           `json:"name"`
	Version   int              `json:"version"`
	Rules     []modes.NodeRule `json:"rules"`
	CreatedAt int64            `json:"created_at,omitempty"`
	UpdatedAt int64            `json:"updated_at,omitempty"`
}

// Filter converts the definition into a node filter.
func (d *FilterDefinition) Filter() modes.NodeFilter {
	return modes.NodeFilter{Name: d.Name, Rules: d.Rules}
}

// Validate checks the version and rules.
func (d *FilterDefinition) Validate() error {
	if d.Version > DefinitionVersion {
		return fmt.Errorf("filter %s: version %d: %w", d.Name, d.Version, ErrUnsupportedVersion)
	}
	return d.Filter().Validate()
}

// RelationDefinition is a persisted span relation. The relation's fields
// sit at the top level of its JSON form.
type RelationDefinition struct {
	ID      string `json:"id,omitempty"`
	Version int    `json:"version"`
	relations.Relation
	CreatedAt int64 `json:"created_at,omitempty"`
	UpdatedAt int64 `json:"updated_at,omitempty"`
}

// Validate checks the version and the relation.
func (d *RelationDefinition) Validate() error {
	if d.Version > DefinitionVersion {
		return fmt.Errorf("relation %s: version %d: %w", d.Name, d.Version, ErrUnsupportedVersion)
	}
	return d.Relation.Validate()
}

// RelationViewDefinition is a persisted relation view.
type RelationViewDefinition struct {
	ID      string `json:"id,omitempty"`
	Version int    `json:"version"`
	relations.View
	CreatedAt int64 `json:"created_at,omitempty"`
	UpdatedAt int64 `json:"updated_at,omitempty"`
}

// Validate checks the version and name.
func (d *RelationViewDefinition) Validate() error {
	if d.Version > DefinitionVersion {
		return fmt.Errorf("relation view %s: version %d: %w", d.Name, d.Version, ErrUnsupportedVersion)
	}
	return d.View.Validate()
}

// persisted is the JSON body stored in the definition column. Identity
// and timestamps live in their own columns.
type persisted[T any] struct {
	Version   int               `json:"version"`
	Rules     []T               `json:"rules"`
	ShowNodes []modes.Condition `json:"show_nodes,omitempty"`
}

// ============================================================
// Mode and filter persistence
// ============================================================

// SaveMode validates def and stores it under its name. A missing version
// is stamped with DefinitionVersion; def.ID and timestamps are filled in.
func (s *DBService) SaveMode(def *ModeDefinition) error {
	if def.Version == 0 {
		def.Version = DefinitionVersion
	}
	if err := def.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(persisted[modes.Rule]{Version: def.Version, Rules: def.Rules, ShowNodes: def.ShowNodes})
	if err != nil {
		return fmt.Errorf("encoding mode %s: %w", def.Name, err)
	}
	e := &entry{ID: def.ID, Name: def.Name, Version: def.Version, Definition: string(body)}
	if err := s.upsert(s.stmtUpsertMode, "modes", e); err != nil {
		return err
	}
	def.ID, def.CreatedAt, def.UpdatedAt = e.ID, e.CreatedAt, e.UpdatedAt
	return nil
}

// GetMode returns the mode called name.
func (s *DBService) GetMode(name string) (*ModeDefinition, error) {
	e, err := s.get("modes", name)
	if err != nil {
		return nil, err
	}
	return modeFromEntry(e)
}

// ListModes returns every stored mode ordered by name.
func (s *DBService) ListModes() ([]*ModeDefinition, error) {
	entries, err := s.list("modes")
	if err != nil {
		return nil, err
	}
	out := make([]*ModeDefinition, 0, len(entries))
	for _, e := range entries {
		d, err := modeFromEntry(e)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// DeleteMode removes the mode called name.
func (s *DBService) DeleteMode(name string) error {
	return s.remove("modes", name)
}

func modeFromEntry(e *entry) (*ModeDefinition, error) {
	var body persisted[modes.Rule]
	if err := json.Unmarshal([]byte(e.Definition), &body); err != nil {
		return nil, fmt.Errorf("decoding mode %s: %w", e.Name, err)
	}
	d := &ModeDefinition{
		ID:        e.ID,
		Name:      e.Name,
		Version:   e.Version,
		Rules:     body.Rules,
		ShowNodes: body.ShowNodes,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	if d.Version > DefinitionVersion {
		return nil, fmt.Errorf("mode %s: version %d: %w", d.Name, d.Version, ErrUnsupportedVersion)
	}
	return d, nil
}

// SaveFilter validates def and stores it under its name.
func (s *DBService) SaveFilter(def *FilterDefinition) error {
	if def.Version == 0 {
		def.Version = DefinitionVersion
	}
	if err := def.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(persisted[modes.NodeRule]{Version: def.Version, Rules: def.Rules})
	if err != nil {
		return fmt.Errorf("encoding filter %s: %w", def.Name, err)
	}
	e := &entry{ID: def.ID, Name: def.Name, Version: def.Version, Definition: string(body)}
	if err := s.upsert(s.stmtUpsertFilter, "node_filters", e); err != nil {
		return err
	}
	def.ID, def.CreatedAt, def.UpdatedAt = e.ID, e.CreatedAt, e.UpdatedAt
	return nil
}

// GetFilter returns the node filter called name.
func (s *DBService) GetFilter(name string) (*FilterDefinition, error) {
	e, err := s.get("node_filters", name)
	if err != nil {
		return nil, err
	}
	return filterFromEntry(e)
}

// ListFilters returns every stored node filter ordered by name.
func (s *DBService) ListFilters() ([]*FilterDefinition, error) {
	entries, err := s.list("node_filters")
	if err != nil {
		return nil, err
	}
	out := make([]*FilterDefinition, 0, len(entries))
	for _, e := range entries {
		d, err := filterFromEntry(e)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// DeleteFilter removes the node filter called name.
func (s *DBService) DeleteFilter(name string) error {
	return s.remove("node_filters", name)
}

func filterFromEntry(e *entry) (*FilterDefinition, error) {
	var body persisted[modes.NodeRule]
	if err := json.Unmarshal([]byte(e.Definition), &body); err != nil {
		return nil, fmt.Errorf("decoding filter %s: %w", e.Name, err)
	}
	d := &FilterDefinition{
		ID:        e.ID,
		Name:      e.Name,
		Version:   e.Version,
		Rules:     body.Rules,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	if d.Version > DefinitionVersion {
		return nil, fmt.Errorf("filter %s: version %d: %w", d.Name, d.Version, ErrUnsupportedVersion)
	}
	return d, nil
}

// ============================================================
// Relation persistence
// ============================================================

type relationBody struct {
	Version int `json:"version"`
	relations.Relation
}

type viewBody struct {
	Version int `json:"version"`
	relations.View
}

// SaveRelation validates def and stores it under its name.
func (s *DBService) SaveRelation(def *RelationDefinition) error {
	if def.Version == 0 {
		def.Version = DefinitionVersion
	}
	if err := def.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(relationBody{Version: def.Version, Relation: def.Relation})
	if err != nil {
		return fmt.Errorf("encoding relation %s: %w", def.Name, err)
	}
	e := &entry{ID: def.ID, Name: def.Name, Version: def.Version, Definition: string(body)}
	if err := s.upsert(s.stmtUpsertRel, "relations", e); err != nil {
		return err
	}
	def.ID, def.CreatedAt, def.UpdatedAt = e.ID, e.CreatedAt, e.UpdatedAt
	return nil
}

// GetRelation returns the relation called name.
func (s *DBService) GetRelation(name string) (*RelationDefinition, error) {
	e, err := s.get("relations", name)
	if err != nil {
		return nil, err
	}
	return relationFromEntry(e)
}

// ListRelations returns every stored relation ordered by name.
func (s *DBService) ListRelations() ([]*RelationDefinition, error) {
	entries, err := s.list("relations")
	if err != nil {
		return nil, err
	}
	out := make([]*RelationDefinition, 0, len(entries))
	for _, e := range entries {
		d, err := relationFromEntry(e)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// DeleteRelation removes the relation called name. Views naming it are
// left alone and fail to assemble until edited.
func (s *DBService) DeleteRelation(name string) error {
	return s.remove("relations", name)
}

func relationFromEntry(e *entry) (*RelationDefinition, error) {
	var body relationBody
	if err := json.Unmarshal([]byte(e.Definition), &body); err != nil {
		return nil, fmt.Errorf("decoding relation %s: %w", e.Name, err)
	}
	d := &RelationDefinition{
		ID:        e.ID,
		Version:   e.Version,
		Relation:  body.Relation,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	d.Name = e.Name
	if d.Version > DefinitionVersion {
		return nil, fmt.Errorf("relation %s: version %d: %w", d.Name, d.Version, ErrUnsupportedVersion)
	}
	return d, nil
}

// SaveRelationView validates def and stores it under its name.
func (s *DBService) SaveRelationView(def *RelationViewDefinition) error {
	if def.Version == 0 {
		def.Version = DefinitionVersion
	}
	if err := def.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(viewBody{Version: def.Version, View: def.View})
	if err != nil {
		return fmt.Errorf("encoding relation view %s: %w", def.Name, err)
	}
	e := &entry{ID: def.ID, Name: def.Name, Version: def.Version, Definition: string(body)}
	if err := s.upsert(s.stmtUpsertView, "relation_views", e); err != nil {
		return err
	}
	def.ID, def.CreatedAt, def.UpdatedAt = e.ID, e.CreatedAt, e.UpdatedAt
	return nil
}

// ListRelationViews returns every stored relation view ordered by name.
func (s *DBService) ListRelationViews() ([]*RelationViewDefinition, error) {
	entries, err := s.list("relation_views")
	if err != nil {
		return nil, err
	}
	out := make([]*RelationViewDefinition, 0, len(entries))
	for _, e := range entries {
		var body viewBody
		if err := json.Unmarshal([]byte(e.Definition), &body); err != nil {
			return nil, fmt.Errorf("decoding relation view %s: %w", e.Name, err)
		}
		d := &RelationViewDefinition{
			ID:        e.ID,
			Version:   e.Version,
			View:      body.View,
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		}
		d.Name = e.Name
		if d.Version > DefinitionVersion {
			return nil, fmt.Errorf("relation view %s: version %d: %w", d.Name, d.Version, ErrUnsupportedVersion)
		}
		out = append(out, d)
	}
	return out, nil
}

// DeleteRelationView removes the relation view called name.
func (s *DBService) DeleteRelationView(name string) error {
	return s.remove("relation_views", name)
}

// ============================================================
// Import
// ============================================================

// DecodeModes parses a single mode definition or a JSON array of them.
func DecodeModes(data []byte) ([]*ModeDefinition, error) {
	return decodeList[ModeDefinition](data)
}

// DecodeFilters parses a single filter definition or a JSON array of them.
func DecodeFilters(data []byte) ([]*FilterDefinition, error) {
	return decodeList[FilterDefinition](data)
}

// DecodeRelations parses a single relation definition or a JSON array of
// them.
func DecodeRelations(data []byte) ([]*RelationDefinition, error) {
	return decodeList[RelationDefinition](data)
}

// DecodeRelationViews parses a single relation view or a JSON array of
// them.
func DecodeRelationViews(data []byte) ([]*RelationViewDefinition, error) {
	return decodeList[RelationViewDefinition](data)
}

func decodeList[T any](data []byte) ([]*T, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []*T
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decoding definitions: %w", err)
		}
		return list, nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("decoding definition: %w", err)
	}
	return []*T{&one}, nil
}

var _ Store = (*DBService)(nil)

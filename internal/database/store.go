// Package database provides the catalog store for traviz.
//
// It persists user-defined structured modes, node filters, span relations,
// relation views and the list of recently opened trace files in SQLite with WAL mode. Definitions are
// stored as versioned JSON documents. The DBService struct is the primary
// entry point for all database operations.
package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaFS embed.FS

// ErrNotFound is returned when a named entry does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for catalog persistence.
// This abstraction allows for mocking in tests.
type Store interface {
	// SaveMode inserts or replaces a mode definition by name.
	SaveMode(def *ModeDefinition) error
	// GetMode returns the mode with the given name.
	GetMode(name string) (*ModeDefinition, error)
	// ListModes returns all modes ordered by name.
	ListModes() ([]*ModeDefinition, error)
	// DeleteMode removes the mode with the given name.
	DeleteMode(name string) error

	// SaveFilter inserts or replaces a node filter definition by name.
	SaveFilter(def *FilterDefinition) error
	// GetFilter returns the node filter with the given name.
	GetFilter(name string) (*FilterDefinition, error)
	// ListFilters returns all node filters ordered by name.
	ListFilters() ([]*FilterDefinition, error)
	// DeleteFilter removes the node filter with the given name.
	DeleteFilter(name string) error

	// SaveRelation inserts or replaces a relation definition by name.
	SaveRelation(def *RelationDefinition) error
	// GetRelation returns the relation with the given name.
	GetRelation(name string) (*RelationDefinition, error)
	// ListRelations returns all relations ordered by name.
	ListRelations() ([]*RelationDefinition, error)
	// DeleteRelation removes the relation with the given name.
	DeleteRelation(name string) error

	// SaveRelationView inserts or replaces a relation view by name.
	SaveRelationView(def *RelationViewDefinition) error
	// ListRelationViews returns all relation views ordered by name.
	ListRelationViews() ([]*RelationViewDefinition, error)
	// DeleteRelationView removes the relation view with the given name.
	DeleteRelationView(name string) error

	// RecordRecentFile notes that path was opened.
	RecordRecentFile(path string, spanCount int) error
	// RecentFiles returns the most recently opened files first.
	RecentFiles(limit int) ([]RecentFile, error)

	// Close gracefully shuts down the database connection.
	Close() error
}

// RecentFile is one entry of the recently opened list.
type RecentFile struct {
	Path      string `json:"path"`
	OpenedAt  int64  `json:"opened_at"`
	SpanCount int    `json:"span_count"`
	OpenCount int    `json:"open_count"`
}

// ============================================================
// DBService Implementation
// ============================================================

// DBService implements the Store interface using SQLite.
// It manages the connection, prepared statements,
// and ensures thread-safe access through a read-write mutex.
type DBService struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string

	stmtUpsertMode   *sql.Stmt
	stmtUpsertFilter *sql.Stmt
	stmtUpsertRel    *sql.Stmt
	stmtUpsertView   *sql.Stmt
	stmtRecordFile   *sql.Stmt
}

// NewDBService opens the catalog, initializes the schema, and prepares
// frequently-used statements.
//
// Use ":memory:" for in-memory databases (useful for testing).
func NewDBService(path string) (*DBService, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", path, err)
	}

	// SQLite only supports one writer at a time, and an in-memory
	// database lives on a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	svc := &DBService{
		db:   db,
		path: path,
	}

	if err := svc.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	if err := svc.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing statements: %w", err)
	}

	return svc, nil
}

// initSchema executes the embedded schema.sql.
func (s *DBService) initSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("reading embedded schema: %w", err)
	}

	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	return nil
}

func (s *DBService) prepareStatements() error {
	var err error

	s.stmtUpsertMode, err = s.db.Prepare(upsertSQL("modes"))
	if err != nil {
		return fmt.Errorf("preparing UpsertMode: %w", err)
	}

	s.stmtUpsertFilter, err = s.db.Prepare(upsertSQL("node_filters"))
	if err != nil {
		return fmt.Errorf("preparing UpsertFilter: %w", err)
	}

	s.stmtUpsertRel, err = s.db.Prepare(upsertSQL("relations"))
	if err != nil {
		return fmt.Errorf("preparing UpsertRelation: %w", err)
	}

	s.stmtUpsertView, err = s.db.Prepare(upsertSQL("relation_views"))
	if err != nil {
		return fmt.Errorf("preparing UpsertRelationView: %w", err)
	}

	s.stmtRecordFile, err = s.db.Prepare(`
		INSERT INTO recent_files (path, opened_at, span_count, open_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(path) DO UPDATE SET
			opened_at = excluded.opened_at,
			span_count = excluded.span_count,
			open_count = recent_files.open_count + 1
	`)
	if err != nil {
		return fmt.Errorf("preparing RecordFile: %w", err)
	}

	return nil
}

// upsertSQL replaces an entry by name while keeping its id and creation
// time.
func upsertSQL(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %[1]s (id, name, version, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			version = excluded.version,
			definition = excluded.definition,
			updated_at = excluded.updated_at
	`, table)
}

// entry is a row of one of the definition tables.
type entry struct {
	ID         string
	Name       string
	Version    int
	Definition string
	CreatedAt  int64
	UpdatedAt  int64
}

func (s *DBService) upsert(stmt *sql.Stmt, table string, e *entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UnixNano()
	if e.CreatedAt == 0 {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	if _, err := stmt.Exec(e.ID, e.Name, e.Version, e.Definition, e.CreatedAt, e.UpdatedAt); err != nil {
		return fmt.Errorf("saving %s %q: %w", table, e.Name, err)
	}
	// The stored id wins when the name already existed.
	return s.db.QueryRow(
		fmt.Sprintf(`SELECT id, created_at FROM %s WHERE name = ?`, table), e.Name,
	).Scan(&e.ID, &e.CreatedAt)
}

func (s *DBService) get(table, name string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e entry
	err := s.db.QueryRow(fmt.Sprintf(`
		SELECT id, name, version, definition, created_at, updated_at
		FROM %s WHERE name = ?
	`, table), name).Scan(&e.ID, &e.Name, &e.Version, &e.Definition, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %q: %w", table, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying %s %q: %w", table, name, err)
	}
	return &e, nil
}

func (s *DBService) list(table string) ([]*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT id, name, version, definition, created_at, updated_at
		FROM %s ORDER BY name
	`, table))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", table, err)
	}
	defer rows.Close()

	var out []*entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.ID, &e.Name, &e.Version, &e.Definition, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", table, err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *DBService) remove(table, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE name = ?`, table), name)
	if err != nil {
		return fmt.Errorf("deleting %s %q: %w", table, name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting %s %q: %w", table, name, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %q: %w", table, name, ErrNotFound)
	}
	return nil
}

// RecordRecentFile notes that path was opened with spanCount spans.
func (s *DBService) RecordRecentFile(path string, spanCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.stmtRecordFile.Exec(path, time.Now().UnixNano(), spanCount); err != nil {
		return fmt.Errorf("recording recent file %s: %w", path, err)
	}
	return nil
}

// RecentFiles returns up to limit files, most recently opened first.
// A limit <= 0 defaults to 20.
func (s *DBService) RecentFiles(limit int) ([]RecentFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT path, opened_at, span_count, open_count
		FROM recent_files ORDER BY opened_at DESC, path LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent files: %w", err)
	}
	defer rows.Close()

	var files []RecentFile
	for rows.Next() {
		var f RecentFile
		if err := rows.Scan(&f.Path, &f.OpenedAt, &f.SpanCount, &f.OpenCount); err != nil {
			return nil, fmt.Errorf("scanning recent file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// Close closes prepared statements and the database connection.
func (s *DBService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range []*sql.Stmt{s.stmtUpsertMode, s.stmtUpsertFilter, s.stmtUpsertRel, s.stmtUpsertView, s.stmtRecordFile} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

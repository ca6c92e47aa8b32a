// Package relational provides the SQLite-backed persistence for visits, page
// analyses, trees, procedural rules, and episodic memory, grounded on the
// KittClouds-Go-Machine-n pack repo's internal/store/sqlite_store.go
// (mutex-guarded *sql.DB, explicit schema string, manual row scanning) since
// the teacher itself has no SQL store.
package relational

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store is the SQLite-backed relational store for the ingestion pipeline.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS visits (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	page_loaded_at INTEGER NOT NULL,
	referrer TEXT,
	referrer_timestamp INTEGER,
	opener_tab_id TEXT,
	tree_id TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_visits_tree ON visits(tree_id);
CREATE INDEX IF NOT EXISTS idx_visits_url_loaded ON visits(url, page_loaded_at);

CREATE TABLE IF NOT EXISTS page_analyses (
	visit_id TEXT PRIMARY KEY REFERENCES visits(id),
	title TEXT,
	summary TEXT,
	intentions_json TEXT,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trees (
	id TEXT PRIMARY KEY,
	head_visit_id TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tree_nodes (
	tree_id TEXT NOT NULL REFERENCES trees(id),
	visit_id TEXT NOT NULL,
	parent_id TEXT,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (tree_id, visit_id)
);
CREATE INDEX IF NOT EXISTS idx_tree_nodes_visit ON tree_nodes(visit_id);

CREATE TABLE IF NOT EXISTS tree_intentions (
	tree_id TEXT PRIMARY KEY REFERENCES trees(id),
	by_visit_json TEXT NOT NULL,
	computed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS procedural_rules (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	condition_json TEXT NOT NULL,
	action_json TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rules_priority ON procedural_rules(priority DESC, created_at ASC);

CREATE TABLE IF NOT EXISTS rule_executions (
	id TEXT PRIMARY KEY,
	rule_id TEXT NOT NULL REFERENCES procedural_rules(id),
	visit_id TEXT NOT NULL,
	matched INTEGER NOT NULL,
	action_json TEXT,
	executed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rule_executions_rule ON rule_executions(rule_id);

CREATE TABLE IF NOT EXISTS episodic_memories (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	domain TEXT NOT NULL,
	page_type TEXT NOT NULL,
	base_confidence REAL NOT NULL,
	final_decision TEXT NOT NULL,
	content_features_json TEXT,
	user_correction_json TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_episodic_domain ON episodic_memories(domain);
CREATE INDEX IF NOT EXISTS idx_episodic_created ON episodic_memories(created_at);
`

// Open opens (creating if necessary) the SQLite database at dsn and applies
// the schema. Use ":memory:" for ephemeral stores in tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

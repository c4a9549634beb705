// Package index mirrors the link graph into SQLite so backlinks and node
// lookups can be queried without loading the engine.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS nodes (
	id         TEXT PRIMARY KEY,
	label      TEXT NOT NULL DEFAULT '',
	on_disk    INTEGER NOT NULL DEFAULT 0,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	modified   DATETIME,
	title      TEXT,
	tags       TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS edges (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL REFERENCES nodes(id),
	target      TEXT NOT NULL REFERENCES nodes(id),
	type        TEXT NOT NULL,
	relation    TEXT,
	source_line INTEGER NOT NULL DEFAULT 0,
	context     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target);

CREATE TABLE IF NOT EXISTS mirror_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// DB wraps a sql.DB with mirror-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Name identifies the mirror in logs.
func (db *DB) Name() string {
	return "sqlite"
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Package ledger records rewrite runs in SQLite.
package ledger

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	root        TEXT     NOT NULL,
	dry_run     INTEGER  NOT NULL DEFAULT 0,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	scanned     INTEGER  NOT NULL DEFAULT 0,
	changed     INTEGER  NOT NULL DEFAULT 0,
	written     INTEGER  NOT NULL DEFAULT 0,
	links       INTEGER  NOT NULL DEFAULT 0,
	failures    INTEGER  NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS documents (
	run_id          INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	path            TEXT    NOT NULL,
	links           INTEGER NOT NULL DEFAULT 0,
	changed         INTEGER NOT NULL DEFAULT 0,
	written         INTEGER NOT NULL DEFAULT 0,
	checksum_before TEXT    NOT NULL DEFAULT '',
	checksum_after  TEXT    NOT NULL DEFAULT '',
	failure_kind    TEXT    NOT NULL DEFAULT '',
	error           TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_documents_run ON documents(run_id);
CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path);
`

// DB wraps a sql.DB with ledger operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

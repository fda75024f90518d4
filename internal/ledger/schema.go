package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb" // Driver
	_ "github.com/mattn/go-sqlite3"     // Driver
)

// Dialect names the SQL engine behind the ledger; it doubles as the database/sql driver name.
type Dialect string

const (
	DuckDB Dialect = "duckdb"
	SQLite Dialect = "sqlite3"
)

// ParseDialect accepts "duckdb", "sqlite" or "sqlite3".
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "duckdb":
		return DuckDB, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unknown ledger driver %q (want duckdb or sqlite3)", s)
}

// DuckDB needs the sequence before the table that defaults to it.
var duckdbSchema = []string{
	`CREATE SEQUENCE IF NOT EXISTS send_log_id_seq;`,
	`CREATE TABLE IF NOT EXISTS send_log (
    id           BIGINT PRIMARY KEY DEFAULT nextval('send_log_id_seq'),
    created_at   TIMESTAMP NOT NULL,
    batch_id     VARCHAR NOT NULL,
    destination  VARCHAR NOT NULL,
    recipients   VARCHAR NOT NULL,      -- JSON array, intended recipients
    send_to      VARCHAR NOT NULL,      -- JSON array, actual targets after test mode
    match_keys   VARCHAR NOT NULL,      -- JSON array
    part         VARCHAR NOT NULL,      -- "2/5"
    file_name    VARCHAR NOT NULL,
    doc_count    INTEGER NOT NULL,
    status       VARCHAR NOT NULL,
    error        VARCHAR,
    resolves_id  BIGINT NOT NULL DEFAULT 0
);`,
	`CREATE INDEX IF NOT EXISTS idx_send_log_status ON send_log (status);`,
	`CREATE INDEX IF NOT EXISTS idx_send_log_resolves ON send_log (resolves_id);`,
}

var sqliteSchema = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA synchronous=FULL;`,
	`CREATE TABLE IF NOT EXISTS send_log (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at   TIMESTAMP NOT NULL,
    batch_id     TEXT NOT NULL,
    destination  TEXT NOT NULL,
    recipients   TEXT NOT NULL,
    send_to      TEXT NOT NULL,
    match_keys   TEXT NOT NULL,
    part         TEXT NOT NULL,
    file_name    TEXT NOT NULL,
    doc_count    INTEGER NOT NULL,
    status       TEXT NOT NULL,
    error        TEXT,
    resolves_id  INTEGER NOT NULL DEFAULT 0
);`,
	`CREATE INDEX IF NOT EXISTS idx_send_log_status ON send_log (status);`,
	`CREATE INDEX IF NOT EXISTS idx_send_log_resolves ON send_log (resolves_id);`,
}

// InitializeSchema creates the send_log table and its indexes for the dialect.
func InitializeSchema(ctx context.Context, db *sql.DB, d Dialect) error {
	stmts := duckdbSchema
	if d == SQLite {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		_, err := db.ExecContext(ctx, stmt)
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return fmt.Errorf("ledger schema setup: %w", err)
		}
	}
	return nil
}

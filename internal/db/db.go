// Package db owns the sqlite file under the workspace dot-dir and brings
// its schema up to date on open. The schema is two tables: kv holds one
// JSON document per storage key, events is the append-only audit log.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	dirName  = ".trackifyr"
	fileName = "trackifyr.db"
)

// revisions are applied in order inside one transaction; schema_version
// records the last applied one so reopening a workspace is a no-op.
type revision struct {
	version int
	ddl     string
}

var revisions = []revision{
	{1, `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    ts TEXT NOT NULL,
    type TEXT NOT NULL,
    entity_kind TEXT NOT NULL,
    entity_id TEXT,
    payload_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
`},
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, dirName, fileName)
}

// Open ensures the workspace dot-dir, opens the sqlite file, and applies
// pending schema revisions.
func Open(workspace string) (*sql.DB, error) {
	if workspace == "" {
		workspace = "."
	}
	if err := os.MkdirAll(filepath.Join(workspace, dirName), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", Path(workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := applySchema(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func applySchema(conn *sql.DB) error {
	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	var current int
	err = tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&current)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	for _, r := range revisions {
		if r.version <= current {
			continue
		}
		if _, err := tx.Exec(r.ddl); err != nil {
			return fmt.Errorf("schema revision %d: %w", r.version, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, r.version); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
		current = r.version
	}
	return tx.Commit()
}

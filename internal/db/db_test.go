package db_test

import (
	"os"
	"testing"

	"trackifyr/internal/db"
)

func TestOpenCreatesSchema(t *testing.T) {
	dir := t.TempDir()
	conn, err := db.Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if _, err := os.Stat(db.Path(dir)); err != nil {
		t.Fatalf("expected db file at %s: %v", db.Path(dir), err)
	}
	for _, table := range []string{"kv", "events", "schema_version"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("expected table %s: %v", table, err)
		}
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	conn, err := db.Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := conn.Exec(`INSERT INTO kv(key,value,updated_at) VALUES ('k','"v"','2024-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	conn.Close()

	conn, err = db.Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer conn.Close()
	var value string
	if err := conn.QueryRow(`SELECT value FROM kv WHERE key='k'`).Scan(&value); err != nil {
		t.Fatalf("expected row to survive reopen: %v", err)
	}
	if value != `"v"` {
		t.Fatalf("unexpected value %q", value)
	}
	var version int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil || version != 1 {
		t.Fatalf("expected schema version 1, got %d %v", version, err)
	}
}

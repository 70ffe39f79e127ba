package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"trackifyr/internal/db"
	"trackifyr/internal/store"
)

func newKV(t *testing.T) store.KV {
	t.Helper()
	conn, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return store.KV{DB: conn, Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
}

func TestLoadUnsetKey(t *testing.T) {
	kv := newKV(t)
	_, err := kv.Load(context.Background(), store.KeyProjects)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSaveOverwrites(t *testing.T) {
	kv := newKV(t)
	ctx := context.Background()
	if err := kv.Save(ctx, store.KeyActiveProjectID, "p-1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := kv.Save(ctx, store.KeyActiveProjectID, "p-2"); err != nil {
		t.Fatalf("resave: %v", err)
	}
	raw, err := kv.Load(ctx, store.KeyActiveProjectID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil || id != "p-2" {
		t.Fatalf("expected latest value p-2, got %q %v", id, err)
	}
}

func TestSaveArbitraryJSON(t *testing.T) {
	kv := newKV(t)
	ctx := context.Background()
	in := map[string]any{"nested": []any{"a", "b"}, "n": float64(3)}
	if err := kv.Save(ctx, store.KeyProjects, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := kv.Load(ctx, store.KeyProjects)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["n"] != float64(3) {
		t.Fatalf("round trip lost data: %+v", out)
	}
}

func TestThemeFallback(t *testing.T) {
	kv := newKV(t)
	ctx := context.Background()
	if got := store.LoadTheme(ctx, kv, "dark"); got != "dark" {
		t.Fatalf("expected fallback dark, got %q", got)
	}
	if err := store.SaveTheme(ctx, kv, "light"); err != nil {
		t.Fatalf("save theme: %v", err)
	}
	if got := store.LoadTheme(ctx, kv, "dark"); got != "light" {
		t.Fatalf("expected persisted light, got %q", got)
	}
}

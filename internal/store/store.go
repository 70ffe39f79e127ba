// Package store is the persistence adapter: an asynchronous key/value store
// keyed by string, holding arbitrary JSON values. The engine consumes it
// through Load and Save only and never depends on how keys are stored.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Storage keys. The names are the wire format of the persisted snapshot and
// must stay stable across versions.
const (
	KeyProjects        = "projectTracker_projects"
	KeyActiveProjectID = "projectTracker_activeProjectId"
	KeyTheme           = "projectTracker_theme"
)

var ErrNotFound = errors.New("not found")

// Store is the contract the tracker engine persists through. Load returns
// ErrNotFound for an unset key; callers supply their own defaults. Save is a
// whole-value overwrite with no merge or version check.
type Store interface {
	Load(ctx context.Context, key string) (json.RawMessage, error)
	Save(ctx context.Context, key string, value any) error
}

// KV implements Store over a single SQLite table.
type KV struct {
	DB  *sql.DB
	Now func() time.Time
}

func (s KV) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s KV) Load(ctx context.Context, key string) (json.RawMessage, error) {
	var value string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(value), nil
}

func (s KV) Save(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	now := s.now().UTC().Format(time.RFC3339)
	_, err = s.DB.ExecContext(ctx, `INSERT INTO kv(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, string(payload), now)
	return err
}

// LoadTheme returns the persisted theme, or fallback when unset or unreadable.
func LoadTheme(ctx context.Context, s Store, fallback string) string {
	raw, err := s.Load(ctx, KeyTheme)
	if err != nil {
		return fallback
	}
	var theme string
	if err := json.Unmarshal(raw, &theme); err != nil || theme == "" {
		return fallback
	}
	return theme
}

// SaveTheme persists the theme value.
func SaveTheme(ctx context.Context, s Store, theme string) error {
	return s.Save(ctx, KeyTheme, theme)
}

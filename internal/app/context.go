package app

import (
	"context"
	"database/sql"
	"fmt"

	"trackifyr/internal/config"
	"trackifyr/internal/db"
	"trackifyr/internal/engine"
	"trackifyr/internal/events"
	"trackifyr/internal/store"
)

// Session bundles the wired application: one open database, the store and
// event log over it, and an initialized engine.
type Session struct {
	DB     *sql.DB
	Store  store.KV
	Events events.Writer
	Engine *engine.Engine
	Config *config.Config
}

func (s *Session) Close() error {
	return s.DB.Close()
}

// Open wires a workspace end to end: ensures the workspace directory, opens
// and migrates the database, loads config, and initializes the engine from
// the persisted snapshot (seeding defaults when absent).
func Open(ctx context.Context, workspace string) (*Session, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := db.Open(workspace)
	if err != nil {
		return nil, err
	}
	kv := store.KV{DB: conn}
	ev := events.Writer{DB: conn}
	e := engine.New(kv, ev, cfg)
	if err := e.Init(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return &Session{DB: conn, Store: kv, Events: ev, Engine: e, Config: cfg}, nil
}

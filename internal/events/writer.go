package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trackifyr/internal/domain"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Enabled reports whether events have somewhere to go. A zero Writer is a
// valid disabled log.
func (w Writer) Enabled() bool { return w.DB != nil }

type EventPayload map[string]any

// Append records a mutation event. Events are an audit trail, not state:
// failures are the caller's to log and swallow.
func (w Writer) Append(ctx context.Context, evtType, entityKind, entityID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(id,ts,type,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?,?)`,
		uuid.New().String(), ts, evtType, entityKind, nullable(entityID), string(data))
	return err
}

// Latest returns up to limit events, newest first.
func (w Writer) Latest(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	clauses := "1=1"
	var args []any
	if evtType != "" {
		clauses += " AND type=?"
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses += " AND entity_kind=?"
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses += " AND entity_id=?"
		args = append(args, entityID)
	}
	args = append(args, limit)
	rows, err := w.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,payload_json FROM events WHERE `+clauses+` ORDER BY ts DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entity sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entity, &e.Payload); err != nil {
			return nil, err
		}
		if entity.Valid {
			e.EntityID = entity.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

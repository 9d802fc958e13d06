package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"transitionos/internal/domain"
)

// TimeLayout is fixed width so lexical order matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Entry is a single audit record to append.
type Entry struct {
	Actor      domain.Actor
	EventType  string
	EntityType string
	EntityID   string
	Payload    EventPayload
	// At backdates the event. It is still bumped past the latest stored value.
	At         time.Time
}

// Append inserts one audit event inside tx. created_at is assigned here and is
// strictly greater than every previously stored value.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) (int64, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	if e.EventType == "" {
		return 0, fmt.Errorf("audit event type is required")
	}
	actorType := e.Actor.Type
	if actorType == "" {
		actorType = domain.ActorSystem
	}
	actorID := e.Actor.ID
	if actorID == "" {
		actorID = "system"
	}
	ts, err := w.nextTimestamp(ctx, tx, e.At)
	if err != nil {
		return 0, err
	}
	if e.Payload == nil {
		e.Payload = EventPayload{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO audit_events(created_at,actor_type,actor_id,event_type,entity_type,entity_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, actorType, actorID, e.EventType, nullable(e.EntityType), nullable(e.EntityID), string(data))
	if err != nil {
		return 0, fmt.Errorf("insert audit event: %w", err)
	}
	return res.LastInsertId()
}

func (w Writer) nextTimestamp(ctx context.Context, tx *sql.Tx, at time.Time) (string, error) {
	if at.IsZero() {
		at = w.Now()
	}
	now := at.UTC().Truncate(time.Microsecond)
	var last sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT MAX(created_at) FROM audit_events`).Scan(&last); err != nil {
		return "", fmt.Errorf("read last audit timestamp: %w", err)
	}
	if last.Valid {
		prev, err := time.Parse(TimeLayout, last.String)
		if err == nil && !now.After(prev) {
			now = prev.Add(time.Microsecond)
		}
	}
	return now.Format(TimeLayout), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

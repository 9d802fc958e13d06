package repo

import (
	"context"
	"fmt"
	"strings"

	"transitionos/internal/domain"
)

type AuditFilters struct {
	EventType  string
	EntityType string
	EntityID   string
	Cursor     int64
	Limit      int
}

// LatestAuditEvents returns events newest first. Cursor excludes ids >= cursor.
func (r Repo) LatestAuditEvents(ctx context.Context, f AuditFilters) ([]domain.AuditEvent, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.EventType != "" {
		clauses = append(clauses, "event_type=?")
		args = append(args, f.EventType)
	}
	if f.EntityType != "" {
		clauses = append(clauses, "entity_type=?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,created_at,actor_type,actor_id,event_type,COALESCE(entity_type,''),COALESCE(entity_id,''),payload_json FROM audit_events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.AuditEvent{}
	for rows.Next() {
		var e domain.AuditEvent
		var payload string
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.ActorType, &e.ActorID, &e.EventType, &e.EntityType, &e.EntityID, &payload); err != nil {
			return nil, err
		}
		e.Payload = []byte(payload)
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) CountAuditEvents(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`).Scan(&n)
	return n, err
}

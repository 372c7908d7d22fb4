package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
)

type auditLogsRepo struct {
	q *queries
}

func (r *auditLogsRepo) Append(ctx context.Context, e domain.AuditEntry) error {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}

	_, err = r.q.exec(ctx, `INSERT INTO audit_logs (id, event_type, details, user_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, string(e.EventType), string(raw), mapOptionalString(e.UserID), e.CreatedAt.UTC())
	return err
}

func (r *auditLogsRepo) CountSince(ctx context.Context, since time.Time) (int64, error) {
	return r.q.count(ctx, `SELECT COUNT(*) FROM audit_logs WHERE created_at >= ?`, since.UTC())
}

func (r *auditLogsRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.q.query(ctx, `SELECT id, event_type, details, user_id, created_at
		FROM audit_logs WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e     domain.AuditEntry
			event string
			raw   []byte
			uid   sql.NullString
		)
		if err := rows.Scan(&e.ID, &event, &raw, &uid, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.EventType = domain.AuditEvent(event)
		e.UserID = mapNullStringPtr(uid)
		e.CreatedAt = e.CreatedAt.UTC()
		if err := json.Unmarshal(raw, &e.Details); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

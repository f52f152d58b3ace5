package storage

import (
	"context"
	"database/sql"
	"fmt"

	"dialer-platform/internal/audit"
)

// AuditRepo stores audit events. INSERT and SELECT only.
type AuditRepo struct {
	db *sql.DB
	d  Dialect
}

var _ audit.Repository = (*AuditRepo)(nil)

func (s *SQLStore) AuditRepo() *AuditRepo { return &AuditRepo{db: s.db, d: s.d} }

func (r *AuditRepo) Append(ctx context.Context, e audit.Event) error {
	const q = `
INSERT INTO audit_events (id, type, actor_user_id, actor_role, ip_address, call_id, message, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	_, err := r.db.ExecContext(ctx, r.d.rebind(q),
		e.ID,
		string(e.Type),
		e.ActorUserID,
		e.ActorRole,
		e.IPAddress,
		e.CallID,
		e.Message,
		e.Metadata,
		toMillis(e.CreatedAt),
	)
	return err
}

func (r *AuditRepo) ListByCall(ctx context.Context, callID string, limit int) ([]audit.Event, error) {
	const q = `
SELECT id, type, actor_user_id, actor_role, ip_address, call_id, message, metadata, created_at
FROM audit_events
WHERE call_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`
	rows, err := r.db.QueryContext(ctx, r.d.rebind(q), callID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			e       audit.Event
			typ     string
			created int64
		)
		if err := rows.Scan(&e.ID, &typ, &e.ActorUserID, &e.ActorRole, &e.IPAddress, &e.CallID, &e.Message, &e.Metadata, &created); err != nil {
			return nil, err
		}
		e.Type = audit.EventType(typ)
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

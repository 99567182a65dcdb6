package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo persists audit events.
//
// Expected schema:
//
//	CREATE TABLE audit_events (
//	    id             uuid PRIMARY KEY,
//	    type           text NOT NULL,
//	    actor_agent_id text NOT NULL DEFAULT '',
//	    actor_role     text NOT NULL DEFAULT '',
//	    ip_address     text NOT NULL DEFAULT '',
//	    call_id        uuid NOT NULL,
//	    message        text NOT NULL DEFAULT '',
//	    metadata       jsonb,
//	    created_at     timestamptz NOT NULL
//	);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, actor_agent_id, actor_role, ip_address, call_id, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, '')::jsonb, $9)`

	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		string(e.Type),
		e.ActorAgentID,
		e.ActorRole,
		e.IPAddress,
		e.CallID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	return nil
}

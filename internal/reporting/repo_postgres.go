package reporting

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"callcenter-platform/internal/calls"
)

// PostgresRepo reads the shared calls table. Aggregation happens in the
// service so memory and Postgres repos stay behavior-identical.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) ListCalls(ctx context.Context, from, to time.Time, agentID string) ([]calls.Call, error) {
	const q = `
SELECT id, direction, status, customer_number, agent_id, provider_call_id, created_at, started_at, ended_at
FROM calls
WHERE created_at >= $1 AND created_at < $2
  AND ($3 = '' OR agent_id = $3)
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, from, to, agentID)
	if err != nil {
		return nil, fmt.Errorf("reporting list calls: %w", err)
	}
	defer rows.Close()

	out := make([]calls.Call, 0)
	for rows.Next() {
		var c calls.Call
		var dbAgentID, providerCallID sql.NullString
		var startedAt, endedAt sql.NullTime
		if err := rows.Scan(
			&c.ID,
			&c.Direction,
			&c.Status,
			&c.CustomerNumber,
			&dbAgentID,
			&providerCallID,
			&c.CreatedAt,
			&startedAt,
			&endedAt,
		); err != nil {
			return nil, fmt.Errorf("reporting scan: %w", err)
		}
		c.AgentID = dbAgentID.String
		c.ProviderCallID = providerCallID.String
		if startedAt.Valid {
			t := startedAt.Time
			c.StartedAt = &t
		}
		if endedAt.Valid {
			t := endedAt.Time
			c.EndedAt = &t
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reporting rows: %w", err)
	}
	return out, nil
}

package callstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"callcenter-platform/internal/calls"
	"callcenter-platform/internal/changefeed"

	"github.com/google/uuid"
)

// NOTE: This repository assumes the following table exists:
//
// CREATE TABLE calls (
//   id               TEXT PRIMARY KEY,
//   direction        TEXT NOT NULL,
//   status           TEXT NOT NULL,
//   customer_number  TEXT NOT NULL,
//   agent_id         TEXT,
//   provider_call_id TEXT,
//   created_at       TIMESTAMPTZ NOT NULL,
//   started_at       TIMESTAMPTZ,
//   ended_at         TIMESTAMPTZ
// );
// CREATE INDEX calls_active_idx ON calls (status, created_at)
//   WHERE status IN ('ringing', 'in_progress');

// PostgresStore implements Store on database/sql (pgx stdlib driver).
//
// The single-claim invariant rests on the conditional UPDATE in Transition:
// the WHERE clause re-checks the expected state inside the statement, so two
// racing claimers serialize on the row and exactly one sees a row count of 1.
type PostgresStore struct {
	db   *sql.DB
	feed changefeed.Publisher
	// clock is injectable for deterministic tests.
	clock func() time.Time
	log   *slog.Logger
}

// NewPostgresStore wires the store. feed may be nil; change publishing is
// best-effort and never fails a write.
func NewPostgresStore(db *sql.DB, feed changefeed.Publisher, log *slog.Logger) *PostgresStore {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresStore{db: db, feed: feed, clock: time.Now, log: log}
}

const callColumns = `id, direction, status, customer_number, agent_id, provider_call_id, created_at, started_at, ended_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (calls.Call, error) {
	if id == "" {
		return calls.Call{}, ErrInvalidArgument
	}
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE id = $1
`
	c, err := scanCall(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.Call{}, ErrNotFound
		}
		return calls.Call{}, unavailable("get", err)
	}
	return c, nil
}

func (s *PostgresStore) GetByProviderCallID(ctx context.Context, providerCallID string) (calls.Call, error) {
	if providerCallID == "" {
		return calls.Call{}, ErrInvalidArgument
	}
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE provider_call_id = $1
ORDER BY created_at DESC
LIMIT 1
`
	c, err := scanCall(s.db.QueryRowContext(ctx, q, providerCallID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.Call{}, ErrNotFound
		}
		return calls.Call{}, unavailable("get by provider id", err)
	}
	return c, nil
}

func (s *PostgresStore) Create(ctx context.Context, nc NewCall) (calls.Call, error) {
	if err := validateNewCall(nc); err != nil {
		return calls.Call{}, err
	}

	now := s.clock().UTC()
	c := calls.Call{
		ID:             uuid.NewString(),
		Direction:      nc.Direction,
		Status:         calls.CallStatusRinging,
		CustomerNumber: nc.CustomerNumber,
		AgentID:        nc.AgentID,
		ProviderCallID: nc.ProviderCallID,
		CreatedAt:      now,
	}

	const q = `
INSERT INTO calls (id, direction, status, customer_number, agent_id, provider_call_id, created_at)
VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7)
`
	if _, err := s.db.ExecContext(ctx, q,
		c.ID, c.Direction, c.Status, c.CustomerNumber, c.AgentID, c.ProviderCallID, c.CreatedAt,
	); err != nil {
		return calls.Call{}, unavailable("create", err)
	}

	s.publish(ctx, changefeed.OpInsert, c)
	return c, nil
}

func (s *PostgresStore) Transition(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	if err := validateTransition(req); err != nil {
		return TransitionResult{}, err
	}

	now := s.clock().UTC()
	terminal := req.NewStatus.IsTerminal()

	// One statement does the compare and the swap: the expected status (and,
	// for claims, the unclaimed check) live in the WHERE clause. started_at
	// and ended_at are stamped in the same write so invariant 3 of the call
	// model can never be observed half-applied.
	const q = `
UPDATE calls
SET status = $2,
    agent_id = COALESCE(NULLIF($3, ''), agent_id),
    started_at = CASE WHEN $4::bool AND started_at IS NULL THEN $5 ELSE started_at END,
    ended_at   = CASE WHEN $6::bool THEN $5 ELSE ended_at END
WHERE id = $1
  AND status = $7
  AND (NOT $8::bool OR agent_id IS NULL)
RETURNING ` + callColumns + `
`
	c, err := scanCall(s.db.QueryRowContext(ctx, q,
		req.CallID,
		req.NewStatus,
		req.NewAgentID,
		req.NewStatus == calls.CallStatusInProgress,
		now,
		terminal,
		req.ExpectedStatus,
		req.ExpectUnclaimed,
	))
	if err == nil {
		s.publish(ctx, changefeed.OpUpdate, c)
		return TransitionResult{Applied: true, Call: c}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return TransitionResult{}, unavailable("transition", err)
	}

	// Lost the race (or the event was stale). Fetch the current record so
	// the caller learns who won.
	current, err := s.Get(ctx, req.CallID)
	if err != nil {
		return TransitionResult{}, err
	}
	return TransitionResult{Applied: false, Call: current}, nil
}

func (s *PostgresStore) ListActiveOrRinging(ctx context.Context, window time.Duration) ([]calls.Call, error) {
	if window <= 0 {
		return nil, ErrInvalidArgument
	}
	since := s.clock().UTC().Add(-window)

	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE status IN ('ringing', 'in_progress')
  AND created_at >= $1
ORDER BY created_at
`
	rows, err := s.db.QueryContext(ctx, q, since)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()

	out := make([]calls.Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, unavailable("list scan", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list rows", err)
	}
	return out, nil
}

func (s *PostgresStore) publish(ctx context.Context, op changefeed.Op, c calls.Call) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, changefeed.Event{Op: op, Record: c}); err != nil {
		// The poll loop is the safety net for missed pushes.
		s.log.Warn("change publish failed", "call_id", c.ID, "op", string(op), "err", err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(r rowScanner) (calls.Call, error) {
	var c calls.Call
	var agentID, providerCallID sql.NullString
	var startedAt, endedAt sql.NullTime
	if err := r.Scan(
		&c.ID,
		&c.Direction,
		&c.Status,
		&c.CustomerNumber,
		&agentID,
		&providerCallID,
		&c.CreatedAt,
		&startedAt,
		&endedAt,
	); err != nil {
		return calls.Call{}, err
	}
	c.AgentID = agentID.String
	c.ProviderCallID = providerCallID.String
	if startedAt.Valid {
		t := startedAt.Time
		c.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	return c, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

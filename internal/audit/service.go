package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to agents by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.CallID == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogCallAction records an agent action against a call (claim, decline, hangup, dial).
func (s *Service) LogCallAction(ctx context.Context, typ EventType, callID, actorAgentID, actorRole, ip, message string) error {
	return s.Append(ctx, Event{
		Type:         typ,
		ActorAgentID: actorAgentID,
		ActorRole:    actorRole,
		IPAddress:    ip,
		CallID:       callID,
		Message:      message,
	})
}

// LogReap records a staleness sweep closing a call. There is no human actor.
func (s *Service) LogReap(ctx context.Context, callID, fromStatus string, age time.Duration) error {
	return s.Append(ctx, Event{
		Type:    EventTypeCallReaped,
		CallID:  callID,
		Message: "reaped stale " + fromStatus + " call after " + age.String(),
	})
}

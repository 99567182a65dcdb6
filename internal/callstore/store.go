package callstore

import (
	"context"
	"errors"
	"time"

	"callcenter-platform/internal/calls"
)

// Store is the durable source of truth for call records.
//
// Concurrency contract: Transition is the ONLY legal write path for status
// changes and it is a compare-and-swap. Two agents racing to claim the same
// ringing call both go through Transition; exactly one observes Applied=true,
// the rest get Applied=false plus the now-current record so they immediately
// learn who won. No distributed locks, no leases; CAS plus idempotent retries
// is deliberately the entire strategy.

var (
	// ErrNotFound means the record does not exist. Non-retryable.
	ErrNotFound = errors.New("callstore: not found")

	// ErrStoreUnavailable marks transient I/O failures. Callers retry with
	// backoff or degrade to last-known state; never swallowed silently here.
	ErrStoreUnavailable = errors.New("callstore: unavailable")

	// ErrInvalidTransition means the requested edge is not in the lifecycle
	// graph. This is a programming error, not a race.
	ErrInvalidTransition = errors.New("callstore: invalid transition")

	ErrInvalidArgument = errors.New("callstore: invalid argument")
)

// NewCall describes a record to create. Inbound calls come from the provider
// webhook with AgentID empty; outbound calls are created by the dialing agent
// with AgentID already set.
type NewCall struct {
	Direction      calls.Direction
	CustomerNumber string
	ProviderCallID string
	AgentID        string
}

// TransitionRequest is a conditional status change keyed on the previously
// observed state.
type TransitionRequest struct {
	CallID         string
	ExpectedStatus calls.CallStatus

	// ExpectUnclaimed additionally requires agent_id to be unset. A claim
	// sets it; terminal transitions from in_progress leave it false so the
	// write applies regardless of which agent owns the call.
	ExpectUnclaimed bool

	NewStatus calls.CallStatus

	// NewAgentID, when non-empty, is assigned as the owning agent.
	NewAgentID string
}

// TransitionResult reports whether the CAS applied and the record as it now
// stands (the winner's view when Applied is false).
type TransitionResult struct {
	Applied bool
	Call    calls.Call
}

type Store interface {
	Get(ctx context.Context, id string) (calls.Call, error)

	// GetByProviderCallID resolves the correlation key the external
	// telephony session reports. Latest record wins if a provider ever
	// reuses an id.
	GetByProviderCallID(ctx context.Context, providerCallID string) (calls.Call, error)
	Create(ctx context.Context, nc NewCall) (calls.Call, error)
	Transition(ctx context.Context, req TransitionRequest) (TransitionResult, error)

	// ListActiveOrRinging returns all non-terminal calls created within the
	// lookback window. The reconciliation loop and the reaper both derive
	// truth from this.
	ListActiveOrRinging(ctx context.Context, window time.Duration) ([]calls.Call, error)
}

func validateTransition(req TransitionRequest) error {
	if req.CallID == "" {
		return ErrInvalidArgument
	}
	if !calls.CanTransition(req.ExpectedStatus, req.NewStatus) {
		return ErrInvalidTransition
	}
	if req.NewStatus == calls.CallStatusInProgress && req.NewAgentID == "" {
		// Invariant: every in_progress call has an owner.
		return ErrInvalidTransition
	}
	return nil
}

func validateNewCall(nc NewCall) error {
	if nc.Direction != calls.DirectionInbound && nc.Direction != calls.DirectionOutbound {
		return ErrInvalidArgument
	}
	if nc.CustomerNumber == "" {
		return ErrInvalidArgument
	}
	return nil
}

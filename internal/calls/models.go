package calls

import "time"

// Call is the shared, persisted record of a phone call. It is the single
// source of truth for "what is happening with this call" across every agent
// process; local projections are rebuilt from it and are never authoritative.
//
// NOTE: This is a domain model only. Provider-specific payloads belong to the
// telephony adapters; only the provider correlation id is kept here.

type Call struct {
	ID        string    `json:"id" db:"id"`
	Direction Direction `json:"direction" db:"direction"`

	Status CallStatus `json:"status" db:"status"`

	// CustomerNumber is the remote party, E.164 where possible. Immutable.
	CustomerNumber string `json:"customer_number" db:"customer_number"`

	// AgentID is the claiming agent. Empty means unclaimed. Set exactly once
	// by a successful claim; never cleared except by a terminal transition.
	AgentID string `json:"agent_id,omitempty" db:"agent_id"`

	// ProviderCallID correlates to the external telephony/voice session.
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type CallStatus string

const (
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusBusy       CallStatus = "busy"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusCanceled   CallStatus = "canceled"
)

// IsTerminal reports whether no further transitions are legal from s.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusBusy, CallStatusNoAnswer, CallStatusCanceled:
		return true
	}
	return false
}

// IsActive reports whether the call still needs attention from an agent.
func (s CallStatus) IsActive() bool {
	return s == CallStatusRinging || s == CallStatusInProgress
}

// CanTransition reports whether from -> to is a legal edge of the lifecycle
// graph. Terminal states are absorbing.
func CanTransition(from, to CallStatus) bool {
	switch from {
	case CallStatusRinging:
		// Claim, or abandoned before pickup.
		switch to {
		case CallStatusInProgress, CallStatusCanceled, CallStatusNoAnswer, CallStatusBusy, CallStatusFailed:
			return true
		}
	case CallStatusInProgress:
		switch to {
		case CallStatusCompleted, CallStatusFailed:
			return true
		}
	}
	return false
}

// Rank orders statuses along the lifecycle so that merges from unordered
// sources (push feed vs. poll) never regress a call to an earlier state.
// Terminal states share the highest rank; they are absorbing, not ordered
// among themselves.
func (s CallStatus) Rank() int {
	switch s {
	case CallStatusRinging:
		return 1
	case CallStatusInProgress:
		return 2
	case CallStatusCompleted, CallStatusFailed, CallStatusBusy, CallStatusNoAnswer, CallStatusCanceled:
		return 3
	}
	return 0
}

// OwnedBy reports whether agentID currently owns the call.
func (c Call) OwnedBy(agentID string) bool {
	return agentID != "" && c.AgentID == agentID
}

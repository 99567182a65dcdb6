package telephony

import (
	"context"
	"errors"
)

// Provider is the provider-side control surface: the fire-and-report side
// effects the engine invokes after a claim or hangup but does not own.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - A side-effect failure never rolls back the state transition that caused
//   it; the call is real regardless (callers surface a degraded notice).
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// Dial places an outbound call and returns the provider session id.
	Dial(ctx context.Context, req DialRequest) (DialResult, error)

	// StartTranscription begins transcription for a claimed call.
	StartTranscription(ctx context.Context, req TranscriptionRequest) error

	// EndCall terminates the provider-side session.
	EndCall(ctx context.Context, providerCallID string) error
}

// DialRequest carries no call id: the record is created only after the
// provider leg returns, and correlation flows back through
// DialResult.ProviderCallID.
type DialRequest struct {
	CustomerNumber string `json:"customer_number"`
	AgentID        string `json:"agent_id"`
}

type DialResult struct {
	ProviderCallID string `json:"provider_call_id"`
}

type TranscriptionRequest struct {
	CallID         string `json:"call_id"`
	ProviderCallID string `json:"provider_call_id"`
}

var ErrProviderUnavailable = errors.New("telephony: provider unavailable")

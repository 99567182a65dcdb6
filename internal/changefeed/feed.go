package changefeed

import (
	"context"

	"callcenter-platform/internal/calls"
)

// The change feed is the push leg of call-state propagation. Delivery is
// at-least-once and unordered across reconnects; consumers must merge
// idempotently and fall back to the reconciliation loop for anything missed.

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
)

// Event is the wire shape of a call record change.
type Event struct {
	Op     Op         `json:"operation"`
	Record calls.Call `json:"record"`
}

// Publisher emits record changes. The call store publishes after every
// applied write; publishing is best-effort and must never fail the write.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscription is a live stream of change events. Events() is closed when the
// subscription ends (Close, context cancellation, or transport loss).
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Feed hands out subscriptions, either unfiltered ("any call", used by the
// engine and monitoring views) or scoped to a single call id.
type Feed interface {
	Subscribe(ctx context.Context) (Subscription, error)
	SubscribeCall(ctx context.Context, callID string) (Subscription, error)
}

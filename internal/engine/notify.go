package engine

import (
	"log/slog"

	"callcenter-platform/internal/calls"
)

// Notifier is how the engine reaches its human operator. Implementations
// must not block; the engine calls these while holding its merge lock.
type Notifier interface {
	// IncomingCall is the single user-facing "incoming call" prompt.
	IncomingCall(c calls.Call)

	// CallRestored fires when the process rediscovers a call it already owns
	// (typically after a restart).
	CallRestored(c calls.Call)

	// Notice carries degraded-but-alive conditions the operator should see.
	Notice(n Notice)
}

type NoticeKind string

const (
	NoticeSideEffectFailed NoticeKind = "side_effect_failed"
	NoticeStoreDegraded    NoticeKind = "store_degraded"
	NoticeDeviceFailed     NoticeKind = "device_failed"
)

type Notice struct {
	Kind    NoticeKind `json:"kind"`
	CallID  string     `json:"call_id,omitempty"`
	Message string     `json:"message"`
}

// dispatcher enforces the one-prompt-per-call rule. The same ringing call may
// be reported by the device, the change feed, and a resync; membership in
// `seen` is keyed by call id, not by source, so it still prompts exactly once.
// `seen` is never pruned for the life of the process: a late duplicate of a
// long-finished call must stay silent.
type dispatcher struct {
	notifier Notifier
	seen     map[string]struct{}
	log      *slog.Logger
}

func newDispatcher(n Notifier, log *slog.Logger) *dispatcher {
	return &dispatcher{notifier: n, seen: make(map[string]struct{}), log: log}
}

// offer surfaces the incoming prompt if c is still claimable and this call id
// has never been announced.
func (d *dispatcher) offer(c calls.Call) {
	if c.Status != calls.CallStatusRinging || c.AgentID != "" {
		// Claimed or past ringing: suppress forever.
		d.seen[c.ID] = struct{}{}
		return
	}
	if _, ok := d.seen[c.ID]; ok {
		return
	}
	d.seen[c.ID] = struct{}{}
	d.log.Info("incoming call", "call_id", c.ID, "customer", c.CustomerNumber)
	if d.notifier != nil {
		d.notifier.IncomingCall(c)
	}
}

// suppress marks a call id as announced without prompting.
func (d *dispatcher) suppress(callID string) {
	d.seen[callID] = struct{}{}
}

// announced reports whether this call id was ever offered or suppressed.
func (d *dispatcher) announced(callID string) bool {
	_, ok := d.seen[callID]
	return ok
}

func (d *dispatcher) restored(c calls.Call) {
	d.seen[c.ID] = struct{}{}
	if d.notifier != nil {
		d.notifier.CallRestored(c)
	}
}

func (d *dispatcher) notice(n Notice) {
	if d.notifier != nil {
		d.notifier.Notice(n)
	}
}

// ChannelNotifier is a buffered, non-blocking Notifier for a UI layer to
// drain. Events are dropped, not blocked on, if the UI falls behind; the
// call list snapshot remains the authoritative view.
type ChannelNotifier struct {
	incoming chan calls.Call
	restored chan calls.Call
	notices  chan Notice
}

func NewChannelNotifier(buffer int) *ChannelNotifier {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChannelNotifier{
		incoming: make(chan calls.Call, buffer),
		restored: make(chan calls.Call, buffer),
		notices:  make(chan Notice, buffer),
	}
}

func (n *ChannelNotifier) IncomingCall(c calls.Call) {
	select {
	case n.incoming <- c:
	default:
	}
}

func (n *ChannelNotifier) CallRestored(c calls.Call) {
	select {
	case n.restored <- c:
	default:
	}
}

func (n *ChannelNotifier) Notice(msg Notice) {
	select {
	case n.notices <- msg:
	default:
	}
}

func (n *ChannelNotifier) Incoming() <-chan calls.Call { return n.incoming }
func (n *ChannelNotifier) Restored() <-chan calls.Call { return n.restored }
func (n *ChannelNotifier) Notices() <-chan Notice      { return n.notices }

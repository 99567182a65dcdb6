package telephony

import (
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// RawSignal is the loose event shape local client SDKs deliver: a name plus
// a string field bag. Any client exposing this vocabulary is compatible.
type RawSignal struct {
	Name   string
	Fields map[string]string
	At     time.Time
}

func (s RawSignal) get(key string) string {
	return strings.TrimSpace(s.Fields[key])
}

func (s RawSignal) getBool(key string) bool {
	v, _ := strconv.ParseBool(s.get(key))
	return v
}

// Sink receives normalized device events. The engine's funnel implements it.
type Sink interface {
	HandleDeviceEvent(ev DeviceEvent)
}

// EventAdapter normalizes raw client signals into DeviceEvents and forwards
// them to the sink. It performs no store writes and keeps no call state;
// duplicate and late signals are handled downstream in the funnel.
type EventAdapter struct {
	sink  Sink
	clock func() time.Time
	log   *slog.Logger
}

func NewEventAdapter(sink Sink, log *slog.Logger) *EventAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &EventAdapter{sink: sink, clock: time.Now, log: log}
}

// signal names as commonly emitted by browser/desktop voice SDKs.
var signalKinds = map[string]DeviceEventKind{
	"registered":   DeviceReady,
	"ready":        DeviceReady,
	"unregistered": DeviceFailed,
	"error":        DeviceFailed,
	"offline":      DeviceFailed,
	"incoming":     DeviceIncoming,
	"accept":       DeviceAccepted,
	"accepted":     DeviceAccepted,
	"reject":       DeviceRejected,
	"rejected":     DeviceRejected,
	"disconnect":   DeviceDisconnected,
	"disconnected": DeviceDisconnected,
	"cancel":       DeviceDisconnected,
	"mute":         DeviceMuteChanged,
	"hold":         DeviceHoldChanged,
}

// Handle normalizes one raw signal. Unknown signal names are dropped; the
// client emits plenty the engine does not care about.
func (a *EventAdapter) Handle(sig RawSignal) {
	kind, ok := signalKinds[strings.ToLower(strings.TrimSpace(sig.Name))]
	if !ok {
		a.log.Debug("device signal ignored", "name", sig.Name)
		return
	}

	at := sig.At
	if at.IsZero() {
		at = a.clock().UTC()
	}

	ev := DeviceEvent{
		Kind: kind,
		// Different SDKs name the correlation id differently.
		ProviderCallID: firstNonEmpty(sig.get("CallSid"), sig.get("call_sid"), sig.get("provider_call_id"), sig.get("session_id")),
		At:             at,
	}
	switch kind {
	case DeviceMuteChanged:
		ev.Muted = sig.getBool("muted")
	case DeviceHoldChanged:
		ev.OnHold = sig.getBool("on_hold")
	case DeviceIncoming:
		if ev.ProviderCallID == "" {
			// Still forwarded: the funnel can match it to the most recent
			// ringing record once one shows up.
			a.log.Debug("incoming signal without provider id")
		}
	}

	a.sink.HandleDeviceEvent(ev)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

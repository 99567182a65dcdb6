package telephony

import (
	"testing"
	"time"
)

type sinkRecorder struct {
	events []DeviceEvent
}

func (s *sinkRecorder) HandleDeviceEvent(ev DeviceEvent) {
	s.events = append(s.events, ev)
}

func TestAdapterNormalizesKnownSignals(t *testing.T) {
	sink := &sinkRecorder{}
	a := NewEventAdapter(sink, nil)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a.clock = func() time.Time { return now }

	a.Handle(RawSignal{Name: "registered"})
	a.Handle(RawSignal{Name: "Incoming", Fields: map[string]string{"CallSid": "CA123"}})
	a.Handle(RawSignal{Name: "mute", Fields: map[string]string{"muted": "true"}})
	a.Handle(RawSignal{Name: "disconnect", Fields: map[string]string{"call_sid": "CA123"}})

	if len(sink.events) != 4 {
		t.Fatalf("got %d events", len(sink.events))
	}
	if sink.events[0].Kind != DeviceReady {
		t.Fatalf("got %+v", sink.events[0])
	}
	if sink.events[1].Kind != DeviceIncoming || sink.events[1].ProviderCallID != "CA123" {
		t.Fatalf("got %+v", sink.events[1])
	}
	if sink.events[2].Kind != DeviceMuteChanged || !sink.events[2].Muted {
		t.Fatalf("got %+v", sink.events[2])
	}
	if sink.events[3].Kind != DeviceDisconnected || sink.events[3].ProviderCallID != "CA123" {
		t.Fatalf("got %+v", sink.events[3])
	}
	if !sink.events[0].At.Equal(now) {
		t.Fatalf("missing timestamp backfill: %+v", sink.events[0])
	}
}

func TestAdapterDropsUnknownSignals(t *testing.T) {
	sink := &sinkRecorder{}
	a := NewEventAdapter(sink, nil)

	a.Handle(RawSignal{Name: "volume_changed"})
	a.Handle(RawSignal{Name: ""})

	if len(sink.events) != 0 {
		t.Fatalf("unknown signals leaked: %+v", sink.events)
	}
}

func TestAdapterForwardsIncomingWithoutProviderID(t *testing.T) {
	sink := &sinkRecorder{}
	a := NewEventAdapter(sink, nil)

	a.Handle(RawSignal{Name: "incoming"})

	if len(sink.events) != 1 || sink.events[0].ProviderCallID != "" {
		t.Fatalf("got %+v", sink.events)
	}
}

func TestTerminalFromProvider(t *testing.T) {
	cases := map[string]bool{
		"completed": true,
		"no-answer": true,
		"ringing":   false,
		"initiated": false,
		"answered":  false,
	}
	for status, want := range cases {
		if _, ok := terminalFromProvider(status); ok != want {
			t.Fatalf("%s: got %v", status, ok)
		}
	}
}

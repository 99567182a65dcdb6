package telephony

import "time"

// DeviceEvent is the engine's normalized vocabulary for what the local
// telephony client reports. The adapter does not know about Call.ID;
// correlation to a persisted record happens one layer up, because the local
// client and the database row are populated by different legs of the same
// real-world event arriving at different latencies.

type DeviceEventKind string

const (
	DeviceReady        DeviceEventKind = "device_ready"
	DeviceFailed       DeviceEventKind = "device_failed"
	DeviceIncoming     DeviceEventKind = "incoming"
	DeviceAccepted     DeviceEventKind = "accepted"
	DeviceRejected     DeviceEventKind = "rejected"
	DeviceDisconnected DeviceEventKind = "disconnected"
	DeviceMuteChanged  DeviceEventKind = "mute_changed"
	DeviceHoldChanged  DeviceEventKind = "hold_changed"
)

type DeviceEvent struct {
	Kind DeviceEventKind

	// ProviderCallID is the provider's session id, when the client knows it.
	// Incoming signals may arrive before the matching database row is
	// visible, and vice versa; consumers must tolerate both orders.
	ProviderCallID string

	Muted  bool
	OnHold bool

	At time.Time
}

// Client is the local device leg: the thing that actually carries audio on
// this workstation. The engine only ever needs to accept, reject, or tear
// down a session (teardown covers the claim-lost case, where the device
// already connected audio for a call whose ownership was lost).
type Client interface {
	Accept(providerCallID string) error
	Reject(providerCallID string) error
	Disconnect(providerCallID string) error
}

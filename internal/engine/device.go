package engine

import (
	"context"
	"errors"
	"time"

	"callcenter-platform/internal/calls"
	"callcenter-platform/internal/callstore"
	"callcenter-platform/internal/telephony"
)

// HandleDeviceEvent is the telephony leg of the funnel; the event adapter's
// Sink points here. Device events carry a provider session id (sometimes not
// even that), never a Call.ID, so each one is correlated against the
// projection first and the store second. A signal that cannot be correlated
// yet is simply dropped: the record leg (feed or poll) carries the same fact
// and will land within one reconcile interval.
func (e *Engine) HandleDeviceEvent(ev telephony.DeviceEvent) {
	switch ev.Kind {
	case telephony.DeviceReady:
		e.mu.Lock()
		e.deviceReady = true
		e.mu.Unlock()
		e.log.Info("telephony device ready")

	case telephony.DeviceFailed:
		e.mu.Lock()
		e.deviceReady = false
		e.dispatch.notice(Notice{Kind: NoticeDeviceFailed, Message: "telephony device offline"})
		e.mu.Unlock()

	case telephony.DeviceIncoming:
		e.deviceIncoming(ev)

	case telephony.DeviceAccepted:
		e.deviceAccepted(ev)

	case telephony.DeviceRejected:
		e.deviceAbandoned(ev, calls.CallStatusCanceled)

	case telephony.DeviceDisconnected:
		e.deviceDisconnected(ev)

	case telephony.DeviceMuteChanged, telephony.DeviceHoldChanged:
		e.mu.Lock()
		if v, ok := e.correlateLocked(ev.ProviderCallID); ok {
			if ev.Kind == telephony.DeviceMuteChanged {
				v.Muted = ev.Muted
			} else {
				v.OnHold = ev.OnHold
			}
		}
		e.mu.Unlock()
	}
}

// deviceIncoming accelerates discovery of the ringing record: the device leg
// often beats both the change feed and the next poll tick.
func (e *Engine) deviceIncoming(ev telephony.DeviceEvent) {
	e.mu.Lock()
	if _, ok := e.correlateLocked(ev.ProviderCallID); ok {
		// Record already known; the prompt (if due) fired when it arrived.
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if ev.ProviderCallID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := e.store.GetByProviderCallID(ctx, ev.ProviderCallID)
	if err != nil {
		// Device signal arrived before the row is visible. Tolerated; the
		// row will reach us through the feed or the next resync.
		if !errors.Is(err, callstore.ErrNotFound) {
			e.log.Warn("incoming lookup failed", "provider_call_id", ev.ProviderCallID, "err", err)
		}
		return
	}
	e.applyRecord(c)
}

// deviceAccepted moves a ringing call this device answered into in_progress.
// For inbound calls the explicit Claim already did this and the CAS below is
// a stale no-op; for outbound calls (owned since creation) this is the edge
// that starts the call.
func (e *Engine) deviceAccepted(ev telephony.DeviceEvent) {
	c, ok := e.lookupByProvider(ev.ProviderCallID)
	if !ok || c.Status != calls.CallStatusRinging {
		return
	}
	if c.AgentID != "" && !c.OwnedBy(e.cfg.AgentID) {
		// Another agent's outbound leg; not ours to move.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := e.store.Transition(ctx, callstore.TransitionRequest{
		CallID:          c.ID,
		ExpectedStatus:  calls.CallStatusRinging,
		ExpectUnclaimed: c.AgentID == "",
		NewStatus:       calls.CallStatusInProgress,
		NewAgentID:      e.cfg.AgentID,
	})
	if err != nil {
		e.log.Warn("accept transition failed", "call_id", c.ID, "err", err)
		return
	}
	if res.Applied {
		e.markEffectsStarted(c.ID)
		e.startSideEffects(res.Call)
	}
	e.applyRecord(res.Call)
}

// deviceAbandoned handles reject/cancel signals against a still-ringing call.
func (e *Engine) deviceAbandoned(ev telephony.DeviceEvent, target calls.CallStatus) {
	c, ok := e.lookupByProvider(ev.ProviderCallID)
	if !ok || c.Status != calls.CallStatusRinging {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := e.store.Transition(ctx, callstore.TransitionRequest{
		CallID:         c.ID,
		ExpectedStatus: calls.CallStatusRinging,
		NewStatus:      target,
	})
	if err != nil {
		e.log.Warn("abandon transition failed", "call_id", c.ID, "err", err)
		return
	}
	// Applied or stale, either way the current record is the truth.
	e.applyRecord(res.Call)
}

// deviceDisconnected surfaces the external "remote party hung up" signal.
// A connected call we own moves to completed; a ringing call whose caller
// gave up moves to canceled. Stale disconnects (the store already terminal)
// are absorbed by the CAS.
func (e *Engine) deviceDisconnected(ev telephony.DeviceEvent) {
	c, ok := e.lookupByProvider(ev.ProviderCallID)
	if !ok {
		return
	}

	switch c.Status {
	case calls.CallStatusRinging:
		e.deviceAbandoned(ev, calls.CallStatusCanceled)
	case calls.CallStatusInProgress:
		if !c.OwnedBy(e.cfg.AgentID) {
			// The owner's process (or its status webhook) closes it.
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		res, err := e.store.Transition(ctx, callstore.TransitionRequest{
			CallID:         c.ID,
			ExpectedStatus: calls.CallStatusInProgress,
			NewStatus:      calls.CallStatusCompleted,
		})
		if err != nil {
			e.log.Warn("disconnect transition failed", "call_id", c.ID, "err", err)
			return
		}
		e.applyRecord(res.Call)
	}
}

// correlateLocked finds the projection entry for a provider session id.
func (e *Engine) correlateLocked(providerCallID string) (*CallView, bool) {
	if providerCallID == "" {
		return nil, false
	}
	for _, v := range e.view {
		if v.ProviderCallID == providerCallID {
			return v, true
		}
	}
	return nil, false
}

// lookupByProvider correlates a device event to a call: projection first,
// then the store. Inbound signals that carry no provider id fall back to the
// most recent ringing call.
func (e *Engine) lookupByProvider(providerCallID string) (calls.Call, bool) {
	e.mu.Lock()
	if v, ok := e.correlateLocked(providerCallID); ok {
		c := v.Call
		e.mu.Unlock()
		return c, true
	}
	if providerCallID == "" {
		c, ok := e.latestRingingLocked()
		e.mu.Unlock()
		return c, ok
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := e.store.GetByProviderCallID(ctx, providerCallID)
	if err != nil {
		return calls.Call{}, false
	}
	return c, true
}

func (e *Engine) latestRingingLocked() (calls.Call, bool) {
	var best calls.Call
	var ok bool
	for _, v := range e.view {
		if v.Status != calls.CallStatusRinging {
			continue
		}
		if !ok || v.CreatedAt.After(best.CreatedAt) {
			best, ok = v.Call, true
		}
	}
	return best, ok
}

func (e *Engine) startSideEffects(c calls.Call) {
	e.mu.Lock()
	e.startSideEffectsLocked(c)
	e.mu.Unlock()
}

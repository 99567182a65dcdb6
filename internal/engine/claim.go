package engine

import (
	"context"
	"errors"
	"fmt"

	"callcenter-platform/internal/calls"
	"callcenter-platform/internal/callstore"
	"callcenter-platform/internal/telephony"
)

// Claim protocol. Correctness comes entirely from the store's conditional
// write; the caller enforces no preconditions of its own.

var (
	// ErrClaimLost means another agent won the race. The returned record
	// names the winner; any local media already connected must be torn down.
	ErrClaimLost = errors.New("engine: claim lost")

	// ErrClaimIndeterminate means the store was unreachable mid-claim. The
	// outcome is unknown; the caller must let reconciliation re-resolve
	// truth before acting, and must assume neither success nor failure.
	ErrClaimIndeterminate = errors.New("engine: claim indeterminate")

	// ErrNotClaimable means the call was already past ringing when the
	// operator acted (duplicate click, late prompt).
	ErrNotClaimable = errors.New("engine: call not claimable")
)

// Claim attempts to take exclusive ownership of a ringing call for this
// agent. On success the local device leg is accepted and the owning side
// effects start; on loss any local connection is torn down and the winner's
// record is returned alongside ErrClaimLost.
func (e *Engine) Claim(ctx context.Context, callID string) (calls.Call, error) {
	res, err := e.store.Transition(ctx, callstore.TransitionRequest{
		CallID:          callID,
		ExpectedStatus:  calls.CallStatusRinging,
		ExpectUnclaimed: true,
		NewStatus:       calls.CallStatusInProgress,
		NewAgentID:      e.cfg.AgentID,
	})
	if err != nil {
		if errors.Is(err, callstore.ErrStoreUnavailable) {
			// Do not guess. Kick a resync and report indeterminate.
			go func() { _ = e.Reconcile(context.Background()) }()
			return calls.Call{}, fmt.Errorf("%w: %v", ErrClaimIndeterminate, err)
		}
		return calls.Call{}, err
	}

	if !res.Applied {
		// Someone else already has it (or it went terminal). The local
		// client may have connected audio already; tear that down regardless
		// of what it thinks.
		e.teardownLocal(res.Call)
		e.applyRecord(res.Call)
		if res.Call.Status == calls.CallStatusInProgress {
			return res.Call, fmt.Errorf("%w: owned by %s", ErrClaimLost, res.Call.AgentID)
		}
		return res.Call, ErrNotClaimable
	}

	e.markEffectsStarted(res.Call.ID)
	e.applyRecord(res.Call)

	if e.client != nil && res.Call.ProviderCallID != "" {
		if err := e.client.Accept(res.Call.ProviderCallID); err != nil {
			// Ownership is already ours; a device hiccup is degraded, not a
			// rollback.
			e.log.Warn("local accept failed", "call_id", res.Call.ID, "err", err)
		}
	}
	e.startSideEffects(res.Call)
	return res.Call, nil
}

// Decline abandons a ringing call. Declining is advisory, not a resource
// grant, so it requires no ownership; a stale decline (already claimed or
// finished) is absorbed and the current record returned.
func (e *Engine) Decline(ctx context.Context, callID string) (calls.Call, error) {
	res, err := e.store.Transition(ctx, callstore.TransitionRequest{
		CallID:         callID,
		ExpectedStatus: calls.CallStatusRinging,
		NewStatus:      calls.CallStatusCanceled,
	})
	if err != nil {
		return calls.Call{}, err
	}
	if res.Applied {
		e.teardownLocal(res.Call)
	} else {
		e.log.Debug("stale decline", "call_id", callID, "status", res.Call.Status)
	}
	e.applyRecord(res.Call)
	return res.Call, nil
}

// Hangup ends this agent's connected call. The provider-side session is
// closed best-effort after the transition lands; its failure never reverts
// the record.
func (e *Engine) Hangup(ctx context.Context, callID string) (calls.Call, error) {
	res, err := e.store.Transition(ctx, callstore.TransitionRequest{
		CallID:         callID,
		ExpectedStatus: calls.CallStatusInProgress,
		NewStatus:      calls.CallStatusCompleted,
	})
	if err != nil {
		return calls.Call{}, err
	}
	if !res.Applied {
		// Already terminal (remote hangup or reaper beat us). Fine.
		e.log.Debug("stale hangup", "call_id", callID, "status", res.Call.Status)
		e.applyRecord(res.Call)
		return res.Call, nil
	}

	e.teardownLocal(res.Call)
	if e.provider != nil && res.Call.ProviderCallID != "" {
		if err := e.provider.EndCall(ctx, res.Call.ProviderCallID); err != nil {
			e.log.Warn("provider end call failed", "call_id", res.Call.ID, "err", err)
			e.mu.Lock()
			e.dispatch.notice(Notice{Kind: NoticeSideEffectFailed, CallID: res.Call.ID, Message: "provider session may linger; call is closed"})
			e.mu.Unlock()
		}
	}
	e.applyRecord(res.Call)
	return res.Call, nil
}

// Dial creates an outbound call owned by this agent from the start. The
// provider leg is placed first so the record carries the correlation id.
func (e *Engine) Dial(ctx context.Context, customerNumber string) (calls.Call, error) {
	if customerNumber == "" {
		return calls.Call{}, callstore.ErrInvalidArgument
	}

	var providerCallID string
	if e.provider != nil {
		dialed, err := e.provider.Dial(ctx, telephony.DialRequest{
			CustomerNumber: customerNumber,
			AgentID:        e.cfg.AgentID,
		})
		if err != nil {
			return calls.Call{}, fmt.Errorf("engine: dial: %w", err)
		}
		providerCallID = dialed.ProviderCallID
	}

	c, err := e.store.Create(ctx, callstore.NewCall{
		Direction:      calls.DirectionOutbound,
		CustomerNumber: customerNumber,
		ProviderCallID: providerCallID,
		AgentID:        e.cfg.AgentID,
	})
	if err != nil {
		if e.provider != nil && providerCallID != "" {
			// Best-effort: do not leak a provider session with no record.
			_ = e.provider.EndCall(ctx, providerCallID)
		}
		return calls.Call{}, err
	}
	e.applyRecord(c)
	return c, nil
}

// teardownLocal disconnects the local device leg for a call this process
// must not (or no longer) carry.
func (e *Engine) teardownLocal(c calls.Call) {
	if e.client == nil || c.ProviderCallID == "" {
		return
	}
	if err := e.client.Disconnect(c.ProviderCallID); err != nil {
		e.log.Warn("local teardown failed", "call_id", c.ID, "err", err)
	}
}

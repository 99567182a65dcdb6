package telephony

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"callcenter-platform/internal/calls"
	"callcenter-platform/internal/callstore"

	"github.com/gin-gonic/gin"
)

// Provider webhooks: the provider-side leg of call lifecycle events.
// Providers post application/x-www-form-urlencoded; keep parsing minimal and
// adapter-only. No routing or claim decisions are made here.

// InboundForm captures the subset of voice webhook fields we care about.
type InboundForm struct {
	CallSid    string
	From       string
	To         string
	Direction  string
	CallStatus string
}

func ParseInboundForm(r *http.Request) (InboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return InboundForm{}, err
	}
	f := InboundForm{
		CallSid:    strings.TrimSpace(r.PostFormValue("CallSid")),
		From:       strings.TrimSpace(r.PostFormValue("From")),
		To:         strings.TrimSpace(r.PostFormValue("To")),
		Direction:  strings.TrimSpace(r.PostFormValue("Direction")),
		CallStatus: strings.TrimSpace(r.PostFormValue("CallStatus")),
	}
	return f, nil
}

// WebhookHandlers owns the public webhook endpoints.
//
// NOTE: These endpoints should be protected by provider signature validation
// in production.
type WebhookHandlers struct {
	Store callstore.Store
	Log   *slog.Logger
}

func (h WebhookHandlers) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

// HandleInboundCall creates the ringing record for a provider-signaled
// inbound call. Agents discover it through the change feed or the poll loop;
// nobody owns it until a claim succeeds.
func (h WebhookHandlers) HandleInboundCall(c *gin.Context) {
	f, err := ParseInboundForm(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if f.CallSid == "" || f.From == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "CallSid and From required"})
		return
	}

	// Providers retry webhooks; the provider id is the dedup key.
	if existing, err := h.Store.GetByProviderCallID(c.Request.Context(), f.CallSid); err == nil {
		c.JSON(http.StatusOK, gin.H{"call_id": existing.ID})
		return
	} else if !errors.Is(err, callstore.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}

	created, err := h.Store.Create(c.Request.Context(), callstore.NewCall{
		Direction:      calls.DirectionInbound,
		CustomerNumber: f.From,
		ProviderCallID: f.CallSid,
	})
	if err != nil {
		h.logger().Error("inbound call create failed", "provider_call_id", f.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": created.ID})
}

// HandleStatusCallback applies provider-reported terminal outcomes (the
// remote party hung up, the call never connected). Stale callbacks against a
// call that already moved on are absorbed here, never surfaced.
func (h WebhookHandlers) HandleStatusCallback(c *gin.Context) {
	f, err := ParseInboundForm(c.Request)
	if err != nil || f.CallSid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "CallSid required"})
		return
	}

	reported, ok := terminalFromProvider(f.CallStatus)
	if !ok {
		// Intermediate statuses (initiated, ringing, answered) carry no
		// transition for us.
		c.JSON(http.StatusOK, gin.H{"handled": false})
		return
	}

	call, err := h.Store.GetByProviderCallID(c.Request.Context(), f.CallSid)
	if err != nil {
		if errors.Is(err, callstore.ErrNotFound) {
			// Row not visible yet; the poll loop will catch up.
			c.JSON(http.StatusOK, gin.H{"handled": false})
			return
		}
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	if call.Status.IsTerminal() {
		c.JSON(http.StatusOK, gin.H{"handled": false})
		return
	}

	target := reported
	if !calls.CanTransition(call.Status, target) {
		// Force onto a legal edge: an abandoned ringing call is canceled,
		// a connected call that ends any other way is completed.
		if call.Status == calls.CallStatusRinging {
			target = calls.CallStatusCanceled
		} else {
			target = calls.CallStatusCompleted
		}
	}

	res, err := h.Store.Transition(c.Request.Context(), callstore.TransitionRequest{
		CallID:         call.ID,
		ExpectedStatus: call.Status,
		NewStatus:      target,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	if !res.Applied {
		// Someone moved the call between our read and write. Duplicate or
		// late callback; log and move on.
		h.logger().Debug("stale status callback", "call_id", call.ID, "reported", f.CallStatus)
	}
	c.JSON(http.StatusOK, gin.H{"handled": res.Applied})
}

func terminalFromProvider(status string) (calls.CallStatus, bool) {
	switch strings.ToLower(status) {
	case "completed":
		return calls.CallStatusCompleted, true
	case "failed":
		return calls.CallStatusFailed, true
	case "busy":
		return calls.CallStatusBusy, true
	case "no-answer", "no_answer":
		return calls.CallStatusNoAnswer, true
	case "canceled", "cancelled":
		return calls.CallStatusCanceled, true
	}
	return "", false
}

package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"callcenter-platform/internal/audit"
	"callcenter-platform/internal/auth"
	"callcenter-platform/internal/callstore"
	"callcenter-platform/internal/engine"
	"callcenter-platform/internal/rbac"
	"callcenter-platform/internal/reporting"
	"callcenter-platform/internal/telephony"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth    *auth.Manager
	Engine  *engine.Engine
	Store   callstore.Store
	Reports *reporting.Service
	Audit   *audit.Service
	Device  *telephony.EventAdapter
}

// --- Auth ---

type loginRequest struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.AgentID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id, role required"})
		return
	}
	if !rbac.IsKnownRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.AgentID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	aid, _ := auth.AgentID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"agent_id": aid, "role": role})
}

// --- Calls ---

// ListCalls returns the engine's current projection (ringing and active
// calls). Terminal calls are already discarded by the merge.
func (h Handlers) ListCalls(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "engine not configured"})
		return
	}
	snap := h.Engine.Snapshot()
	sort.Slice(snap, func(i, j int) bool { return snap[i].CreatedAt.Before(snap[j].CreatedAt) })
	c.JSON(http.StatusOK, gin.H{"calls": snap, "device_ready": h.Engine.DeviceReady()})
}

func (h Handlers) GetCall(c *gin.Context) {
	if h.Store == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "store not configured"})
		return
	}
	id := c.Param("call_id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}
	call, err := h.Store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, callstore.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, call)
}

// Answer claims a ringing call for this agent. Exactly one answer wins; the
// loser gets 409 with the winning record so the UI can show who took it.
func (h Handlers) Answer(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "engine not configured"})
		return
	}
	id := c.Param("call_id")

	call, err := h.Engine.Claim(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrClaimLost):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "claimed by another agent", "call": call})
		case errors.Is(err, engine.ErrNotClaimable):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call no longer claimable", "call": call})
		case errors.Is(err, engine.ErrClaimIndeterminate):
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "claim outcome unknown; resyncing"})
		case errors.Is(err, callstore.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "claim failed"})
		}
		return
	}

	h.logAction(c, audit.EventTypeCallClaimed, call.ID, "answered call")
	c.JSON(http.StatusOK, call)
}

func (h Handlers) Decline(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "engine not configured"})
		return
	}
	id := c.Param("call_id")

	call, err := h.Engine.Decline(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, callstore.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "decline failed"})
		return
	}

	h.logAction(c, audit.EventTypeCallDeclined, call.ID, "declined call")
	c.JSON(http.StatusOK, call)
}

func (h Handlers) Hangup(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "engine not configured"})
		return
	}
	id := c.Param("call_id")

	call, err := h.Engine.Hangup(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, callstore.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "hangup failed"})
		return
	}

	h.logAction(c, audit.EventTypeCallHungUp, call.ID, "hung up call")
	c.JSON(http.StatusOK, call)
}

type dialRequest struct {
	CustomerNumber string `json:"customer_number"`
}

func (h Handlers) Dial(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "engine not configured"})
		return
	}
	var req dialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.CustomerNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "customer_number required"})
		return
	}

	call, err := h.Engine.Dial(c.Request.Context(), req.CustomerNumber)
	if err != nil {
		if errors.Is(err, callstore.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid customer number"})
			return
		}
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "dial failed"})
		return
	}

	h.logAction(c, audit.EventTypeCallDialed, call.ID, "dialed "+req.CustomerNumber)
	c.JSON(http.StatusCreated, call)
}

// --- Device ---

type deviceSignalRequest struct {
	Name   string            `json:"name"`
	Fields map[string]string `json:"fields"`
	At     time.Time         `json:"at"`
}

// DeviceSignal is the ingress for the workstation's telephony client: the
// local SDK posts its raw signals here and the adapter feeds them into the
// engine's funnel. Signals are accepted, not acted on synchronously, so the
// response carries no call state.
func (h Handlers) DeviceSignal(c *gin.Context) {
	if h.Device == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "device ingress not configured"})
		return
	}
	var req deviceSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Name == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}
	h.Device.Handle(telephony.RawSignal{Name: req.Name, Fields: req.Fields, At: req.At})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// --- Reporting ---

// CallsSummary aggregates call outcomes over a window. Defaults to the last
// 24 hours. RBAC: supervisor or admin (agents see only their own summary).
func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}

	now := time.Now().UTC()
	from, to := now.Add(-24*time.Hour), now
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		to = t
	}

	agentID := c.Query("agent_id")
	role, _ := auth.Role(c.Request.Context())
	if role == rbac.RoleAgent {
		// Agents may only query themselves.
		self, _ := auth.AgentID(c.Request.Context())
		agentID = self
	}

	sum, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range:   reporting.TimeRange{From: from, To: to},
		AgentID: agentID,
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// logAction is best-effort; audit failures never fail the request.
func (h Handlers) logAction(c *gin.Context, typ audit.EventType, callID, message string) {
	if h.Audit == nil {
		return
	}
	aid, _ := auth.AgentID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	_ = h.Audit.LogCallAction(c.Request.Context(), typ, callID, aid, role, c.ClientIP(), message)
}

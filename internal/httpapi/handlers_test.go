package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callcenter-platform/internal/audit"
	"callcenter-platform/internal/auth"
	"callcenter-platform/internal/calls"
	"callcenter-platform/internal/callstore"
	"callcenter-platform/internal/engine"
	"callcenter-platform/internal/rbac"
	"callcenter-platform/internal/telephony"

	"github.com/gin-gonic/gin"
)

type apiFixture struct {
	store    *callstore.MemoryStore
	eng      *engine.Engine
	auditLog *audit.MemoryRepo
	router   *gin.Engine
}

func newAPIFixture(t *testing.T, agentID, role string) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := callstore.NewMemoryStore(nil)
	eng, err := engine.New(engine.Config{AgentID: agentID}, store, nil, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	auditRepo := audit.NewMemoryRepo()

	h := Handlers{
		Engine: eng,
		Store:  store,
		Audit:  audit.NewService(auditRepo),
		Device: telephony.NewEventAdapter(eng, nil),
	}

	r := gin.New()
	identity := func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), agentID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
	v1 := r.Group("/v1", identity)
	v1.GET("/calls", h.ListCalls)
	v1.GET("/calls/:call_id", h.GetCall)
	v1.POST("/calls/:call_id/answer", h.Answer)
	v1.POST("/calls/:call_id/decline", h.Decline)
	v1.POST("/calls/:call_id/hangup", h.Hangup)
	v1.POST("/calls/dial", h.Dial)
	v1.POST("/device/signals", h.DeviceSignal)

	return &apiFixture{store: store, eng: eng, auditLog: auditRepo, router: r}
}

func (f *apiFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func seedRinging(f *apiFixture, id string) {
	f.store.Seed(calls.Call{
		ID:             id,
		Direction:      calls.DirectionInbound,
		Status:         calls.CallStatusRinging,
		CustomerNumber: "+15550001111",
		CreatedAt:      time.Now().UTC(),
	})
}

func TestAnswerClaimsRingingCall(t *testing.T) {
	f := newAPIFixture(t, "agent-1", rbac.RoleAgent)
	seedRinging(f, "c1")

	w := f.do(http.MethodPost, "/v1/calls/c1/answer", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code %d: %s", w.Code, w.Body.String())
	}

	var got calls.Call
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != calls.CallStatusInProgress || got.AgentID != "agent-1" {
		t.Fatalf("unexpected call: %+v", got)
	}

	evs := f.auditLog.Events()
	if len(evs) != 1 || evs[0].Type != audit.EventTypeCallClaimed {
		t.Fatalf("audit events: %+v", evs)
	}
}

func TestAnswerLostRaceReturnsConflict(t *testing.T) {
	f := newAPIFixture(t, "agent-1", rbac.RoleAgent)
	f.store.Seed(calls.Call{
		ID:             "c1",
		Direction:      calls.DirectionInbound,
		Status:         calls.CallStatusInProgress,
		CustomerNumber: "+15550001111",
		AgentID:        "agent-2",
		CreatedAt:      time.Now().UTC(),
	})

	w := f.do(http.MethodPost, "/v1/calls/c1/answer", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("code %d: %s", w.Code, w.Body.String())
	}
	if len(f.auditLog.Events()) != 0 {
		t.Fatalf("lost claims must not be audited as claimed")
	}
}

func TestAnswerUnknownCallIs404(t *testing.T) {
	f := newAPIFixture(t, "agent-1", rbac.RoleAgent)

	w := f.do(http.MethodPost, "/v1/calls/nope/answer", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("code %d: %s", w.Code, w.Body.String())
	}
}

func TestDeclineIsAdvisory(t *testing.T) {
	f := newAPIFixture(t, "agent-1", rbac.RoleAgent)
	seedRinging(f, "c1")

	w := f.do(http.MethodPost, "/v1/calls/c1/decline", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code %d: %s", w.Code, w.Body.String())
	}
	got, err := f.store.Get(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != calls.CallStatusCanceled {
		t.Fatalf("status %s", got.Status)
	}
}

func TestHangupCompletesOwnedCall(t *testing.T) {
	f := newAPIFixture(t, "agent-1", rbac.RoleAgent)
	seedRinging(f, "c1")
	if w := f.do(http.MethodPost, "/v1/calls/c1/answer", nil); w.Code != http.StatusOK {
		t.Fatalf("answer: %d", w.Code)
	}

	w := f.do(http.MethodPost, "/v1/calls/c1/hangup", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code %d: %s", w.Code, w.Body.String())
	}
	got, _ := f.store.Get(context.Background(), "c1")
	if got.Status != calls.CallStatusCompleted {
		t.Fatalf("status %s", got.Status)
	}
}

func TestDialCreatesOutboundCall(t *testing.T) {
	f := newAPIFixture(t, "agent-1", rbac.RoleAgent)

	w := f.do(http.MethodPost, "/v1/calls/dial", map[string]string{"customer_number": "+15550002222"})
	if w.Code != http.StatusCreated {
		t.Fatalf("code %d: %s", w.Code, w.Body.String())
	}

	var got calls.Call
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Direction != calls.DirectionOutbound || got.AgentID != "agent-1" || got.Status != calls.CallStatusRinging {
		t.Fatalf("unexpected call: %+v", got)
	}
}

func TestDialRejectsMissingNumber(t *testing.T) {
	f := newAPIFixture(t, "agent-1", rbac.RoleAgent)

	w := f.do(http.MethodPost, "/v1/calls/dial", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code %d: %s", w.Code, w.Body.String())
	}
}

func TestDeviceSignalFlipsDeviceReady(t *testing.T) {
	f := newAPIFixture(t, "agent-1", rbac.RoleAgent)

	if f.eng.DeviceReady() {
		t.Fatalf("device ready before any signal")
	}
	w := f.do(http.MethodPost, "/v1/device/signals", map[string]any{"name": "registered"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("code %d: %s", w.Code, w.Body.String())
	}
	if !f.eng.DeviceReady() {
		t.Fatalf("registered signal did not mark device ready")
	}
}

func TestDeviceAcceptSignalAnswersRingingCall(t *testing.T) {
	f := newAPIFixture(t, "agent-1", rbac.RoleAgent)
	f.store.Seed(calls.Call{
		ID:             "c1",
		Direction:      calls.DirectionInbound,
		Status:         calls.CallStatusRinging,
		CustomerNumber: "+15550001111",
		ProviderCallID: "CA77",
		CreatedAt:      time.Now().UTC(),
	})
	if err := f.eng.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}

	w := f.do(http.MethodPost, "/v1/device/signals", map[string]any{
		"name":   "accept",
		"fields": map[string]string{"call_sid": "CA77"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("code %d: %s", w.Code, w.Body.String())
	}

	got, err := f.store.Get(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != calls.CallStatusInProgress || got.AgentID != "agent-1" {
		t.Fatalf("got %+v", got)
	}
}

func TestDeviceSignalRequiresName(t *testing.T) {
	f := newAPIFixture(t, "agent-1", rbac.RoleAgent)

	w := f.do(http.MethodPost, "/v1/device/signals", map[string]any{"fields": map[string]string{}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code %d: %s", w.Code, w.Body.String())
	}
}

func TestListCallsReflectsProjection(t *testing.T) {
	f := newAPIFixture(t, "agent-1", rbac.RoleAgent)
	seedRinging(f, "c1")
	if err := f.eng.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}

	w := f.do(http.MethodGet, "/v1/calls", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code %d", w.Code)
	}
	var resp struct {
		Calls []engine.CallView `json:"calls"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Calls) != 1 || resp.Calls[0].ID != "c1" {
		t.Fatalf("calls: %+v", resp.Calls)
	}
}

package callstore

import (
	"context"
	"sync"
	"time"

	"callcenter-platform/internal/calls"
	"callcenter-platform/internal/changefeed"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and early development. It
// implements the same CAS semantics as the Postgres store: the expected-state
// check and the swap happen under one lock, so concurrent claimers observe
// exactly one Applied=true.
type MemoryStore struct {
	mu    sync.Mutex
	rows  map[string]calls.Call
	feed  changefeed.Publisher
	Clock func() time.Time

	// Fail forces every operation to return ErrStoreUnavailable; tests use
	// it to exercise outage handling.
	Fail bool
}

func NewMemoryStore(feed changefeed.Publisher) *MemoryStore {
	return &MemoryStore{
		rows:  make(map[string]calls.Call),
		feed:  feed,
		Clock: time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (calls.Call, error) {
	if id == "" {
		return calls.Call{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return calls.Call{}, ErrStoreUnavailable
	}
	c, ok := s.rows[id]
	if !ok {
		return calls.Call{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) GetByProviderCallID(ctx context.Context, providerCallID string) (calls.Call, error) {
	if providerCallID == "" {
		return calls.Call{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return calls.Call{}, ErrStoreUnavailable
	}
	var found calls.Call
	var ok bool
	for _, c := range s.rows {
		if c.ProviderCallID != providerCallID {
			continue
		}
		if !ok || c.CreatedAt.After(found.CreatedAt) {
			found, ok = c, true
		}
	}
	if !ok {
		return calls.Call{}, ErrNotFound
	}
	return found, nil
}

func (s *MemoryStore) Create(ctx context.Context, nc NewCall) (calls.Call, error) {
	if err := validateNewCall(nc); err != nil {
		return calls.Call{}, err
	}
	s.mu.Lock()
	if s.Fail {
		s.mu.Unlock()
		return calls.Call{}, ErrStoreUnavailable
	}
	c := calls.Call{
		ID:             uuid.NewString(),
		Direction:      nc.Direction,
		Status:         calls.CallStatusRinging,
		CustomerNumber: nc.CustomerNumber,
		AgentID:        nc.AgentID,
		ProviderCallID: nc.ProviderCallID,
		CreatedAt:      s.Clock().UTC(),
	}
	s.rows[c.ID] = c
	s.mu.Unlock()

	s.publish(ctx, changefeed.OpInsert, c)
	return c, nil
}

func (s *MemoryStore) Transition(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	if err := validateTransition(req); err != nil {
		return TransitionResult{}, err
	}
	s.mu.Lock()
	if s.Fail {
		s.mu.Unlock()
		return TransitionResult{}, ErrStoreUnavailable
	}
	c, ok := s.rows[req.CallID]
	if !ok {
		s.mu.Unlock()
		return TransitionResult{}, ErrNotFound
	}

	if c.Status != req.ExpectedStatus || (req.ExpectUnclaimed && c.AgentID != "") {
		s.mu.Unlock()
		return TransitionResult{Applied: false, Call: c}, nil
	}

	now := s.Clock().UTC()
	c.Status = req.NewStatus
	if req.NewAgentID != "" {
		c.AgentID = req.NewAgentID
	}
	if req.NewStatus == calls.CallStatusInProgress && c.StartedAt == nil {
		t := now
		c.StartedAt = &t
	}
	if req.NewStatus.IsTerminal() {
		t := now
		c.EndedAt = &t
	}
	s.rows[req.CallID] = c
	s.mu.Unlock()

	s.publish(ctx, changefeed.OpUpdate, c)
	return TransitionResult{Applied: true, Call: c}, nil
}

func (s *MemoryStore) ListActiveOrRinging(ctx context.Context, window time.Duration) ([]calls.Call, error) {
	if window <= 0 {
		return nil, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return nil, ErrStoreUnavailable
	}
	since := s.Clock().UTC().Add(-window)
	out := make([]calls.Call, 0)
	for _, c := range s.rows {
		if !c.Status.IsActive() {
			continue
		}
		if c.CreatedAt.Before(since) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Seed inserts a call as-is, bypassing the lifecycle. Tests only.
func (s *MemoryStore) Seed(c calls.Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[c.ID] = c
}

func (s *MemoryStore) publish(ctx context.Context, op changefeed.Op, c calls.Call) {
	if s.feed == nil {
		return
	}
	_ = s.feed.Publish(ctx, changefeed.Event{Op: op, Record: c})
}

package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps appended events in process memory so tests can assert on
// the exact trail a handler or the reaper produced.
type MemoryRepo struct {
	mu       sync.Mutex
	appended []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended = append(r.appended, e)
	return nil
}

// Events returns a copy of the trail in append order.
func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.appended...)
}

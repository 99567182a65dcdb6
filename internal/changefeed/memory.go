package changefeed

import (
	"context"
	"sync"
)

// MemoryFeed is an in-process feed for tests and early development. It
// deliberately mimics Pub/Sub loss semantics: a slow subscriber drops events
// instead of blocking the publisher.

type MemoryFeed struct {
	mu   sync.Mutex
	subs []*memorySubscription

	// Dropped counts events lost to full subscriber buffers.
	Dropped int
}

func NewMemoryFeed() *MemoryFeed { return &MemoryFeed{} }

func (f *MemoryFeed) Publish(ctx context.Context, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.closed {
			continue
		}
		if s.callID != "" && s.callID != ev.Record.ID {
			continue
		}
		select {
		case s.out <- ev:
		default:
			f.Dropped++
		}
	}
	return nil
}

func (f *MemoryFeed) Subscribe(ctx context.Context) (Subscription, error) {
	return f.add("")
}

func (f *MemoryFeed) SubscribeCall(ctx context.Context, callID string) (Subscription, error) {
	return f.add(callID)
}

func (f *MemoryFeed) add(callID string) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &memorySubscription{feed: f, callID: callID, out: make(chan Event, 64)}
	f.subs = append(f.subs, s)
	return s, nil
}

type memorySubscription struct {
	feed   *MemoryFeed
	callID string
	out    chan Event
	closed bool
}

func (s *memorySubscription) Events() <-chan Event { return s.out }

func (s *memorySubscription) Close() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	return nil
}

package reaper

import (
	"context"
	"testing"
	"time"

	"callcenter-platform/internal/calls"
	"callcenter-platform/internal/callstore"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestReaper(store callstore.Store, now time.Time) *Reaper {
	r := New(Config{
		RingingTTL: 15 * time.Minute,
		ActiveTTL:  time.Hour,
	}, store, nil)
	r.clock = fixedClock(now)
	return r
}

func TestReapsRingingPastTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := callstore.NewMemoryStore(nil)
	store.Seed(calls.Call{
		ID: "stale", Status: calls.CallStatusRinging,
		CreatedAt: now.Add(-16 * time.Minute),
	})
	store.Seed(calls.Call{
		ID: "fresh", Status: calls.CallStatusRinging,
		CreatedAt: now.Add(-14 * time.Minute),
	})

	r := newTestReaper(store, now)
	n, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("reaped %d", n)
	}

	got, _ := store.Get(context.Background(), "stale")
	if got.Status != calls.CallStatusFailed || got.EndedAt == nil {
		t.Fatalf("got %+v", got)
	}
	got, _ = store.Get(context.Background(), "fresh")
	if got.Status != calls.CallStatusRinging {
		t.Fatalf("fresh call touched: %+v", got)
	}
}

func TestReapsAbandonedInProgress(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	started := now.Add(-61 * time.Minute)
	store := callstore.NewMemoryStore(nil)
	store.Seed(calls.Call{
		ID: "leaked", Status: calls.CallStatusInProgress, AgentID: "agent-a",
		CreatedAt: started, StartedAt: &started,
	})
	recent := now.Add(-30 * time.Minute)
	store.Seed(calls.Call{
		ID: "live", Status: calls.CallStatusInProgress, AgentID: "agent-b",
		CreatedAt: recent, StartedAt: &recent,
	})

	r := newTestReaper(store, now)
	n, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("reaped %d", n)
	}
	got, _ := store.Get(context.Background(), "leaked")
	if got.Status != calls.CallStatusFailed {
		t.Fatalf("got %+v", got)
	}
	got, _ = store.Get(context.Background(), "live")
	if got.Status != calls.CallStatusInProgress {
		t.Fatalf("live call touched: %+v", got)
	}
}

func TestRacingReapersCloseExactlyOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := callstore.NewMemoryStore(nil)
	store.Seed(calls.Call{
		ID: "stale", Status: calls.CallStatusRinging,
		CreatedAt: now.Add(-20 * time.Minute),
	})

	a := newTestReaper(store, now)
	b := newTestReaper(store, now)

	nA, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	nB, err := b.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if nA+nB != 1 {
		t.Fatalf("closed %d times", nA+nB)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := callstore.NewMemoryStore(nil)
	store.Seed(calls.Call{
		ID: "stale", Status: calls.CallStatusRinging,
		CreatedAt: now.Add(-20 * time.Minute),
	})

	r := newTestReaper(store, now)
	if n, _ := r.RunOnce(context.Background()); n != 1 {
		t.Fatalf("first sweep reaped %d", n)
	}
	if n, _ := r.RunOnce(context.Background()); n != 0 {
		t.Fatalf("second sweep reaped %d", n)
	}
}

func TestReapHookFiresPerClosedCall(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := callstore.NewMemoryStore(nil)
	store.Seed(calls.Call{
		ID: "stale", Status: calls.CallStatusRinging,
		CreatedAt: now.Add(-20 * time.Minute),
	})

	r := newTestReaper(store, now)
	var hooked []string
	r.OnReaped = func(ctx context.Context, c calls.Call, age time.Duration) {
		hooked = append(hooked, c.ID)
		if age < 15*time.Minute {
			t.Fatalf("age %v under ttl", age)
		}
	}

	if n, _ := r.RunOnce(context.Background()); n != 1 {
		t.Fatalf("reaped %d", n)
	}
	if len(hooked) != 1 || hooked[0] != "stale" {
		t.Fatalf("hooked %v", hooked)
	}
	// A stale second sweep must not re-fire the hook.
	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(hooked) != 1 {
		t.Fatalf("hook re-fired: %v", hooked)
	}
}

func TestSweepSurfacesStoreOutage(t *testing.T) {
	store := callstore.NewMemoryStore(nil)
	store.Fail = true
	r := newTestReaper(store, time.Now())
	if _, err := r.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

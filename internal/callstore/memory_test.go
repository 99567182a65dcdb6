package callstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"callcenter-platform/internal/calls"
	"callcenter-platform/internal/changefeed"
)

func TestCreateStartsRinging(t *testing.T) {
	s := NewMemoryStore(nil)
	c, err := s.Create(context.Background(), NewCall{
		Direction:      calls.DirectionInbound,
		CustomerNumber: "+15550001111",
		ProviderCallID: "prov-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != calls.CallStatusRinging {
		t.Fatalf("got status %s", c.Status)
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		t.Fatalf("missing id or created_at: %+v", c)
	}
	if c.StartedAt != nil || c.EndedAt != nil {
		t.Fatalf("timestamps set too early: %+v", c)
	}
}

func TestCreateValidatesInput(t *testing.T) {
	s := NewMemoryStore(nil)
	if _, err := s.Create(context.Background(), NewCall{Direction: "sideways", CustomerNumber: "+1"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("got %v", err)
	}
	if _, err := s.Create(context.Background(), NewCall{Direction: calls.DirectionInbound}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("got %v", err)
	}
}

func TestTransitionClaimSetsOwnerAndStartedAt(t *testing.T) {
	s := NewMemoryStore(nil)
	c, _ := s.Create(context.Background(), NewCall{Direction: calls.DirectionInbound, CustomerNumber: "+1555"})

	res, err := s.Transition(context.Background(), TransitionRequest{
		CallID:          c.ID,
		ExpectedStatus:  calls.CallStatusRinging,
		ExpectUnclaimed: true,
		NewStatus:       calls.CallStatusInProgress,
		NewAgentID:      "agent-a",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Applied {
		t.Fatalf("expected applied")
	}
	if res.Call.AgentID != "agent-a" || res.Call.StartedAt == nil {
		t.Fatalf("claim did not stamp owner/started_at: %+v", res.Call)
	}
}

func TestTransitionTerminalStampsEndedAt(t *testing.T) {
	s := NewMemoryStore(nil)
	c, _ := s.Create(context.Background(), NewCall{Direction: calls.DirectionInbound, CustomerNumber: "+1555"})
	mustClaim(t, s, c.ID, "agent-a")

	res, err := s.Transition(context.Background(), TransitionRequest{
		CallID:         c.ID,
		ExpectedStatus: calls.CallStatusInProgress,
		NewStatus:      calls.CallStatusCompleted,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Applied || res.Call.EndedAt == nil {
		t.Fatalf("terminal transition did not stamp ended_at: %+v", res.Call)
	}
	if res.Call.StartedAt.After(*res.Call.EndedAt) {
		t.Fatalf("started_at after ended_at")
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	s := NewMemoryStore(nil)
	_, err := s.Transition(context.Background(), TransitionRequest{
		CallID:         "c1",
		ExpectedStatus: calls.CallStatusCompleted,
		NewStatus:      calls.CallStatusRinging,
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v", err)
	}

	// A claim without an owner would violate the ownership invariant.
	_, err = s.Transition(context.Background(), TransitionRequest{
		CallID:         "c1",
		ExpectedStatus: calls.CallStatusRinging,
		NewStatus:      calls.CallStatusInProgress,
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v", err)
	}
}

func TestTransitionNotFound(t *testing.T) {
	s := NewMemoryStore(nil)
	_, err := s.Transition(context.Background(), TransitionRequest{
		CallID:          "missing",
		ExpectedStatus:  calls.CallStatusRinging,
		ExpectUnclaimed: true,
		NewStatus:       calls.CallStatusInProgress,
		NewAgentID:      "agent-a",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestSingleClaimInvariantUnderContention(t *testing.T) {
	s := NewMemoryStore(nil)
	c, _ := s.Create(context.Background(), NewCall{Direction: calls.DirectionInbound, CustomerNumber: "+1555"})

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan string, racers)
	for i := 0; i < racers; i++ {
		agent := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Transition(context.Background(), TransitionRequest{
				CallID:          c.ID,
				ExpectedStatus:  calls.CallStatusRinging,
				ExpectUnclaimed: true,
				NewStatus:       calls.CallStatusInProgress,
				NewAgentID:      agent,
			})
			if err != nil {
				t.Error(err)
				return
			}
			if res.Applied {
				wins <- agent
			} else if res.Call.AgentID == "" {
				t.Error("loser did not learn the winner")
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(winners))
	}
	got, _ := s.Get(context.Background(), c.ID)
	if got.AgentID != winners[0] {
		t.Fatalf("record owner %q != winner %q", got.AgentID, winners[0])
	}
}

func TestListActiveOrRingingHonorsWindow(t *testing.T) {
	s := NewMemoryStore(nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Clock = func() time.Time { return now }

	s.Seed(calls.Call{ID: "old", Status: calls.CallStatusRinging, CreatedAt: now.Add(-48 * time.Hour)})
	s.Seed(calls.Call{ID: "fresh", Status: calls.CallStatusRinging, CreatedAt: now.Add(-time.Minute)})
	s.Seed(calls.Call{ID: "done", Status: calls.CallStatusCompleted, CreatedAt: now.Add(-time.Minute)})

	got, err := s.ListActiveOrRinging(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "fresh" {
		t.Fatalf("got %+v", got)
	}
}

func TestWritesPublishToFeed(t *testing.T) {
	feed := changefeed.NewMemoryFeed()
	s := NewMemoryStore(feed)
	sub, _ := feed.Subscribe(context.Background())

	c, _ := s.Create(context.Background(), NewCall{Direction: calls.DirectionInbound, CustomerNumber: "+1555"})
	ev := <-sub.Events()
	if ev.Op != changefeed.OpInsert || ev.Record.ID != c.ID {
		t.Fatalf("got %+v", ev)
	}

	mustClaim(t, s, c.ID, "agent-a")
	ev = <-sub.Events()
	if ev.Op != changefeed.OpUpdate || ev.Record.Status != calls.CallStatusInProgress {
		t.Fatalf("got %+v", ev)
	}
}

func TestUnavailableIsTyped(t *testing.T) {
	s := NewMemoryStore(nil)
	s.Fail = true
	if _, err := s.Get(context.Background(), "x"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("got %v", err)
	}
	if _, err := s.ListActiveOrRinging(context.Background(), time.Hour); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("got %v", err)
	}
}

func mustClaim(t *testing.T, s Store, id, agent string) calls.Call {
	t.Helper()
	res, err := s.Transition(context.Background(), TransitionRequest{
		CallID:          id,
		ExpectedStatus:  calls.CallStatusRinging,
		ExpectUnclaimed: true,
		NewStatus:       calls.CallStatusInProgress,
		NewAgentID:      agent,
	})
	if err != nil || !res.Applied {
		t.Fatalf("claim failed: applied=%v err=%v", res.Applied, err)
	}
	return res.Call
}

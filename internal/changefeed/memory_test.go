package changefeed

import (
	"context"
	"testing"

	"callcenter-platform/internal/calls"
)

func TestMemoryFeedBroadcastAndFilter(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()

	all, err := f.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	only, err := f.SubscribeCall(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}

	if err := f.Publish(ctx, Event{Op: OpInsert, Record: calls.Call{ID: "c1"}}); err != nil {
		t.Fatal(err)
	}
	if err := f.Publish(ctx, Event{Op: OpUpdate, Record: calls.Call{ID: "c2"}}); err != nil {
		t.Fatal(err)
	}

	ev := <-all.Events()
	if ev.Record.ID != "c1" || ev.Op != OpInsert {
		t.Fatalf("unexpected event %+v", ev)
	}
	ev = <-all.Events()
	if ev.Record.ID != "c2" {
		t.Fatalf("unexpected event %+v", ev)
	}

	ev = <-only.Events()
	if ev.Record.ID != "c1" {
		t.Fatalf("filtered subscription got %+v", ev)
	}
	select {
	case ev := <-only.Events():
		t.Fatalf("filtered subscription leaked %+v", ev)
	default:
	}
}

func TestMemoryFeedClosedSubscriberIsSkipped(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()

	sub, err := f.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := sub.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Publish(ctx, Event{Op: OpInsert, Record: calls.Call{ID: "c1"}}); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatalf("expected closed channel")
	}
}

func TestMemoryFeedDropsWhenSubscriberFull(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()

	if _, err := f.Subscribe(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		if err := f.Publish(ctx, Event{Op: OpUpdate, Record: calls.Call{ID: "c1"}}); err != nil {
			t.Fatal(err)
		}
	}
	if f.Dropped == 0 {
		t.Fatalf("expected drops once the buffer filled")
	}
}

package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	allChannel        = "calls.changes"
	callChannelPrefix = "calls.changes."
)

// RedisFeed carries the change feed over Redis Pub/Sub. Pub/Sub gives no
// replay and no ordering across reconnects, which is exactly the delivery
// model the engine is designed to tolerate.
type RedisFeed struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisFeed(rdb *redis.Client, log *slog.Logger) *RedisFeed {
	if log == nil {
		log = slog.Default()
	}
	return &RedisFeed{rdb: rdb, log: log}
}

func (f *RedisFeed) Publish(ctx context.Context, ev Event) error {
	if ev.Record.ID == "" {
		return fmt.Errorf("changefeed: record id required")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("changefeed: marshal: %w", err)
	}
	if err := f.rdb.Publish(ctx, allChannel, payload).Err(); err != nil {
		return fmt.Errorf("changefeed: publish: %w", err)
	}
	// Per-call channel is a convenience for single-call subscribers; the
	// broadcast above is the one that matters for the engine.
	if err := f.rdb.Publish(ctx, callChannelPrefix+ev.Record.ID, payload).Err(); err != nil {
		return fmt.Errorf("changefeed: publish call channel: %w", err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context) (Subscription, error) {
	return f.subscribe(ctx, allChannel)
}

func (f *RedisFeed) SubscribeCall(ctx context.Context, callID string) (Subscription, error) {
	if callID == "" {
		return nil, fmt.Errorf("changefeed: call id required")
	}
	return f.subscribe(ctx, callChannelPrefix+callID)
}

func (f *RedisFeed) subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := f.rdb.Subscribe(ctx, channel)
	// Force the subscription onto the wire before we report success.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("changefeed: subscribe %s: %w", channel, err)
	}

	sub := &redisSubscription{ps: ps, out: make(chan Event, 64)}
	go func() {
		defer close(sub.out)
		for msg := range ps.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				f.log.Warn("changefeed: bad payload dropped", "channel", channel, "err", err)
				continue
			}
			select {
			case sub.out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub, nil
}

type redisSubscription struct {
	ps  *redis.PubSub
	out chan Event
}

func (s *redisSubscription) Events() <-chan Event { return s.out }

func (s *redisSubscription) Close() error { return s.ps.Close() }

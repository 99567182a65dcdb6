package reaper

import (
	"context"
	"log/slog"
	"time"

	"callcenter-platform/internal/calls"
	"callcenter-platform/internal/callstore"
)

// Reaper closes out call records that sat in a non-terminal state past a
// reasonable bound: a lost event, an abandoned browser tab, a crashed agent.
// Without it a phantom "ringing forever" row would prompt agents indefinitely
// and a leaked in_progress row would block its agent identity from future
// claims.
//
// Writes go through the same conditional transitions as everything else, so
// several reaper instances may run side by side: the second attempt on a row
// is a stale no-op, never a double close.

type Config struct {
	// Interval between sweeps.
	Interval time.Duration

	// RingingTTL is the maximum age of an unclaimed ringing call.
	RingingTTL time.Duration

	// ActiveTTL is the (much larger) maximum age of an in_progress call
	// before it is treated as abandoned infrastructure.
	ActiveTTL time.Duration

	// Lookback bounds the sweep's fetch window. Must exceed ActiveTTL or
	// the oldest leaked rows would escape the sweep.
	Lookback time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.Interval <= 0 {
		out.Interval = 5 * time.Second
	}
	if out.RingingTTL <= 0 {
		out.RingingTTL = 15 * time.Minute
	}
	if out.ActiveTTL <= 0 {
		out.ActiveTTL = time.Hour
	}
	if out.Lookback <= out.ActiveTTL {
		out.Lookback = 7 * 24 * time.Hour
	}
	return out
}

type Reaper struct {
	cfg   Config
	store callstore.Store
	clock func() time.Time
	log   *slog.Logger

	// OnReaped, when set, is called after each successful close (audit hook).
	// Failures are the hook's problem; the sweep never blocks on it.
	OnReaped func(ctx context.Context, c calls.Call, age time.Duration)
}

func New(cfg Config, store callstore.Store, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{cfg: cfg.withDefaults(), store: store, clock: time.Now, log: log}
}

// Run sweeps on a fixed interval until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				// Transient store trouble; the next sweep retries.
				r.log.Warn("reap sweep failed", "err", err)
			}
		}
	}
}

// RunOnce performs one sweep and returns how many calls it closed.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	rows, err := r.store.ListActiveOrRinging(ctx, r.cfg.Lookback)
	if err != nil {
		return 0, err
	}

	now := r.clock().UTC()
	reaped := 0
	for _, c := range rows {
		ttl, ok := r.deadlineFor(c)
		if !ok || now.Sub(anchor(c)) <= ttl {
			continue
		}

		res, err := r.store.Transition(ctx, callstore.TransitionRequest{
			CallID:         c.ID,
			ExpectedStatus: c.Status,
			NewStatus:      calls.CallStatusFailed,
		})
		if err != nil {
			// Keep sweeping; this row gets another chance next tick.
			r.log.Warn("reap transition failed", "call_id", c.ID, "err", err)
			continue
		}
		if !res.Applied {
			// Claimed, closed, or reaped by someone else between the read
			// and the write. Stale, not an error.
			r.log.Debug("reap lost race", "call_id", c.ID, "status", res.Call.Status)
			continue
		}
		reaped++
		r.log.Info("stale call reaped", "call_id", c.ID, "was", c.Status, "age", now.Sub(anchor(c)).String())
		if r.OnReaped != nil {
			r.OnReaped(ctx, c, now.Sub(anchor(c)))
		}
	}
	return reaped, nil
}

func (r *Reaper) deadlineFor(c calls.Call) (time.Duration, bool) {
	switch c.Status {
	case calls.CallStatusRinging:
		return r.cfg.RingingTTL, true
	case calls.CallStatusInProgress:
		return r.cfg.ActiveTTL, true
	}
	return 0, false
}

// anchor is the timestamp aging is measured from: when the call started, or
// when it was created if it never got that far.
func anchor(c calls.Call) time.Time {
	if c.Status == calls.CallStatusInProgress && c.StartedAt != nil {
		return *c.StartedAt
	}
	return c.CreatedAt
}

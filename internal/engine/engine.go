package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"callcenter-platform/internal/calls"
	"callcenter-platform/internal/callstore"
	"callcenter-platform/internal/changefeed"
	"callcenter-platform/internal/telephony"
)

// Engine keeps one agent process's view of call truth consistent with the
// store. Three sources feed a single reconciliation funnel: normalized device
// events from the local telephony client, change-feed pushes, and periodic
// resyncs pulled straight from the store. The merge is idempotent and
// order-tolerant; per-call status never regresses (rank check), so arbitrary
// interleaving and duplication of the sources is safe.
//
// The engine never writes call state except through the conditional
// transitions in claim.go; the reconciliation path is read-only.

type Config struct {
	// AgentID is this process's identity for claims.
	AgentID string

	// ReconcileInterval is the poll cadence (fallback for missed pushes).
	ReconcileInterval time.Duration

	// Lookback bounds the resync fetch window.
	Lookback time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.ReconcileInterval <= 0 {
		out.ReconcileInterval = 5 * time.Second
	}
	if out.Lookback <= 0 {
		out.Lookback = 24 * time.Hour
	}
	return out
}

// CallView is a projection entry: the persisted record plus process-local
// device state the store does not carry.
type CallView struct {
	calls.Call
	Muted  bool `json:"muted"`
	OnHold bool `json:"on_hold"`
}

type Engine struct {
	cfg      Config
	store    callstore.Store
	feed     changefeed.Feed
	provider telephony.Provider
	client   telephony.Client
	log      *slog.Logger
	clock    func() time.Time

	mu          sync.Mutex
	view        map[string]*CallView
	effects     map[string]struct{} // call ids whose owning side effects ran
	dispatch    *dispatcher
	deviceReady bool
}

// New wires an engine. feed, provider, client, and notifier may each be nil
// (degraded operation: poll-only, no side effects, no device control).
func New(cfg Config, store callstore.Store, feed changefeed.Feed, provider telephony.Provider, client telephony.Client, notifier Notifier, log *slog.Logger) (*Engine, error) {
	if cfg.AgentID == "" {
		return nil, errors.New("engine: agent id is required")
	}
	if store == nil {
		return nil, errors.New("engine: store is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:      cfg.withDefaults(),
		store:    store,
		feed:     feed,
		provider: provider,
		client:   client,
		log:      log,
		clock:    time.Now,
		view:     make(map[string]*CallView),
		effects:  make(map[string]struct{}),
		dispatch: newDispatcher(notifier, log),
	}, nil
}

// Run drives the engine until ctx is canceled: one change-feed consumer with
// reconnect backoff, plus the reconciliation ticker with an immediate first
// tick so a restarted process rehydrates before its first interval elapses.
func (e *Engine) Run(ctx context.Context) error {
	if e.feed != nil {
		go e.consumeFeed(ctx)
	}

	if err := e.Reconcile(ctx); err != nil {
		// Startup resync failure is degraded, not fatal.
		e.log.Warn("initial reconcile failed", "err", err)
	}

	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.Reconcile(ctx); err != nil {
				e.log.Warn("reconcile tick failed", "err", err)
			}
		}
	}
}

func (e *Engine) consumeFeed(ctx context.Context) {
	backoff := time.Second
	for {
		sub, err := e.feed.Subscribe(ctx)
		if err != nil {
			e.log.Warn("change feed subscribe failed", "err", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}
		backoff = time.Second

		for ev := range sub.Events() {
			e.applyRecord(ev.Record)
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		// Stream ended (transport loss). The poll loop covers the gap while
		// we resubscribe.
		e.log.Warn("change feed stream ended, resubscribing")
	}
}

// Reconcile re-derives local truth from the store. It is the authority that
// resolves conflicts between what the push channel said and what is actually
// true, and the only path that detects state the push channel never announced
// (e.g. this process started after the call began).
func (e *Engine) Reconcile(ctx context.Context) error {
	fetched, err := e.store.ListActiveOrRinging(ctx, e.cfg.Lookback)
	if err != nil {
		if errors.Is(err, callstore.ErrStoreUnavailable) {
			// Degrade to last known state; the next tick retries.
			e.mu.Lock()
			e.dispatch.notice(Notice{Kind: NoticeStoreDegraded, Message: "call store unreachable; showing last known state"})
			e.mu.Unlock()
		}
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	present := make(map[string]struct{}, len(fetched))
	for _, c := range fetched {
		present[c.ID] = struct{}{}
		e.applyLocked(c)
	}

	// Anything we hold locally that the store no longer reports as active is
	// finished (or fell out of the window): retract it.
	for id := range e.view {
		if _, ok := present[id]; !ok {
			e.retractLocked(id)
		}
	}
	return nil
}

// applyRecord is the funnel entry for pushed and resynced records.
func (e *Engine) applyRecord(c calls.Call) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyLocked(c)
}

func (e *Engine) applyLocked(c calls.Call) {
	if c.ID == "" {
		return
	}

	cur, known := e.view[c.ID]
	if known && c.Status.Rank() < cur.Status.Rank() {
		// Late or duplicated event from a slower source. Never regress.
		e.log.Debug("stale record ignored", "call_id", c.ID, "have", cur.Status, "got", c.Status)
		return
	}
	if !known && !c.Status.IsTerminal() && e.dispatch.announced(c.ID) {
		// Announced but no longer in view: the call was already retracted
		// (terminal, or gone from the store's active set). Statuses never
		// regress, so a non-terminal duplicate of a retracted call is always
		// stale; re-adding it would show a phantom entry until the next tick.
		e.log.Debug("retracted record ignored", "call_id", c.ID, "got", c.Status)
		return
	}

	if c.Status.IsTerminal() {
		e.dispatch.suppress(c.ID)
		e.retractLocked(c.ID)
		return
	}

	if known {
		cur.Call = c
	} else {
		e.view[c.ID] = &CallView{Call: c}
	}

	switch {
	case c.Status == calls.CallStatusRinging:
		e.dispatch.offer(c)
	case c.OwnedBy(e.cfg.AgentID):
		// Ours. First sighting after a restart means the owning side effects
		// may never have run in this process; re-run them idempotently.
		if _, ran := e.effects[c.ID]; !ran {
			e.effects[c.ID] = struct{}{}
			e.dispatch.restored(c)
			e.startSideEffectsLocked(c)
		}
	default:
		// Another agent's active call; keep it for monitoring views only.
		e.dispatch.suppress(c.ID)
	}
}

func (e *Engine) retractLocked(id string) {
	delete(e.view, id)
	delete(e.effects, id)
}

// markEffectsStarted records that the owning side effects for id already ran
// in this process, so a later resync does not repeat them.
func (e *Engine) markEffectsStarted(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.effects[id] = struct{}{}
}

func (e *Engine) startSideEffectsLocked(c calls.Call) {
	if e.provider == nil {
		return
	}
	// Fire-and-report; never blocks the merge and never reverts the claim.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := e.provider.StartTranscription(ctx, telephony.TranscriptionRequest{
			CallID:         c.ID,
			ProviderCallID: c.ProviderCallID,
		})
		if err != nil {
			e.log.Warn("transcription start failed", "call_id", c.ID, "err", err)
			e.mu.Lock()
			e.dispatch.notice(Notice{Kind: NoticeSideEffectFailed, CallID: c.ID, Message: "transcription unavailable; call connected"})
			e.mu.Unlock()
		}
	}()
}

// Snapshot returns the current projection, terminal calls already discarded.
func (e *Engine) Snapshot() []CallView {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]CallView, 0, len(e.view))
	for _, v := range e.view {
		out = append(out, *v)
	}
	return out
}

// ActiveCall returns this agent's in-progress call, if any.
func (e *Engine) ActiveCall() (CallView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, v := range e.view {
		if v.Status == calls.CallStatusInProgress && v.OwnedBy(e.cfg.AgentID) {
			return *v, true
		}
	}
	return CallView{}, false
}

// DeviceReady reports the local telephony client's registration state.
func (e *Engine) DeviceReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deviceReady
}

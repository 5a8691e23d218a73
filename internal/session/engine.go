// Package session owns the storefront session: which store is authoritative
// for the cart and wishlist, how local state is merged into the server when a
// visitor logs in, and how failures and logouts move the session between modes.
//
// The Engine is the state machine:
//
//	Local ──LoggedIn──▶ Reconciling ──merge ok──▶ Remote
//	  ▲                    │   │                     │
//	  │                    │   └─merge failed: stays Reconciling, retry re-runs it
//	  │                    └─AuthRejected during merge: Local, local cache kept
//	  └──────────── logout / AuthRejected while Remote: Local, cache cleared
//
// The Facade is the single entry point for presentation code and dispatches
// every operation according to the current mode.
//
// Concurrency: one weighted semaphore serializes every network-backed unit of
// work (a merge, or one Remote-mode operation). Mode, epoch, the last known
// server snapshot and the buffered overrides are guarded by Engine.mu, which
// is never held across network calls. Every session (login to logout) has an
// epoch and a context; ending a session bumps the epoch and cancels the
// context, so in-flight work stops and whatever it returns is discarded.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"storefront-sync/internal/identity"
	"storefront-sync/internal/localcache"
	"storefront-sync/internal/model"
	"storefront-sync/internal/reconcile"
	"storefront-sync/internal/remote"
)

// CartContext bundles the collection stores for one browsing session.
type CartContext struct {
	Cart     *localcache.Cache
	Wishlist *localcache.Cache
	Remote   remote.Collections
}

// Engine is the reconciliation state machine for one session.
type Engine struct {
	identity *identity.Holder
	caches   map[model.Kind]*localcache.Cache
	remote   remote.Collections
	logger   *slog.Logger
	obs      *observers

	// sem is the single-flight gate for network-backed work.
	sem *semaphore.Weighted

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu          sync.Mutex
	mode        Mode
	epoch       uint64
	epochCtx    context.Context
	epochCancel context.CancelFunc
	handledSeq  uint64
	sessionUser string // user the current session belongs to; "" while Local
	merging     int
	lastErr     error
	snapshot    map[model.Kind][]model.Item // last known server state; absent key = unknown
	overrides   map[model.Kind][]model.Item // absolute targets buffered while Reconciling
	merged      map[model.Kind]map[string]int // local quantities pushed by the running merge pass
	changed     chan struct{}               // closed and replaced on every state change
}

func newEngine(ident *identity.Holder, carts CartContext, logger *slog.Logger, obs *observers) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if carts.Cart == nil {
		carts.Cart = localcache.New(model.KindCart)
	}
	if carts.Wishlist == nil {
		carts.Wishlist = localcache.New(model.KindWishlist)
	}

	e := &Engine{
		identity: ident,
		caches: map[model.Kind]*localcache.Cache{
			model.KindCart:     carts.Cart,
			model.KindWishlist: carts.Wishlist,
		},
		remote:  carts.Remote,
		logger:  logger,
		obs:     obs,
		sem:     semaphore.NewWeighted(1),
		changed: make(chan struct{}),
	}
	e.baseCtx, e.baseCancel = context.WithCancel(context.Background())
	e.advanceEpochLocked()

	// A restored identity resumes its session without a login event
	if st := ident.State(); st.Authenticated {
		e.sessionUser = st.UserID
		e.mode = ModeRemote
		if e.pendingLocked() > 0 {
			e.mode = ModeReconciling
		}
	}
	return e
}

// Run consumes identity events until ctx is done. A session restored in
// Reconciling starts its merge here.
func (e *Engine) Run(ctx context.Context) error {
	sub := e.identity.Subscribe()
	defer sub.Close()

	e.mu.Lock()
	changes := e.catchUpLocked(ctx)
	if e.mode == ModeReconciling && e.merging == 0 {
		e.startMergeLocked()
	}
	e.mu.Unlock()
	e.obs.notify(changes)

	e.logger.Info("session engine running", slog.String("mode", e.Status().Mode.String()))

	for {
		for {
			ev, ok := sub.Next()
			if !ok {
				break
			}
			e.mu.Lock()
			changes := e.handleLocked(ctx, ev)
			e.mu.Unlock()
			e.obs.notify(changes)
		}

		select {
		case <-sub.Wait():
		case <-ctx.Done():
			return nil
		}
	}
}

// Close cancels all session work and waits for background merges to exit.
func (e *Engine) Close() {
	e.baseCancel()
	e.wg.Wait()
}

// Status returns the current mode and identity.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

// Await blocks until the identity event with sequence seq has been handled and
// no merge attempt is in flight, then returns the resulting status.
func (e *Engine) Await(ctx context.Context, seq uint64) (Status, error) {
	for {
		e.mu.Lock()
		if e.handledSeq >= seq && e.merging == 0 {
			st := e.statusLocked()
			e.mu.Unlock()
			return st, nil
		}
		ch := e.changed
		e.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return e.Status(), ctx.Err()
		}
	}
}

// login records a new identity and starts the merge for it. Returns the
// sequence of the last event emitted, or 0 when nothing transitioned.
func (e *Engine) login(ctx context.Context, token, userID, email string) uint64 {
	e.mu.Lock()
	events := e.identity.Login(ctx, token, userID, email)
	var (
		changes []Change
		last    uint64
	)
	for _, ev := range events {
		changes = append(changes, e.handleLocked(ctx, ev)...)
		last = ev.Seq
	}
	e.mu.Unlock()

	e.obs.notify(changes)
	return last
}

// Logout ends the session. It never waits for in-flight work and cannot fail.
func (e *Engine) Logout(ctx context.Context) {
	e.mu.Lock()
	changes := e.endSessionLocked(ctx, ReasonLogout, true)
	e.mu.Unlock()
	e.obs.notify(changes)
}

// Reconcile re-runs the merge for the current session. It returns nil when
// there is nothing to merge.
func (e *Engine) Reconcile(ctx context.Context) error {
	e.mu.Lock()
	if e.mode != ModeReconciling {
		e.mu.Unlock()
		return nil
	}
	epoch, epochCtx := e.epoch, e.epochCtx
	e.merging++
	e.broadcastLocked()
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(epochCtx, cancel)
	defer stop()

	return e.merge(ctx, epoch)
}

// handleLocked applies one identity event. Events already handled inline are
// skipped when they arrive again through the subscription.
func (e *Engine) handleLocked(ctx context.Context, ev identity.Event) []Change {
	if ev.Seq <= e.handledSeq {
		return nil
	}
	e.handledSeq = ev.Seq

	switch ev.Type {
	case identity.LoggedIn:
		return e.beginSessionLocked(ev)
	case identity.LoggedOut:
		// the holder has already transitioned; a user switch follows with LoggedIn
		return e.endSessionLocked(ctx, ReasonLogout, false)
	default:
		return nil
	}
}

// catchUpLocked applies identity transitions made before Run subscribed.
// Events up to the observed sequence that also sit in the subscription are
// then skipped by handleLocked.
func (e *Engine) catchUpLocked(ctx context.Context) []Change {
	st, seq := e.identity.Current()
	if seq <= e.handledSeq {
		return nil
	}
	e.handledSeq = seq

	begin := identity.Event{Type: identity.LoggedIn, Seq: seq, UserID: st.UserID}
	switch {
	case st.Authenticated && e.mode == ModeLocal:
		return e.beginSessionLocked(begin)
	case st.Authenticated && st.UserID != e.sessionUser:
		changes := e.endSessionLocked(ctx, ReasonLogout, false)
		return append(changes, e.beginSessionLocked(begin)...)
	case !st.Authenticated && e.mode != ModeLocal:
		return e.endSessionLocked(ctx, ReasonLogout, false)
	}
	return nil
}

func (e *Engine) beginSessionLocked(ev identity.Event) []Change {
	e.advanceEpochLocked()
	e.mode = ModeReconciling
	e.sessionUser = ev.UserID
	e.lastErr = nil
	e.startMergeLocked()

	e.logger.Info("session started, reconciling",
		slog.String("user_id", ev.UserID),
		slog.Uint64("epoch", e.epoch),
	)
	return []Change{{Type: ModeChanged, Mode: ModeReconciling, Reason: ReasonLogin}}
}

// endSessionLocked is the logout transition: clear local state, go Local.
// resetHolder logs the identity holder out too; it is false when the
// transition came from the holder itself.
func (e *Engine) endSessionLocked(ctx context.Context, reason string, resetHolder bool) []Change {
	prev := e.mode
	e.advanceEpochLocked()
	for _, c := range e.caches {
		c.Clear()
	}
	e.mode = ModeLocal
	e.sessionUser = ""
	e.lastErr = nil
	if resetHolder {
		e.resetIdentityLocked(ctx)
	}
	e.broadcastLocked()

	e.logger.Info("session ended",
		slog.String("reason", reason),
		slog.String("from", prev.String()),
	)

	changes := []Change{{Type: SessionEnded, Mode: ModeLocal, Reason: reason}}
	if prev != ModeLocal {
		changes = append(changes, Change{Type: ModeChanged, Mode: ModeLocal, Reason: reason})
	}
	for _, k := range model.Kinds {
		changes = append(changes, Change{Type: CollectionChanged, Collection: k, Mode: ModeLocal})
	}
	return changes
}

// resetIdentityLocked logs the holder out and marks the resulting event
// handled so it is not processed a second time.
func (e *Engine) resetIdentityLocked(ctx context.Context) {
	for _, ev := range e.identity.Logout(context.WithoutCancel(ctx)) {
		if ev.Seq > e.handledSeq {
			e.handledSeq = ev.Seq
		}
	}
}

// advanceEpochLocked cancels the current session's work and starts a fresh epoch.
func (e *Engine) advanceEpochLocked() {
	if e.epochCancel != nil {
		e.epochCancel()
	}
	e.epoch++
	e.epochCtx, e.epochCancel = context.WithCancel(e.baseCtx)
	e.snapshot = make(map[model.Kind][]model.Item)
	e.overrides = make(map[model.Kind][]model.Item)
	e.merged = make(map[model.Kind]map[string]int)
}

func (e *Engine) startMergeLocked() {
	epoch, ctx := e.epoch, e.epochCtx
	e.merging++
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.merge(ctx, epoch); err != nil && !errors.Is(err, model.ErrLoggedOut) {
			e.logger.Debug("background merge ended with error", slog.String("error", err.Error()))
		}
	}()
}

func (e *Engine) broadcastLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}

func (e *Engine) epochIs(epoch uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch == epoch
}

// pendingLocked counts local entries and buffered overrides not yet on the server.
func (e *Engine) pendingLocked() int {
	n := 0
	for _, k := range model.Kinds {
		n += len(e.unmergedLocked(k))
	}
	for _, ovs := range e.overrides {
		n += len(ovs)
	}
	return n
}

// unmergedLocked returns the local entries of kind minus what the running
// merge has already pushed. The cache itself keeps them until the pass ends.
func (e *Engine) unmergedLocked(kind model.Kind) []model.Item {
	items := e.caches[kind].List()
	pushed := e.merged[kind]
	if len(pushed) == 0 {
		return items
	}
	out := items[:0]
	for _, it := range items {
		n, ok := pushed[it.ID]
		switch {
		case !ok:
		case kind.Quantified() && it.Quantity > n:
			it.Quantity -= n
		default:
			continue
		}
		out = append(out, it)
	}
	return out
}

func (e *Engine) statusLocked() Status {
	ident := e.identity.State()
	st := Status{
		Mode:          e.mode,
		Authenticated: ident.Authenticated,
		UserID:        ident.UserID,
		Email:         ident.Email,
		Err:           e.lastErr,
	}
	if e.mode != ModeRemote {
		st.PendingLocal = e.pendingLocked()
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}

// =============================================================================
// SERIALIZED REMOTE WORK
// =============================================================================

// serialized runs fn under the single-flight semaphore on behalf of session
// epoch. fn's context is cancelled when the caller gives up or the session ends.
func (e *Engine) serialized(ctx context.Context, epoch uint64, fn func(ctx context.Context) error) error {
	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return model.NewLoggedOutError()
	}
	epochCtx := e.epochCtx
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(epochCtx, cancel)
	defer stop()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		if !e.epochIs(epoch) {
			return model.NewLoggedOutError()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return model.NewTransientError("session", err)
		}
		return err
	}
	defer e.sem.Release(1)

	if !e.epochIs(epoch) {
		return model.NewLoggedOutError()
	}
	return fn(ctx)
}

// serverItems returns the last known server collection, fetching it when
// unknown or when force is set. Caller holds the semaphore.
func (e *Engine) serverItems(ctx context.Context, epoch uint64, kind model.Kind, force bool) ([]model.Item, error) {
	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return nil, model.NewLoggedOutError()
	}
	if snap, ok := e.snapshot[kind]; ok && !force {
		out := model.CloneItems(snap)
		e.mu.Unlock()
		return out, nil
	}
	e.mu.Unlock()

	items, err := e.remote.List(ctx, kind)
	if err != nil {
		return nil, e.remoteFailed(ctx, epoch, kind, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != epoch {
		e.logger.Debug("discarding stale list response", slog.String("kind", string(kind)))
		return nil, model.NewLoggedOutError()
	}
	e.snapshot[kind] = model.CloneItems(items)
	return items, nil
}

// execute performs one planned server mutation.
func (e *Engine) execute(ctx context.Context, kind model.Kind, op reconcile.Op) error {
	switch {
	case kind.Quantified() && op.Kind == reconcile.OpRemove:
		return e.remote.Remove(ctx, kind, op.Item.ID)
	case kind.Quantified():
		return e.remote.Upsert(ctx, op.Item)
	default:
		return e.remote.SetPresence(ctx, op.Item, op.Kind != reconcile.OpRemove)
	}
}

// commitLocked folds a completed op into the server snapshot.
func (e *Engine) commitLocked(kind model.Kind, op reconcile.Op) {
	if snap, ok := e.snapshot[kind]; ok {
		e.snapshot[kind] = reconcile.Apply(snap, &reconcile.Plan{Collection: kind, Ops: []reconcile.Op{op}})
	}
}

// remoteFailed classifies a failure of Remote-mode work. AuthRejected ends
// the session involuntarily; anything else invalidates the snapshot.
func (e *Engine) remoteFailed(ctx context.Context, epoch uint64, kind model.Kind, err error) error {
	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		e.logger.Debug("discarding response from ended session", slog.String("error", err.Error()))
		return model.NewLoggedOutError()
	}

	if model.IsAuthRejected(err) {
		changes := e.endSessionLocked(ctx, ReasonInvoluntary, true)
		e.mu.Unlock()
		e.logger.Warn("credential rejected, session ended", slog.String("error", err.Error()))
		e.obs.notify(changes)
		return model.NewSessionEndedError()
	}

	delete(e.snapshot, kind)
	e.mu.Unlock()
	return err
}

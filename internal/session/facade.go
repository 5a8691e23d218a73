package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"storefront-sync/internal/identity"
	"storefront-sync/internal/model"
	"storefront-sync/internal/reconcile"
)

// Facade is the single entry point for presentation code. Every call is
// dispatched on the current mode:
//
//   - Local: applied to the local cache.
//   - Reconciling: buffered without waiting for the merge. Adds and presence
//     go into the local cache; absolute changes (set quantity, removal) become
//     overrides applied after the local entries are merged.
//   - Remote: serialized behind any in-flight remote work, computed against
//     the last known server state and awaited before returning.
//
// Every successful mutation is visible to the next List in every mode.
type Facade struct {
	engine *Engine
	obs    *observers
}

// New builds a session around an identity and its collection stores.
func New(ident *identity.Holder, carts CartContext, logger *slog.Logger) *Facade {
	obs := &observers{}
	return &Facade{
		engine: newEngine(ident, carts, logger, obs),
		obs:    obs,
	}
}

// Engine exposes the state machine, mainly for Run.
func (f *Facade) Engine() *Engine { return f.engine }

// Close stops background work.
func (f *Facade) Close() { f.engine.Close() }

// Subscribe registers fn for change notifications. The returned function
// unsubscribes and may be called more than once.
func (f *Facade) Subscribe(fn func(Change)) (unsubscribe func()) {
	return f.obs.subscribe(fn)
}

// Status returns the current session status.
func (f *Facade) Status() Status { return f.engine.Status() }

// Login authenticates the session with a token issued by the storefront and
// waits for the resulting merge. A merge failure is returned as a Transient
// error; the session then stays Reconciling (or falls back to Local when the
// credential was rejected).
func (f *Facade) Login(ctx context.Context, token, userID, email string) (Status, error) {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(userID) == "" {
		return f.Status(), model.NewInvariantError("credentials", "token and user id are required")
	}

	seq := f.engine.login(ctx, token, userID, email)
	if seq == 0 {
		return f.Status(), nil
	}

	st, err := f.engine.Await(ctx, seq)
	if err != nil {
		return st, waitError(err)
	}
	if st.Err != nil {
		return st, st.Err
	}
	if !st.Authenticated {
		// a logout overtook the merge
		return st, model.NewLoggedOutError()
	}
	return st, nil
}

// Logout ends the session. Local collections are discarded.
func (f *Facade) Logout(ctx context.Context) {
	f.engine.Logout(ctx)
}

// Retry re-runs a failed merge.
func (f *Facade) Retry(ctx context.Context) (Status, error) {
	err := f.engine.Reconcile(ctx)
	return f.Status(), err
}

// Add puts one unit of item into the collection.
func (f *Facade) Add(ctx context.Context, kind model.Kind, item model.Item) error {
	if err := validKind(kind); err != nil {
		return err
	}
	if err := item.Validate(); err != nil {
		return err
	}
	if item.Quantity < 0 {
		return model.NewInvariantError("quantity", "must not be negative")
	}

	e := f.engine
	e.mu.Lock()
	switch e.mode {
	case ModeLocal:
		err := e.caches[kind].Add(item)
		e.mu.Unlock()
		if err == nil {
			f.obs.notify(collectionChange(kind, ModeLocal))
		}
		return err
	case ModeReconciling:
		err := e.bufferAddLocked(kind, item)
		e.mu.Unlock()
		if err == nil {
			f.obs.notify(collectionChange(kind, ModeReconciling))
		}
		return err
	}
	epoch := e.epoch
	e.mu.Unlock()

	return f.remoteMutate(ctx, epoch, kind, func(server []model.Item) reconcile.Op {
		target := item
		target.Quantity = 1
		if cur, ok := model.IndexByID(server)[item.ID]; ok && kind.Quantified() {
			target.Quantity = cur.Quantity + 1
		}
		return targetOp(server, target)
	})
}

// Remove deletes id from the collection. Removing an absent id succeeds.
func (f *Facade) Remove(ctx context.Context, kind model.Kind, id string) error {
	if err := validKind(kind); err != nil {
		return err
	}
	if err := (model.Item{ID: id}).Validate(); err != nil {
		return err
	}

	e := f.engine
	e.mu.Lock()
	switch e.mode {
	case ModeLocal:
		e.caches[kind].Remove(id)
		e.mu.Unlock()
		f.obs.notify(collectionChange(kind, ModeLocal))
		return nil
	case ModeReconciling:
		e.bufferSetLocked(kind, model.Item{ID: id})
		e.mu.Unlock()
		f.obs.notify(collectionChange(kind, ModeReconciling))
		return nil
	}
	epoch := e.epoch
	e.mu.Unlock()

	return f.remoteMutate(ctx, epoch, kind, func(server []model.Item) reconcile.Op {
		// always sent: the snapshot may be stale and removal is idempotent
		it, ok := model.IndexByID(server)[id]
		if !ok {
			it = model.Item{ID: id}
		}
		return reconcile.Op{Kind: reconcile.OpRemove, Item: it, OldQuantity: it.Quantity}
	})
}

// SetQuantity overwrites the cart quantity of id. qty 0 removes it.
func (f *Facade) SetQuantity(ctx context.Context, id string, qty int) error {
	if err := (model.Item{ID: id}).Validate(); err != nil {
		return err
	}
	if qty < 0 {
		return model.NewInvariantError("quantity", "must not be negative")
	}
	if qty == 0 {
		return f.Remove(ctx, model.KindCart, id)
	}

	e := f.engine
	e.mu.Lock()
	switch e.mode {
	case ModeLocal:
		err := e.caches[model.KindCart].SetQuantity(id, qty)
		e.mu.Unlock()
		if err == nil {
			f.obs.notify(collectionChange(model.KindCart, ModeLocal))
		}
		return err
	case ModeReconciling:
		target := e.projectedLocked(model.KindCart, id)
		target.Quantity = qty
		e.bufferSetLocked(model.KindCart, target)
		e.mu.Unlock()
		f.obs.notify(collectionChange(model.KindCart, ModeReconciling))
		return nil
	}
	epoch := e.epoch
	e.mu.Unlock()

	return f.remoteMutate(ctx, epoch, model.KindCart, func(server []model.Item) reconcile.Op {
		target, ok := model.IndexByID(server)[id]
		if !ok {
			target = model.Item{ID: id}
		}
		target.Quantity = qty
		return targetOp(server, target)
	})
}

// TogglePresence puts item on the wishlist or takes it off.
func (f *Facade) TogglePresence(ctx context.Context, item model.Item, present bool) error {
	if err := item.Validate(); err != nil {
		return err
	}
	if !present {
		return f.Remove(ctx, model.KindWishlist, item.ID)
	}
	return f.Add(ctx, model.KindWishlist, item)
}

// List returns the collection as the current source of truth sees it.
func (f *Facade) List(ctx context.Context, kind model.Kind) ([]model.Item, error) {
	return f.list(ctx, kind, false)
}

// Refresh is List, but re-reads the server while Remote.
func (f *Facade) Refresh(ctx context.Context, kind model.Kind) ([]model.Item, error) {
	return f.list(ctx, kind, true)
}

// Total returns the cart subtotal in minor units.
func (f *Facade) Total(ctx context.Context) (int64, error) {
	items, err := f.List(ctx, model.KindCart)
	if err != nil {
		return 0, err
	}
	return model.Total(items), nil
}

func (f *Facade) list(ctx context.Context, kind model.Kind, force bool) ([]model.Item, error) {
	if err := validKind(kind); err != nil {
		return nil, err
	}

	e := f.engine
	e.mu.Lock()
	switch e.mode {
	case ModeLocal:
		items := e.caches[kind].List()
		e.mu.Unlock()
		return items, nil
	case ModeReconciling:
		items := reconcile.Project(kind, e.snapshot[kind], e.unmergedLocked(kind), e.overrides[kind])
		e.mu.Unlock()
		return items, nil
	}
	if snap, ok := e.snapshot[kind]; ok && !force {
		items := model.CloneItems(snap)
		e.mu.Unlock()
		return items, nil
	}
	epoch := e.epoch
	e.mu.Unlock()

	var items []model.Item
	err := e.serialized(ctx, epoch, func(ctx context.Context) error {
		var err error
		items, err = e.serverItems(ctx, epoch, kind, force)
		return err
	})
	if err != nil {
		return nil, err
	}
	return model.CloneItems(items), nil
}

// remoteMutate runs one Remote-mode write. build computes the op from the
// last known server state; the snapshot absorbs it once the server accepts.
func (f *Facade) remoteMutate(ctx context.Context, epoch uint64, kind model.Kind, build func(server []model.Item) reconcile.Op) error {
	e := f.engine
	err := e.serialized(ctx, epoch, func(ctx context.Context) error {
		server, err := e.serverItems(ctx, epoch, kind, false)
		if err != nil {
			return err
		}

		op := build(server)
		if err := e.execute(ctx, kind, op); err != nil {
			return e.remoteFailed(ctx, epoch, kind, err)
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.epoch != epoch {
			e.logger.Debug("discarding write from ended session", slog.String("id", op.Item.ID))
			return model.NewLoggedOutError()
		}
		e.commitLocked(kind, op)
		return nil
	})
	if err == nil {
		f.obs.notify(collectionChange(kind, ModeRemote))
	}
	return err
}

// bufferAddLocked records an add made while Reconciling. An id that already
// has an absolute override is adjusted there, otherwise the local cache takes it.
func (e *Engine) bufferAddLocked(kind model.Kind, item model.Item) error {
	ovs := e.overrides[kind]
	for i, ov := range ovs {
		if ov.ID != item.ID {
			continue
		}
		if kind.Quantified() {
			ov.Quantity++
		} else {
			ov.Quantity = 1
		}
		if item.Name != "" {
			ov.Name, ov.Price, ov.ImageURL = item.Name, item.Price, item.ImageURL
		}
		ovs[i] = ov
		e.broadcastLocked()
		return nil
	}
	err := e.caches[kind].Add(item)
	e.broadcastLocked()
	return err
}

// bufferSetLocked records an absolute target made while Reconciling. Any
// local entry for the id is dropped; the override decides the final value.
func (e *Engine) bufferSetLocked(kind model.Kind, target model.Item) {
	e.caches[kind].Remove(target.ID)
	ovs := e.overrides[kind]
	for i, ov := range ovs {
		if ov.ID == target.ID {
			ovs[i] = target
			e.broadcastLocked()
			return
		}
	}
	e.overrides[kind] = append(ovs, target)
	e.broadcastLocked()
}

// projectedLocked returns id as currently shown while Reconciling, or a bare item.
func (e *Engine) projectedLocked(kind model.Kind, id string) model.Item {
	view := reconcile.Project(kind, e.snapshot[kind], e.unmergedLocked(kind), e.overrides[kind])
	if it, ok := model.IndexByID(view)[id]; ok {
		return it
	}
	return model.Item{ID: id}
}

// targetOp plans the single write that makes target's quantity true on the server.
func targetOp(server []model.Item, target model.Item) reconcile.Op {
	if cur, ok := model.IndexByID(server)[target.ID]; ok {
		if target.Name == "" {
			target.Name, target.Price, target.ImageURL = cur.Name, cur.Price, cur.ImageURL
		}
		return reconcile.Op{Kind: reconcile.OpUpdate, Item: target, OldQuantity: cur.Quantity}
	}
	return reconcile.Op{Kind: reconcile.OpInsert, Item: target}
}

func validKind(kind model.Kind) error {
	if kind != model.KindCart && kind != model.KindWishlist {
		return model.NewInvariantError("collection", "unknown collection "+string(kind))
	}
	return nil
}

func collectionChange(kind model.Kind, mode Mode) []Change {
	return []Change{{Type: CollectionChanged, Collection: kind, Mode: mode}}
}

// waitError classifies giving up on a merge wait. The merge keeps running.
func waitError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewTransientError("session", err)
	}
	return err
}

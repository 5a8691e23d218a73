package session

import (
	"context"
	"log/slog"

	"storefront-sync/internal/model"
	"storefront-sync/internal/reconcile"
)

// merge folds the local caches, then the buffered overrides, into the server
// for session epoch, and switches to Remote once nothing is pending. Caller
// has incremented e.merging.
//
// Each pass snapshots the local caches and, per collection, lists the server,
// plans and executes the writes in local insertion order. Every completed
// write records the local quantity it pushed in e.merged, so a retry after a
// failed pass plans only the unpushed remainder. The caches give up those
// quantities only when the whole pass succeeds; until then a failure leaves
// them intact. Mutations buffered during a pass are picked up by the next one.
func (e *Engine) merge(ctx context.Context, epoch uint64) error {
	defer func() {
		e.mu.Lock()
		e.merging--
		e.broadcastLocked()
		e.mu.Unlock()
	}()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return e.mergeFailed(ctx, epoch, err)
	}
	defer e.sem.Release(1)

	for {
		e.mu.Lock()
		if e.epoch != epoch {
			e.mu.Unlock()
			return model.NewLoggedOutError()
		}
		if e.mode != ModeReconciling {
			// an earlier attempt already finished
			e.mu.Unlock()
			return nil
		}
		local := make(map[model.Kind][]model.Item, len(e.caches))
		overrides := make(map[model.Kind][]model.Item, len(e.overrides))
		pending := false
		for _, k := range model.Kinds {
			local[k] = e.unmergedLocked(k)
			overrides[k] = model.CloneItems(e.overrides[k])
			pending = pending || len(local[k]) > 0 || len(overrides[k]) > 0
		}
		if !pending {
			changes := e.finishMergeLocked()
			e.mu.Unlock()
			e.obs.notify(changes)
			return nil
		}
		e.mu.Unlock()

		for _, kind := range model.Kinds {
			if len(local[kind]) == 0 && len(overrides[kind]) == 0 {
				continue
			}
			if err := e.mergeCollection(ctx, epoch, kind, local[kind], overrides[kind]); err != nil {
				return err
			}
		}
		if !e.settle(epoch, overrides) {
			return model.NewLoggedOutError()
		}
		e.obs.notify(collectionChanges())
	}
}

// mergeCollection runs one pass for kind: local entries first, then overrides.
func (e *Engine) mergeCollection(ctx context.Context, epoch uint64, kind model.Kind, local, overrides []model.Item) error {
	server, err := e.remote.List(ctx, kind)
	if err != nil {
		return e.mergeFailed(ctx, epoch, err)
	}
	if !e.storeSnapshot(epoch, kind, server) {
		return model.NewLoggedOutError()
	}

	plan := reconcile.PlanMerge(kind, local, server)
	localByID := model.IndexByID(local)
	planned := make(map[string]bool, len(plan.Ops))

	for _, op := range plan.Ops {
		planned[op.Item.ID] = true
		if err := e.execute(ctx, kind, op); err != nil {
			return e.mergeFailed(ctx, epoch, err)
		}
		if !e.retire(epoch, kind, op, []model.Item{localByID[op.Item.ID]}) {
			return model.NewLoggedOutError()
		}
		e.logger.Debug("merged item",
			slog.String("kind", string(kind)),
			slog.String("id", op.Item.ID),
			slog.String("op", op.Kind.String()),
			slog.Int("quantity", op.Item.Quantity),
		)
	}

	// entries already satisfied on the server (wishlist presence) need no write
	var satisfied []model.Item
	for _, it := range local {
		if !planned[it.ID] {
			satisfied = append(satisfied, it)
		}
	}
	if len(satisfied) > 0 && !e.retire(epoch, kind, reconcile.Op{}, satisfied) {
		return model.NewLoggedOutError()
	}

	if len(overrides) == 0 {
		return nil
	}

	e.mu.Lock()
	current := model.CloneItems(e.snapshot[kind])
	e.mu.Unlock()

	for _, op := range reconcile.PlanOverrides(kind, current, overrides).Ops {
		if err := e.execute(ctx, kind, op); err != nil {
			return e.mergeFailed(ctx, epoch, err)
		}
		if !e.retire(epoch, kind, op, nil) {
			return model.NewLoggedOutError()
		}
	}
	return nil
}

func (e *Engine) storeSnapshot(epoch uint64, kind model.Kind, items []model.Item) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != epoch {
		return false
	}
	e.snapshot[kind] = model.CloneItems(items)
	return true
}

// retire records a completed write: the snapshot absorbs op and the
// quantities in pushed count as merged for the rest of the pass.
func (e *Engine) retire(epoch uint64, kind model.Kind, op reconcile.Op, pushed []model.Item) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != epoch {
		e.logger.Debug("discarding merge write from ended session", slog.String("id", op.Item.ID))
		return false
	}
	if op.Kind != 0 {
		e.commitLocked(kind, op)
	}
	if len(pushed) == 0 {
		return true
	}
	ledger := e.merged[kind]
	if ledger == nil {
		ledger = make(map[string]int, len(pushed))
		e.merged[kind] = ledger
	}
	for _, it := range pushed {
		ledger[it.ID] += it.Quantity
	}
	return true
}

// settle closes a successful pass: the local caches give up everything it
// pushed and the overrides it applied are dropped.
func (e *Engine) settle(epoch uint64, applied map[model.Kind][]model.Item) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != epoch {
		return false
	}
	for kind, ledger := range e.merged {
		pushed := make([]model.Item, 0, len(ledger))
		for id, n := range ledger {
			pushed = append(pushed, model.Item{ID: id, Quantity: n})
		}
		e.caches[kind].Subtract(pushed)
	}
	e.merged = make(map[model.Kind]map[string]int)
	for kind, ovs := range applied {
		if len(ovs) > 0 {
			e.dropOverridesLocked(kind, ovs)
		}
	}
	return true
}

// dropOverridesLocked removes the overrides that were applied, unless the
// user changed them again in the meantime.
func (e *Engine) dropOverridesLocked(kind model.Kind, applied []model.Item) {
	done := model.IndexByID(applied)
	kept := e.overrides[kind][:0]
	for _, ov := range e.overrides[kind] {
		if a, ok := done[ov.ID]; ok && a.Quantity == ov.Quantity {
			continue
		}
		kept = append(kept, ov)
	}
	if len(kept) == 0 {
		delete(e.overrides, kind)
	} else {
		e.overrides[kind] = kept
	}
}

// finishMergeLocked switches to Remote. Nothing is pending.
func (e *Engine) finishMergeLocked() []Change {
	e.mode = ModeRemote
	e.lastErr = nil
	e.broadcastLocked()
	e.logger.Info("reconciliation complete", slog.Uint64("epoch", e.epoch))

	return append([]Change{{Type: ModeChanged, Mode: ModeRemote, Reason: ReasonMerged}}, collectionChanges()...)
}

// mergeFailed aborts a merge attempt. The error returned to callers is always
// Transient and the local caches are untouched. AuthRejected additionally
// drops the identity and falls back to Local; the new epoch forgets what the
// failed pass pushed, so the caches read exactly as before the login.
func (e *Engine) mergeFailed(ctx context.Context, epoch uint64, cause error) error {
	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return model.NewLoggedOutError()
	}

	err := model.NewReconcileError(cause)
	var changes []Change

	if model.IsAuthRejected(cause) {
		e.foldOverridesLocked()
		e.advanceEpochLocked()
		e.mode = ModeLocal
		e.sessionUser = ""
		e.resetIdentityLocked(ctx)
		changes = []Change{
			{Type: SessionEnded, Mode: ModeLocal, Reason: ReasonMergeAuthRejected},
			{Type: ModeChanged, Mode: ModeLocal, Reason: ReasonMergeAuthRejected},
		}
		changes = append(changes, collectionChanges()...)
		e.logger.Warn("credential rejected during merge, keeping local collections",
			slog.String("error", cause.Error()),
		)
	} else {
		e.logger.Warn("merge attempt failed, still reconciling",
			slog.String("error", cause.Error()),
			slog.Int("pending", e.pendingLocked()),
		)
	}

	e.lastErr = err
	e.broadcastLocked()
	e.mu.Unlock()

	e.obs.notify(changes)
	return err
}

// foldOverridesLocked writes buffered absolute targets into the local caches
// so reads stay consistent after falling back to Local.
func (e *Engine) foldOverridesLocked() {
	for kind, ovs := range e.overrides {
		cache := e.caches[kind]
		for _, ov := range ovs {
			switch {
			case ov.Quantity <= 0:
				cache.Remove(ov.ID)
			case kind.Quantified():
				_ = cache.SetQuantity(ov.ID, ov.Quantity)
			default:
				_ = cache.Add(ov)
			}
		}
	}
}

func collectionChanges() []Change {
	changes := make([]Change, 0, len(model.Kinds))
	for _, k := range model.Kinds {
		changes = append(changes, Change{Type: CollectionChanged, Collection: k})
	}
	return changes
}

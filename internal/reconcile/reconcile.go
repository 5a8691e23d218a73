// Package reconcile plans the writes that fold one collection into another.
//
// The engine fetches the server-of-record, asks for a plan, and executes only
// the necessary mutations in order. Planning is pure: no I/O, no locks.
package reconcile

import (
	"fmt"

	"storefront-sync/internal/model"
)

// OpKind is the server mutation an Op performs.
type OpKind int

const (
	OpInsert OpKind = iota + 1 // absent on server, create at Item.Quantity
	OpUpdate                   // present on server, overwrite to Item.Quantity
	OpRemove                   // present on server, delete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Op is one server mutation. Item.Quantity is the absolute target quantity
// (always 1 for wishlist inserts); OldQuantity is what the server held (informational).
type Op struct {
	Kind        OpKind
	Item        model.Item
	OldQuantity int
}

// Plan is an ordered list of mutations for one collection.
// Ops must be applied in order; each touches a distinct ID.
type Plan struct {
	Collection model.Kind
	Ops        []Op
}

// IsEmpty returns true if no server changes are needed.
func (p *Plan) IsEmpty() bool {
	return len(p.Ops) == 0
}

// PlanMerge computes the writes that fold local into server.
//
// Ops follow local insertion order.
//   - cart, absent on server  → insert at the local quantity
//   - cart, present on server → update to server + local
//   - wishlist, absent        → insert (union)
//   - wishlist, present       → nothing
//
// Server items absent locally are never touched.
func PlanMerge(kind model.Kind, local, server []model.Item) *Plan {
	plan := &Plan{Collection: kind}
	serverByID := model.IndexByID(server)

	for _, it := range local {
		if it.ID == "" || it.Quantity < 1 {
			continue
		}
		cur, exists := serverByID[it.ID]

		switch {
		case !exists:
			target := it
			if !kind.Quantified() {
				target.Quantity = 1
			}
			plan.Ops = append(plan.Ops, Op{Kind: OpInsert, Item: target})
		case kind.Quantified():
			target := fillAttributes(it, cur)
			target.Quantity = cur.Quantity + it.Quantity
			plan.Ops = append(plan.Ops, Op{Kind: OpUpdate, Item: target, OldQuantity: cur.Quantity})
		}
	}
	return plan
}

// PlanOverrides computes the writes that force absolute targets onto server.
// An override with Quantity 0 means "absent". Later overrides for an ID
// replace earlier ones; the op keeps the position of the first.
func PlanOverrides(kind model.Kind, server, overrides []model.Item) *Plan {
	plan := &Plan{Collection: kind}
	serverByID := model.IndexByID(server)

	for _, ov := range latest(overrides) {
		cur, exists := serverByID[ov.ID]
		want := ov.Quantity
		if !kind.Quantified() && want > 0 {
			want = 1
		}

		switch {
		case want <= 0 && exists:
			plan.Ops = append(plan.Ops, Op{Kind: OpRemove, Item: cur, OldQuantity: cur.Quantity})
		case want <= 0:
			// already absent
		case !exists:
			target := ov
			target.Quantity = want
			plan.Ops = append(plan.Ops, Op{Kind: OpInsert, Item: target})
		case kind.Quantified() && cur.Quantity != want:
			target := fillAttributes(ov, cur)
			target.Quantity = want
			plan.Ops = append(plan.Ops, Op{Kind: OpUpdate, Item: target, OldQuantity: cur.Quantity})
		}
	}
	return plan
}

// Apply returns the collection that results from executing plan against items.
// items is not modified. Survivors keep their order; inserts are appended.
func Apply(items []model.Item, plan *Plan) []model.Item {
	out := model.CloneItems(items)
	if plan == nil {
		return out
	}

	for _, op := range plan.Ops {
		idx := indexOf(out, op.Item.ID)
		switch op.Kind {
		case OpInsert:
			if idx >= 0 {
				out[idx] = fillAttributes(op.Item, out[idx])
				continue
			}
			out = append(out, op.Item)
		case OpUpdate:
			if idx >= 0 {
				out[idx] = fillAttributes(op.Item, out[idx])
				continue
			}
			out = append(out, op.Item)
		case OpRemove:
			if idx >= 0 {
				out = append(out[:idx], out[idx+1:]...)
			}
		}
	}
	return out
}

// Project is the view of a collection once local is merged into server and
// overrides are forced on top. Used to answer reads while a merge is running.
func Project(kind model.Kind, server, local, overrides []model.Item) []model.Item {
	merged := Apply(server, PlanMerge(kind, local, server))
	return Apply(merged, PlanOverrides(kind, merged, overrides))
}

// latest collapses repeated IDs to their last value, keeping first-seen order.
func latest(items []model.Item) []model.Item {
	pos := make(map[string]int, len(items))
	out := make([]model.Item, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		if i, ok := pos[it.ID]; ok {
			out[i] = fillAttributes(it, out[i])
			continue
		}
		pos[it.ID] = len(out)
		out = append(out, it)
	}
	return out
}

// fillAttributes copies display attributes from fallback where primary has none.
func fillAttributes(primary, fallback model.Item) model.Item {
	if primary.Name == "" {
		primary.Name = fallback.Name
	}
	if primary.Price == 0 {
		primary.Price = fallback.Price
	}
	if primary.ImageURL == "" {
		primary.ImageURL = fallback.ImageURL
	}
	return primary
}

func indexOf(items []model.Item, id string) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

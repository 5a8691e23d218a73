// Package localcache is the anonymous, in-process collection store.
//
// A Cache holds one collection (cart or wishlist) keyed by product ID in
// insertion order. It never touches the network; its only failure mode is an
// invariant violation by the caller.
package localcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"storefront-sync/internal/model"
)

// persistTimeout bounds a single snapshot write.
const persistTimeout = 2 * time.Second

// Persister saves and restores collection snapshots. Losing a snapshot is
// acceptable, so write errors are logged and never returned to callers.
type Persister interface {
	SaveCollection(ctx context.Context, kind model.Kind, items []model.Item) error
	LoadCollection(ctx context.Context, kind model.Kind) ([]model.Item, error)
}

// Option configures a Cache.
type Option func(*Cache)

// WithPersister enables snapshot persistence after every mutation.
func WithPersister(p Persister) Option {
	return func(c *Cache) { c.persister = p }
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// Cache is one local collection. Safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	kind  model.Kind
	order []string
	items map[string]model.Item

	version uint64 // bumped on every mutation, orders snapshot writes

	persistMu sync.Mutex
	written   uint64

	persister Persister
	logger    *slog.Logger
}

// New creates an empty Cache for kind.
func New(kind model.Kind, opts ...Option) *Cache {
	c := &Cache{
		kind:   kind,
		items:  make(map[string]model.Item),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Kind returns the collection this cache holds.
func (c *Cache) Kind() model.Kind {
	return c.kind
}

// Load replaces the contents with the persisted snapshot, if any.
// Snapshot entries that break the invariants are skipped.
func (c *Cache) Load(ctx context.Context) error {
	if c.persister == nil {
		return nil
	}
	items, err := c.persister.LoadCollection(ctx, c.kind)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	for _, it := range items {
		if it.Validate() != nil || it.Quantity < 1 {
			continue
		}
		if _, dup := c.items[it.ID]; dup {
			continue
		}
		if !c.kind.Quantified() {
			it.Quantity = 1
		}
		c.insertLocked(it)
	}
	return nil
}

// Add puts one unit of item into the collection.
// Cart: increments quantity when present, else inserts with quantity 1.
// Wishlist: inserts when absent; presence is binary so a repeat add is a no-op.
func (c *Cache) Add(item model.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	existing, ok := c.items[item.ID]
	switch {
	case ok && c.kind.Quantified():
		existing.Quantity++
		c.items[item.ID] = mergeAttributes(existing, item)
	case ok:
		c.mu.Unlock()
		return nil
	default:
		item.Quantity = 1
		c.insertLocked(item)
	}
	snap, ver := c.snapshotLocked()
	c.mu.Unlock()

	c.persist(snap, ver)
	return nil
}

// Remove deletes id. Removing an absent id is a successful no-op.
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	if _, ok := c.items[id]; !ok {
		c.mu.Unlock()
		return
	}
	c.removeLocked(id)
	snap, ver := c.snapshotLocked()
	c.mu.Unlock()

	c.persist(snap, ver)
}

// SetQuantity overwrites the quantity of id; qty <= 0 removes it. An absent id
// with qty > 0 is inserted with no display attributes. On a wishlist any
// positive qty means "present".
func (c *Cache) SetQuantity(id string, qty int) error {
	if err := (model.Item{ID: id}).Validate(); err != nil {
		return err
	}
	if qty <= 0 {
		c.Remove(id)
		return nil
	}
	if !c.kind.Quantified() {
		qty = 1
	}

	c.mu.Lock()
	if existing, ok := c.items[id]; ok {
		existing.Quantity = qty
		c.items[id] = existing
	} else {
		c.insertLocked(model.Item{ID: id, Quantity: qty})
	}
	snap, ver := c.snapshotLocked()
	c.mu.Unlock()

	c.persist(snap, ver)
	return nil
}

// Subtract retires quantities that were already pushed to the server.
// Cart entries lose snapshot quantity and disappear at zero; wishlist entries
// present in the snapshot are removed. Entries added after the snapshot survive.
func (c *Cache) Subtract(snapshot []model.Item) {
	c.mu.Lock()
	changed := false
	for _, s := range snapshot {
		cur, ok := c.items[s.ID]
		if !ok {
			continue
		}
		changed = true
		if c.kind.Quantified() && cur.Quantity > s.Quantity {
			cur.Quantity -= s.Quantity
			c.items[s.ID] = cur
			continue
		}
		c.removeLocked(s.ID)
	}
	if !changed {
		c.mu.Unlock()
		return
	}
	snap, ver := c.snapshotLocked()
	c.mu.Unlock()

	c.persist(snap, ver)
}

// Clear empties the collection.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.resetLocked()
	snap, ver := c.snapshotLocked()
	c.mu.Unlock()

	c.persist(snap, ver)
}

// List returns a snapshot in insertion order. No side effects.
func (c *Cache) List() []model.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listLocked()
}

// Get returns the entry for id.
func (c *Cache) Get(id string) (model.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[id]
	return it, ok
}

// Len returns the number of distinct entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

func (c *Cache) insertLocked(it model.Item) {
	c.items[it.ID] = it
	c.order = append(c.order, it.ID)
}

func (c *Cache) removeLocked(id string) {
	delete(c.items, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cache) resetLocked() {
	c.items = make(map[string]model.Item)
	c.order = nil
}

func (c *Cache) listLocked() []model.Item {
	out := make([]model.Item, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// snapshotLocked bumps the version and returns the state to persist.
func (c *Cache) snapshotLocked() ([]model.Item, uint64) {
	c.version++
	return c.listLocked(), c.version
}

// persist writes items unless a newer snapshot was already written.
func (c *Cache) persist(items []model.Item, version uint64) {
	if c.persister == nil {
		return
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if version <= c.written {
		return
	}
	c.written = version
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := c.persister.SaveCollection(ctx, c.kind, items); err != nil {
		c.logger.Warn("persisting local collection failed",
			slog.String("kind", string(c.kind)),
			slog.String("error", err.Error()),
		)
	}
}

// mergeAttributes fills empty display attributes from a fresher copy of the item.
func mergeAttributes(existing, fresh model.Item) model.Item {
	if fresh.Name != "" {
		existing.Name = fresh.Name
	}
	if fresh.Price != 0 {
		existing.Price = fresh.Price
	}
	if fresh.ImageURL != "" {
		existing.ImageURL = fresh.ImageURL
	}
	return existing
}

package localcache

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-sync/internal/model"
)

func ids(items []model.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestAdd_Cart(t *testing.T) {
	c := New(model.KindCart)

	require.NoError(t, c.Add(model.Item{ID: "a", Name: "Mug", Price: 1200, Quantity: 7}))
	require.NoError(t, c.Add(model.Item{ID: "b"}))
	require.NoError(t, c.Add(model.Item{ID: "a"}))

	items := c.List()
	assert.Equal(t, []string{"a", "b"}, ids(items), "insertion order")
	assert.Equal(t, 2, items[0].Quantity, "repeat add increments by one, caller quantity ignored")
	assert.Equal(t, "Mug", items[0].Name)
	assert.Equal(t, 1, items[1].Quantity)
}

func TestAdd_WishlistIsBinary(t *testing.T) {
	c := New(model.KindWishlist)

	require.NoError(t, c.Add(model.Item{ID: "a"}))
	require.NoError(t, c.Add(model.Item{ID: "a"}))

	items := c.List()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Quantity)
}

func TestAdd_EmptyID(t *testing.T) {
	c := New(model.KindCart)
	err := c.Add(model.Item{ID: ""})
	assert.True(t, errors.Is(err, model.ErrInvariantViolation))
	assert.Zero(t, c.Len())
}

func TestRemove_Idempotent(t *testing.T) {
	c := New(model.KindCart)
	require.NoError(t, c.Add(model.Item{ID: "a"}))

	c.Remove("a")
	c.Remove("a")
	c.Remove("never-added")

	assert.Empty(t, c.List())
}

func TestSetQuantity(t *testing.T) {
	c := New(model.KindCart)
	require.NoError(t, c.Add(model.Item{ID: "a"}))

	require.NoError(t, c.SetQuantity("a", 5))
	it, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 5, it.Quantity)

	require.NoError(t, c.SetQuantity("a", 0))
	_, ok = c.Get("a")
	assert.False(t, ok, "zero removes, never stores a zero")

	require.NoError(t, c.SetQuantity("b", -3))
	assert.Zero(t, c.Len(), "negative on absent id is a no-op removal")

	require.NoError(t, c.SetQuantity("c", 2))
	it, _ = c.Get("c")
	assert.Equal(t, 2, it.Quantity)
}

func TestSetQuantity_WishlistClampsToPresence(t *testing.T) {
	c := New(model.KindWishlist)
	require.NoError(t, c.SetQuantity("a", 4))
	it, _ := c.Get("a")
	assert.Equal(t, 1, it.Quantity)
}

func TestSubtract(t *testing.T) {
	c := New(model.KindCart)
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Add(model.Item{ID: "a"}))
	}
	require.NoError(t, c.Add(model.Item{ID: "b"}))

	snapshot := []model.Item{{ID: "a", Quantity: 2}, {ID: "b", Quantity: 1}, {ID: "gone", Quantity: 1}}
	c.Subtract(snapshot)

	items := c.List()
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, 1, items[0].Quantity, "units added after the snapshot survive")
}

func TestSubtract_Wishlist(t *testing.T) {
	c := New(model.KindWishlist)
	require.NoError(t, c.Add(model.Item{ID: "a"}))
	require.NoError(t, c.Add(model.Item{ID: "b"}))

	c.Subtract([]model.Item{{ID: "a", Quantity: 1}})
	assert.Equal(t, []string{"b"}, ids(c.List()))
}

func TestList_ReturnsCopy(t *testing.T) {
	c := New(model.KindCart)
	require.NoError(t, c.Add(model.Item{ID: "a"}))

	items := c.List()
	items[0].Quantity = 99

	it, _ := c.Get("a")
	assert.Equal(t, 1, it.Quantity)
}

// For any add/remove sequence the quantity equals the adds since the last
// remove, and is never negative.
func TestAddRemove_NetCountProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		c := New(model.KindCart)
		want := map[string]int{}
		keys := []string{"a", "b", "c"}

		for step := 0; step < 50; step++ {
			id := keys[rng.Intn(len(keys))]
			if rng.Intn(3) == 0 {
				c.Remove(id)
				want[id] = 0
			} else {
				require.NoError(t, c.Add(model.Item{ID: id}))
				want[id]++
			}
		}

		for _, id := range keys {
			got := 0
			if it, ok := c.Get(id); ok {
				got = it.Quantity
			}
			require.GreaterOrEqual(t, got, 0)
			require.Equal(t, want[id], got, "round %d id %s", round, id)
		}
	}
}

func TestConcurrentAdds_NoLostIncrement(t *testing.T) {
	c := New(model.KindCart)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Add(model.Item{ID: "a"})
		}()
	}
	wg.Wait()

	it, _ := c.Get("a")
	assert.Equal(t, 100, it.Quantity)
}

type memPersister struct {
	mu    sync.Mutex
	saved map[model.Kind][]model.Item
	saves int
	err   error
}

func (m *memPersister) SaveCollection(ctx context.Context, kind model.Kind, items []model.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.err != nil {
		return m.err
	}
	if m.saved == nil {
		m.saved = map[model.Kind][]model.Item{}
	}
	m.saved[kind] = model.CloneItems(items)
	return nil
}

func (m *memPersister) LoadCollection(ctx context.Context, kind model.Kind) ([]model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.CloneItems(m.saved[kind]), nil
}

func TestPersistence_RoundTrip(t *testing.T) {
	p := &memPersister{}
	c := New(model.KindCart, WithPersister(p))
	require.NoError(t, c.Add(model.Item{ID: "a", Name: "Mug"}))
	require.NoError(t, c.Add(model.Item{ID: "a"}))
	require.NoError(t, c.Add(model.Item{ID: "b"}))

	restored := New(model.KindCart, WithPersister(p))
	require.NoError(t, restored.Load(context.Background()))
	assert.Equal(t, c.List(), restored.List())
}

func TestPersistence_LoadSkipsBrokenEntries(t *testing.T) {
	p := &memPersister{saved: map[model.Kind][]model.Item{
		model.KindCart: {{ID: "a", Quantity: 2}, {ID: "", Quantity: 1}, {ID: "b", Quantity: 0}, {ID: "a", Quantity: 5}},
	}}
	c := New(model.KindCart, WithPersister(p))
	require.NoError(t, c.Load(context.Background()))

	items := c.List()
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
}

func TestPersistence_ErrorsAreNotReturned(t *testing.T) {
	p := &memPersister{err: errors.New("disk full")}
	c := New(model.KindCart, WithPersister(p))

	assert.NoError(t, c.Add(model.Item{ID: "a"}))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, p.saves)
}

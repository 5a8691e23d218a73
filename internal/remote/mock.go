package remote

import (
	"context"

	"storefront-sync/internal/model"
)

// Mock implements Collections for testing.
// Each method can be configured via function fields.
type Mock struct {
	ListFunc        func(ctx context.Context, kind model.Kind) ([]model.Item, error)
	UpsertFunc      func(ctx context.Context, item model.Item) error
	SetPresenceFunc func(ctx context.Context, item model.Item, present bool) error
	RemoveFunc      func(ctx context.Context, kind model.Kind, id string) error
}

// List calls the configured ListFunc or returns an empty collection.
func (m *Mock) List(ctx context.Context, kind model.Kind) ([]model.Item, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, kind)
	}
	return []model.Item{}, nil
}

// Upsert calls the configured UpsertFunc or succeeds.
func (m *Mock) Upsert(ctx context.Context, item model.Item) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, item)
	}
	return nil
}

// SetPresence calls the configured SetPresenceFunc or succeeds.
func (m *Mock) SetPresence(ctx context.Context, item model.Item, present bool) error {
	if m.SetPresenceFunc != nil {
		return m.SetPresenceFunc(ctx, item, present)
	}
	return nil
}

// Remove calls the configured RemoveFunc or succeeds.
func (m *Mock) Remove(ctx context.Context, kind model.Kind, id string) error {
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, kind, id)
	}
	return nil
}

// Verify Mock implements Collections interface at compile time.
var _ Collections = (*Mock)(nil)

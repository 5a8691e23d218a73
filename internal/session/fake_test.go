package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storefront-sync/internal/identity"
	"storefront-sync/internal/localcache"
	"storefront-sync/internal/model"
	"storefront-sync/internal/remote"
)

// fakeServer is an in-memory server-of-record behind a remote.Mock.
type fakeServer struct {
	mu    sync.Mutex
	items map[model.Kind][]model.Item
	calls []string

	// gate, when set, blocks every List until closed or the caller gives up
	gate chan struct{}
	// fail, when set, may fail an operation before it takes effect
	fail func(op string, id string) error
}

func newFakeServer() *fakeServer {
	return &fakeServer{items: map[model.Kind][]model.Item{}}
}

func (s *fakeServer) mock() *remote.Mock {
	return &remote.Mock{
		ListFunc: func(ctx context.Context, kind model.Kind) ([]model.Item, error) {
			s.mu.Lock()
			gate := s.gate
			s.mu.Unlock()
			if gate != nil {
				select {
				case <-gate:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}

			s.mu.Lock()
			defer s.mu.Unlock()
			s.calls = append(s.calls, "list:"+string(kind))
			if err := s.failure("list", string(kind)); err != nil {
				return nil, err
			}
			return model.CloneItems(s.items[kind]), nil
		},
		UpsertFunc: func(ctx context.Context, item model.Item) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.calls = append(s.calls, "upsert:"+item.ID)
			if err := s.failure("upsert", item.ID); err != nil {
				return err
			}
			s.put(model.KindCart, item)
			return nil
		},
		SetPresenceFunc: func(ctx context.Context, item model.Item, present bool) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.calls = append(s.calls, "presence:"+item.ID)
			if err := s.failure("presence", item.ID); err != nil {
				return err
			}
			if present {
				item.Quantity = 1
				s.put(model.KindWishlist, item)
			} else {
				s.drop(model.KindWishlist, item.ID)
			}
			return nil
		},
		RemoveFunc: func(ctx context.Context, kind model.Kind, id string) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.calls = append(s.calls, "remove:"+id)
			if err := s.failure("remove", id); err != nil {
				return err
			}
			s.drop(kind, id)
			return nil
		},
	}
}

func (s *fakeServer) failure(op, id string) error {
	if s.fail == nil {
		return nil
	}
	return s.fail(op, id)
}

func (s *fakeServer) put(kind model.Kind, item model.Item) {
	for i, it := range s.items[kind] {
		if it.ID == item.ID {
			s.items[kind][i].Quantity = item.Quantity
			return
		}
	}
	s.items[kind] = append(s.items[kind], item)
}

func (s *fakeServer) drop(kind model.Kind, id string) {
	kept := s.items[kind][:0]
	for _, it := range s.items[kind] {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	s.items[kind] = kept
}

func (s *fakeServer) seed(kind model.Kind, items ...model.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[kind] = append(s.items[kind], items...)
}

func (s *fakeServer) quantities(kind model.Kind) map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int{}
	for _, it := range s.items[kind] {
		out[it.ID] = it.Quantity
	}
	return out
}

func (s *fakeServer) setGate(ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = ch
}

func (s *fakeServer) setFail(fn func(op, id string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

func (s *fakeServer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	facade *Facade
	holder *identity.Holder
	cart   *localcache.Cache
	wish   *localcache.Cache
	server *fakeServer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		holder: identity.New(nil, quietLogger()),
		cart:   localcache.New(model.KindCart),
		wish:   localcache.New(model.KindWishlist),
		server: newFakeServer(),
	}
	h.facade = New(h.holder, CartContext{Cart: h.cart, Wishlist: h.wish, Remote: h.server.mock()}, quietLogger())
	t.Cleanup(h.facade.Close)
	return h
}

// login authenticates and requires the merge to succeed.
func (h *harness) login(t *testing.T) {
	t.Helper()
	st, err := h.facade.Login(context.Background(), "tok", "user-1", "ann@example.com")
	require.NoError(t, err)
	require.Equal(t, ModeRemote, st.Mode)
}

// loginAsync starts a login whose merge is expected to block, and waits until
// the session is visibly Reconciling.
func (h *harness) loginAsync(t *testing.T) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		_, err := h.facade.Login(context.Background(), "tok", "user-1", "")
		done <- err
	}()
	require.Eventually(t, func() bool {
		return h.facade.Status().Mode == ModeReconciling
	}, time.Second, 5*time.Millisecond)
	return done
}

func ids(items []model.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

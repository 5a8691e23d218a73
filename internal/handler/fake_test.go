package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"storefront-sync/internal/identity"
	"storefront-sync/internal/model"
	"storefront-sync/internal/remote"
	"storefront-sync/internal/session"
)

// memRemote is an in-memory storefront behind a remote.Mock.
type memRemote struct {
	mu    sync.Mutex
	items map[model.Kind][]model.Item
}

func (m *memRemote) mock() *remote.Mock {
	return &remote.Mock{
		ListFunc: func(ctx context.Context, kind model.Kind) ([]model.Item, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			return model.CloneItems(m.items[kind]), nil
		},
		UpsertFunc: func(ctx context.Context, item model.Item) error {
			m.set(model.KindCart, item)
			return nil
		},
		SetPresenceFunc: func(ctx context.Context, item model.Item, present bool) error {
			if present {
				item.Quantity = 1
				m.set(model.KindWishlist, item)
				return nil
			}
			m.drop(model.KindWishlist, item.ID)
			return nil
		},
		RemoveFunc: func(ctx context.Context, kind model.Kind, id string) error {
			m.drop(kind, id)
			return nil
		},
	}
}

func (m *memRemote) set(kind model.Kind, item model.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, it := range m.items[kind] {
		if it.ID == item.ID {
			m.items[kind][i] = item
			return
		}
	}
	m.items[kind] = append(m.items[kind], item)
}

func (m *memRemote) drop(kind model.Kind, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.items[kind][:0]
	for _, it := range m.items[kind] {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	m.items[kind] = kept
}

func (m *memRemote) quantity(kind model.Kind, id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items[kind] {
		if it.ID == id {
			return it.Quantity
		}
	}
	return 0
}

// fakeAuth implements Authenticator.
type fakeAuth struct {
	err error
}

func (a *fakeAuth) Login(ctx context.Context, email, password string) (*remote.LoginResponse, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &remote.LoginResponse{
		Message:     "Login successful",
		AccessToken: "jwt-" + email,
		User:        remote.User{ID: "42", Email: email},
	}, nil
}

func (a *fakeAuth) Register(ctx context.Context, email, password string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "Registration successful. Please verify your email.", nil
}

func (a *fakeAuth) ResendVerification(ctx context.Context, email string) (string, error) {
	return "Verification email sent", a.err
}

type testEnv struct {
	handler *Handler
	mux     *http.ServeMux
	session *session.Facade
	server  *memRemote
	mock    *remote.Mock
}

func newTestEnv(t *testing.T, auth Authenticator) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	server := &memRemote{items: map[model.Kind][]model.Item{}}
	mock := server.mock()
	s := session.New(identity.New(nil, logger), session.CartContext{Remote: mock}, logger)
	t.Cleanup(s.Close)

	h := New(s, auth, logger)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &testEnv{handler: h, mux: mux, session: s, server: server, mock: mock}
}

package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront-sync/internal/model"
)

func TestList_Cart(t *testing.T) {
	f, srv := newFakeStorefront(t)
	f.seedCart("1", 2)
	f.seedCart("3", 1)

	c := NewClient(srv.URL, srv.Client(), staticToken("good-token"), 5*time.Second)
	items, err := c.List(context.Background(), model.KindCart)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[0].ID != "1" || items[0].Quantity != 2 || items[0].Price != 1250 {
		t.Errorf("items[0] = %+v, want id 1 qty 2 price 1250", items[0])
	}
	if items[0].ImageURL != "/img/mug.png" {
		t.Errorf("ImageURL = %q", items[0].ImageURL)
	}
	if items[1].Price != 999 {
		t.Errorf("items[1].Price = %d, want 999", items[1].Price)
	}
}

func TestList_WishlistProductRows(t *testing.T) {
	f, srv := newFakeStorefront(t)
	f.wishlist = []string{"2"}

	c := NewClient(srv.URL, srv.Client(), staticToken("good-token"), 0)
	items, err := c.List(context.Background(), model.KindWishlist)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if items[0].ID != "2" || items[0].Quantity != 1 || items[0].ImageURL != "/img/tee.png" {
		t.Errorf("items[0] = %+v", items[0])
	}
}

func TestList_NotFoundIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), staticToken("t"), 0)
	items, err := c.List(context.Background(), model.KindCart)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Errorf("items = %v, want empty non-nil", items)
	}
}

func TestUpsert(t *testing.T) {
	f, srv := newFakeStorefront(t)
	c := NewClient(srv.URL, srv.Client(), staticToken("good-token"), 5*time.Second)
	ctx := context.Background()

	// absent: POST with the full quantity
	if err := c.Upsert(ctx, model.Item{ID: "1", Quantity: 2}); err != nil {
		t.Fatalf("Upsert(absent) error: %v", err)
	}
	// present: PUT overwrites, not additive
	if err := c.Upsert(ctx, model.Item{ID: "1", Quantity: 5}); err != nil {
		t.Fatalf("Upsert(present) error: %v", err)
	}
	// unchanged: no write
	if err := c.Upsert(ctx, model.Item{ID: "1", Quantity: 5}); err != nil {
		t.Fatalf("Upsert(same) error: %v", err)
	}

	if got := f.cart["1"]; got != 5 {
		t.Errorf("server quantity = %d, want 5", got)
	}

	want := []string{
		"GET /api/cart", "POST /api/cart",
		"GET /api/cart", "PUT /api/cart/1",
		"GET /api/cart",
	}
	got := f.calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestUpsert_InvalidArguments(t *testing.T) {
	c := NewClient("http://unused", nil, staticToken("t"), 0)

	if err := c.Upsert(context.Background(), model.Item{ID: ""}); !errors.Is(err, model.ErrInvariantViolation) {
		t.Errorf("empty id: err = %v, want invariant violation", err)
	}
	if err := c.Upsert(context.Background(), model.Item{ID: "1", Quantity: 0}); !errors.Is(err, model.ErrInvariantViolation) {
		t.Errorf("zero qty: err = %v, want invariant violation", err)
	}
}

func TestSetPresence(t *testing.T) {
	f, srv := newFakeStorefront(t)
	c := NewClient(srv.URL, srv.Client(), staticToken("good-token"), 0)
	ctx := context.Background()

	if err := c.SetPresence(ctx, model.Item{ID: "3"}, true); err != nil {
		t.Fatalf("SetPresence(on) error: %v", err)
	}
	if err := c.SetPresence(ctx, model.Item{ID: "3"}, true); err != nil {
		t.Fatalf("SetPresence(on again) error: %v", err)
	}
	if len(f.wishlist) != 1 {
		t.Errorf("wishlist = %v, want exactly one entry", f.wishlist)
	}

	if err := c.SetPresence(ctx, model.Item{ID: "3"}, false); err != nil {
		t.Fatalf("SetPresence(off) error: %v", err)
	}
	if len(f.wishlist) != 0 {
		t.Errorf("wishlist = %v, want empty", f.wishlist)
	}
}

func TestRemove_Idempotent(t *testing.T) {
	f, srv := newFakeStorefront(t)
	f.seedCart("2", 1)
	c := NewClient(srv.URL, srv.Client(), staticToken("good-token"), 0)

	for i := 0; i < 2; i++ {
		if err := c.Remove(context.Background(), model.KindCart, "2"); err != nil {
			t.Fatalf("Remove() #%d error: %v", i, err)
		}
	}
	if _, ok := f.cart["2"]; ok {
		t.Error("item still in server cart")
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    http.Header
		wantAuth  bool
		wantTrans bool
		wantRetry time.Duration
	}{
		{name: "401", status: 401, wantAuth: true},
		{name: "403", status: 403, wantAuth: true},
		{name: "500", status: 500, wantTrans: true},
		{name: "502", status: 502, wantTrans: true},
		{
			name:      "429 with RateLimit-Reset",
			status:    429,
			header:    http.Header{"Ratelimit-Reset": {"42"}},
			wantTrans: true,
			wantRetry: 42 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, srv := newFakeStorefront(t)
			f.status = tt.status
			f.header = tt.header

			c := NewClient(srv.URL, srv.Client(), staticToken("good-token"), 0)
			_, err := c.List(context.Background(), model.KindCart)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := model.IsAuthRejected(err); got != tt.wantAuth {
				t.Errorf("IsAuthRejected = %v, want %v (err %v)", got, tt.wantAuth, err)
			}
			if got := model.IsTransient(err); got != tt.wantTrans {
				t.Errorf("IsTransient = %v, want %v (err %v)", got, tt.wantTrans, err)
			}
			if got := model.RetryAfter(err); got != tt.wantRetry {
				t.Errorf("RetryAfter = %v, want %v", got, tt.wantRetry)
			}
		})
	}
}

func TestClassification_NotFoundOnWriteIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/cart":
			writeJSON(w, http.StatusOK, map[string]any{"items": []map[string]any{
				{"id": 1, "name": "Mug", "price": 12.5, "quantity": 1},
			}})
		case r.Method == http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, srv.Client(), staticToken("good-token"), 0)

	tests := []struct {
		name string
		call func() error
	}{
		{"POST cart", func() error { return c.Upsert(context.Background(), model.Item{ID: "2", Quantity: 1}) }},
		{"PUT cart", func() error { return c.Upsert(context.Background(), model.Item{ID: "1", Quantity: 3}) }},
		{"POST wishlist", func() error { return c.SetPresence(context.Background(), model.Item{ID: "2"}, true) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !model.IsTransient(err) {
				t.Errorf("err = %v, want Transient", err)
			}
			if errors.Is(err, model.ErrNotFound) {
				t.Errorf("err = %v, must not read as not found", err)
			}
		})
	}

	if err := c.Remove(context.Background(), model.KindCart, "9"); err != nil {
		t.Errorf("Remove() of a missing item = %v, want nil", err)
	}
}

func TestClassification_BadToken(t *testing.T) {
	_, srv := newFakeStorefront(t)
	c := NewClient(srv.URL, srv.Client(), staticToken("expired"), 0)

	err := c.Remove(context.Background(), model.KindCart, "1")
	if !model.IsAuthRejected(err) {
		t.Errorf("err = %v, want auth rejected", err)
	}
}

func TestClassification_NoCredentialSkipsNetwork(t *testing.T) {
	f, srv := newFakeStorefront(t)
	c := NewClient(srv.URL, srv.Client(), staticToken(""), 0)

	if _, err := c.List(context.Background(), model.KindCart); !model.IsAuthRejected(err) {
		t.Errorf("err = %v, want auth rejected", err)
	}
	if n := len(f.calls()); n != 0 {
		t.Errorf("server saw %d requests, want 0", n)
	}
}

func TestClassification_TimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, srv.Client(), staticToken("t"), 50*time.Millisecond)
	_, err := c.List(context.Background(), model.KindCart)
	if !model.IsTransient(err) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestClassification_CallerCancelPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	c := NewClient(srv.URL, srv.Client(), staticToken("t"), 0)
	_, err := c.List(ctx, model.KindCart)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if model.IsTransient(err) {
		t.Error("caller cancellation must not be classified transient")
	}
}

func TestProductID_Unmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`12`, "12"},
		{`"sku-9"`, "sku-9"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var p productID
		if err := p.UnmarshalJSON([]byte(tt.in)); err != nil {
			t.Errorf("UnmarshalJSON(%s) error: %v", tt.in, err)
			continue
		}
		if string(p) != tt.want {
			t.Errorf("UnmarshalJSON(%s) = %q, want %q", tt.in, p, tt.want)
		}
	}
}

package remote

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeStorefront emulates the storefront backend: bearer auth, an additive
// POST /api/cart, a PUT that answers 200 even when the row is missing, and
// wishlist rows shaped as raw product records.
type fakeStorefront struct {
	mu       sync.Mutex
	token    string
	cart     map[string]int
	cartIDs  []string
	wishlist []string
	products map[string]fakeProduct
	requests []string
	// status, when non-zero, is returned for every authenticated request
	status int
	header http.Header
}

type fakeProduct struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	ImageURL string  `json:"imageUrl"`
}

func newFakeStorefront(t *testing.T) (*fakeStorefront, *httptest.Server) {
	t.Helper()
	f := &fakeStorefront{
		token: "good-token",
		cart:  map[string]int{},
		products: map[string]fakeProduct{
			"1": {ID: 1, Name: "Mug", Price: 12.5, ImageURL: "/img/mug.png"},
			"2": {ID: 2, Name: "Tee", Price: 20, ImageURL: "/img/tee.png"},
			"3": {ID: 3, Name: "Cap", Price: 9.99, ImageURL: "/img/cap.png"},
		},
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeStorefront) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	if r.URL.Path == "/api/login" {
		f.login(w, r)
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+f.token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Token is not valid"})
		return
	}
	if f.status != 0 {
		for k, v := range f.header {
			w.Header()[k] = v
		}
		writeJSON(w, f.status, map[string]string{"message": "forced failure"})
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/cart":
		items := []map[string]any{}
		for _, id := range f.cartIDs {
			p := f.products[id]
			items = append(items, map[string]any{
				"id": p.ID, "name": p.Name, "price": p.Price,
				"quantity": f.cart[id], "image_url": p.ImageURL,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	case r.Method == http.MethodPost && r.URL.Path == "/api/cart":
		var body struct {
			ProductID json.Number `json:"productId"`
			Quantity  int         `json:"quantity"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		id := body.ProductID.String()
		if _, ok := f.cart[id]; !ok {
			f.cartIDs = append(f.cartIDs, id)
		}
		f.cart[id] += body.Quantity
		writeJSON(w, http.StatusCreated, map[string]string{"message": "added"})

	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/api/cart/"):
		var body struct {
			Quantity int `json:"quantity"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Quantity <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Quantity must be a positive number."})
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/cart/")
		if _, ok := f.cart[id]; ok {
			f.cart[id] = body.Quantity
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "updated"})

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/cart/"):
		id := strings.TrimPrefix(r.URL.Path, "/api/cart/")
		delete(f.cart, id)
		f.cartIDs = without(f.cartIDs, id)
		writeJSON(w, http.StatusOK, map[string]string{"message": "removed"})

	case r.Method == http.MethodGet && r.URL.Path == "/api/wishlist":
		items := []fakeProduct{}
		for _, id := range f.wishlist {
			items = append(items, f.products[id])
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	case r.Method == http.MethodPost && r.URL.Path == "/api/wishlist":
		var body struct {
			ProductID json.Number `json:"productId"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.wishlist = append(f.wishlist, body.ProductID.String())
		writeJSON(w, http.StatusOK, map[string]string{"message": "added"})

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/wishlist/"):
		f.wishlist = without(f.wishlist, strings.TrimPrefix(r.URL.Path, "/api/wishlist/"))
		writeJSON(w, http.StatusOK, map[string]string{"message": "removed"})

	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
	}
}

func (f *fakeStorefront) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	switch {
	case body.Email == "" || body.Password == "":
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Email and password are required."})
	case body.Password != "secret":
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid login credentials"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"message":      "Login successful!",
			"access_token": f.token,
			"user":         map[string]string{"id": "user-" + strconv.Itoa(len(body.Email)), "email": body.Email},
		})
	}
}

func (f *fakeStorefront) seedCart(id string, qty int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cartIDs = append(f.cartIDs, id)
	f.cart[id] = qty
}

func (f *fakeStorefront) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

type staticToken string

func (s staticToken) Token() string { return string(s) }

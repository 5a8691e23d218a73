package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"storefront-sync/internal/model"
)

// productID accepts IDs sent as JSON numbers or strings.
type productID string

func (p *productID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*p = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = productID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("product id: %w", err)
	}
	*p = productID(n.String())
	return nil
}

// apiItem is one row of GET /api/cart or GET /api/wishlist. Cart rows use
// image_url; wishlist rows are raw product rows and use imageUrl.
type apiItem struct {
	ID         productID   `json:"id"`
	Name       string      `json:"name"`
	Price      json.Number `json:"price"`
	Quantity   *int        `json:"quantity"`
	ImageURL   string      `json:"image_url"`
	ImageURLJS string      `json:"imageUrl"`
}

type listResponse struct {
	Items []apiItem `json:"items"`
}

// toItem converts a wire row. Rows without an ID are dropped by the caller.
func (a apiItem) toItem(kind model.Kind) model.Item {
	it := model.Item{
		ID:       string(a.ID),
		Name:     a.Name,
		ImageURL: a.ImageURL,
		Quantity: 1,
	}
	if it.ImageURL == "" {
		it.ImageURL = a.ImageURLJS
	}
	it.Price = model.ParseCents(a.Price.String())
	if kind.Quantified() && a.Quantity != nil {
		it.Quantity = *a.Quantity
	}
	return it
}

// requestProductID sends numeric IDs as JSON numbers, which the storefront's
// integer product_id column expects, and anything else as a string.
func requestProductID(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

type addCartRequest struct {
	ProductID any `json:"productId"`
	Quantity  int `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type addWishlistRequest struct {
	ProductID any `json:"productId"`
}

// errorResponse is the storefront's error body.
type errorResponse struct {
	Message string `json:"message"`
}

// LoginResponse is the body of POST /api/login.
type LoginResponse struct {
	Message     string `json:"message"`
	AccessToken string `json:"access_token"`
	User        User   `json:"user"`
}

// User is the subset of the auth provider's user object the session needs.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type messageResponse struct {
	Message string `json:"message"`
}

var errEmptySession = errors.New("login response carried no session")

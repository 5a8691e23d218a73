// Package model defines the shared types of the storefront session:
// collection items, collection kinds, money helpers and the error taxonomy.
package model

import (
	"fmt"
	"strings"
)

// Kind names one of the two per-user collections.
type Kind string

const (
	KindCart     Kind = "cart"
	KindWishlist Kind = "wishlist"
)

// Kinds lists every collection kind in a stable order.
var Kinds = []Kind{KindCart, KindWishlist}

// ParseKind validates a user-supplied collection name.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindCart:
		return KindCart, nil
	case KindWishlist:
		return KindWishlist, nil
	default:
		return "", NewInvariantError("collection", fmt.Sprintf("unknown collection %q", s))
	}
}

// Quantified reports whether items of this kind carry an authoritative quantity.
// Wishlist presence is binary.
func (k Kind) Quantified() bool {
	return k == KindCart
}

// Item is one entry in a collection.
// ID is the opaque product identifier and the only identity; Quantity is the
// only authoritative mutable field. Name, Price and ImageURL are carried for
// presentation and never used for decisions.
type Item struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Price    int64  `json:"price"` // minor units (cents)
	ImageURL string `json:"image_url,omitempty"`
	Quantity int    `json:"quantity"`
}

// Validate checks the identity invariant shared by every operation.
func (i Item) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return NewInvariantError("id", "must not be empty")
	}
	return nil
}

// IndexByID builds a lookup map. Later duplicates win, which cannot happen
// for collections that respect the no-duplicate invariant.
func IndexByID(items []Item) map[string]Item {
	m := make(map[string]Item, len(items))
	for _, it := range items {
		m[it.ID] = it
	}
	return m
}

// CloneItems returns a copy that callers may mutate freely.
func CloneItems(items []Item) []Item {
	if items == nil {
		return []Item{}
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

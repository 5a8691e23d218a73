package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"storefront-sync/internal/model"
	"storefront-sync/internal/session"
)

// collectionResponse is the JSON view of one collection.
type collectionResponse struct {
	Collection model.Kind   `json:"collection"`
	Mode       session.Mode `json:"mode"`
	Items      []model.Item `json:"items"`
	// Total is the cart subtotal in minor units; omitted for the wishlist.
	Total        *int64 `json:"total,omitempty"`
	TotalDisplay string `json:"total_display,omitempty"`
}

// addItemRequest is the body of POST /collections/{kind}/items.
type addItemRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Price    int64  `json:"price,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

type setPresenceRequest struct {
	Present *bool  `json:"present"`
	Name    string `json:"name,omitempty"`
	Price   int64  `json:"price,omitempty"`
}

type totalResponse struct {
	Total        int64  `json:"total"`
	TotalDisplay string `json:"total_display"`
}

// handleList returns a collection as the current source of truth sees it.
// GET /collections/{kind}?refresh=true
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseKind(r.PathValue("kind"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	h.respondCollection(w, r, kind, http.StatusOK, refresh)
}

// handleAdd puts one unit of an item into a collection.
// POST /collections/{kind}/items
func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	kind, err := model.ParseKind(r.PathValue("kind"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "adding item",
		slog.String("collection", string(kind)),
		slog.String("id", req.ID),
	)

	item := model.Item{ID: req.ID, Name: req.Name, Price: req.Price, ImageURL: req.ImageURL}
	if err := h.session.Add(ctx, kind, item); err != nil {
		h.writeError(w, err)
		return
	}

	h.respondCollection(w, r, kind, http.StatusCreated, false)
}

// handleSetQuantity overwrites a cart quantity. Quantity 0 removes the item.
// PUT /collections/cart/items/{id}
func (h *Handler) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var req setQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Quantity == nil {
		h.writeError(w, model.NewInvariantError("quantity", "is required"))
		return
	}

	h.logger.InfoContext(ctx, "setting quantity",
		slog.String("id", id),
		slog.Int("quantity", *req.Quantity),
	)

	if err := h.session.SetQuantity(ctx, id, *req.Quantity); err != nil {
		h.writeError(w, err)
		return
	}

	h.respondCollection(w, r, model.KindCart, http.StatusOK, false)
}

// handleSetPresence puts an item on the wishlist or takes it off.
// PUT /collections/wishlist/items/{id}
func (h *Handler) handleSetPresence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var req setPresenceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Present == nil {
		h.writeError(w, model.NewInvariantError("present", "is required"))
		return
	}

	item := model.Item{ID: id, Name: req.Name, Price: req.Price}
	if err := h.session.TogglePresence(ctx, item, *req.Present); err != nil {
		h.writeError(w, err)
		return
	}

	h.respondCollection(w, r, model.KindWishlist, http.StatusOK, false)
}

// handleRemove deletes an item. Removing an absent item succeeds.
// DELETE /collections/{kind}/items/{id}
func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	kind, err := model.ParseKind(r.PathValue("kind"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	id := r.PathValue("id")

	h.logger.InfoContext(ctx, "removing item",
		slog.String("collection", string(kind)),
		slog.String("id", id),
	)

	if err := h.session.Remove(ctx, kind, id); err != nil {
		h.writeError(w, err)
		return
	}

	h.respondCollection(w, r, kind, http.StatusOK, false)
}

// handleTotal returns the cart subtotal.
// GET /cart/total
func (h *Handler) handleTotal(w http.ResponseWriter, r *http.Request) {
	total, err := h.session.Total(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, totalResponse{Total: total, TotalDisplay: model.FormatCents(total)})
}

// respondCollection writes the collection after a read or a successful write.
func (h *Handler) respondCollection(w http.ResponseWriter, r *http.Request, kind model.Kind, status int, refresh bool) {
	resp, err := h.collection(r.Context(), kind, refresh)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) collection(ctx context.Context, kind model.Kind, refresh bool) (*collectionResponse, error) {
	var (
		items []model.Item
		err   error
	)
	if refresh {
		items, err = h.session.Refresh(ctx, kind)
	} else {
		items, err = h.session.List(ctx, kind)
	}
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.Item{}
	}

	resp := &collectionResponse{
		Collection: kind,
		Mode:       h.session.Status().Mode,
		Items:      items,
	}
	if kind.Quantified() {
		total := model.Total(items)
		resp.Total = &total
		resp.TotalDisplay = model.FormatCents(total)
	}
	return resp, nil
}

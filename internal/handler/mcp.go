// MCP transport handler using the official MCP Go SDK.
// Exposes the session's collection operations as MCP tools.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"storefront-sync/internal/model"
	"storefront-sync/internal/session"
)

// === MCP Tool Input/Output Types ===

// CollectionInput names a collection: "cart" or "wishlist".
type CollectionInput struct {
	Collection string `json:"collection" jsonschema:"collection name: cart or wishlist"`
}

// AddItemInput is the input schema for add_item.
type AddItemInput struct {
	Collection string `json:"collection" jsonschema:"collection name: cart or wishlist"`
	ID         string `json:"id" jsonschema:"product ID"`
	Name       string `json:"name,omitempty" jsonschema:"display name"`
	Price      int64  `json:"price,omitempty" jsonschema:"unit price in minor units (cents)"`
	ImageURL   string `json:"image_url,omitempty" jsonschema:"product image URL"`
}

// RemoveItemInput is the input schema for remove_item.
type RemoveItemInput struct {
	Collection string `json:"collection" jsonschema:"collection name: cart or wishlist"`
	ID         string `json:"id" jsonschema:"product ID"`
}

// SetQuantityInput is the input schema for set_quantity.
type SetQuantityInput struct {
	ID       string `json:"id" jsonschema:"product ID"`
	Quantity int    `json:"quantity" jsonschema:"new cart quantity, 0 removes the item"`
}

// ToggleWishlistInput is the input schema for toggle_wishlist.
type ToggleWishlistInput struct {
	ID      string `json:"id" jsonschema:"product ID"`
	Present bool   `json:"present" jsonschema:"true to add to the wishlist, false to remove"`
	Name    string `json:"name,omitempty" jsonschema:"display name"`
}

// NoInput is the input schema for tools without arguments.
type NoInput struct{}

// CollectionOutput is the structured result of collection tools.
type CollectionOutput struct {
	Collection   string       `json:"collection"`
	Mode         string       `json:"mode"`
	Items        []model.Item `json:"items"`
	Total        int64        `json:"total,omitempty"`
	TotalDisplay string       `json:"total_display,omitempty"`
}

// StatusOutput is the structured result of session tools.
type StatusOutput struct {
	Mode          string `json:"mode"`
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
	PendingLocal  int    `json:"pending_local"`
	LastError     string `json:"last_error,omitempty"`
}

// NewMCPServer creates an MCP server with the session tools registered.
// The server exposes the same operations as the REST API but via MCP protocol.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "storefront-sync",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Storefront session - cart and wishlist for one shopper. " +
				"Collections work anonymously and are merged into the account on login.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_collection",
		Description: "List the cart or the wishlist as the shopper currently sees it.",
	}, h.mcpListCollection)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_item",
		Description: "Add one unit of a product to the cart, or put it on the wishlist.",
	}, h.mcpAddItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_item",
		Description: "Remove a product from the cart or the wishlist. Removing an absent product succeeds.",
	}, h.mcpRemoveItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_quantity",
		Description: "Set the cart quantity of a product. Quantity 0 removes it.",
	}, h.mcpSetQuantity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "toggle_wishlist",
		Description: "Put a product on the wishlist or take it off.",
	}, h.mcpToggleWishlist)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "session_status",
		Description: "Report whether the shopper is logged in and whether local changes are still being merged.",
	}, h.mcpSessionStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "logout",
		Description: "Log the shopper out. Local collections are discarded.",
	}, h.mcpLogout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "retry_merge",
		Description: "Retry merging local collections into the account after a failure.",
	}, h.mcpRetryMerge)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpListCollection(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input CollectionInput,
) (*mcp.CallToolResult, *CollectionOutput, error) {
	kind, err := model.ParseKind(input.Collection)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return h.mcpCollection(ctx, kind)
}

func (h *Handler) mcpAddItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddItemInput,
) (*mcp.CallToolResult, *CollectionOutput, error) {
	kind, err := model.ParseKind(input.Collection)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	item := model.Item{ID: input.ID, Name: input.Name, Price: input.Price, ImageURL: input.ImageURL}
	if err := h.session.Add(ctx, kind, item); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return h.mcpCollection(ctx, kind)
}

func (h *Handler) mcpRemoveItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RemoveItemInput,
) (*mcp.CallToolResult, *CollectionOutput, error) {
	kind, err := model.ParseKind(input.Collection)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	if err := h.session.Remove(ctx, kind, input.ID); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return h.mcpCollection(ctx, kind)
}

func (h *Handler) mcpSetQuantity(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SetQuantityInput,
) (*mcp.CallToolResult, *CollectionOutput, error) {
	if err := h.session.SetQuantity(ctx, input.ID, input.Quantity); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return h.mcpCollection(ctx, model.KindCart)
}

func (h *Handler) mcpToggleWishlist(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ToggleWishlistInput,
) (*mcp.CallToolResult, *CollectionOutput, error) {
	item := model.Item{ID: input.ID, Name: input.Name}
	if err := h.session.TogglePresence(ctx, item, input.Present); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return h.mcpCollection(ctx, model.KindWishlist)
}

func (h *Handler) mcpSessionStatus(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input NoInput,
) (*mcp.CallToolResult, *StatusOutput, error) {
	return nil, statusOutput(h.session.Status()), nil
}

func (h *Handler) mcpLogout(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input NoInput,
) (*mcp.CallToolResult, *StatusOutput, error) {
	h.session.Logout(ctx)
	return nil, statusOutput(h.session.Status()), nil
}

func (h *Handler) mcpRetryMerge(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input NoInput,
) (*mcp.CallToolResult, *StatusOutput, error) {
	st, err := h.session.Retry(ctx)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, statusOutput(st), nil
}

func (h *Handler) mcpCollection(ctx context.Context, kind model.Kind) (*mcp.CallToolResult, *CollectionOutput, error) {
	resp, err := h.collection(ctx, kind, false)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	out := &CollectionOutput{
		Collection:   string(resp.Collection),
		Mode:         resp.Mode.String(),
		Items:        resp.Items,
		TotalDisplay: resp.TotalDisplay,
	}
	if resp.Total != nil {
		out.Total = *resp.Total
	}
	return nil, out, nil
}

func statusOutput(st session.Status) *StatusOutput {
	return &StatusOutput{
		Mode:          st.Mode.String(),
		Authenticated: st.Authenticated,
		UserID:        st.UserID,
		Email:         st.Email,
		PendingLocal:  st.PendingLocal,
		LastError:     st.LastError,
	}
}

// mcpError converts session errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}

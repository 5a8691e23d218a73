// Package remote talks to the storefront REST API: the per-user cart and
// wishlist collections and the credential endpoints.
//
// The client never decides anything about session mode. It attaches the
// current bearer credential, performs one logical operation and classifies
// the outcome as success, AuthRejected, Transient or InvariantViolation.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront-sync/internal/model"
)

// =============================================================================
// STOREFRONT API CLIENT
// =============================================================================
//
// Endpoints (all under /api, bearer-authenticated):
//   GET    /cart             → {items:[{id,name,price,quantity,image_url}]}
//   POST   /cart             {productId, quantity}  additive on the server
//   PUT    /cart/{id}        {quantity > 0}         overwrite, 200 even when absent
//   DELETE /cart/{id}
//   GET    /wishlist         → {items:[product rows]}
//   POST   /wishlist         {productId}
//   DELETE /wishlist/{id}
//
// Because POST is additive and PUT silently ignores missing rows, absolute
// writes read the collection first and pick the verb from what is there.
// =============================================================================

const (
	serviceName = "storefront"

	pathCart     = "/api/cart"
	pathWishlist = "/api/wishlist"
)

// Collections is the server-of-record for one authenticated user.
type Collections interface {
	// List returns the server collection. A missing collection reads as empty.
	List(ctx context.Context, kind model.Kind) ([]model.Item, error)
	// Upsert makes the server cart quantity of item.ID equal item.Quantity.
	Upsert(ctx context.Context, item model.Item) error
	// SetPresence makes item.ID present in or absent from the server wishlist.
	SetPresence(ctx context.Context, item model.Item, present bool) error
	// Remove deletes id from the server collection. Removing an absent id succeeds.
	Remove(ctx context.Context, kind model.Kind, id string) error
}

// TokenSource yields the bearer credential for the next request, "" when anonymous.
type TokenSource interface {
	Token() string
}

// api holds what Client and Auth share: base URL, HTTP client and per-call deadline.
type api struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	now        func() time.Time
}

func newAPI(baseURL string, httpClient *http.Client, timeout time.Duration) api {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return api{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Client implements Collections against the storefront API.
type Client struct {
	api
	tokens TokenSource
}

// NewClient creates a collections client. timeout bounds each logical
// operation; zero means only the caller's context applies.
func NewClient(baseURL string, httpClient *http.Client, tokens TokenSource, timeout time.Duration) *Client {
	return &Client{
		api:    newAPI(baseURL, httpClient, timeout),
		tokens: tokens,
	}
}

var _ Collections = (*Client)(nil)

// List returns the server collection for kind.
func (c *Client) List(ctx context.Context, kind model.Kind) ([]model.Item, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.list(ctx, kind)
}

func (c *Client) list(ctx context.Context, kind model.Kind) ([]model.Item, error) {
	path, err := collectionPath(kind)
	if err != nil {
		return nil, err
	}

	req, err := c.newAuthedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := c.do(req, &resp); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return []model.Item{}, nil
		}
		return nil, err
	}

	items := make([]model.Item, 0, len(resp.Items))
	seen := make(map[string]bool, len(resp.Items))
	for _, row := range resp.Items {
		it := row.toItem(kind)
		if it.ID == "" || seen[it.ID] || it.Quantity < 1 {
			continue
		}
		seen[it.ID] = true
		items = append(items, it)
	}
	return items, nil
}

// Upsert sets the absolute cart quantity of item.ID. Quantity must be >= 1.
func (c *Client) Upsert(ctx context.Context, item model.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	if item.Quantity < 1 {
		return model.NewInvariantError("quantity", "must be at least 1, use Remove")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	current, err := c.list(ctx, model.KindCart)
	if err != nil {
		return err
	}
	existing, present := model.IndexByID(current)[item.ID]

	switch {
	case present && existing.Quantity == item.Quantity:
		return nil
	case present:
		req, err := c.newAuthedRequest(ctx, http.MethodPut, pathCart+"/"+url.PathEscape(item.ID),
			&setQuantityRequest{Quantity: item.Quantity})
		if err != nil {
			return err
		}
		return c.do(req, nil)
	default:
		req, err := c.newAuthedRequest(ctx, http.MethodPost, pathCart, &addCartRequest{
			ProductID: requestProductID(item.ID),
			Quantity:  item.Quantity,
		})
		if err != nil {
			return err
		}
		return c.do(req, nil)
	}
}

// SetPresence adds item.ID to, or removes it from, the server wishlist.
func (c *Client) SetPresence(ctx context.Context, item model.Item, present bool) error {
	if err := item.Validate(); err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	current, err := c.list(ctx, model.KindWishlist)
	if err != nil {
		return err
	}
	_, there := model.IndexByID(current)[item.ID]
	if there == present {
		return nil
	}

	if !present {
		return c.remove(ctx, model.KindWishlist, item.ID)
	}

	req, err := c.newAuthedRequest(ctx, http.MethodPost, pathWishlist,
		&addWishlistRequest{ProductID: requestProductID(item.ID)})
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Remove deletes id from the server collection.
func (c *Client) Remove(ctx context.Context, kind model.Kind, id string) error {
	if err := (model.Item{ID: id}).Validate(); err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.remove(ctx, kind, id)
}

func (c *Client) remove(ctx context.Context, kind model.Kind, id string) error {
	path, err := collectionPath(kind)
	if err != nil {
		return err
	}

	req, err := c.newAuthedRequest(ctx, http.MethodDelete, path+"/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	return nil
}

// newAuthedRequest builds a request carrying the current bearer credential.
// An anonymous holder fails fast with AuthRejected instead of sending a request
// the server is certain to refuse.
func (c *Client) newAuthedRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	token := ""
	if c.tokens != nil {
		token = c.tokens.Token()
	}
	if token == "" {
		return nil, model.NewAuthRejectedError("no credential")
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func collectionPath(kind model.Kind) (string, error) {
	switch kind {
	case model.KindCart:
		return pathCart, nil
	case model.KindWishlist:
		return pathWishlist, nil
	default:
		return "", model.NewInvariantError("collection", fmt.Sprintf("unknown collection %q", kind))
	}
}

// === HTTP Helpers ===

func (a *api) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

// newRequest creates a JSON request against the storefront API.
func (a *api) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bodyReader)
	if err != nil {
		return nil, model.NewInternalError(err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do executes the request and decodes the response.
func (a *api) do(req *http.Request, result any) error {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		// A caller that gave up is not a storefront failure
		if errors.Is(err, context.Canceled) {
			return err
		}
		return model.NewTransientError(serviceName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewTransientError(serviceName, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return a.parseError(resp, body)
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return model.NewTransientError(serviceName, fmt.Errorf("parsing response: %w", err))
		}
	}
	return nil
}

// parseError converts storefront error responses to model errors.
func (a *api) parseError(resp *http.Response, body []byte) error {
	var apiErr errorResponse
	json.Unmarshal(body, &apiErr) // Best effort parse

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		msg := apiErr.Message
		if msg == "" {
			msg = "credential rejected"
		}
		return model.NewAuthRejectedError(msg)
	case http.StatusNotFound:
		// only reads and deletes give a missing resource a meaning
		if m := resp.Request; m != nil && (m.Method == http.MethodGet || m.Method == http.MethodDelete) {
			return fmt.Errorf("%s: %w", describe(resp), model.ErrNotFound)
		}
		return model.NewTransientError(serviceName, fmt.Errorf("%s: status 404", describe(resp)))
	case http.StatusTooManyRequests:
		return model.NewRateLimitError(serviceName, retryAfter(resp.Header, a.now()))
	case http.StatusBadRequest:
		msg := apiErr.Message
		if msg == "" {
			msg = "invalid request"
		}
		return model.NewInvariantError("request", msg)
	default:
		return model.NewTransientError(serviceName,
			fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Message))
	}
}

func describe(resp *http.Response) string {
	if resp.Request == nil {
		return "request"
	}
	return resp.Request.Method + " " + resp.Request.URL.Path
}

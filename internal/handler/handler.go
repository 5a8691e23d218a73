// Package handler exposes the storefront session over HTTP (REST and MCP).
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"storefront-sync/internal/model"
	"storefront-sync/internal/remote"
	"storefront-sync/internal/session"
)

// Authenticator exchanges storefront credentials for a bearer token.
// Implemented by *remote.Auth.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*remote.LoginResponse, error)
	Register(ctx context.Context, email, password string) (string, error)
	ResendVerification(ctx context.Context, email string) (string, error)
}

var _ Authenticator = (*remote.Auth)(nil)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	session *session.Facade
	auth    Authenticator
	logger  *slog.Logger
}

// New creates a Handler over one session. auth may be nil, which limits
// login to raw tokens.
func New(s *session.Facade, auth Authenticator, logger *slog.Logger) *Handler {
	return &Handler{
		session: s,
		auth:    auth,
		logger:  logger,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Collections
	mux.HandleFunc("GET /collections/{kind}", h.handleList)
	mux.HandleFunc("POST /collections/{kind}/items", h.handleAdd)
	mux.HandleFunc("PUT /collections/cart/items/{id}", h.handleSetQuantity)
	mux.HandleFunc("PUT /collections/wishlist/items/{id}", h.handleSetPresence)
	mux.HandleFunc("DELETE /collections/{kind}/items/{id}", h.handleRemove)
	mux.HandleFunc("GET /cart/total", h.handleTotal)

	// Session lifecycle
	mux.HandleFunc("GET /status", h.handleStatus)
	mux.HandleFunc("POST /session/login", h.handleLogin)
	mux.HandleFunc("POST /session/logout", h.handleLogout)
	mux.HandleFunc("POST /session/retry", h.handleRetry)
	mux.HandleFunc("POST /session/register", h.handleRegister)
	mux.HandleFunc("POST /session/resend-verification", h.handleResendVerification)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from APIError if present.
// Uses errors.As() to unwrap error chains (e.g., fmt.Errorf wrapping).
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	apiErr := h.classify(err)

	if apiErr.RetryAfter > 0 {
		secs := int(apiErr.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}

// classify resolves err to the APIError presented to clients.
func (h *Handler) classify(err error) *model.APIError {
	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		apiErr = model.NewTransientError("session", err)
	default:
		apiErr = model.NewInternalError(err)
		h.logger.Error("internal error", slog.String("error", err.Error()))
	}
	return apiErr
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewInvariantError("body", "invalid JSON")
	}
	return nil
}

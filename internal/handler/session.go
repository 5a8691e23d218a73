package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"storefront-sync/internal/model"
)

// loginRequest authenticates either with storefront credentials or with a
// token the caller already holds.
type loginRequest struct {
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type healthResponse struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
}

// handleHealth returns a simple health check response.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Mode: h.session.Status().Mode.String()})
}

// handleStatus returns the session mode and identity.
// GET /status
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.session.Status())
}

// handleLogin authenticates the session and waits for the merge.
// POST /session/login
//
// A merge that fails transiently still leaves the session logged in and
// Reconciling; the response is 503 and carries the error, and
// POST /session/retry re-runs the merge.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	token, userID, email := req.Token, req.UserID, req.Email
	if req.Password != "" {
		if h.auth == nil {
			h.writeError(w, errAuthUnavailable)
			return
		}
		resp, err := h.auth.Login(ctx, req.Email, req.Password)
		if err != nil {
			h.writeError(w, err)
			return
		}
		token, userID, email = resp.AccessToken, resp.User.ID, resp.User.Email
		if email == "" {
			email = req.Email
		}
	}

	h.logger.InfoContext(ctx, "logging in",
		slog.String("user_id", userID),
		slog.Bool("credentials", req.Password != ""),
	)

	st, err := h.session.Login(ctx, token, userID, email)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// handleLogout ends the session. Always succeeds.
// POST /session/logout
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.session.Logout(r.Context())
	h.writeJSON(w, http.StatusOK, h.session.Status())
}

// handleRetry re-runs a failed merge.
// POST /session/retry
func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	st, err := h.session.Retry(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// handleRegister creates a storefront account.
// POST /session/register
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if h.auth == nil {
		h.writeError(w, errAuthUnavailable)
		return
	}

	msg, err := h.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, messageResponse{Message: msg})
}

// handleResendVerification asks the storefront to resend the verification mail.
// POST /session/resend-verification
func (h *Handler) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if h.auth == nil {
		h.writeError(w, errAuthUnavailable)
		return
	}

	msg, err := h.auth.ResendVerification(r.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

var errAuthUnavailable = &model.APIError{
	Code:       "AUTH_UNAVAILABLE",
	Message:    "credential login is not configured",
	StatusCode: http.StatusNotImplemented,
	Err:        errors.New("no authenticator"),
}

package remote

import (
	"context"
	"net/http"
	"strings"
	"time"

	"storefront-sync/internal/model"
)

const (
	pathLogin              = "/api/login"
	pathRegister           = "/api/register"
	pathResendVerification = "/api/resend-verification"
)

// Auth calls the storefront's credential endpoints. It does not touch
// Identity State; the caller hands the result to the identity holder.
type Auth struct {
	api
}

// NewAuth creates a credential client.
func NewAuth(baseURL string, httpClient *http.Client, timeout time.Duration) *Auth {
	return &Auth{api: newAPI(baseURL, httpClient, timeout)}
}

// Login exchanges email and password for a bearer token.
// Bad credentials and unverified accounts come back as AuthRejected.
func (a *Auth) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	if err := requireCredentials(email, password); err != nil {
		return nil, err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	req, err := a.newRequest(ctx, http.MethodPost, pathLogin, &credentialsRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}

	var resp LoginResponse
	if err := a.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" || resp.User.ID == "" {
		return nil, model.NewTransientError(serviceName, errEmptySession)
	}
	if resp.User.Email == "" {
		resp.User.Email = email
	}
	return &resp, nil
}

// Register creates an account. The storefront sends a verification email;
// the account cannot log in until it is verified.
func (a *Auth) Register(ctx context.Context, email, password string) (string, error) {
	if err := requireCredentials(email, password); err != nil {
		return "", err
	}
	return a.postMessage(ctx, pathRegister, &credentialsRequest{Email: email, Password: password})
}

// ResendVerification asks the storefront to send another verification email.
func (a *Auth) ResendVerification(ctx context.Context, email string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", model.NewInvariantError("email", "is required")
	}
	return a.postMessage(ctx, pathResendVerification, &emailRequest{Email: email})
}

func (a *Auth) postMessage(ctx context.Context, path string, body any) (string, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	req, err := a.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", err
	}
	var resp messageResponse
	if err := a.do(req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func requireCredentials(email, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return model.NewInvariantError("credentials", "email and password are required")
	}
	return nil
}

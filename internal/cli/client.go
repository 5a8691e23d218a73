package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"storefront-sync/internal/transport"
)

// daemonClient speaks the storefrontd REST API.
type daemonClient struct {
	baseURL    string
	httpClient *http.Client
}

func newDaemonClient(opts *RootOptions) *daemonClient {
	return &daemonClient{
		baseURL:    strings.TrimSuffix(opts.Daemon, "/"),
		httpClient: transport.NewClient(transport.Options{Timeout: opts.Timeout}),
	}
}

// DaemonError is a non-2xx answer from the daemon.
type DaemonError struct {
	Status  int
	Code    string
	Message string
}

func (e *DaemonError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// do sends body (when non-nil) as JSON and decodes a 2xx response into out.
func (c *daemonClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return WrapExitError(ExitCommandError, "daemon unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &e) != nil || e.Error.Code == "" {
			return &DaemonError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode), Message: strings.TrimSpace(string(data))}
		}
		return &DaemonError{Status: resp.StatusCode, Code: e.Error.Code, Message: e.Error.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

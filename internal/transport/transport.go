// Package transport builds the HTTP clients used to reach the storefront API.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// RequestIDHeader carries a per-request correlation ID to the storefront API.
const RequestIDHeader = "X-Request-ID"

// userAgent identifies the session daemon to the storefront API.
const userAgent = "storefront-sync/1.0"

// Options configures NewClient.
type Options struct {
	// Timeout is the client-level ceiling; per-call deadlines come from the caller's context.
	Timeout time.Duration
	// ChromeTLS presents Chrome's TLS fingerprint instead of Go's.
	ChromeTLS bool
}

// NewClient returns an http.Client that stamps every request with a request ID
// and user agent, optionally over the Chrome-fingerprint transport.
func NewClient(opts Options) *http.Client {
	var base http.RoundTripper = http.DefaultTransport
	if opts.ChromeTLS {
		base = NewChromeTransport(opts.Timeout)
	}
	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: &stampingTransport{next: base},
	}
}

// stampingTransport sets X-Request-ID and User-Agent when the caller did not.
type stampingTransport struct {
	next http.RoundTripper
}

func (t *stampingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not mutate the caller's request
	r := req.Clone(req.Context())
	if r.Header.Get(RequestIDHeader) == "" {
		r.Header.Set(RequestIDHeader, uuid.NewString())
	}
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", userAgent)
	}
	return t.next.RoundTrip(r)
}

// =============================================================================
// TLS FINGERPRINT TRANSPORT
// =============================================================================
//
// Some storefront hosts sit behind CDNs that rate limit Go's distinctive TLS
// ClientHello. This transport uses uTLS with HelloChrome_Auto, lets ALPN pick
// h2 or http/1.1, and frames HTTP/2 with x/net/http2 when negotiated.
// =============================================================================

// NewChromeTransport creates an http.RoundTripper that presents Chrome's TLS
// fingerprint to upstream servers. Plain http:// requests fall through to the
// HTTP/1.1 transport's normal dialer.
func NewChromeTransport(timeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout}

	h2Transport := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return dialChromeTLS(ctx, dialer, network, addr)
		},
	}

	h1Transport := &http.Transport{
		DialContext: dialer.DialContext,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialChromeTLS(ctx, dialer, network, addr)
		},
		ForceAttemptHTTP2: false,
	}

	return &chromeTransport{
		h2: h2Transport,
		h1: h1Transport,
	}
}

// chromeTransport wraps HTTP/2 and HTTP/1.1 transports with Chrome TLS fingerprint.
type chromeTransport struct {
	h2 *http2.Transport
	h1 *http.Transport
}

// RoundTrip tries HTTP/2 for https URLs and falls back to HTTP/1.1.
func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.h1.RoundTrip(req)
	}

	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}

	// Request bodies may have been consumed by the failed h2 attempt
	if req.Body != nil && req.GetBody == nil {
		return nil, err
	}
	if req.GetBody != nil {
		body, bodyErr := req.GetBody()
		if bodyErr != nil {
			return nil, bodyErr
		}
		req = req.Clone(req.Context())
		req.Body = body
	}
	return t.h1.RoundTrip(req)
}

// dialChromeTLS establishes a TLS connection with Chrome's fingerprint.
func dialChromeTLS(ctx context.Context, dialer *net.Dialer, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	return tlsConn, nil
}

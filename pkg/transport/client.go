package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single exchange against the vendor service.
// The upstream service is uncontrolled, so every call carries a wall-clock
// limit even when the caller's context has none.
const DefaultTimeout = 30 * time.Second

// MaxResponseBytes caps the response body size read into memory.
const MaxResponseBytes = 4 << 20

// Client is the production Fetcher backed by net/http.
// Redirects are never followed; the engine walks them manually.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-exchange wall-clock timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient replaces the underlying http.Client. The client's
// CheckRedirect is overridden to suppress redirect following.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c
}

// Fetch performs one HTTP exchange.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}

// Compile-time interface satisfaction check.
var _ Fetcher = (*Client)(nil)

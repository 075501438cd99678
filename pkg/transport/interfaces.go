package transport

import (
	"context"
	"net/http"
)

// Request describes a single HTTP exchange.
type Request struct {
	// Method is the HTTP method. Defaults to GET when empty.
	Method string

	// URL is the absolute request URL.
	URL string

	// Header carries request headers, including the Cookie header.
	Header http.Header

	// Body is the request body (form-encoded for the vendor endpoints).
	Body []byte
}

// Response is the outcome of a single HTTP exchange.
type Response struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Header carries response headers. Set-Cookie values are preserved
	// individually so the caller can feed them to a cookie jar.
	Header http.Header

	// Body is the full response body.
	Body []byte
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Redirect returns the Location header and true when the response is a
// 3xx redirect carrying one.
func (r *Response) Redirect() (string, bool) {
	if r.StatusCode < 300 || r.StatusCode >= 400 {
		return "", false
	}
	loc := r.Header.Get("Location")
	return loc, loc != ""
}

// Fetcher performs one HTTP exchange without following redirects.
// Implementations must be safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req Request) (*Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

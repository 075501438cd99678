package cookiejar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/zzerding/xiaomi-token-web/pkg/transport"
)

// MaxRedirectHops bounds a manually followed redirect chain. The token
// exchange after 2FA typically needs three hops; five gives headroom while
// still guaranteeing termination.
const MaxRedirectHops = 5

// ErrTooManyRedirects is returned when a redirect chain exceeds MaxRedirectHops.
var ErrTooManyRedirects = errors.New("too many redirects")

// FollowRedirects walks a redirect chain hop by hop, feeding every hop's
// Set-Cookie headers into the jar. The headers function builds per-hop
// request headers (the Cookie header must be rebuilt after each hop since
// earlier hops may have updated the jar).
//
// It returns the final non-redirect response and the URL it came from.
func FollowRedirects(ctx context.Context, f transport.Fetcher, jar *Jar, startURL string, headers func() http.Header) (*transport.Response, string, error) {
	current := startURL
	for hop := 0; hop <= MaxRedirectHops; hop++ {
		resp, err := f.Fetch(ctx, transport.Request{
			Method: http.MethodGet,
			URL:    current,
			Header: headers(),
		})
		if err != nil {
			return nil, current, fmt.Errorf("redirect hop %d failed: %w", hop+1, err)
		}

		jar.UpdateFromHeaders(resp.Header.Values("Set-Cookie"))

		loc, ok := resp.Redirect()
		if !ok {
			return resp, current, nil
		}

		next, err := resolveLocation(current, loc)
		if err != nil {
			return nil, current, fmt.Errorf("redirect hop %d has bad location %q: %w", hop+1, loc, err)
		}
		current = next
	}
	return nil, current, ErrTooManyRedirects
}

// resolveLocation resolves a possibly relative Location header against the
// URL of the response that carried it.
func resolveLocation(base, location string) (string, error) {
	loc, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	if loc.IsAbs() {
		return location, nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(loc).String(), nil
}

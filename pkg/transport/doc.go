// Package transport provides the HTTP fetch capability used by the
// authentication engine and the device catalog client.
//
// The vendor's login flow requires manual redirect handling: cookies set at
// intermediate hops must be preserved, and most HTTP clients drop non-simple
// headers across cross-origin redirects. The Fetcher interface therefore
// performs exactly one HTTP exchange per call and never follows redirects
// itself; redirect chains are walked explicitly by the caller.
package transport

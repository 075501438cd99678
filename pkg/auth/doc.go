// Package auth implements the vendor account service's multi-step
// challenge-response login protocol, including the out-of-band verification
// branch.
//
// The flow is a three-step exchange: fetch a rotating anti-forgery token,
// post the hashed credentials, then exchange the returned location for a
// service token. When the account requires out-of-band verification the
// second step yields a verification URL instead of a session secret; after
// the user's ticket is accepted the second step must be repeated to obtain
// the production secret.
//
// The Engine is an explicit state machine. Each step validates the current
// state, performs its exchanges through an injected transport.Fetcher, and
// either advances the state or returns a typed failure. All network calls
// take a context; the Engine itself is single-owner and not safe for
// concurrent use.
package auth

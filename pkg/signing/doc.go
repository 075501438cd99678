// Package signing implements the request-signing and payload-cipher
// subsystem of the vendor's encrypted RPC channel.
//
// Every encrypted call derives a fresh per-call key (the signed nonce) from
// the session secret and a minute-granularity nonce, signs its parameters
// twice (once in plaintext, once after ciphering) and RC4-encrypts each
// parameter with the same derived key. A captured request is therefore
// time-windowed and cannot be replayed with a different parameter set.
//
// Two distinct values flow through this package and must not be confused:
// the nonce (random + timestamp, sent in the clear as _nonce) and the
// signed nonce (hash of secret and nonce, never sent, used as both HMAC key
// and cipher key).
package signing

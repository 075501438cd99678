package signing

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
)

// encPath extracts the signable path for encrypted calls: everything after
// the host's "com", with the leading "/app/" segment rewritten to "/".
func encPath(rawURL string) string {
	_, path, found := strings.Cut(rawURL, "com")
	if !found {
		path = rawURL
	}
	return strings.Replace(path, "/app/", "/", 1)
}

// plainPath extracts the signable path for legacy plain calls: everything
// after ".com", unrewritten.
func plainPath(rawURL string) string {
	_, path, found := strings.Cut(rawURL, ".com")
	if !found {
		return rawURL
	}
	return path
}

// sortedPairs renders params as sorted "key=value" strings.
func sortedPairs(params map[string]string) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return pairs
}

// EncSignature computes the SHA-1 signature for an encrypted call:
// digest over method, rewritten path, sorted params and the signed nonce,
// joined by "&". It is applied twice per call: over the plaintext params
// (yielding the rc4_hash__ param) and over the ciphered params (yielding
// the signature param).
func EncSignature(method, rawURL, signedNonce string, params map[string]string) string {
	parts := []string{strings.ToUpper(method), encPath(rawURL)}
	parts = append(parts, sortedPairs(params)...)
	parts = append(parts, signedNonce)

	sum := sha1.Sum([]byte(strings.Join(parts, "&")))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Signature computes the HMAC-SHA-256 signature used by legacy plain
// (non-encrypted) calls, keyed by the decoded signed nonce.
func Signature(rawURL, signedNonce, nonce string, params map[string]string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(signedNonce)
	if err != nil {
		return "", fmt.Errorf("%w: signed nonce: %v", ErrBadEncoding, err)
	}

	parts := []string{plainPath(rawURL), signedNonce, nonce}
	parts = append(parts, sortedPairs(params)...)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strings.Join(parts, "&")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// EncryptedParams turns plaintext request params into the wire query set for
// an encrypted call: adds the plaintext-stage rc4_hash__ signature, ciphers
// every value, signs the ciphered set, and attaches ssecurity and _nonce.
func EncryptedParams(method, rawURL, ssecurity, nonce, signedNonce string, params map[string]string) (map[string]string, error) {
	if ssecurity == "" {
		return nil, ErrMissingSecret
	}

	plain := make(map[string]string, len(params)+1)
	for k, v := range params {
		plain[k] = v
	}
	plain["rc4_hash__"] = EncSignature(method, rawURL, signedNonce, plain)

	enc := make(map[string]string, len(plain)+3)
	for k, v := range plain {
		cv, err := EncryptPayload(signedNonce, v)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt param %q: %w", k, err)
		}
		enc[k] = cv
	}

	enc["signature"] = EncSignature(method, rawURL, signedNonce, enc)
	enc["ssecurity"] = ssecurity
	enc["_nonce"] = nonce
	return enc, nil
}

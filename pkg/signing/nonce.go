package signing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Signing errors.
var (
	// ErrBadEncoding indicates malformed base64 input. It signals a
	// key-handling bug on our side rather than a vendor rejection.
	ErrBadEncoding = errors.New("malformed base64 value")

	// ErrMissingSecret indicates the session secret required for key
	// derivation is absent.
	ErrMissingSecret = errors.New("missing session secret")
)

// nonceSize is 8 random bytes plus a 4-byte big-endian minute counter.
const nonceSize = 12

// GenerateNonce builds a fresh per-call nonce: 8 random bytes concatenated
// with floor(now_ms/60000) encoded big-endian, base64-encoded. A nonce must
// never be reused across encrypted calls.
func GenerateNonce(now time.Time) (string, error) {
	return generateNonce(rand.Reader, now)
}

func generateNonce(r io.Reader, now time.Time) (string, error) {
	buf := make([]byte, nonceSize)
	if _, err := io.ReadFull(r, buf[:8]); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	minutes := uint32(now.UnixMilli() / 60000)
	binary.BigEndian.PutUint32(buf[8:], minutes)
	return base64.StdEncoding.EncodeToString(buf), nil
}

// SignedNonce derives the per-call key: SHA-256 over the decoded session
// secret followed by the decoded nonce, base64-encoded. The result doubles
// as HMAC key for request signatures and as the RC4 payload-cipher key.
func SignedNonce(ssecurity, nonce string) (string, error) {
	if ssecurity == "" {
		return "", ErrMissingSecret
	}
	secret, err := base64.StdEncoding.DecodeString(ssecurity)
	if err != nil {
		return "", fmt.Errorf("%w: ssecurity: %v", ErrBadEncoding, err)
	}
	nonceBytes, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return "", fmt.Errorf("%w: nonce: %v", ErrBadEncoding, err)
	}

	h := sha256.New()
	h.Write(secret)
	h.Write(nonceBytes)
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

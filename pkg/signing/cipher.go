package signing

import (
	"crypto/rc4"
	"encoding/base64"
	"fmt"
)

// warmupBytes is the number of keystream bytes discarded before any payload
// byte is processed. The vendor's clients all skip 1024 bytes; skipping a
// different amount produces garbage on one side.
const warmupBytes = 1024

// newWarmCipher creates an RC4 cipher keyed by the decoded signed nonce with
// the mandatory warm-up already applied.
func newWarmCipher(signedNonce string) (*rc4.Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(signedNonce)
	if err != nil {
		return nil, fmt.Errorf("%w: signed nonce: %v", ErrBadEncoding, err)
	}
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	discard := make([]byte, warmupBytes)
	c.XORKeyStream(discard, discard)
	return c, nil
}

// EncryptPayload RC4-encrypts a parameter value with the signed nonce and
// returns it base64-encoded.
func EncryptPayload(signedNonce, payload string) (string, error) {
	c, err := newWarmCipher(signedNonce)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(payload))
	c.XORKeyStream(out, []byte(payload))
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptPayload reverses EncryptPayload on a response body. Bodies are
// normally base64; a body that does not decode is treated as raw cipher
// bytes, matching the vendor's occasional unencoded error responses.
func DecryptPayload(signedNonce, payload string) (string, error) {
	c, err := newWarmCipher(signedNonce)
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data = []byte(payload)
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return string(out), nil
}

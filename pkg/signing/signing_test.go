package signing

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"strings"
	"testing"
	"time"
)

// Fixed inputs shared by the golden-value tests.
const (
	testSecret      = "MDEyMzQ1Njc4OWFiY2RlZg=="                     // "0123456789abcdef"
	testNonce       = "AAECAwQFBgcICQoL"                             // bytes 0..11
	testSignedNonce = "16/CeTzC9IqVVbiZ01Hy/Qd8rtVo5ybLo+ph/Vvh52k=" // sha256(secret||nonce)
)

func TestGenerateNonceFormat(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	nonce, err := generateNonce(bytes.NewReader(make([]byte, 8)), now)
	if err != nil {
		t.Fatalf("generateNonce failed: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		t.Fatalf("nonce is not valid base64: %v", err)
	}
	if len(raw) != nonceSize {
		t.Fatalf("nonce length = %d, want %d", len(raw), nonceSize)
	}

	wantMinutes := uint32(1700000000000 / 60000)
	if got := binary.BigEndian.Uint32(raw[8:]); got != wantMinutes {
		t.Errorf("minute counter = %d, want %d", got, wantMinutes)
	}
}

func TestGenerateNonceUnique(t *testing.T) {
	now := time.Now()
	a, err := GenerateNonce(now)
	if err != nil {
		t.Fatalf("GenerateNonce failed: %v", err)
	}
	b, err := GenerateNonce(now)
	if err != nil {
		t.Fatalf("GenerateNonce failed: %v", err)
	}
	if a == b {
		t.Error("two nonces generated at the same instant must differ")
	}
}

func TestSignedNonceGolden(t *testing.T) {
	got, err := SignedNonce(testSecret, testNonce)
	if err != nil {
		t.Fatalf("SignedNonce failed: %v", err)
	}
	if got != testSignedNonce {
		t.Errorf("SignedNonce = %q, want %q", got, testSignedNonce)
	}
}

func TestSignedNonceDeterministicAndSensitive(t *testing.T) {
	a, err := SignedNonce(testSecret, testNonce)
	if err != nil {
		t.Fatalf("SignedNonce failed: %v", err)
	}
	b, err := SignedNonce(testSecret, testNonce)
	if err != nil {
		t.Fatalf("SignedNonce failed: %v", err)
	}
	if a != b {
		t.Error("SignedNonce is not deterministic for identical inputs")
	}

	otherSecret := base64.StdEncoding.EncodeToString([]byte("another secret!!"))
	c, err := SignedNonce(otherSecret, testNonce)
	if err != nil {
		t.Fatalf("SignedNonce failed: %v", err)
	}
	if c == a {
		t.Error("SignedNonce must change when the secret changes")
	}

	otherNonce := base64.StdEncoding.EncodeToString([]byte{9, 9, 9, 9, 9, 9, 9, 9, 0, 0, 0, 1})
	d, err := SignedNonce(testSecret, otherNonce)
	if err != nil {
		t.Fatalf("SignedNonce failed: %v", err)
	}
	if d == a {
		t.Error("SignedNonce must change when the nonce changes")
	}
}

func TestSignedNonceErrors(t *testing.T) {
	if _, err := SignedNonce("", testNonce); err != ErrMissingSecret {
		t.Errorf("empty secret: err = %v, want ErrMissingSecret", err)
	}
	if _, err := SignedNonce("not base64!!!", testNonce); err == nil {
		t.Error("expected error for malformed secret")
	}
}

func TestCipherIsItsOwnInverse(t *testing.T) {
	messages := []string{
		"",
		"x",
		`{"fg": true, "fetch_share": true, "limit": 300}`,
		strings.Repeat("payload-", 512),
		"\x00\x01\x02\xff",
	}

	for _, msg := range messages {
		ct, err := EncryptPayload(testSignedNonce, msg)
		if err != nil {
			t.Fatalf("EncryptPayload failed: %v", err)
		}
		pt, err := DecryptPayload(testSignedNonce, ct)
		if err != nil {
			t.Fatalf("DecryptPayload failed: %v", err)
		}
		if pt != msg {
			t.Errorf("round trip mismatch for %d-byte message", len(msg))
		}
	}
}

func TestCipherWarmupGolden(t *testing.T) {
	// Computed against the vendor clients' RC4 with the 1024-byte
	// keystream discard. A cipher without the warm-up fails this.
	ct, err := EncryptPayload(testSignedNonce, `{"fg": true}`)
	if err != nil {
		t.Fatalf("EncryptPayload failed: %v", err)
	}
	if ct != "5bCwpWnxxnZoPEAa" {
		t.Errorf("ciphertext = %q, want %q", ct, "5bCwpWnxxnZoPEAa")
	}
}

func TestDecryptPayloadRawFallback(t *testing.T) {
	// A body that is not valid base64 is treated as raw cipher bytes.
	ct, err := EncryptPayload(testSignedNonce, "abc")
	if err != nil {
		t.Fatalf("EncryptPayload failed: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(ct)
	if err != nil {
		t.Fatalf("ciphertext is not base64: %v", err)
	}
	// Only meaningful when the raw bytes themselves are not valid base64.
	if _, b64err := base64.StdEncoding.DecodeString(string(raw)); b64err == nil {
		t.Skip("raw ciphertext happens to be valid base64")
	}
	pt, err := DecryptPayload(testSignedNonce, string(raw))
	if err != nil {
		t.Fatalf("DecryptPayload failed: %v", err)
	}
	if pt != "abc" {
		t.Errorf("raw fallback round trip = %q, want %q", pt, "abc")
	}
}

func TestEncSignatureGolden(t *testing.T) {
	url := "https://api.io.mi.com/app/v2/home/home_device_list"
	params := map[string]string{"data": `{"home_id": 1}`}

	got := EncSignature("POST", url, testSignedNonce, params)
	if got != "hnLGI9gQ8Qxzr9l4xhLXgsHKE7Q=" {
		t.Errorf("EncSignature = %q, want %q", got, "hnLGI9gQ8Qxzr9l4xhLXgsHKE7Q=")
	}

	// Method case must not matter.
	if lower := EncSignature("post", url, testSignedNonce, params); lower != got {
		t.Error("EncSignature must uppercase the method")
	}
}

func TestSignatureGolden(t *testing.T) {
	url := "https://api.io.mi.com/app/v2/home/home_device_list"
	params := map[string]string{"data": `{"home_id": 1}`}

	got, err := Signature(url, testSignedNonce, testNonce, params)
	if err != nil {
		t.Fatalf("Signature failed: %v", err)
	}
	if got != "utfkhjsYeiQsRK3czqNiuWl5kLQkX19DZivY652VpLI=" {
		t.Errorf("Signature = %q, want %q", got, "utfkhjsYeiQsRK3czqNiuWl5kLQkX19DZivY652VpLI=")
	}
}

func TestEncryptedParamsShape(t *testing.T) {
	url := "https://de.api.io.mi.com/app/v2/homeroom/gethome"
	params := map[string]string{"data": `{"fg": true}`}

	enc, err := EncryptedParams("POST", url, testSecret, testNonce, testSignedNonce, params)
	if err != nil {
		t.Fatalf("EncryptedParams failed: %v", err)
	}

	for _, key := range []string{"data", "rc4_hash__", "signature", "ssecurity", "_nonce"} {
		if _, ok := enc[key]; !ok {
			t.Errorf("missing wire param %q", key)
		}
	}
	if enc["ssecurity"] != testSecret {
		t.Errorf("ssecurity passed through ciphered, want plaintext")
	}
	if enc["_nonce"] != testNonce {
		t.Errorf("_nonce = %q, want %q", enc["_nonce"], testNonce)
	}
	if enc["data"] == params["data"] {
		t.Error("data param was not ciphered")
	}

	// The ciphered data param must decrypt back to the original.
	pt, err := DecryptPayload(testSignedNonce, enc["data"])
	if err != nil {
		t.Fatalf("DecryptPayload failed: %v", err)
	}
	if pt != params["data"] {
		t.Errorf("decrypted data = %q, want %q", pt, params["data"])
	}

	// The ciphered rc4_hash__ must decrypt to the plaintext-stage
	// signature, which covers the param set before rc4_hash__ was added.
	hash, err := DecryptPayload(testSignedNonce, enc["rc4_hash__"])
	if err != nil {
		t.Fatalf("DecryptPayload failed: %v", err)
	}
	wantHash := EncSignature("POST", url, testSignedNonce, params)
	if hash != wantHash {
		t.Errorf("rc4_hash__ = %q, want %q", hash, wantHash)
	}

	if _, err := EncryptedParams("POST", url, "", testNonce, testSignedNonce, params); err != ErrMissingSecret {
		t.Errorf("missing ssecurity: err = %v, want ErrMissingSecret", err)
	}
}

func TestPathExtraction(t *testing.T) {
	tests := []struct {
		url       string
		wantEnc   string
		wantPlain string
	}{
		{
			url:       "https://api.io.mi.com/app/v2/home/home_device_list",
			wantEnc:   "/v2/home/home_device_list",
			wantPlain: "/app/v2/home/home_device_list",
		},
		{
			url:       "https://de.api.io.mi.com/app/v2/user/get_device_cnt",
			wantEnc:   "/v2/user/get_device_cnt",
			wantPlain: "/app/v2/user/get_device_cnt",
		},
	}
	for _, tt := range tests {
		if got := encPath(tt.url); got != tt.wantEnc {
			t.Errorf("encPath(%q) = %q, want %q", tt.url, got, tt.wantEnc)
		}
		if got := plainPath(tt.url); got != tt.wantPlain {
			t.Errorf("plainPath(%q) = %q, want %q", tt.url, got, tt.wantPlain)
		}
	}
}

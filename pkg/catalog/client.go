package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/zzerding/xiaomi-token-web/pkg/auth"
	"github.com/zzerding/xiaomi-token-web/pkg/log"
	"github.com/zzerding/xiaomi-token-web/pkg/signing"
	"github.com/zzerding/xiaomi-token-web/pkg/transport"
)

// Regions lists the vendor's API regions.
var Regions = []string{"cn", "de", "us", "ru", "tw", "sg", "in", "i2"}

var (
	// ErrUnknownRegion is returned for a region outside Regions.
	ErrUnknownRegion = errors.New("unknown API region")

	// ErrNotAuthenticated is returned when the session lacks the secrets
	// needed for encrypted calls.
	ErrNotAuthenticated = errors.New("session lacks ssecurity or serviceToken")
)

// APIError is a vendor RPC rejection: a decrypted response whose code is
// not zero.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error code %d", e.Code)
	}
	return fmt.Sprintf("API error code %d: %s", e.Code, e.Message)
}

// APIURL returns the RPC base URL for a region. The home region has no
// region prefix.
func APIURL(region string) (string, error) {
	if !ValidRegion(region) {
		return "", fmt.Errorf("%w: %q", ErrUnknownRegion, region)
	}
	if region == "cn" {
		return "https://api.io.mi.com/app", nil
	}
	return "https://" + region + ".api.io.mi.com/app", nil
}

// ValidRegion reports whether region is one of Regions.
func ValidRegion(region string) bool {
	for _, r := range Regions {
		if r == region {
			return true
		}
	}
	return false
}

// Client makes encrypted RPC calls with an authenticated session. It is
// not safe for concurrent use; run concurrent enumerations with separate
// clients over the same immutable session.
type Client struct {
	state     *auth.ClientState
	fetcher   transport.Fetcher
	logger    log.Logger
	region    string
	sessionID string
	now       func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithFetcher injects the HTTP fetch capability.
func WithFetcher(f transport.Fetcher) ClientOption {
	return func(c *Client) { c.fetcher = f }
}

// WithLogger injects the RPC logger.
func WithLogger(l log.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates an RPC client for one region. The state must hold a
// completed session.
func NewClient(state *auth.ClientState, region string, opts ...ClientOption) (*Client, error) {
	if !ValidRegion(region) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRegion, region)
	}
	if !state.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	c := &Client{
		state:     state,
		fetcher:   transport.NewClient(),
		logger:    log.NoopLogger{},
		region:    region,
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Region returns the region this client talks to.
func (c *Client) Region() string {
	return c.region
}

// rpcEnvelope is the decrypted response shape shared by all endpoints.
type rpcEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// EncryptedCall performs one encrypted RPC. The data argument is the
// endpoint's JSON payload; it travels as the single "data" parameter,
// ciphered and signed. The decrypted result field is unmarshaled into out
// when out is non-nil. A non-zero response code is an *APIError.
func (c *Client) EncryptedCall(ctx context.Context, path, data string, out any) error {
	base, err := APIURL(c.region)
	if err != nil {
		return err
	}
	fullURL := base + path

	nonce, err := signing.GenerateNonce(c.now())
	if err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	signedNonce, err := signing.SignedNonce(c.state.SSecurity, nonce)
	if err != nil {
		return fmt.Errorf("signing nonce: %w", err)
	}

	params, err := signing.EncryptedParams(http.MethodPost, fullURL, c.state.SSecurity, nonce, signedNonce,
		map[string]string{"data": data})
	if err != nil {
		return fmt.Errorf("building encrypted params: %w", err)
	}

	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}

	header := http.Header{}
	header.Set("Accept-Encoding", "identity")
	header.Set("User-Agent", c.state.Agent)
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	header.Set("x-xiaomi-protocal-flag-cli", "PROTOCAL-HTTP2")
	header.Set("MIOT-ENCRYPT-ALGORITHM", "ENCRYPT-RC4")
	header.Set("Cookie", auth.CookieHeader(c.state))

	resp, err := c.fetcher.Fetch(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    fullURL + "?" + query.Encode(),
		Header: header,
	})
	c.logExchange(path, resp, err)
	if err != nil {
		return fmt.Errorf("RPC %s: %w", path, err)
	}
	if !resp.OK() {
		return fmt.Errorf("RPC %s: HTTP %d", path, resp.StatusCode)
	}

	plaintext, err := signing.DecryptPayload(signedNonce, string(resp.Body))
	if err != nil {
		return fmt.Errorf("RPC %s: decrypting response: %w", path, err)
	}

	var envelope rpcEnvelope
	if err := json.Unmarshal([]byte(plaintext), &envelope); err != nil {
		return fmt.Errorf("RPC %s: invalid response JSON: %w", path, err)
	}
	if envelope.Code != 0 {
		return &APIError{Code: envelope.Code, Message: envelope.Message}
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("RPC %s: invalid result JSON: %w", path, err)
		}
	}
	return nil
}

// ValidateSession probes whether the session's tokens are still accepted,
// using the cheap device-count endpoint.
func (c *Client) ValidateSession(ctx context.Context) error {
	return c.EncryptedCall(ctx, "/v2/user/get_device_cnt", `{ "fetch_own": true, "fetch_share": true}`, nil)
}

// logError records a skipped lookup without aborting the aggregation.
func (c *Client) logError(context string, err error) {
	c.logger.Log(log.Event{
		Timestamp: c.now(),
		SessionID: c.sessionID,
		Category:  log.CategoryError,
		Step:      "rpc",
		Error:     &log.ErrorEventData{Message: err.Error(), Context: context},
	})
}

func (c *Client) logExchange(path string, resp *transport.Response, err error) {
	event := log.Event{
		Timestamp: c.now(),
		SessionID: c.sessionID,
		Category:  log.CategoryExchange,
		Step:      "rpc",
		Exchange:  &log.ExchangeEvent{Method: http.MethodPost, URL: path, Encrypted: true},
	}
	if err == nil {
		event.Exchange.Status = resp.StatusCode
	}
	c.logger.Log(event)
}

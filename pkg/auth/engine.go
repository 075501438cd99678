package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zzerding/xiaomi-token-web/pkg/cookiejar"
	"github.com/zzerding/xiaomi-token-web/pkg/log"
	"github.com/zzerding/xiaomi-token-web/pkg/transport"
)

// Vendor account service endpoints.
const (
	accountBase    = "https://account.xiaomi.com"
	loginInitURL   = accountBase + "/pass/serviceLogin?sid=xiaomiio&_json=true"
	loginAuthURL   = accountBase + "/pass/serviceLoginAuth2"
	verifyPhoneAPI = accountBase + "/identity/auth/verifyPhone"
	verifyEmailAPI = accountBase + "/identity/auth/verifyEmail"

	serviceSID  = "xiaomiio"
	stsCallback = "https://sts.api.io.mi.com/sts"
	callbackQS  = "%3Fsid%3Dxiaomiio%26_json%3Dtrue"
)

// jsonSentinel prefixes JSON bodies from the account service and must be
// stripped before parsing.
const jsonSentinel = "&&&START&&&"

// minSecretLen is the threshold below which a returned ssecurity is a
// placeholder, not a real secret. The service echoes a short dummy value
// when verification is still required.
const minSecretLen = 4

// Verification channel flags advertised by the identity service.
const (
	FlagPhone = 4
	FlagEmail = 8
)

// Step names used in errors and log events.
const (
	stepLoginInit     = "login_step1"
	stepCredentials   = "login_step2"
	stepTokenExchange = "login_step3"
	stepIdentityList  = "identity_list"
	stepVerifyTicket  = "verify_ticket"
)

// Engine drives the login state machine over an injected Fetcher.
// It owns its ClientState exclusively and is not safe for concurrent use;
// run independent sessions with independent engines.
type Engine struct {
	state     *ClientState
	fetcher   transport.Fetcher
	logger    log.Logger
	sessionID string
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithFetcher injects the HTTP fetch capability.
func WithFetcher(f transport.Fetcher) Option {
	return func(e *Engine) { e.fetcher = f }
}

// WithLogger injects the flow logger.
func WithLogger(l log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine for a fresh login.
func NewEngine(username, password string, opts ...Option) *Engine {
	return Restore(NewClientState(username, password), opts...)
}

// Restore creates an engine around previously captured state, resuming
// exactly where serialization occurred.
func Restore(state *ClientState, opts ...Option) *Engine {
	e := &Engine{
		state:     state,
		fetcher:   transport.NewClient(),
		logger:    log.NoopLogger{},
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.state.Jar == nil {
		e.state.Jar = cookiejar.New()
		e.state.Jar.ProtectDeviceID(e.state.DeviceID)
	}
	return e
}

// State returns the engine's client state. The caller must not mutate it
// while engine methods are running.
func (e *Engine) State() *ClientState {
	return e.state
}

// Step2Result is the outcome of the credential step.
type Step2Result struct {
	// Authenticated means a valid session secret was captured.
	Authenticated bool

	// Requires2FA means the account demands out-of-band verification.
	Requires2FA bool

	// VerifyURL is the verification entry point when Requires2FA is set.
	VerifyURL string
}

// LoginStep1 fetches the rotating anti-forgery token. A response without
// the token fails this step with ErrSignMissing but still advances the
// machine: the credential step treats the token as optional.
func (e *Engine) LoginStep1(ctx context.Context) error {
	e.state.Jar.Set("sdkVersion", sdkVersionCookie)
	e.state.Jar.Set("deviceId", e.state.DeviceID)

	header := e.baseHeader()
	header.Set("Cookie", "userId="+e.state.Username)

	resp, err := e.fetch(ctx, stepLoginInit, transport.Request{
		Method: http.MethodGet,
		URL:    loginInitURL,
		Header: header,
	})
	if err != nil {
		return &StepError{Step: stepLoginInit, Reason: "request failed", Err: err}
	}

	var body struct {
		Sign string `json:"_sign"`
	}
	if err := parseSentinelJSON(resp.Body, &body); err != nil {
		return &StepError{Step: stepLoginInit, Reason: "unparseable response", Err: err}
	}
	if body.Sign == "" {
		e.transition(StateStep1Done, "no sign token")
		return &StepError{Step: stepLoginInit, Reason: "protocol violation", Err: ErrSignMissing}
	}

	e.state.Sign = body.Sign
	e.transition(StateStep1Done, "")
	return nil
}

// step2Response is the credential endpoint's JSON shape. Numeric fields
// arrive as numbers or strings depending on the account type.
type step2Response struct {
	SSecurity       string     `json:"ssecurity"`
	UserID          flexString `json:"userId"`
	CUserID         string     `json:"cUserId"`
	PassToken       string     `json:"passToken"`
	Location        string     `json:"location"`
	Code            flexString `json:"code"`
	NotificationURL string     `json:"notificationUrl"`
	Desc            string     `json:"desc"`
}

// LoginStep2 posts the hashed credentials. Success requires a session
// secret longer than minSecretLen; a short value is a placeholder for the
// verification branch, never success.
func (e *Engine) LoginStep2(ctx context.Context) (*Step2Result, error) {
	form := url.Values{}
	form.Set("sid", serviceSID)
	form.Set("hash", hashPassword(e.state.Password))
	form.Set("callback", stsCallback)
	form.Set("qs", callbackQS)
	form.Set("user", e.state.Username)
	form.Set("_sign", e.state.Sign)
	form.Set("_json", "true")

	header := e.baseHeader()
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	header.Set("Cookie", CookieHeader(e.state))

	resp, err := e.fetch(ctx, stepCredentials, transport.Request{
		Method: http.MethodPost,
		URL:    loginAuthURL,
		Header: header,
		Body:   []byte(form.Encode()),
	})
	if err != nil {
		return nil, &StepError{Step: stepCredentials, Reason: "request failed", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StepError{Step: stepCredentials, Reason: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	var body step2Response
	if err := parseSentinelJSON(resp.Body, &body); err != nil {
		return nil, &StepError{Step: stepCredentials, Reason: "unparseable response", Err: err}
	}

	if len(body.SSecurity) > minSecretLen {
		e.state.SSecurity = body.SSecurity
		e.state.UserID = string(body.UserID)
		e.state.CUserID = body.CUserID
		e.state.PassToken = body.PassToken
		e.state.Location = body.Location
		e.state.Code = string(body.Code)
		e.transition(StateAuthenticated, "")
		return &Step2Result{Authenticated: true}, nil
	}

	if body.NotificationURL != "" {
		e.state.VerifyURL = body.NotificationURL
		e.transition(StateAwaitingVerification, "verification required")
		return &Step2Result{Requires2FA: true, VerifyURL: body.NotificationURL}, nil
	}

	if body.Desc != "" {
		return nil, &CredentialError{Desc: body.Desc}
	}
	return nil, &StepError{Step: stepCredentials, Reason: "protocol violation", Err: ErrSSecurityMissing}
}

// CheckIdentityOptions discovers which verification channels the account
// offers by rewriting the verification URL's authStart segment to list.
// It never fails: any transport or parse problem falls back to the phone
// channel so the engine always has something to try.
func (e *Engine) CheckIdentityOptions(ctx context.Context) {
	fallback := []int{FlagPhone}
	if e.state.VerifyURL == "" {
		e.state.IdentityOptions = fallback
		return
	}

	listURL := strings.Replace(e.state.VerifyURL, "identity/authStart", "identity/list", 1)
	header := e.baseHeader()
	header.Set("Cookie", CookieHeader(e.state))

	resp, err := e.fetch(ctx, stepIdentityList, transport.Request{
		Method: http.MethodGet,
		URL:    listURL,
		Header: header,
	})
	if err != nil {
		e.state.IdentityOptions = fallback
		return
	}

	if session, ok := e.state.Jar.Get("identity_session"); ok {
		e.state.IdentitySession = session
	}

	var body struct {
		Flag    int   `json:"flag"`
		Options []int `json:"options"`
	}
	if err := parseSentinelJSON(resp.Body, &body); err != nil {
		e.state.IdentityOptions = fallback
		return
	}

	flag := body.Flag
	if flag == 0 {
		flag = FlagPhone
	}
	options := body.Options
	if len(options) == 0 {
		options = []int{flag}
	}
	e.state.IdentityOptions = options
}

// VerifyTicket submits the user's verification ticket against each
// advertised channel in order. On acceptance it follows the returned
// redirect chain collecting cookies, clears the identity session, and
// leaves the machine in StateVerificationSubmitted. The caller must then
// run RetryAfterVerification: the nonce embedded in the final redirect URL
// is not a session secret.
func (e *Engine) VerifyTicket(ctx context.Context, ticket string) error {
	if len(e.state.IdentityOptions) == 0 {
		e.CheckIdentityOptions(ctx)
	}

	for _, flag := range e.state.IdentityOptions {
		var api string
		switch flag {
		case FlagPhone:
			api = verifyPhoneAPI
		case FlagEmail:
			api = verifyEmailAPI
		default:
			continue
		}

		accepted, err := e.submitTicket(ctx, api, flag, ticket)
		if err != nil {
			e.logError(stepVerifyTicket, fmt.Sprintf("channel %d failed", flag), err)
			continue
		}
		if !accepted {
			continue
		}

		e.state.IdentitySession = ""
		e.harvestSessionCookies()
		e.transition(StateVerificationSubmitted, "")
		return nil
	}

	return &StepError{Step: stepVerifyTicket, Reason: "all channels exhausted", Err: ErrTicketRejected}
}

// submitTicket posts the ticket to one channel endpoint. A response code of
// exactly 0 is acceptance; an accepted response with a location triggers the
// cookie-harvesting redirect walk.
func (e *Engine) submitTicket(ctx context.Context, api string, flag int, ticket string) (bool, error) {
	form := url.Values{}
	form.Set("_flag", strconv.Itoa(flag))
	form.Set("ticket", ticket)
	form.Set("trust", "true")
	form.Set("_json", "true")

	cookie := CookieHeader(e.state)
	if e.state.IdentitySession != "" {
		cookie += "; identity_session=" + e.state.IdentitySession
	}

	header := e.baseHeader()
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	header.Set("Cookie", cookie)

	fullURL := fmt.Sprintf("%s?_dc=%d", api, e.now().UnixMilli())
	resp, err := e.fetch(ctx, stepVerifyTicket, transport.Request{
		Method: http.MethodPost,
		URL:    fullURL,
		Header: header,
		Body:   []byte(form.Encode()),
	})
	if err != nil {
		return false, err
	}

	var body struct {
		Code     *int   `json:"code"`
		Location string `json:"location"`
	}
	if err := parseSentinelJSON(resp.Body, &body); err != nil {
		return false, err
	}
	if body.Code == nil || *body.Code != 0 {
		return false, nil
	}

	if body.Location != "" {
		_, _, err := cookiejar.FollowRedirects(ctx, e.fetcher, e.state.Jar, body.Location, func() http.Header {
			h := e.baseHeader()
			h.Set("Cookie", CookieHeader(e.state))
			return h
		})
		if err != nil {
			// The ticket was accepted; a broken redirect chain only
			// means fewer harvested cookies.
			e.logError(stepVerifyTicket, "redirect chain", err)
		}
	}
	return true, nil
}

// harvestSessionCookies promotes identity cookies collected during the
// verification redirect chain into the state fields.
func (e *Engine) harvestSessionCookies() {
	if v, ok := e.state.Jar.Get("userId"); ok {
		e.state.UserID = v
	}
	if v, ok := e.state.Jar.Get("serviceToken"); ok {
		e.state.ServiceToken = v
	}
	if v, ok := e.state.Jar.Get("passToken"); ok {
		e.state.PassToken = v
	}
	if v, ok := e.state.Jar.Get("cUserId"); ok {
		e.state.CUserID = v
	}
}

// RetryAfterVerification repeats the credential step to obtain the
// production session secret. A renewed verification demand here is
// terminal: the state was not maintained across the verification exchange.
func (e *Engine) RetryAfterVerification(ctx context.Context) error {
	if e.state.Sign == "" {
		return &StepError{Step: stepCredentials, Reason: "diagnostic", Err: ErrSignLost}
	}

	result, err := e.LoginStep2(ctx)
	if err != nil {
		return err
	}
	if result.Requires2FA {
		e.transition(StateAwaitingVerification, "verification demanded again")
		return &StepError{Step: stepCredentials, Reason: "terminal", Err: ErrVerificationStateLost}
	}
	if !result.Authenticated {
		return &StepError{Step: stepCredentials, Reason: "protocol violation", Err: ErrSSecurityMissing}
	}
	return nil
}

// LoginStep3 exchanges the captured location for the service token. A 2xx
// response without a serviceToken cookie is a failure, not an exception.
func (e *Engine) LoginStep3(ctx context.Context) error {
	if e.state.Location == "" {
		return &StepError{Step: stepTokenExchange, Reason: "protocol violation", Err: ErrNoLocation}
	}

	header := e.baseHeader()
	header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.fetch(ctx, stepTokenExchange, transport.Request{
		Method: http.MethodGet,
		URL:    e.state.Location,
		Header: header,
	})
	if err != nil {
		return &StepError{Step: stepTokenExchange, Reason: "request failed", Err: err}
	}
	if !resp.OK() {
		return &StepError{Step: stepTokenExchange, Reason: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	token, ok := e.state.Jar.Get("serviceToken")
	if !ok || token == "" {
		return &StepError{Step: stepTokenExchange, Reason: "protocol violation", Err: ErrServiceTokenMissing}
	}
	e.state.ServiceToken = token
	e.transition(StateTokenExchanged, "")
	return nil
}

// LoginResult is the outcome of a full login attempt.
type LoginResult struct {
	// Authenticated means the session is fully usable.
	Authenticated bool

	// Requires2FA means the caller must collect a verification ticket and
	// resume with VerifyTicket + RetryAfterVerification + LoginStep3.
	Requires2FA bool

	// VerifyURL is the verification entry point when Requires2FA is set.
	VerifyURL string
}

// Login runs the full three-step flow. A missing anti-forgery token in
// step 1 is tolerated; everything else surfaces as a typed error.
func (e *Engine) Login(ctx context.Context) (*LoginResult, error) {
	if err := e.LoginStep1(ctx); err != nil {
		if !errors.Is(err, ErrSignMissing) {
			return nil, err
		}
		e.logError(stepLoginInit, "continuing without sign token", err)
	}

	result, err := e.LoginStep2(ctx)
	if err != nil {
		return nil, err
	}
	if result.Requires2FA {
		return &LoginResult{Requires2FA: true, VerifyURL: result.VerifyURL}, nil
	}

	if err := e.LoginStep3(ctx); err != nil {
		return nil, err
	}
	return &LoginResult{Authenticated: true}, nil
}

// baseHeader builds the headers every exchange shares.
func (e *Engine) baseHeader() http.Header {
	h := http.Header{}
	h.Set("User-Agent", e.state.Agent)
	return h
}

// fetch performs one exchange, feeds Set-Cookie headers to the jar, and
// logs the exchange.
func (e *Engine) fetch(ctx context.Context, step string, req transport.Request) (*transport.Response, error) {
	resp, err := e.fetcher.Fetch(ctx, req)

	event := log.Event{
		Timestamp: e.now(),
		SessionID: e.sessionID,
		Category:  log.CategoryExchange,
		Step:      step,
		Exchange:  &log.ExchangeEvent{Method: req.Method, URL: stripQuery(req.URL)},
	}
	if err == nil {
		event.Exchange.Status = resp.StatusCode
	}
	e.logger.Log(event)

	if err != nil {
		return nil, err
	}
	e.state.Jar.UpdateFromHeaders(resp.Header.Values("Set-Cookie"))
	return resp, nil
}

// transition moves the machine to a new state and logs the change.
func (e *Engine) transition(next State, reason string) {
	old := e.state.State
	e.state.State = next
	e.logger.Log(log.Event{
		Timestamp: e.now(),
		SessionID: e.sessionID,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			OldState: old.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	})
}

// logError records a non-fatal error event.
func (e *Engine) logError(step, context string, err error) {
	e.logger.Log(log.Event{
		Timestamp: e.now(),
		SessionID: e.sessionID,
		Category:  log.CategoryError,
		Step:      step,
		Error:     &log.ErrorEventData{Message: err.Error(), Context: context},
	})
}

// parseSentinelJSON strips the service's sentinel prefix and parses JSON.
func parseSentinelJSON(body []byte, v any) error {
	body = bytes.TrimSpace(body)
	if idx := bytes.Index(body, []byte(jsonSentinel)); idx >= 0 {
		body = body[idx+len(jsonSentinel):]
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// stripQuery removes the query string from a URL for logging; vendor query
// strings carry nonces and tickets.
func stripQuery(rawURL string) string {
	cut, _, _ := strings.Cut(rawURL, "?")
	return cut
}

// flexString accepts JSON strings and numbers; the account service is
// inconsistent about which it sends for ids and codes.
type flexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

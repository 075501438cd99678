package auth

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zzerding/xiaomi-token-web/pkg/cookiejar"
)

// State identifies the position in the login flow.
type State uint8

const (
	// StateFresh is the initial state before any exchange.
	StateFresh State = iota

	// StateStep1Done means the anti-forgery token has been fetched.
	StateStep1Done

	// StateAwaitingVerification means the account requires an out-of-band
	// verification ticket before a session secret is issued.
	StateAwaitingVerification

	// StateVerificationSubmitted means a ticket was accepted and the
	// credential step must be repeated for the production secret.
	StateVerificationSubmitted

	// StateAuthenticated means a valid session secret has been issued.
	StateAuthenticated

	// StateTokenExchanged means the service token has been captured and
	// the session is fully usable.
	StateTokenExchanged
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateFresh:
		return "FRESH"
	case StateStep1Done:
		return "STEP1_DONE"
	case StateAwaitingVerification:
		return "AWAITING_VERIFICATION"
	case StateVerificationSubmitted:
		return "VERIFICATION_SUBMITTED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateTokenExchanged:
		return "TOKEN_EXCHANGED"
	default:
		return "UNKNOWN"
	}
}

// ClientState is the complete, serializable snapshot of an in-flight or
// completed login session. It is mutated by exactly one Engine at a time.
type ClientState struct {
	// Credentials.
	Username string
	Password string

	// Device identity presented to the vendor service.
	Agent    string
	DeviceID string

	// Cookie jar accumulated across all exchanges.
	Jar *cookiejar.Jar

	// Session secrets captured during the flow.
	Sign         string
	SSecurity    string
	UserID       string
	CUserID      string
	PassToken    string
	Location     string
	Code         string
	ServiceToken string

	// Out-of-band verification artifacts.
	VerifyURL       string
	IdentitySession string
	IdentityOptions []int

	// Machine state.
	State State
}

// NewClientState creates a fresh state with a generated device identity.
func NewClientState(username, password string) *ClientState {
	deviceID := randomDeviceID()
	jar := cookiejar.New()
	jar.ProtectDeviceID(deviceID)
	return &ClientState{
		Username: username,
		Password: password,
		Agent:    randomAgent(),
		DeviceID: deviceID,
		Jar:      jar,
		State:    StateFresh,
	}
}

// Authenticated reports whether the session holds both secrets needed for
// encrypted calls. A session is either fully authenticated or not:
// ssecurity without serviceToken (or the reverse) never counts.
func (s *ClientState) Authenticated() bool {
	return s.SSecurity != "" && s.ServiceToken != ""
}

// hashPassword produces the uppercase hex MD5 digest the credential
// endpoint expects. The digest is dictated by the vendor protocol.
func hashPassword(password string) string {
	sum := md5.Sum([]byte(password))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// RandomAgent builds a user-agent string in the shape the vendor app uses.
// Sessions restored from an export need a fresh one since the agent is not
// part of the export format.
func RandomAgent() string {
	return randomAgent()
}

// randomAgent builds the user-agent string: 18 random lowercase letters, a
// dash, 13 random letters from A-E, then the fixed app identity.
func randomAgent() string {
	return fmt.Sprintf("%s-%s APP/com.xiaomi.mihome APPV/10.5.201",
		randomLetters(18, 'a', 26), randomLetters(13, 'A', 5))
}

// randomDeviceID generates the 6-letter local device id.
func randomDeviceID() string {
	return randomLetters(6, 'a', 26)
}

// randomLetters returns n letters drawn uniformly from [base, base+span).
func randomLetters(n int, base byte, span byte) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	for i, b := range buf {
		buf[i] = base + b%span
	}
	return string(buf)
}

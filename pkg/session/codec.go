package session

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/zzerding/xiaomi-token-web/pkg/auth"
	"github.com/zzerding/xiaomi-token-web/pkg/cookiejar"
)

// Record is the serialized form of a login session. Every field of the
// client state is represented so that suspend and resume at any point of
// the flow is lossless, including mid-verification sessions where the
// sign token and identity artifacts must survive the round trip.
type Record struct {
	Username string `cbor:"1,keyasint" json:"username"`
	Password string `cbor:"2,keyasint" json:"password"`
	Agent    string `cbor:"3,keyasint" json:"agent"`
	DeviceID string `cbor:"4,keyasint" json:"deviceId"`

	Cookies map[string]string `cbor:"5,keyasint" json:"cookies"`

	Sign         string `cbor:"6,keyasint" json:"sign,omitempty"`
	SSecurity    string `cbor:"7,keyasint" json:"ssecurity,omitempty"`
	UserID       string `cbor:"8,keyasint" json:"userId,omitempty"`
	CUserID      string `cbor:"9,keyasint" json:"cUserId,omitempty"`
	PassToken    string `cbor:"10,keyasint" json:"passToken,omitempty"`
	Location     string `cbor:"11,keyasint" json:"location,omitempty"`
	Code         string `cbor:"12,keyasint" json:"code,omitempty"`
	ServiceToken string `cbor:"13,keyasint" json:"serviceToken,omitempty"`

	VerifyURL       string `cbor:"14,keyasint" json:"verifyUrl,omitempty"`
	IdentitySession string `cbor:"15,keyasint" json:"identitySession,omitempty"`
	IdentityOptions []int  `cbor:"16,keyasint" json:"identityOptions,omitempty"`

	State uint8 `cbor:"17,keyasint" json:"state"`
}

// Snapshot captures a client state into a Record.
func Snapshot(s *auth.ClientState) *Record {
	r := &Record{
		Username:        s.Username,
		Password:        s.Password,
		Agent:           s.Agent,
		DeviceID:        s.DeviceID,
		Cookies:         map[string]string{},
		Sign:            s.Sign,
		SSecurity:       s.SSecurity,
		UserID:          s.UserID,
		CUserID:         s.CUserID,
		PassToken:       s.PassToken,
		Location:        s.Location,
		Code:            s.Code,
		ServiceToken:    s.ServiceToken,
		VerifyURL:       s.VerifyURL,
		IdentitySession: s.IdentitySession,
		IdentityOptions: s.IdentityOptions,
		State:           uint8(s.State),
	}
	if s.Jar != nil {
		r.Cookies = s.Jar.All()
	}
	return r
}

// Restore rebuilds a client state from a Record. The jar is reconstructed
// with the device id guard re-armed.
func (r *Record) Restore() *auth.ClientState {
	jar := cookiejar.FromMap(r.Cookies)
	jar.ProtectDeviceID(r.DeviceID)
	return &auth.ClientState{
		Username:        r.Username,
		Password:        r.Password,
		Agent:           r.Agent,
		DeviceID:        r.DeviceID,
		Jar:             jar,
		Sign:            r.Sign,
		SSecurity:       r.SSecurity,
		UserID:          r.UserID,
		CUserID:         r.CUserID,
		PassToken:       r.PassToken,
		Location:        r.Location,
		Code:            r.Code,
		ServiceToken:    r.ServiceToken,
		VerifyURL:       r.VerifyURL,
		IdentitySession: r.IdentitySession,
		IdentityOptions: r.IdentityOptions,
		State:           auth.State(r.State),
	}
}

// cbor modes shared by all encode and decode calls.
var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// MarshalState serializes a client state to compact CBOR.
func MarshalState(s *auth.ClientState) ([]byte, error) {
	data, err := cborEnc.Marshal(Snapshot(s))
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	return data, nil
}

// UnmarshalState rebuilds a client state from CBOR.
func UnmarshalState(data []byte) (*auth.ClientState, error) {
	var r Record
	if err := cborDec.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return r.Restore(), nil
}

// MarshalStateJSON serializes a client state to JSON, for transports that
// cannot carry binary payloads.
func MarshalStateJSON(s *auth.ClientState) ([]byte, error) {
	data, err := json.Marshal(Snapshot(s))
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	return data, nil
}

// UnmarshalStateJSON rebuilds a client state from JSON.
func UnmarshalStateJSON(data []byte) (*auth.ClientState, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return r.Restore(), nil
}

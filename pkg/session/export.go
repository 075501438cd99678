package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zzerding/xiaomi-token-web/pkg/auth"
	"github.com/zzerding/xiaomi-token-web/pkg/cookiejar"
)

// ErrNotAuthenticated is returned when exporting a session that does not
// hold both the session secret and the service token.
var ErrNotAuthenticated = errors.New("session is not fully authenticated")

// Data is the stable export format for a completed session. It holds
// everything needed to make encrypted RPC calls later without logging in
// again, as long as the vendor keeps the token alive.
type Data struct {
	Username     string            `json:"username"`
	UserID       string            `json:"userId"`
	ServiceToken string            `json:"serviceToken"`
	SSecurity    string            `json:"ssecurity"`
	Cookies      map[string]string `json:"cookies"`
	DeviceID     string            `json:"deviceId"`
	SavedAt      string            `json:"savedAt"`
}

// Export captures an authenticated session. The password is deliberately
// absent from the export.
func Export(s *auth.ClientState, now time.Time) (*Data, error) {
	if !s.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	cookies := map[string]string{}
	if s.Jar != nil {
		cookies = s.Jar.All()
	}
	return &Data{
		Username:     s.Username,
		UserID:       s.UserID,
		ServiceToken: s.ServiceToken,
		SSecurity:    s.SSecurity,
		Cookies:      cookies,
		DeviceID:     s.DeviceID,
		SavedAt:      now.UTC().Format(time.RFC3339),
	}, nil
}

// Load rebuilds a usable client state from exported data. The identity
// cookies are re-seeded into the jar so the state is immediately ready for
// encrypted calls.
func Load(d *Data) (*auth.ClientState, error) {
	if d.ServiceToken == "" || d.SSecurity == "" {
		return nil, ErrNotAuthenticated
	}

	jar := cookiejar.FromMap(d.Cookies)
	jar.ProtectDeviceID(d.DeviceID)
	jar.Set("userId", d.UserID)
	jar.Set("serviceToken", d.ServiceToken)
	jar.Set("yetAnotherServiceToken", d.ServiceToken)

	return &auth.ClientState{
		Username:     d.Username,
		Agent:        auth.RandomAgent(),
		UserID:       d.UserID,
		ServiceToken: d.ServiceToken,
		SSecurity:    d.SSecurity,
		DeviceID:     d.DeviceID,
		Jar:          jar,
		State:        auth.StateTokenExchanged,
	}, nil
}

// EncodeData serializes exported session data as indented JSON, the shape
// written to token files.
func EncodeData(d *Data) ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding session data: %w", err)
	}
	return data, nil
}

// DecodeData parses exported session data.
func DecodeData(raw []byte) (*Data, error) {
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decoding session data: %w", err)
	}
	return &d, nil
}

package catalog

// Device is one entry of the device inventory. Field names follow the
// vendor's RPC vocabulary so exports are directly comparable with the
// vendor app's own output.
type Device struct {
	DID      string         `json:"did"`
	Name     string         `json:"name"`
	Model    string         `json:"model"`
	Token    string         `json:"token"`
	IP       string         `json:"ip,omitempty"`
	MAC      string         `json:"mac,omitempty"`
	SSID     string         `json:"ssid,omitempty"`
	BSSID    string         `json:"bssid,omitempty"`
	RSSI     int            `json:"rssi,omitempty"`
	IsOnline bool           `json:"isOnline"`
	Desc     string         `json:"desc,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// Home identifies one home to enumerate: its id and the user id of its
// owner. Shared homes carry the sharing user's id, not the session's.
type Home struct {
	ID    string `json:"home_id"`
	Owner string `json:"home_owner"`
	Name  string `json:"name,omitempty"`
}

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// homespayload is the fixed request body of the home listing endpoint.
const homesPayload = `{"fg": true, "fetch_share": true, "fetch_share_dev": true, "limit": 300, "app_ver": 7}`

// deviceCountPayload is the fixed request body of the device-count
// endpoint, which doubles as the shared-home source.
const deviceCountPayload = `{ "fetch_own": true, "fetch_share": true}`

// flexID tolerates the vendor sending ids as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// OwnedHomes lists the homes the session's user owns.
func (c *Client) OwnedHomes(ctx context.Context) ([]Home, error) {
	var result struct {
		Homelist []struct {
			ID   flexID `json:"id"`
			Name string `json:"name"`
		} `json:"homelist"`
	}
	if err := c.EncryptedCall(ctx, "/v2/homeroom/gethome", homesPayload, &result); err != nil {
		return nil, fmt.Errorf("listing homes: %w", err)
	}

	homes := make([]Home, 0, len(result.Homelist))
	for _, h := range result.Homelist {
		homes = append(homes, Home{ID: string(h.ID), Owner: c.state.UserID, Name: h.Name})
	}
	return homes, nil
}

// SharedHomes lists homes other users share with the session's user. The
// shared-home owner id comes from the share entry, not the session.
func (c *Client) SharedHomes(ctx context.Context) ([]Home, error) {
	var result struct {
		Share struct {
			ShareFamily []struct {
				HomeID    flexID `json:"home_id"`
				HomeOwner flexID `json:"home_owner"`
			} `json:"share_family"`
		} `json:"share"`
	}
	if err := c.EncryptedCall(ctx, "/v2/user/get_device_cnt", deviceCountPayload, &result); err != nil {
		return nil, fmt.Errorf("listing shared homes: %w", err)
	}

	homes := make([]Home, 0, len(result.Share.ShareFamily))
	for _, h := range result.Share.ShareFamily {
		homes = append(homes, Home{ID: string(h.HomeID), Owner: string(h.HomeOwner)})
	}
	return homes, nil
}

// deviceInfo is the raw device entry of the home_device_list endpoint.
type deviceInfo struct {
	DID      string         `json:"did"`
	Name     string         `json:"name"`
	Model    string         `json:"model"`
	Token    string         `json:"token"`
	LocalIP  string         `json:"localip"`
	MAC      string         `json:"mac"`
	SSID     string         `json:"ssid"`
	BSSID    string         `json:"bssid"`
	RSSI     int            `json:"rssi"`
	IsOnline bool           `json:"isOnline"`
	Desc     string         `json:"desc"`
	Extra    map[string]any `json:"extra"`
}

// HomeDevices lists the devices of one home, resolving the beacon key for
// Bluetooth devices. Progress is reported per beacon-key lookup since the
// lookups dominate latency on Bluetooth-heavy homes.
func (c *Client) HomeDevices(ctx context.Context, home Home, sink Sink) ([]Device, error) {
	payload := fmt.Sprintf(`{"home_owner": %s, "home_id": %s, "limit": 200, "get_split_device": true, "support_smart_home": true}`,
		home.Owner, home.ID)

	var result struct {
		DeviceInfo []deviceInfo `json:"device_info"`
	}
	if err := c.EncryptedCall(ctx, "/v2/home/home_device_list", payload, &result); err != nil {
		return nil, fmt.Errorf("listing devices of home %s: %w", home.ID, err)
	}
	if sink == nil {
		sink = NopSink{}
	}

	devices := make([]Device, 0, len(result.DeviceInfo))
	for _, d := range result.DeviceInfo {
		device := Device{
			DID:      d.DID,
			Name:     d.Name,
			Model:    d.Model,
			Token:    d.Token,
			IP:       d.LocalIP,
			MAC:      d.MAC,
			SSID:     d.SSID,
			BSSID:    d.BSSID,
			RSSI:     d.RSSI,
			IsOnline: d.IsOnline,
			Desc:     d.Desc,
			Extra:    d.Extra,
		}

		if strings.Contains(d.DID, "blt") {
			sink.Report(Progress{
				Message:    fmt.Sprintf("Fetching BLE key for %s...", d.Name),
				Step:       StepBLEKey,
				DeviceName: d.Name,
			})
			if key, err := c.BeaconKey(ctx, d.DID); err == nil && key.Key != "" {
				if device.Extra == nil {
					device.Extra = map[string]any{}
				}
				device.Extra["ble_key"] = key.Key
				if key.Block4 != "" {
					device.Extra["ble_key_block4"] = key.Block4
				}
			}
		}

		devices = append(devices, device)
	}
	return devices, nil
}

// BLEKey is the beacon key material of a Bluetooth device.
type BLEKey struct {
	Key    string `json:"beaconkey"`
	Block4 string `json:"beaconkey_block4"`
}

// BeaconKey fetches the BLE beacon key of a Bluetooth device.
func (c *Client) BeaconKey(ctx context.Context, did string) (BLEKey, error) {
	payload := fmt.Sprintf(`{"did":"%s","pdid":1}`, did)

	var key BLEKey
	if err := c.EncryptedCall(ctx, "/v2/device/blt_get_beaconkey", payload, &key); err != nil {
		return BLEKey{}, fmt.Errorf("beacon key for %s: %w", did, err)
	}
	return key, nil
}

// Devices aggregates the full inventory: owned homes first, then shared
// homes, then each home's devices in that order. Every found device is
// streamed through the sink before the next lookup; a failing home is
// skipped so one broken share does not hide the rest of the inventory.
func (c *Client) Devices(ctx context.Context, sink Sink) ([]Device, error) {
	if sink == nil {
		sink = NopSink{}
	}

	sink.Report(Progress{Message: "Getting homes...", Step: StepHomes})
	homes, err := c.OwnedHomes(ctx)
	if err != nil {
		return nil, err
	}

	sink.Report(Progress{Message: "Checking shared homes...", Step: StepShared})
	shared, err := c.SharedHomes(ctx)
	if err != nil {
		return nil, err
	}
	homes = append(homes, shared...)

	sink.Report(Progress{
		Message:    fmt.Sprintf("Found %d home(s)", len(homes)),
		Step:       StepHomesComplete,
		TotalHomes: len(homes),
	})
	if len(homes) == 0 {
		return []Device{}, nil
	}

	var all []Device
	for i, home := range homes {
		label := ""
		if home.Name != "" {
			label = fmt.Sprintf(" (%s)", home.Name)
		}
		sink.Report(Progress{
			Message:     fmt.Sprintf("Getting devices from home %d/%d%s...", i+1, len(homes), label),
			Step:        StepDevices,
			CurrentHome: i + 1,
			TotalHomes:  len(homes),
		})

		devices, err := c.HomeDevices(ctx, home, sink)
		if err != nil {
			c.logError(fmt.Sprintf("home %s", home.ID), err)
			continue
		}
		for _, device := range devices {
			all = append(all, device)
			d := device
			sink.Report(Progress{
				Message:      fmt.Sprintf("Found device: %s", d.Name),
				Step:         StepDeviceFound,
				Device:       &d,
				TotalDevices: len(all),
			})
		}
	}
	return all, nil
}

package catalog

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzerding/xiaomi-token-web/pkg/auth"
	"github.com/zzerding/xiaomi-token-web/pkg/signing"
	"github.com/zzerding/xiaomi-token-web/pkg/transport"
)

const testSecret = "MDEyMzQ1Njc4OWFiY2RlZg=="

func testState() *auth.ClientState {
	s := auth.NewClientState("alice", "pw")
	s.SSecurity = testSecret
	s.UserID = "42"
	s.ServiceToken = "tok123"
	return s
}

// fakeRPC emulates the encrypted RPC surface: it decrypts the request's
// data parameter, dispatches on path, and ciphers the handler's response
// the way the production endpoints do.
type fakeRPC struct {
	t *testing.T

	// handlers maps RPC path to a response builder taking the decrypted
	// data payload.
	handlers map[string]func(data string) string

	// lastHeader records the most recent request headers.
	lastHeader map[string]string

	calls []string
}

func newFakeRPC(t *testing.T) *fakeRPC {
	return &fakeRPC{t: t, handlers: make(map[string]func(string) string)}
}

func (f *fakeRPC) handle(path string, fn func(data string) string) {
	f.handlers[path] = fn
}

func (f *fakeRPC) Fetch(ctx context.Context, req transport.Request) (*transport.Response, error) {
	u, err := url.Parse(req.URL)
	require.NoError(f.t, err)

	path := strings.TrimPrefix(u.Path, "/app")
	f.calls = append(f.calls, path)
	f.lastHeader = map[string]string{}
	for k := range req.Header {
		f.lastHeader[k] = req.Header.Get(k)
	}

	fn, ok := f.handlers[path]
	if !ok {
		f.t.Fatalf("unexpected RPC: %s", path)
	}

	query := u.Query()
	nonce := query.Get("_nonce")
	require.NotEmpty(f.t, nonce, "every RPC must carry a nonce")
	require.Equal(f.t, testSecret, query.Get("ssecurity"))
	require.NotEmpty(f.t, query.Get("signature"))

	signedNonce, err := signing.SignedNonce(testSecret, nonce)
	require.NoError(f.t, err)

	data, err := signing.DecryptPayload(signedNonce, query.Get("data"))
	require.NoError(f.t, err)

	body, err := signing.EncryptPayload(signedNonce, fn(data))
	require.NoError(f.t, err)

	return &transport.Response{StatusCode: 200, Body: []byte(body)}, nil
}

func TestAPIURL(t *testing.T) {
	tests := []struct {
		region string
		want   string
	}{
		{"cn", "https://api.io.mi.com/app"},
		{"de", "https://de.api.io.mi.com/app"},
		{"sg", "https://sg.api.io.mi.com/app"},
	}
	for _, tt := range tests {
		got, err := APIURL(tt.region)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := APIURL("xx")
	assert.ErrorIs(t, err, ErrUnknownRegion)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(testState(), "atlantis")
	assert.ErrorIs(t, err, ErrUnknownRegion)

	partial := auth.NewClientState("alice", "pw")
	partial.SSecurity = testSecret
	_, err = NewClient(partial, "cn")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestEncryptedCallHeaders(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.handle("/v2/user/get_device_cnt", func(string) string {
		return `{"code":0}`
	})

	c, err := NewClient(testState(), "de", WithFetcher(rpc))
	require.NoError(t, err)
	require.NoError(t, c.ValidateSession(context.Background()))

	assert.Equal(t, "identity", rpc.lastHeader["Accept-Encoding"])
	assert.Equal(t, "PROTOCAL-HTTP2", rpc.lastHeader["X-Xiaomi-Protocal-Flag-Cli"])
	assert.Equal(t, "ENCRYPT-RC4", rpc.lastHeader["Miot-Encrypt-Algorithm"])
	assert.Contains(t, rpc.lastHeader["Cookie"], "serviceToken=tok123")
	assert.Contains(t, rpc.lastHeader["Cookie"], "yetAnotherServiceToken=tok123")
	assert.Contains(t, rpc.lastHeader["Cookie"], "userId=42")
}

func TestEncryptedCallAPIError(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.handle("/v2/user/get_device_cnt", func(string) string {
		return `{"code":-8,"message":"auth err"}`
	})

	c, err := NewClient(testState(), "cn", WithFetcher(rpc))
	require.NoError(t, err)

	err = c.ValidateSession(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, -8, apiErr.Code)
	assert.Equal(t, "auth err", apiErr.Message)
}

func TestDevicesAggregation(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.handle("/v2/homeroom/gethome", func(data string) string {
		assert.Contains(t, data, `"fetch_share_dev": true`)
		return `{"code":0,"result":{"homelist":[{"id":1,"name":"Main"}]}}`
	})
	rpc.handle("/v2/user/get_device_cnt", func(string) string {
		return `{"code":0,"result":{"share":{"share_family":[{"home_id":2,"home_owner":99}]}}}`
	})
	rpc.handle("/v2/home/home_device_list", func(data string) string {
		if strings.Contains(data, `"home_id": 1`) {
			assert.Contains(t, data, `"home_owner": 42`, "owned homes belong to the session user")
			return `{"code":0,"result":{"device_info":[
				{"did":"1001","name":"Lamp","model":"yeelink.light","token":"t1","localip":"10.0.0.2","isOnline":true},
				{"did":"1002","name":"Vacuum","model":"roborock.s5","token":"t2","isOnline":false}]}}`
		}
		assert.Contains(t, data, `"home_owner": 99`, "shared homes belong to the sharing user")
		return `{"code":0,"result":{"device_info":[
			{"did":"2001","name":"Plug","model":"chuangmi.plug","token":"t3","isOnline":true}]}}`
	})

	c, err := NewClient(testState(), "cn", WithFetcher(rpc))
	require.NoError(t, err)

	var events []Progress
	devices, err := c.Devices(context.Background(), SinkFunc(func(p Progress) {
		events = append(events, p)
	}))
	require.NoError(t, err)

	require.Len(t, devices, 3)
	assert.Equal(t, []string{"Lamp", "Vacuum", "Plug"}, deviceNames(devices),
		"devices must arrive in home order")
	assert.Equal(t, "10.0.0.2", devices[0].IP)

	var found []string
	totalHomes := 0
	for _, e := range events {
		if e.Step == StepDeviceFound {
			found = append(found, e.Device.Name)
		}
		if e.Step == StepHomesComplete {
			totalHomes = e.TotalHomes
		}
	}
	assert.Equal(t, []string{"Lamp", "Vacuum", "Plug"}, found,
		"one progress event per device, in discovery order")
	assert.Equal(t, 2, totalHomes)
}

func TestDevicesEmptyInventory(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.handle("/v2/homeroom/gethome", func(string) string {
		return `{"code":0,"result":{"homelist":[]}}`
	})
	rpc.handle("/v2/user/get_device_cnt", func(string) string {
		return `{"code":0,"result":{}}`
	})

	c, err := NewClient(testState(), "cn", WithFetcher(rpc))
	require.NoError(t, err)

	devices, err := c.Devices(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, devices)
	assert.NotContains(t, rpc.calls, "/v2/home/home_device_list")
}

func TestBluetoothDeviceGetsBeaconKey(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.handle("/v2/home/home_device_list", func(string) string {
		return `{"code":0,"result":{"device_info":[
			{"did":"blt.4.abc123","name":"Sensor","model":"lumi.sensor","token":"t1","isOnline":true}]}}`
	})
	rpc.handle("/v2/device/blt_get_beaconkey", func(data string) string {
		assert.Contains(t, data, `"did":"blt.4.abc123"`)
		return `{"code":0,"result":{"beaconkey":"bk99","beaconkey_block4":"b4"}}`
	})

	c, err := NewClient(testState(), "cn", WithFetcher(rpc))
	require.NoError(t, err)

	devices, err := c.HomeDevices(context.Background(), Home{ID: "1", Owner: "42"}, nil)
	require.NoError(t, err)

	require.Len(t, devices, 1)
	assert.Equal(t, "bk99", devices[0].Extra["ble_key"])
	assert.Equal(t, "b4", devices[0].Extra["ble_key_block4"])
}

func deviceNames(devices []Device) []string {
	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name
	}
	return names
}

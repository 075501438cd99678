package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzerding/xiaomi-token-web/pkg/auth"
	"github.com/zzerding/xiaomi-token-web/pkg/signing"
	"github.com/zzerding/xiaomi-token-web/pkg/transport"
)

const deviceSecret = "MDEyMzQ1Njc4OWFiY2RlZg=="

// encReply ciphers an RPC response body with the signed nonce of the
// incoming request, the way the production endpoints answer.
func encReply(t *testing.T, req transport.Request, body string) *transport.Response {
	t.Helper()
	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	nonce := u.Query().Get("_nonce")
	require.NotEmpty(t, nonce, "every RPC must carry a nonce")

	signedNonce, err := signing.SignedNonce(deviceSecret, nonce)
	require.NoError(t, err)
	enc, err := signing.EncryptPayload(signedNonce, body)
	require.NoError(t, err)
	return textResponse(200, enc)
}

// cloudService scripts the encrypted cloud API for one home with two
// devices and no shared homes.
func cloudService(t *testing.T) *scriptedFetcher {
	f := newScriptedFetcher(t)
	f.handle("POST", "api.io.mi.com/app/v2/homeroom/gethome", func(req transport.Request) *transport.Response {
		return encReply(t, req, `{"code":0,"result":{"homelist":[{"id":1,"name":"Main"}]}}`)
	})
	f.handle("POST", "api.io.mi.com/app/v2/user/get_device_cnt", func(req transport.Request) *transport.Response {
		return encReply(t, req, `{"code":0,"result":{}}`)
	})
	f.handle("POST", "api.io.mi.com/app/v2/home/home_device_list", func(req transport.Request) *transport.Response {
		return encReply(t, req, `{"code":0,"result":{"device_info":[
			{"did":"1001","name":"Lamp","model":"yeelink.light","token":"t1","isOnline":true},
			{"did":"1002","name":"Vacuum","model":"roborock.s5","token":"t2","isOnline":false}]}}`)
	})
	return f
}

// seedDeviceSession stores an authenticated session and returns a devices
// API bound to the same store and fetcher.
func seedDeviceSession(t *testing.T, store *Store, fetcher transport.Fetcher) (*DevicesAPI, string) {
	t.Helper()
	sessions := NewSessionsAPI(store, fetcher, nil)

	state := auth.NewClientState("alice", "pw")
	state.SSecurity = deviceSecret
	state.UserID = "42"
	state.ServiceToken = "tok123"

	const id = "f2a1c0de-0000-0000-0000-000000000001"
	require.NoError(t, sessions.saveState(id, state))

	return NewDevicesAPI(sessions, store, fetcher, nil), id
}

// backdateSession pushes a stored session's updated_at into the past.
func backdateSession(t *testing.T, store *Store, id string, age time.Duration) {
	t.Helper()
	_, err := store.db.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-age), id)
	require.NoError(t, err)
}

func TestHandleListReturnsInventory(t *testing.T) {
	store := newTestStore(t)
	devices, id := seedDeviceSession(t, store, cloudService(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices?session_id="+id, nil)
	rec := httptest.NewRecorder()
	devices.HandleList(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DeviceListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Devices, 2)
	assert.Equal(t, "Lamp", resp.Devices[0].Name)
	assert.Equal(t, "Vacuum", resp.Devices[1].Name)
}

func TestHandleListUnknownSession(t *testing.T) {
	store := newTestStore(t)
	devices := NewDevicesAPI(NewSessionsAPI(store, newScriptedFetcher(t), nil), store, newScriptedFetcher(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices?session_id=nope", nil)
	rec := httptest.NewRecorder()
	devices.HandleList(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// streamFrames decodes the data lines of an SSE response body.
func streamFrames(t *testing.T, body string) []streamEvent {
	t.Helper()
	var frames []streamEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev streamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		frames = append(frames, ev)
	}
	return frames
}

func TestHandleStreamEmitsProgressThenComplete(t *testing.T) {
	store := newTestStore(t)
	devices, id := seedDeviceSession(t, store, cloudService(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/stream?session_id="+id, nil)
	rec := httptest.NewRecorder()
	devices.HandleStream(rec, req)

	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := streamFrames(t, rec.Body.String())
	require.NotEmpty(t, frames)

	last := frames[len(frames)-1]
	assert.Equal(t, "complete", last.Type)
	assert.Equal(t, 2, last.Total)
	require.Len(t, last.Devices, 2)
	assert.Equal(t, "Lamp", last.Devices[0].Name)

	var found []string
	for _, f := range frames[:len(frames)-1] {
		require.Equal(t, "progress", f.Type, "only progress frames precede the terminal one")
		require.NotNil(t, f.Progress)
		if f.Progress.Device != nil {
			found = append(found, f.Progress.Device.Name)
		}
	}
	assert.Equal(t, []string{"Lamp", "Vacuum"}, found,
		"one frame per device, in discovery order")
}

func TestHandleStreamUnknownSessionEmitsError(t *testing.T) {
	store := newTestStore(t)
	devices := NewDevicesAPI(NewSessionsAPI(store, newScriptedFetcher(t), nil), store, newScriptedFetcher(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/stream?session_id=nope", nil)
	rec := httptest.NewRecorder()
	devices.HandleStream(rec, req)

	frames := streamFrames(t, rec.Body.String())
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0].Type)
	assert.NotEmpty(t, frames[0].Error)
}

func TestHandleValidate(t *testing.T) {
	store := newTestStore(t)
	devices, id := seedDeviceSession(t, store, cloudService(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+id+"/validate", nil)
	rec := httptest.NewRecorder()
	devices.HandleValidate(rec, req, id)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ValidateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Valid)

	rec = httptest.NewRecorder()
	devices.HandleValidate(rec, req, "nope")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Valid)
}

func TestStaleSessionIsProbedOnce(t *testing.T) {
	store := newTestStore(t)
	fetcher := cloudService(t)

	// Every get_device_cnt exchange is counted: the aggregation's shared-home
	// lookup accounts for one per extraction, the staleness probe for any
	// beyond that.
	countCalls := 0
	fetcher.handle("POST", "api.io.mi.com/app/v2/user/get_device_cnt", func(req transport.Request) *transport.Response {
		countCalls++
		return encReply(t, req, `{"code":0,"result":{}}`)
	})

	devices, id := seedDeviceSession(t, store, fetcher)
	backdateSession(t, store, id, 2*time.Hour)

	list := func() {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/devices?session_id="+id, nil)
		rec := httptest.NewRecorder()
		devices.HandleList(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	list()
	assert.Equal(t, 2, countCalls, "stale session: one probe plus the shared-home lookup")

	stored, err := store.Get(id)
	require.NoError(t, err)
	assert.Less(t, time.Since(stored.UpdatedAt), staleAfter,
		"successful probe refreshes the timestamp")

	list()
	assert.Equal(t, 3, countCalls, "refreshed session skips the probe")
}

func TestFreshSessionSkipsProbe(t *testing.T) {
	store := newTestStore(t)
	fetcher := cloudService(t)

	countCalls := 0
	fetcher.handle("POST", "api.io.mi.com/app/v2/user/get_device_cnt", func(req transport.Request) *transport.Response {
		countCalls++
		return encReply(t, req, `{"code":0,"result":{}}`)
	})

	devices, id := seedDeviceSession(t, store, fetcher)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices?session_id="+id, nil)
	rec := httptest.NewRecorder()
	devices.HandleList(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, countCalls, "only the shared-home lookup, no probe")
}

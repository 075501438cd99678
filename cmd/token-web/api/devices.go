package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zzerding/xiaomi-token-web/pkg/catalog"
	"github.com/zzerding/xiaomi-token-web/pkg/log"
	"github.com/zzerding/xiaomi-token-web/pkg/transport"
)

// staleAfter is how old a stored session may be before device extraction
// re-validates it against the cloud first.
const staleAfter = time.Hour

// DevicesAPI handles device extraction endpoints, including the streaming
// variants.
type DevicesAPI struct {
	sessions *SessionsAPI
	store    *Store
	fetcher  transport.Fetcher
	logger   log.Logger
	upgrader websocket.Upgrader
}

// NewDevicesAPI creates a new devices API handler.
func NewDevicesAPI(sessions *SessionsAPI, store *Store, fetcher transport.Fetcher, logger log.Logger) *DevicesAPI {
	if fetcher == nil {
		fetcher = transport.NewClient()
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &DevicesAPI{
		sessions: sessions,
		store:    store,
		fetcher:  fetcher,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOrigin,
		},
	}
}

// sameOrigin accepts WebSocket upgrades from the host serving the UI.
// Requests without an Origin header (non-browser clients) are accepted.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// client builds a catalog client for a stored session, re-validating
// sessions that have been idle longer than staleAfter.
func (a *DevicesAPI) client(req *http.Request, id string) (*catalog.Client, error) {
	if id == "" {
		id = req.URL.Query().Get("session_id")
	}
	if id == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	region := req.URL.Query().Get("region")
	if region == "" {
		region = "cn"
	}

	stored, err := a.store.Get(id)
	if err != nil {
		return nil, err
	}
	state, err := a.sessions.loadState(id)
	if err != nil {
		return nil, err
	}

	client, err := catalog.NewClient(state, region,
		catalog.WithFetcher(a.fetcher), catalog.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}

	if time.Since(stored.UpdatedAt) > staleAfter {
		if err := client.ValidateSession(req.Context()); err != nil {
			return nil, fmt.Errorf("stored session no longer valid: %w", err)
		}
		// Refresh the timestamp so the next call skips the probe.
		if err := a.sessions.saveState(id, state); err != nil {
			a.logger.Log(log.Event{
				Timestamp: time.Now(),
				SessionID: id,
				Category:  log.CategoryError,
				Step:      "validate_session",
				Error:     &log.ErrorEventData{Message: err.Error(), Context: "refresh session timestamp"},
			})
		}
	}
	return client, nil
}

// HandleList handles GET /api/v1/devices: the full inventory in one
// response, without streaming.
func (a *DevicesAPI) HandleList(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	client, err := a.client(req, "")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Cannot extract devices", err.Error())
		return
	}

	devices, err := client.Devices(req.Context(), nil)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "Device extraction failed", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, DeviceListResponse{Devices: devices, Total: len(devices)})
}

// HandleValidate handles GET /api/v1/sessions/{id}/validate.
func (a *DevicesAPI) HandleValidate(w http.ResponseWriter, req *http.Request, id string) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	client, err := a.client(req, id)
	if err != nil {
		writeJSONResponse(w, http.StatusOK, ValidateResponse{Valid: false, Error: err.Error()})
		return
	}
	if err := client.ValidateSession(req.Context()); err != nil {
		writeJSONResponse(w, http.StatusOK, ValidateResponse{Valid: false, Error: err.Error()})
		return
	}
	writeJSONResponse(w, http.StatusOK, ValidateResponse{Valid: true})
}

// streamEvent is one SSE or WebSocket message.
type streamEvent struct {
	Type     string            `json:"type"`
	Progress *catalog.Progress `json:"progress,omitempty"`
	Devices  []catalog.Device  `json:"devices,omitempty"`
	Total    int               `json:"total,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// HandleStream handles GET /api/v1/devices/stream: progress and devices
// over Server-Sent Events, one event per aggregation step.
func (a *DevicesAPI) HandleStream(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(ev streamEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	client, err := a.client(req, "")
	if err != nil {
		send(streamEvent{Type: "error", Error: err.Error()})
		return
	}

	devices, err := client.Devices(req.Context(), catalog.SinkFunc(func(p catalog.Progress) {
		send(streamEvent{Type: "progress", Progress: &p})
	}))
	if err != nil {
		send(streamEvent{Type: "error", Error: err.Error()})
		return
	}
	send(streamEvent{Type: "complete", Devices: devices, Total: len(devices)})
}

// HandleWS handles GET /ws/devices: the same stream over a WebSocket for
// UIs that keep the connection open across extractions.
func (a *DevicesAPI) HandleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := a.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	send := func(ev streamEvent) error {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(ev)
	}

	client, err := a.client(req, "")
	if err != nil {
		send(streamEvent{Type: "error", Error: err.Error()})
		return
	}

	devices, err := client.Devices(req.Context(), catalog.SinkFunc(func(p catalog.Progress) {
		send(streamEvent{Type: "progress", Progress: &p})
	}))
	if err != nil {
		send(streamEvent{Type: "error", Error: err.Error()})
		return
	}
	send(streamEvent{Type: "complete", Devices: devices, Total: len(devices)})
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Package api provides HTTP API handlers for the token extraction web
// frontend.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/zzerding/xiaomi-token-web/pkg/catalog"
)

// Login flow status values reported to the UI.
const (
	StatusAuthenticated = "authenticated"
	Status2FARequired   = "2fa_required"
)

// LoginRequest is the body of POST /api/v1/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse reports the outcome of a login attempt. The session id
// must be presented on every follow-up call.
type LoginResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	State     string `json:"state"`
	VerifyURL string `json:"verify_url,omitempty"`

	// Options lists the advertised verification channel flags when the
	// status is 2fa_required.
	Options []int `json:"options,omitempty"`
}

// VerifyRequest is the body of POST /api/v1/verify.
type VerifyRequest struct {
	SessionID string `json:"session_id"`
	Ticket    string `json:"ticket"`
}

// DeviceListResponse is the response of GET /api/v1/devices.
type DeviceListResponse struct {
	Devices []catalog.Device `json:"devices"`
	Total   int              `json:"total"`
}

// ValidateResponse reports whether a stored session still works.
type ValidateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ErrorResponse is the JSON error shape.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// writeJSONResponse writes a JSON response with the given status code.
func writeJSONResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, message, details string) {
	resp := ErrorResponse{
		Error:   message,
		Details: details,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

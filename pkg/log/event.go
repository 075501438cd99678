package log

import (
	"time"
)

// Event represents a flow event captured during login or device aggregation.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint" json:"timestamp"`

	// SessionID correlates all events of one login/aggregation session.
	SessionID string `cbor:"2,keyasint" json:"sessionId"`

	// Category classifies the event type.
	Category Category `cbor:"3,keyasint" json:"category"`

	// Step names the protocol step the event belongs to
	// (e.g. "login_step2", "verify_ticket", "device_list").
	Step string `cbor:"4,keyasint,omitempty" json:"step,omitempty"`

	// Type-specific payload (one of these will be set).
	Exchange    *ExchangeEvent    `cbor:"5,keyasint,omitempty" json:"exchange,omitempty"`
	StateChange *StateChangeEvent `cbor:"6,keyasint,omitempty" json:"stateChange,omitempty"`
	Error       *ErrorEventData   `cbor:"7,keyasint,omitempty" json:"error,omitempty"`
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryExchange indicates an HTTP exchange with the vendor service.
	CategoryExchange Category = 0
	// CategoryState indicates a state machine transition.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryExchange:
		return "EXCHANGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ExchangeEvent captures one HTTP exchange. URLs are recorded without query
// strings since vendor query strings carry nonces and tickets.
type ExchangeEvent struct {
	// Method is the HTTP method.
	Method string `cbor:"1,keyasint" json:"method"`

	// URL is the request URL with the query string stripped.
	URL string `cbor:"2,keyasint" json:"url"`

	// Status is the HTTP status code (0 when the request never completed).
	Status int `cbor:"3,keyasint,omitempty" json:"status,omitempty"`

	// Encrypted marks calls on the RC4-ciphered RPC channel.
	Encrypted bool `cbor:"4,keyasint,omitempty" json:"encrypted,omitempty"`
}

// StateChangeEvent captures a login state machine transition.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty" json:"oldState,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint" json:"newState"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty" json:"reason,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Message is the error message.
	Message string `cbor:"1,keyasint" json:"message"`

	// Context describes what operation was being performed.
	Context string `cbor:"2,keyasint,omitempty" json:"context,omitempty"`
}

// Redact elides a secret for logging: short values become "[hidden]",
// longer values keep four characters of each end.
func Redact(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "[hidden]"
	}
	return value[:4] + "..." + value[len(value)-4:]
}

// Presence describes a secret without revealing anything about it.
func Presence(value string) string {
	if value == "" {
		return "missing"
	}
	return "present"
}

package auth

import (
	"errors"
	"fmt"
)

// Protocol violation and control-flow errors.
var (
	// ErrSignMissing indicates the login-init response carried no
	// anti-forgery token. The step fails but the flow may proceed.
	ErrSignMissing = errors.New("sign token absent in login init response")

	// ErrSSecurityMissing indicates the credential step returned neither a
	// valid session secret nor a verification URL.
	ErrSSecurityMissing = errors.New("no session secret in credential response")

	// ErrServiceTokenMissing indicates the token exchange returned 2xx but
	// no serviceToken cookie.
	ErrServiceTokenMissing = errors.New("serviceToken cookie absent after token exchange")

	// ErrNoLocation indicates the token exchange was attempted without a
	// captured location URL.
	ErrNoLocation = errors.New("no location URL captured for token exchange")

	// ErrTicketRejected indicates no verification channel accepted the
	// user's ticket.
	ErrTicketRejected = errors.New("verification ticket rejected")

	// ErrVerificationStateLost is terminal: the credential retry after a
	// successful ticket verification still demanded verification, so the
	// session state was not maintained across the verification exchange.
	ErrVerificationStateLost = errors.New("session state not maintained across verification")

	// ErrSignLost is the dedicated diagnostic for the known failure mode
	// where the sign token does not survive a state round trip between
	// ticket submission and the credential retry.
	ErrSignLost = errors.New("sign token missing after verification")
)

// StepError is a step-specific failure: which step broke and why. It wraps
// the underlying cause so callers can distinguish transport failures from
// protocol violations with errors.Is.
type StepError struct {
	Step   string
	Reason string
	Err    error
}

// Error formats the step name and reason.
func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Step, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Step, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *StepError) Unwrap() error {
	return e.Err
}

// CredentialError carries the vendor's rejection description verbatim.
type CredentialError struct {
	Desc string
}

// Error returns the vendor's description.
func (e *CredentialError) Error() string {
	if e.Desc == "" {
		return "credentials rejected"
	}
	return e.Desc
}

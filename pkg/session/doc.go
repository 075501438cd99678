// Package session serializes login sessions. The codec captures the full
// client state so the login flow can be suspended between HTTP requests on
// a stateless server; the export format is the stable artifact handed to
// users once a session is fully authenticated.
package session

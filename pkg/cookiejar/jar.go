// Package cookiejar accumulates cookies across a manually followed redirect
// chain. The vendor's account service spreads session cookies over several
// hosts and hops, so the jar is a flat name→value map rather than a
// domain-scoped net/http jar.
package cookiejar

import (
	"strings"
)

// expiredValue marks a cookie the server wants removed. The account service
// signals deletion by setting the literal string instead of clearing it.
const expiredValue = "EXPIRED"

// vendorDeviceIDPrefix marks server-assigned web device ids. These must not
// replace the locally generated device id or request signing breaks.
const vendorDeviceIDPrefix = "wb_"

// Jar is a flat cookie store. It is owned by a single session and is not
// safe for concurrent use.
type Jar struct {
	cookies map[string]string

	// localDeviceID, when set, protects the deviceId cookie from being
	// overwritten by vendor-assigned wb_* values.
	localDeviceID string
}

// New creates an empty jar.
func New() *Jar {
	return &Jar{cookies: make(map[string]string)}
}

// FromMap creates a jar seeded with the given cookies.
func FromMap(cookies map[string]string) *Jar {
	j := New()
	for k, v := range cookies {
		j.cookies[k] = v
	}
	return j
}

// ProtectDeviceID records the locally generated device id so that
// server-assigned wb_* values never replace it.
func (j *Jar) ProtectDeviceID(deviceID string) {
	j.localDeviceID = deviceID
}

// Set stores a cookie, applying the deletion and device-id rules.
func (j *Jar) Set(name, value string) {
	if name == "" || value == "" {
		return
	}
	if value == expiredValue {
		delete(j.cookies, name)
		return
	}
	if name == "deviceId" && strings.HasPrefix(value, vendorDeviceIDPrefix) &&
		j.localDeviceID != "" && !strings.HasPrefix(j.localDeviceID, vendorDeviceIDPrefix) {
		return
	}
	j.cookies[name] = value
}

// Get returns the value of a cookie and whether it is present.
func (j *Jar) Get(name string) (string, bool) {
	v, ok := j.cookies[name]
	return v, ok
}

// Value returns the value of a cookie, or empty when absent.
func (j *Jar) Value(name string) string {
	return j.cookies[name]
}

// Delete removes a cookie.
func (j *Jar) Delete(name string) {
	delete(j.cookies, name)
}

// Len returns the number of stored cookies.
func (j *Jar) Len() int {
	return len(j.cookies)
}

// All returns a copy of the stored cookies.
func (j *Jar) All() map[string]string {
	out := make(map[string]string, len(j.cookies))
	for k, v := range j.cookies {
		out[k] = v
	}
	return out
}

// UpdateFromHeaders ingests Set-Cookie header values. Each value may itself
// contain several comma-joined cookies when an intermediary has collapsed
// multiple Set-Cookie headers into one.
func (j *Jar) UpdateFromHeaders(setCookie []string) {
	for _, header := range setCookie {
		for _, cookie := range splitJoinedCookies(header) {
			name, value, ok := parseSetCookie(cookie)
			if !ok {
				continue
			}
			j.Set(name, value)
		}
	}
}

// parseSetCookie extracts the name=value pair from a single Set-Cookie
// value, discarding attributes such as Path and Expires.
func parseSetCookie(cookie string) (name, value string, ok bool) {
	pair, _, _ := strings.Cut(strings.TrimSpace(cookie), ";")
	name, value, found := strings.Cut(pair, "=")
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	if !found || name == "" || value == "" {
		return "", "", false
	}
	return name, value, true
}

// splitJoinedCookies splits a header that carries several cookies joined by
// commas. A comma only starts a new cookie when followed by a name= pair,
// since Expires attributes contain commas too.
func splitJoinedCookies(header string) []string {
	var out []string
	start := 0
	for i := 0; i < len(header); i++ {
		if header[i] != ',' {
			continue
		}
		rest := header[i+1:]
		if !looksLikeCookieStart(rest) {
			continue
		}
		out = append(out, header[start:i])
		start = i + 1
	}
	out = append(out, header[start:])
	return out
}

// looksLikeCookieStart reports whether s begins (after spaces) with a
// token=value pair.
func looksLikeCookieStart(s string) bool {
	s = strings.TrimLeft(s, " ")
	eq := strings.IndexByte(s, '=')
	if eq <= 0 {
		return false
	}
	for i := 0; i < eq; i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-' || c == '.':
		default:
			return false
		}
	}
	return true
}

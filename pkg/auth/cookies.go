package auth

import (
	"strings"
)

// Fixed cookies the vendor's app always presents.
const sdkVersionCookie = "accountsdk-18.8.15"

// fixedCookies are sent on every request in this order.
var fixedCookies = [][2]string{
	{"locale", "en_GB"},
	{"timezone", "GMT+02:00"},
	{"is_daylight", "1"},
	{"dst_offset", "3600000"},
	{"channel", "MI_APP_STORE"},
	{"sdkVersion", sdkVersionCookie},
}

// wellKnownCookies are emitted explicitly and must not be duplicated from
// the jar.
var wellKnownCookies = map[string]bool{
	"userId":                 true,
	"serviceToken":           true,
	"yetAnotherServiceToken": true,
	"passToken":              true,
	"cUserId":                true,
	"locale":                 true,
	"timezone":               true,
	"is_daylight":            true,
	"dst_offset":             true,
	"channel":                true,
	"sdkVersion":             true,
	"deviceId":               true,
}

// CookieHeader builds the Cookie header for an authenticated exchange.
// Session identities come from the state fields first and the jar second;
// the serviceToken is doubled as yetAnotherServiceToken, which the RPC
// endpoints require.
func CookieHeader(s *ClientState) string {
	var entries []string
	add := func(name, value string) {
		entries = append(entries, name+"="+value)
	}

	userID := firstNonExpired(s.UserID, s.Jar.Value("userId"))
	if userID != "" {
		add("userId", userID)
	}

	token := s.ServiceToken
	if token == "" {
		token = s.Jar.Value("serviceToken")
	}
	if token != "" {
		add("serviceToken", token)
		add("yetAnotherServiceToken", token)
	}

	if passToken := firstNonExpired(s.PassToken, s.Jar.Value("passToken")); passToken != "" {
		add("passToken", passToken)
	}
	if cUserID := firstNonExpired(s.CUserID, s.Jar.Value("cUserId")); cUserID != "" {
		add("cUserId", cUserID)
	}

	for _, c := range fixedCookies {
		add(c[0], c[1])
	}
	add("deviceId", s.DeviceID)

	for name, value := range s.Jar.All() {
		if wellKnownCookies[name] || value == "EXPIRED" {
			continue
		}
		add(name, value)
	}

	return strings.Join(entries, "; ")
}

// firstNonExpired returns the first value that is set and not the EXPIRED
// marker.
func firstNonExpired(values ...string) string {
	for _, v := range values {
		if v != "" && v != "EXPIRED" {
			return v
		}
	}
	return ""
}

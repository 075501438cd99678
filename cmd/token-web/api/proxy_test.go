package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzerding/xiaomi-token-web/pkg/transport"
)

func proxyRequest(t *testing.T, proxy *ProxyAPI, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/proxy", strings.NewReader(body))
	rec := httptest.NewRecorder()
	proxy.HandleProxy(rec, req)
	return rec
}

func TestProxyRejectsForeignHosts(t *testing.T) {
	proxy := NewProxyAPI(newScriptedFetcher(t), nil)

	for _, target := range []string{
		"https://evil.example/steal",
		"https://account.xiaomi.com.evil.example/",
		"http://account.xiaomi.com/pass/serviceLogin",
	} {
		rec := proxyRequest(t, proxy, `{"url":"`+target+`"}`)
		assert.Equal(t, http.StatusForbidden, rec.Code, "target %s must be refused", target)
	}
}

func TestProxyCollectsCookiesAcrossRedirects(t *testing.T) {
	f := newScriptedFetcher(t)
	f.handle("POST", "account.xiaomi.com/pass/serviceLoginAuth2", func(req transport.Request) *transport.Response {
		assert.Equal(t, "user=alice", string(req.Body))
		resp := textResponse(302, "")
		resp.Header.Set("Location", "https://sts.api.io.mi.com/sts?d=1")
		resp.Header.Set("Set-Cookie", "passToken=pt1")
		return resp
	})
	f.handle("GET", "sts.api.io.mi.com/sts", func(req transport.Request) *transport.Response {
		assert.Empty(t, req.Body, "redirect hops must not replay the body")
		resp := textResponse(200, "done")
		resp.Header.Set("Set-Cookie", "serviceToken=tok1")
		return resp
	})

	proxy := NewProxyAPI(f, nil)
	rec := proxyRequest(t, proxy, `{
		"url":"https://account.xiaomi.com/pass/serviceLoginAuth2",
		"method":"POST",
		"headers":{"Content-Type":"application/x-www-form-urlencoded"},
		"body":"user=alice"
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ProxyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "done", resp.Body)
	assert.Equal(t, []string{"passToken=pt1", "serviceToken=tok1"}, resp.Cookies)
}

func TestProxyRejectsRedirectLeavingVendorHosts(t *testing.T) {
	f := newScriptedFetcher(t)
	f.handle("GET", "account.xiaomi.com/go", func(transport.Request) *transport.Response {
		resp := textResponse(302, "")
		resp.Header.Set("Location", "https://evil.example/")
		return resp
	})

	proxy := NewProxyAPI(f, nil)
	rec := proxyRequest(t, proxy, `{"url":"https://account.xiaomi.com/go"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zzerding/xiaomi-token-web/pkg/log"
	"github.com/zzerding/xiaomi-token-web/pkg/transport"
)

// proxyMaxRedirects bounds the redirect chain a proxied call may follow.
const proxyMaxRedirects = 10

// ProxyAPI forwards browser-issued vendor calls. Browsers cannot talk to
// the vendor hosts directly (CORS), so the UI tunnels exchanges through
// this endpoint. Only vendor hosts are reachable.
type ProxyAPI struct {
	fetcher transport.Fetcher
	logger  log.Logger
}

// NewProxyAPI creates a new proxy API handler.
func NewProxyAPI(fetcher transport.Fetcher, logger log.Logger) *ProxyAPI {
	if fetcher == nil {
		fetcher = transport.NewClient()
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &ProxyAPI{fetcher: fetcher, logger: logger}
}

// ProxyRequest is the body of POST /api/v1/proxy.
type ProxyRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// ProxyResponse carries the final response of the proxied chain plus every
// Set-Cookie header seen along the way.
type ProxyResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Cookies []string          `json:"cookies"`
	Body    string            `json:"body"`
}

// strippedURL removes the query string before logging; vendor query strings
// carry nonces and tickets.
func strippedURL(rawURL string) string {
	base, _, _ := strings.Cut(rawURL, "?")
	return base
}

// allowedProxyHost restricts the proxy to the vendor's domains.
func allowedProxyHost(host string) bool {
	host = strings.ToLower(host)
	return host == "account.xiaomi.com" ||
		host == "sts.api.io.mi.com" ||
		host == "api.io.mi.com" ||
		strings.HasSuffix(host, ".api.io.mi.com") ||
		strings.HasSuffix(host, ".account.xiaomi.com")
}

// HandleProxy handles POST /api/v1/proxy. Redirects are followed manually
// (up to proxyMaxRedirects) so the Set-Cookie headers of every hop reach
// the browser.
func (a *ProxyAPI) HandleProxy(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body ProxyRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	target, err := url.Parse(body.URL)
	if err != nil || !target.IsAbs() {
		writeJSONError(w, http.StatusBadRequest, "Invalid target URL", body.URL)
		return
	}
	if target.Scheme != "https" || !allowedProxyHost(target.Hostname()) {
		writeJSONError(w, http.StatusForbidden, "Target host not allowed", target.Hostname())
		return
	}

	method := body.Method
	if method == "" {
		method = http.MethodGet
	}
	header := http.Header{}
	for k, v := range body.Headers {
		if strings.EqualFold(k, "Host") {
			continue
		}
		header.Set(k, v)
	}

	current := transport.Request{
		Method: method,
		URL:    target.String(),
		Header: header,
		Body:   []byte(body.Body),
	}

	var cookies []string
	var final *transport.Response

	for hop := 0; hop <= proxyMaxRedirects; hop++ {
		resp, err := a.fetcher.Fetch(req.Context(), current)
		if err != nil {
			a.logger.Log(log.Event{
				Timestamp: time.Now(),
				Category:  log.CategoryError,
				Step:      "proxy",
				Error:     &log.ErrorEventData{Message: err.Error(), Context: "proxy fetch"},
			})
			writeJSONError(w, http.StatusBadGateway, "Upstream request failed", err.Error())
			return
		}
		a.logger.Log(log.Event{
			Timestamp: time.Now(),
			Category:  log.CategoryExchange,
			Step:      "proxy",
			Exchange: &log.ExchangeEvent{
				Method: current.Method,
				URL:    strippedURL(current.URL),
				Status: resp.StatusCode,
			},
		})
		cookies = append(cookies, resp.Header.Values("Set-Cookie")...)

		loc, ok := resp.Redirect()
		if !ok {
			final = resp
			break
		}

		next, err := url.Parse(loc)
		if err != nil {
			writeJSONError(w, http.StatusBadGateway, "Upstream redirect is invalid", loc)
			return
		}
		base, _ := url.Parse(current.URL)
		resolved := base.ResolveReference(next)
		if resolved.Scheme != "https" || !allowedProxyHost(resolved.Hostname()) {
			writeJSONError(w, http.StatusForbidden, "Redirect target not allowed", resolved.Hostname())
			return
		}

		// Redirect hops are plain GETs without the original body.
		current = transport.Request{
			Method: http.MethodGet,
			URL:    resolved.String(),
			Header: header,
		}
	}
	if final == nil {
		writeJSONError(w, http.StatusBadGateway, "Too many redirects", body.URL)
		return
	}

	respHeaders := map[string]string{}
	for k := range final.Header {
		if strings.EqualFold(k, "Set-Cookie") {
			continue
		}
		respHeaders[k] = final.Header.Get(k)
	}

	writeJSONResponse(w, http.StatusOK, ProxyResponse{
		Status:  final.StatusCode,
		Headers: respHeaders,
		Cookies: cookies,
		Body:    string(final.Body),
	})
}

// Package proxy passes raw recipe API requests through to the upstream.
package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/0xReLogic/recettes/internal/logging"
	"github.com/0xReLogic/recettes/internal/utils"
)

// Prefix is the path the passthrough is mounted on
const Prefix = "/mealdb/"

var allowedEndpoints = map[string]bool{
	"search.php": true,
	"filter.php": true,
	"lookup.php": true,
}

// ReverseProxy forwards the allow-listed read endpoints of the recipe API
type ReverseProxy struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
}

// NewReverseProxy creates a passthrough to the API rooted at baseURL
func NewReverseProxy(baseURL string, transport http.RoundTripper) (*ReverseProxy, error) {
	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", baseURL)
	}

	rp := &ReverseProxy{target: target}
	rp.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			endpoint := strings.TrimPrefix(pr.In.URL.Path, Prefix)
			pr.SetURL(target)
			pr.Out.URL.Path = strings.TrimSuffix(target.Path, "/") + "/" + endpoint
			pr.Out.URL.RawPath = ""
			pr.Out.URL.RawQuery = pr.In.URL.RawQuery
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del("Authorization")
			pr.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logging.WithContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("error proxying request")
			_ = utils.WriteError(w, http.StatusBadGateway, "recipe api is not available")
		},
	}
	return rp, nil
}

// ServeHTTP implements the http.Handler interface
func (rp *ReverseProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	endpoint := strings.TrimPrefix(r.URL.Path, Prefix)
	if !allowedEndpoints[endpoint] {
		_ = utils.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	logging.WithContext(r.Context()).Debug().
		Str("endpoint", endpoint).
		Str("query", r.URL.RawQuery).
		Msg("proxying request")
	rp.proxy.ServeHTTP(w, r)
}

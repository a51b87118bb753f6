// Package adminapi serves the operator endpoints on a separate port.
package adminapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/0xReLogic/recettes/internal/circuitbreaker"
	"github.com/0xReLogic/recettes/internal/logging"
	"github.com/0xReLogic/recettes/internal/metrics"
	"github.com/0xReLogic/recettes/internal/utils"
)

// Options wires the admin endpoints to the running components
type Options struct {
	// Token protects everything but /v1/health when set
	Token          string
	AllowList      []string
	DenyList       []string
	TrustedProxies []string
	Metrics        *metrics.Collector
	MetricsPath    string
	Breaker        *circuitbreaker.CircuitBreaker
	// UpstreamURL is reported by /v1/breaker
	UpstreamURL string
}

type breakerStatus struct {
	Enabled  bool                   `json:"enabled"`
	Name     string                 `json:"name,omitempty"`
	State    string                 `json:"state,omitempty"`
	Counts   *circuitbreaker.Counts `json:"counts,omitempty"`
	Upstream string                 `json:"upstream,omitempty"`
}

// NewMux creates the admin handler
func NewMux(opts Options) (http.Handler, error) {
	mux := http.NewServeMux()
	started := time.Now()

	auth := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Token == "" {
				next.ServeHTTP(w, r)
				return
			}
			authz := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authz, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(opts.Token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
				_ = utils.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	// Health endpoint (no auth)
	if opts.Metrics != nil {
		mux.HandleFunc("GET /v1/health", opts.Metrics.HealthHandler())
	} else {
		mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, r *http.Request) {
			_ = utils.WriteJSON(w, http.StatusOK, map[string]string{
				"status": "healthy",
				"uptime": time.Since(started).Round(time.Second).String(),
			})
		})
	}

	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, auth(opts.Metrics.Handler()))
	}

	mux.Handle("GET /v1/breaker", auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := breakerStatus{Upstream: opts.UpstreamURL}
		if cb := opts.Breaker; cb != nil {
			counts := cb.Counts()
			status.Enabled = true
			status.Name = cb.Name()
			status.State = cb.State().String()
			status.Counts = &counts
		}
		_ = utils.WriteJSON(w, http.StatusOK, status)
	})))

	var handler http.Handler = mux
	if len(opts.AllowList) > 0 || len(opts.DenyList) > 0 {
		ips, err := utils.NewClientIPResolver(opts.TrustedProxies)
		if err != nil {
			return nil, err
		}
		filter, err := NewIPFilter(opts.AllowList, opts.DenyList, ips)
		if err != nil {
			return nil, err
		}
		handler = filter.Middleware(mux)
		logging.L().Info().
			Int("allow_entries", len(opts.AllowList)).
			Int("deny_entries", len(opts.DenyList)).
			Msg("admin api ip filter enabled")
	}

	logging.L().Info().Bool("auth", opts.Token != "").Msg("admin api mux initialized")
	return handler, nil
}

package logging

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/0xReLogic/recettes/internal/config"
)

const (
	defaultRequestHeader = "X-Request-ID"
	defaultTraceHeader   = "X-Trace-ID"
)

// RequestContextMiddleware reads or generates the request and trace ids,
// echoes them as response headers and hands a logger carrying them to the
// rest of the chain through the request context.
func RequestContextMiddleware(cfg config.LoggingConfig) func(http.Handler) http.Handler {
	requestHeader := headerName(cfg.RequestID.Header, defaultRequestHeader)
	traceHeader := headerName(cfg.Trace.Header, defaultTraceHeader)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var reqID, traceID string
			if cfg.RequestID.Enabled {
				reqID = identifier(w, r, requestHeader, "req")
			}
			if cfg.Trace.Enabled {
				traceID = identifier(w, r, traceHeader, "trace")
			}
			next.ServeHTTP(w, r.WithContext(attach(r.Context(), reqID, traceID)))
		})
	}
}

// identifier returns the incoming header value or a fresh one, and sets it on
// both the request and the response
func identifier(w http.ResponseWriter, r *http.Request, header, prefix string) string {
	id := strings.TrimSpace(r.Header.Get(header))
	if id == "" {
		id = prefix + "_" + uuid.NewString()
		r.Header.Set(header, id)
	}
	w.Header().Set(header, id)
	return id
}

func headerName(configured, def string) string {
	if h := strings.TrimSpace(configured); h != "" {
		return h
	}
	return def
}

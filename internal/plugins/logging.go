package plugins

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"github.com/0xReLogic/recettes/internal/logging"
)

// statusRecorder records the status and size of a response
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.wroteHeader {
		return
	}
	sr.status = code
	sr.wroteHeader = true
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.wroteHeader {
		sr.WriteHeader(http.StatusOK)
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// Hijack lets websocket upgrades pass through
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		sr.status = http.StatusSwitchingProtocols
		sr.wroteHeader = true
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Config example:
//
//	chain:
//	  - name: logging
//	    config:
//	      slow_ms: 500
func init() {
	Register("logging", func(cfg map[string]interface{}) (Middleware, error) {
		slowMs, err := toInt(cfg, "slow_ms", 0)
		if err != nil {
			return nil, err
		}
		slow := time.Duration(slowMs) * time.Millisecond

		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				start := time.Now()
				rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
				next.ServeHTTP(rec, r)
				dur := time.Since(start)

				event := logging.WithContext(r.Context()).Info()
				if slow > 0 && dur >= slow {
					event = logging.WithContext(r.Context()).Warn().Bool("slow", true)
				}
				event.
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("query", r.URL.RawQuery).
					Int("status", rec.status).
					Int("bytes", rec.bytes).
					Float64("latency_ms", float64(dur)/float64(time.Millisecond)).
					Msg("request served")
			})
		}, nil
	})
}

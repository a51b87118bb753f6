package plugins

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/0xReLogic/recettes/internal/logging"
)

var defaultGzipTypes = []string{"text/html", "text/css", "text/plain", "application/json", "application/javascript"}

// gzipResponseWriter buffers the response and decides on compression once
// the handler is done.
type gzipResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	minSize      int
	level        int
	contentTypes []string
	hijacked     bool

	buf bytes.Buffer
}

func (g *gzipResponseWriter) WriteHeader(code int) {
	if g.statusCode == 0 {
		g.statusCode = code
	}
}

func (g *gzipResponseWriter) Write(b []byte) (int, error) {
	if g.statusCode == 0 {
		g.statusCode = http.StatusOK
	}
	return g.buf.Write(b)
}

func (g *gzipResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := g.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	g.hijacked = true
	return h.Hijack()
}

// Finish writes the buffered response, compressed when it qualifies
func (g *gzipResponseWriter) Finish() error {
	if g.hijacked {
		return nil
	}
	if g.statusCode == 0 {
		g.statusCode = http.StatusOK
	}

	body := g.buf.Bytes()
	h := g.Header()
	if !g.qualifies(len(body)) {
		g.ResponseWriter.WriteHeader(g.statusCode)
		_, err := g.ResponseWriter.Write(body)
		return err
	}

	h.Set("Content-Encoding", "gzip")
	h.Add("Vary", "Accept-Encoding")
	h.Del("Content-Length")
	g.ResponseWriter.WriteHeader(g.statusCode)

	gz, err := gzip.NewWriterLevel(g.ResponseWriter, g.level)
	if err != nil {
		return err
	}
	if _, err := gz.Write(body); err != nil {
		_ = gz.Close()
		return err
	}
	return gz.Close()
}

func (g *gzipResponseWriter) qualifies(size int) bool {
	h := g.Header()
	if h.Get("Content-Encoding") != "" {
		return false
	}
	if g.statusCode < 200 || g.statusCode == http.StatusNoContent || g.statusCode == http.StatusNotModified {
		return false
	}
	if cl, err := strconv.Atoi(h.Get("Content-Length")); err == nil && cl < g.minSize {
		return false
	}
	if size == 0 || size < g.minSize {
		return false
	}
	return matchesContentType(h.Get("Content-Type"), g.contentTypes)
}

// matchesContentType checks if content type matches any allowed prefix
func matchesContentType(ct string, allowed []string) bool {
	for _, a := range allowed {
		if strings.HasPrefix(ct, a) {
			return true
		}
	}
	return false
}

func parseGzipConfig(cfg map[string]interface{}) (level, minSize int, contentTypes []string, err error) {
	level, err = toInt(cfg, "level", gzip.DefaultCompression)
	if err != nil {
		return 0, 0, nil, err
	}
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return 0, 0, nil, fmt.Errorf("compression level must be between -2 and 9, got %d", level)
	}

	minSize, err = toInt(cfg, "min_size", 1024)
	if err != nil {
		return 0, 0, nil, err
	}
	if minSize < 0 {
		return 0, 0, nil, fmt.Errorf("min_size must not be negative, got %d", minSize)
	}

	raw, ok := cfg["content_types"]
	if !ok || raw == nil {
		return level, minSize, defaultGzipTypes, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return 0, 0, nil, fmt.Errorf("expected content_types to be a list of strings")
	}
	contentTypes = make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return 0, 0, nil, fmt.Errorf("all content_types must be string")
		}
		contentTypes = append(contentTypes, s)
	}
	return level, minSize, contentTypes, nil
}

// Config example:
//
//	chain:
//	  - name: gzip
//	    config:
//	      level: 6
//	      min_size: 1024
//	      content_types: ["text/html", "application/json"]
func init() {
	Register("gzip", func(cfg map[string]interface{}) (Middleware, error) {
		level, minSize, contentTypes, err := parseGzipConfig(cfg)
		if err != nil {
			return nil, err
		}
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !shouldCompress(r) {
					next.ServeHTTP(w, r)
					return
				}

				grw := &gzipResponseWriter{
					ResponseWriter: w,
					level:          level,
					minSize:        minSize,
					contentTypes:   contentTypes,
				}
				next.ServeHTTP(grw, r)

				if err := grw.Finish(); err != nil {
					logging.WithContext(r.Context()).Error().Err(err).Msg("gzip middleware: failed to write compressed response")
				}
			})
		}, nil
	})
}

// shouldCompress skips HEAD requests, websocket upgrades and clients that
// do not accept gzip.
func shouldCompress(r *http.Request) bool {
	if r.Method == http.MethodHead || r.Header.Get("Upgrade") != "" {
		return false
	}
	return containsGzip(r.Header.Get("Accept-Encoding"))
}

func containsGzip(acceptEncoding string) bool {
	for _, part := range strings.Split(acceptEncoding, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), "gzip") {
			continue
		}
		return strings.ReplaceAll(strings.TrimSpace(params), " ", "") != "q=0"
	}
	return false
}

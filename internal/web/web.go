// Package web serves the static recipe page.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/0xReLogic/recettes/internal/logging"
	"github.com/0xReLogic/recettes/internal/utils"
)

// NotFoundBody is the plain-text body of every 404 page
const NotFoundBody = "404 - Page non trouvée"

//go:embed static
var embedded embed.FS

// Embedded returns the page bundled into the binary
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// Dir returns the files under dir, or the embedded page when dir is empty or
// has no index.html.
func Dir(dir string) fs.FS {
	if dir == "" {
		return Embedded()
	}
	fsys := os.DirFS(dir)
	if _, err := fs.Stat(fsys, "index.html"); err != nil {
		logging.L().Warn().Err(err).Str("static_dir", dir).Msg("static directory unusable, serving embedded page")
		return Embedded()
	}
	return fsys
}

// Handler serves index.html at "/" and any other regular file of fsys at its
// path. Everything else gets NotFound.
func Handler(fsys fs.FS) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			NotFound(w, r)
			return
		}

		name := "index.html"
		if r.URL.Path != "/" {
			name = strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		}
		if !fs.ValidPath(name) {
			NotFound(w, r)
			return
		}

		info, err := fs.Stat(fsys, name)
		if err != nil || !info.Mode().IsRegular() {
			NotFound(w, r)
			return
		}
		http.ServeFileFS(w, r, fsys, name)
	})
}

// NotFound answers 404, as JSON for API clients and as the plain page otherwise
func NotFound(w http.ResponseWriter, r *http.Request) {
	if utils.WantsJSON(r) {
		_ = utils.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(NotFoundBody))
}

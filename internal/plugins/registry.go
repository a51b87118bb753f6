// Package plugins builds the configurable middleware chain placed around the
// public handler.
package plugins

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/0xReLogic/recettes/internal/config"
)

// Middleware wraps a handler; the returned handler calls next to continue the chain.
type Middleware func(next http.Handler) http.Handler

// Factory builds a middleware from the plugin's config block
type Factory func(cfg map[string]interface{}) (Middleware, error)

var (
	mu       sync.RWMutex
	builtins = map[string]Factory{}
)

// Register makes a plugin available under name. A later registration replaces an earlier one.
func Register(name string, f Factory) {
	if name == "" || f == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	builtins[name] = f
}

// BuildChain applies the configured plugins to base. The first plugin listed
// is the outermost wrapper.
func BuildChain(pc config.PluginsConfig, base http.Handler) (http.Handler, error) {
	if base == nil {
		return nil, errors.New("base handler is nil")
	}
	if !pc.Enabled || len(pc.Chain) == 0 {
		return base, nil
	}

	mu.RLock()
	defer mu.RUnlock()

	h := base
	for i := len(pc.Chain) - 1; i >= 0; i-- {
		p := pc.Chain[i]
		f, ok := builtins[p.Name]
		if !ok {
			return nil, fmt.Errorf("unknown plugin: %s", p.Name)
		}
		cfg := p.Config
		if cfg == nil {
			cfg = map[string]interface{}{}
		}
		mw, err := f(cfg)
		if err != nil {
			return nil, fmt.Errorf("plugin %s init failed: %w", p.Name, err)
		}
		h = mw(h)
	}
	return h, nil
}

// List returns the registered plugin names, sorted
func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// toInt reads an integer setting. YAML yields int, JSON yields float64.
func toInt(cfg map[string]interface{}, key string, def int) (int, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%s must be an integer, got %v", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
}

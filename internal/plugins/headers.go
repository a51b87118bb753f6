package plugins

import (
	"fmt"
	"net/http"
)

// toStringMap reads a map of header names to values
func toStringMap(v interface{}) (map[string]string, error) {
	res := map[string]string{}
	if v == nil {
		return res, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected object for headers config, got %T", v)
	}
	for k, val := range m {
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("header %s must be a string", k)
		}
		res[http.CanonicalHeaderKey(k)] = s
	}
	return res, nil
}

// Config example:
//
//	chain:
//	  - name: headers
//	    config:
//	      set:
//	        Cache-Control: no-store
//	        X-Frame-Options: DENY
func init() {
	Register("headers", func(cfg map[string]interface{}) (Middleware, error) {
		set, err := toStringMap(cfg["set"])
		if err != nil {
			return nil, err
		}
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				// set before next so the headers are present even on early writes
				h := w.Header()
				for k, v := range set {
					h.Set(k, v)
				}
				next.ServeHTTP(w, r)
			})
		}, nil
	})
}

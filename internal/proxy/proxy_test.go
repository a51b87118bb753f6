package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/0xReLogic/recettes/internal/mealdb/mealdbtest"
)

func TestProxyForwardsAllowedEndpoints(t *testing.T) {
	upstream := mealdbtest.NewServer(mealdbtest.Sample()...)
	defer upstream.Close()

	rp, err := NewReverseProxy(upstream.BaseURL(), nil)
	if err != nil {
		t.Fatalf("Failed to create proxy: %v", err)
	}

	tests := []struct {
		target string
		query  string
		want   int
	}{
		{"/mealdb/search.php?s=pie", "search.php?s=pie", 2},
		{"/mealdb/search.php?f=b", "search.php?f=b", 3},
		{"/mealdb/filter.php?a=British", "filter.php?a=British", 4},
		{"/mealdb/filter.php?i=olive%20oil", "filter.php?i=olive oil", 4},
		{"/mealdb/lookup.php?i=52772", "lookup.php?i=52772", 1},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			req.Header.Set("Cookie", "session=secret")
			rec := httptest.NewRecorder()
			rp.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d", rec.Code)
			}
			var body struct {
				Meals []json.RawMessage `json:"meals"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("Invalid upstream body %q: %v", rec.Body.String(), err)
			}
			if len(body.Meals) != tt.want {
				t.Errorf("Expected %d meals, got %d", tt.want, len(body.Meals))
			}
			if upstream.Calls(pathAndParam(tt.query)) != 1 {
				t.Errorf("Expected upstream to receive %s once, got %v", tt.query, upstream.Order())
			}
		})
	}
}

// pathAndParam splits "endpoint?param=value" for Calls
func pathAndParam(q string) (string, string, string) {
	endpoint, rest, _ := strings.Cut(q, "?")
	param, value, _ := strings.Cut(rest, "=")
	return endpoint, param, value
}

func TestProxyRejectsOtherPaths(t *testing.T) {
	upstream := mealdbtest.NewServer()
	defer upstream.Close()

	rp, err := NewReverseProxy(upstream.BaseURL(), nil)
	if err != nil {
		t.Fatalf("Failed to create proxy: %v", err)
	}

	tests := []struct {
		method string
		target string
		code   int
	}{
		{http.MethodGet, "/mealdb/", http.StatusNotFound},
		{http.MethodGet, "/mealdb/random.php", http.StatusNotFound},
		{http.MethodGet, "/mealdb/../search.php", http.StatusNotFound},
		{http.MethodGet, "/mealdb/search.php/extra", http.StatusNotFound},
		{http.MethodPost, "/mealdb/search.php?s=pie", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.target, nil)
		rec := httptest.NewRecorder()
		rp.ServeHTTP(rec, req)
		if rec.Code != tt.code {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.target, tt.code, rec.Code)
		}
	}

	if upstream.TotalCalls() != 0 {
		t.Errorf("Expected no upstream calls, got %v", upstream.Order())
	}
}

func TestProxyUpstreamDown(t *testing.T) {
	upstream := mealdbtest.NewServer()
	base := upstream.BaseURL()
	upstream.Close()

	rp, err := NewReverseProxy(base, nil)
	if err != nil {
		t.Fatalf("Failed to create proxy: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/mealdb/search.php?s=pie", nil)
	rec := httptest.NewRecorder()
	rp.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", rec.Code)
	}
}

func TestProxyPassesUpstreamStatus(t *testing.T) {
	upstream := mealdbtest.NewServer()
	defer upstream.Close()
	upstream.Fail("search.php", "s", "x", http.StatusServiceUnavailable)

	rp, err := NewReverseProxy(upstream.BaseURL(), nil)
	if err != nil {
		t.Fatalf("Failed to create proxy: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/mealdb/search.php?s=x", nil)
	rec := httptest.NewRecorder()
	rp.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected upstream status 503, got %d", rec.Code)
	}
}

func TestNewReverseProxyInvalidURL(t *testing.T) {
	for _, u := range []string{"", "not a url", "http://[::1"} {
		if _, err := NewReverseProxy(u, nil); err == nil {
			t.Errorf("Expected error for %q", u)
		}
	}
}

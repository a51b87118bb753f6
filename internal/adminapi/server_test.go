package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/0xReLogic/recettes/internal/circuitbreaker"
	"github.com/0xReLogic/recettes/internal/metrics"
)

func newTestMux(t *testing.T, opts Options) http.Handler {
	t.Helper()
	mux, err := NewMux(opts)
	if err != nil {
		t.Fatalf("failed to create admin mux: %v", err)
	}
	return mux
}

func TestAdminAPI_Health_NoAuth(t *testing.T) {
	for _, mc := range []*metrics.Collector{nil, metrics.NewCollector()} {
		mux := newTestMux(t, Options{Token: "secret", Metrics: mc})

		req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"status":"healthy"`) {
			t.Errorf("unexpected health body %s", rec.Body.String())
		}
	}
}

func TestAdminAPI_Metrics_WithAuth(t *testing.T) {
	mc := metrics.NewCollector()
	mc.ObserveUpstream("name", metrics.OutcomeOK, 20*time.Millisecond)
	mux := newTestMux(t, Options{Token: "secret", Metrics: mc, MetricsPath: "/metrics"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `recettes_mealdb_calls_total{kind="name",outcome="ok"} 1`) {
		t.Errorf("expected upstream counter in exposition, got:\n%s", rec.Body.String())
	}
}

func TestAdminAPI_Metrics_CustomPath(t *testing.T) {
	mux := newTestMux(t, Options{Metrics: metrics.NewCollector(), MetricsPath: "/internal/prom"})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/prom", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on default path, got %d", rec.Code)
	}
}

func TestAdminAPI_Breaker(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.Settings{Name: "mealdb", FailureThreshold: 1, Timeout: time.Hour})
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })

	mux := newTestMux(t, Options{Breaker: cb, UpstreamURL: "https://www.themealdb.com/api/json/v1/1"})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/breaker", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var out breakerStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid breaker json: %v", err)
	}
	if !out.Enabled || out.Name != "mealdb" || out.State != "OPEN" {
		t.Errorf("unexpected breaker status %+v", out)
	}
	if out.Counts == nil || out.Counts.Failures != 1 {
		t.Errorf("expected one recorded failure, got %+v", out.Counts)
	}
	if out.Upstream == "" {
		t.Error("expected upstream url")
	}
}

func TestAdminAPI_BreakerDisabled(t *testing.T) {
	mux := newTestMux(t, Options{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/breaker", nil))
	if strings.TrimSpace(rec.Body.String()) != `{"enabled":false}` {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/breaker", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST, got %d", rec.Code)
	}
}

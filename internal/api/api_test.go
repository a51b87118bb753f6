package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0xReLogic/recettes/internal/mealdb"
	"github.com/0xReLogic/recettes/internal/mealdb/mealdbtest"
)

func newTestAPI(t *testing.T) (*mealdbtest.Server, http.Handler) {
	t.Helper()
	upstream := mealdbtest.NewServer(mealdbtest.Sample()...)
	t.Cleanup(upstream.Close)

	client, err := mealdb.New(upstream.BaseURL(), mealdb.WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	mux := http.NewServeMux()
	NewHandler(client).Register(mux)
	return upstream, mux
}

type body struct {
	Meals []map[string]interface{} `json:"meals"`
	Meal  map[string]interface{}   `json:"meal"`
	Error string                   `json:"error"`
}

func do(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, body) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var b body
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("%s %s: invalid JSON body %q: %v", method, target, rec.Body.String(), err)
	}
	return rec, b
}

func TestQueryRoutes(t *testing.T) {
	upstream, h := newTestAPI(t)

	tests := []struct {
		target string
		query  string
		want   int
	}{
		{"/api/meals/letter/b", "search.php?f=b", 3},
		{"/api/meals/letter/B", "search.php?f=b", 3},
		{"/api/meals/search?q=pie", "search.php?s=pie", 2},
		{"/api/meals/ingredient?i=olive%20oil", "filter.php?i=olive oil", 4},
		{"/api/meals/country?a=British", "filter.php?a=British", 4},
		{"/api/meals/country?a=Atlantis", "filter.php?a=Atlantis", 0},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec, b := do(t, h, http.MethodGet, tt.target)
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d", rec.Code)
			}
			if b.Meals == nil {
				t.Fatalf("Expected meals array, got %s", rec.Body.String())
			}
			if len(b.Meals) != tt.want {
				t.Errorf("Expected %d meals, got %d", tt.want, len(b.Meals))
			}
			order := upstream.Order()
			if order[len(order)-1] != tt.query {
				t.Errorf("Expected upstream query %s, got %s", tt.query, order[len(order)-1])
			}
		})
	}
}

func TestEmptyResultIsArray(t *testing.T) {
	upstream, h := newTestAPI(t)
	upstream.Fail("search.php", "s", "down", http.StatusInternalServerError)

	rec, _ := do(t, h, http.MethodGet, "/api/meals/search?q=down")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"meals":[]}` {
		t.Errorf("Expected empty array, got %s", rec.Body.String())
	}
}

func TestCombinedRoute(t *testing.T) {
	_, h := newTestAPI(t)

	rec, b := do(t, h, http.MethodGet, "/api/meals/combined?q=chicken")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	seen := make(map[interface{}]bool)
	for _, m := range b.Meals {
		if seen[m["idMeal"]] {
			t.Errorf("Duplicate meal %v", m["idMeal"])
		}
		seen[m["idMeal"]] = true
	}
	if len(b.Meals) == 0 {
		t.Error("Expected chicken meals")
	}
}

func TestAllRoute(t *testing.T) {
	upstream, h := newTestAPI(t)

	rec, b := do(t, h, http.MethodGet, "/api/meals")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if len(b.Meals) != len(mealdbtest.Sample()) {
		t.Errorf("Expected %d meals, got %d", len(mealdbtest.Sample()), len(b.Meals))
	}
	if upstream.TotalCalls() != 26 {
		t.Errorf("Expected 26 upstream calls, got %d", upstream.TotalCalls())
	}
}

func TestByIDRoute(t *testing.T) {
	_, h := newTestAPI(t)

	rec, b := do(t, h, http.MethodGet, "/api/meals/52772")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if b.Meal["strMeal"] != "Teriyaki Chicken Casserole" {
		t.Errorf("Unexpected meal %v", b.Meal)
	}

	rec, b = do(t, h, http.MethodGet, "/api/meals/1")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
	if b.Error == "" {
		t.Error("Expected error message")
	}
}

func TestBadRequests(t *testing.T) {
	upstream, h := newTestAPI(t)

	tests := []struct {
		method string
		target string
		code   int
	}{
		{http.MethodGet, "/api/meals/search", http.StatusBadRequest},
		{http.MethodGet, "/api/meals/search?q=%20%20", http.StatusBadRequest},
		{http.MethodGet, "/api/meals/ingredient?q=chicken", http.StatusBadRequest},
		{http.MethodGet, "/api/meals/country", http.StatusBadRequest},
		{http.MethodGet, "/api/meals/combined", http.StatusBadRequest},
		{http.MethodGet, "/api/meals/letter/ab", http.StatusBadRequest},
		{http.MethodGet, "/api/meals/letter/1", http.StatusBadRequest},
		{http.MethodPost, "/api/meals/search?q=pie", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/api/meals/52772", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/recipes", http.StatusNotFound},
	}

	for _, tt := range tests {
		rec, b := do(t, h, tt.method, tt.target)
		if rec.Code != tt.code {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.target, tt.code, rec.Code)
		}
		if b.Error == "" {
			t.Errorf("%s %s: expected an error message", tt.method, tt.target)
		}
	}

	if upstream.TotalCalls() != 0 {
		t.Errorf("Expected no upstream calls for rejected requests, got %v", upstream.Order())
	}
}

func dialStream(t *testing.T, h http.Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/meals/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial stream: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStream(t *testing.T) {
	upstream, h := newTestAPI(t)
	upstream.Drop("search.php", "f", "z")
	conn := dialStream(t, h)
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var letters []string
	total := 0
	for i := 0; i < 26; i++ {
		var frame struct {
			Letter string            `json:"letter"`
			Meals  []json.RawMessage `json:"meals"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("Failed to read frame %d: %v", i, err)
		}
		if frame.Meals == nil {
			t.Errorf("Letter %s: expected meals array", frame.Letter)
		}
		letters = append(letters, frame.Letter)
		total += len(frame.Meals)
	}
	if strings.Join(letters, "") != "abcdefghijklmnopqrstuvwxyz" {
		t.Errorf("Unexpected letter order %v", letters)
	}

	var done struct {
		Done  bool `json:"done"`
		Count int  `json:"count"`
	}
	if err := conn.ReadJSON(&done); err != nil {
		t.Fatalf("Failed to read final frame: %v", err)
	}
	if !done.Done || done.Count != total || total != len(mealdbtest.Sample()) {
		t.Errorf("Unexpected final frame %+v (streamed %d)", done, total)
	}

	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected normal closure, got %v", err)
	}
}

func TestStreamRequiresUpgrade(t *testing.T) {
	_, h := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/meals/stream", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for plain GET, got %d", rec.Code)
	}
}

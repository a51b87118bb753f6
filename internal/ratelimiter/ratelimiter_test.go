package ratelimiter

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/0xReLogic/recettes/internal/utils"
)

type countingRecorder struct {
	count int
}

func (c *countingRecorder) RecordRateLimited() { c.count++ }

func newTestLimiter(rps float64, burst int) (*ClientRateLimiter, *time.Time) {
	rl := New(rps, burst)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestClientRateLimiter(t *testing.T) {
	// 10 rps refills one token every 100ms
	rl, now := newTestLimiter(10, 5)
	clientIP := "192.168.1.100"

	for i := 0; i < 5; i++ {
		if !rl.Allow(clientIP) {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	if rl.Allow(clientIP) {
		t.Error("6th request should be denied")
	}

	*now = now.Add(150 * time.Millisecond)
	if !rl.Allow(clientIP) {
		t.Error("Request should be allowed after refill")
	}
	if rl.Allow(clientIP) {
		t.Error("Only one token should have been refilled")
	}
}

func TestClientRateLimiterDifferentClients(t *testing.T) {
	rl, _ := newTestLimiter(1, 2)

	client1 := "192.168.1.100"
	client2 := "192.168.1.101"

	for i := 0; i < 2; i++ {
		if !rl.Allow(client1) {
			t.Errorf("Client1 request %d should be allowed", i+1)
		}
		if !rl.Allow(client2) {
			t.Errorf("Client2 request %d should be allowed", i+1)
		}
	}

	if rl.Allow(client1) {
		t.Error("Client1 3rd request should be denied")
	}
	if rl.Allow(client2) {
		t.Error("Client2 3rd request should be denied")
	}
}

func TestClientRateLimiterCleanup(t *testing.T) {
	rl, now := newTestLimiter(1, 1)

	rl.Allow("10.0.0.1")
	*now = now.Add(30 * time.Minute)
	rl.Allow("10.0.0.2")
	*now = now.Add(45 * time.Minute)

	rl.cleanup()

	if got := rl.Len(); got != 1 {
		t.Fatalf("Expected 1 client after cleanup, got %d", got)
	}
	if _, ok := rl.clients["10.0.0.2"]; !ok {
		t.Error("Expected recently seen client to survive cleanup")
	}
}

func TestMiddleware(t *testing.T) {
	rl, _ := newTestLimiter(1, 1)
	rec := &countingRecorder{}

	handler := Middleware(rl, rec, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/meals", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		return req
	}

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newReq())
	if first.Code != http.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newReq())
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}
	if rec.count != 1 {
		t.Errorf("Expected 1 recorded rejection, got %d", rec.count)
	}

	// a different client has its own bucket
	other := newReq()
	other.RemoteAddr = "203.0.113.10:4000"
	third := httptest.NewRecorder()
	handler.ServeHTTP(third, other)
	if third.Code != http.StatusOK {
		t.Errorf("Expected other client to pass, got %d", third.Code)
	}
}

func TestMiddlewareIgnoresForgedForwardedFor(t *testing.T) {
	rl, _ := newTestLimiter(1, 1)
	handler := Middleware(rl, nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	allowed := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/meals", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code == http.StatusOK {
			allowed++
		}
	}
	if allowed != 1 {
		t.Errorf("Expected 1 request allowed for a single peer, got %d", allowed)
	}
	if got := rl.Len(); got != 1 {
		t.Errorf("Expected 1 tracked client, got %d", got)
	}
}

func TestMiddlewareKeysByForwardedClientBehindTrustedProxy(t *testing.T) {
	rl, _ := newTestLimiter(1, 1)
	ips, err := utils.NewClientIPResolver([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatal(err)
	}
	handler := Middleware(rl, nil, ips)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, client := range []string{"198.51.100.1", "198.51.100.2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/meals", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		req.Header.Set("X-Forwarded-For", client)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("Expected %s to have its own bucket, got %d", client, rr.Code)
		}
	}
	if got := rl.Len(); got != 2 {
		t.Errorf("Expected 2 tracked clients, got %d", got)
	}
}

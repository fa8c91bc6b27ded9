package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLimiter(cfg RateLimitConfig) *RateLimiter {
	cfg.CleanupPeriod = 0 // no background goroutine in tests
	return NewRateLimiter(cfg, slog.Default())
}

func TestRateLimiterAllowWithinLimit(t *testing.T) {
	rl := testLimiter(RateLimitConfig{
		Enabled:       true,
		RequestsPerIP: 3,
		WindowSize:    time.Minute,
	})

	for i := 0; i < 3; i++ {
		allowed, remaining, _ := rl.Allow("10.0.0.1")
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if remaining != 3-i-1 {
			t.Errorf("request %d: remaining = %d, want %d", i+1, remaining, 3-i-1)
		}
	}

	if allowed, _, _ := rl.Allow("10.0.0.1"); allowed {
		t.Error("fourth request should be rejected")
	}
}

func TestRateLimiterBurstAllowance(t *testing.T) {
	rl := testLimiter(RateLimitConfig{
		Enabled:       true,
		RequestsPerIP: 2,
		BurstSize:     2,
		WindowSize:    time.Minute,
	})

	for i := 0; i < 4; i++ {
		if allowed, _, _ := rl.Allow("10.0.0.1"); !allowed {
			t.Fatalf("request %d within base+burst should be allowed", i+1)
		}
	}
	if allowed, _, _ := rl.Allow("10.0.0.1"); allowed {
		t.Error("request beyond burst should be rejected")
	}
}

func TestRateLimiterPerIPIsolation(t *testing.T) {
	rl := testLimiter(RateLimitConfig{
		Enabled:       true,
		RequestsPerIP: 1,
		WindowSize:    time.Minute,
	})

	rl.Allow("10.0.0.1")
	if allowed, _, _ := rl.Allow("10.0.0.1"); allowed {
		t.Error("first IP should be exhausted")
	}
	if allowed, _, _ := rl.Allow("10.0.0.2"); !allowed {
		t.Error("second IP should have its own allowance")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := testLimiter(RateLimitConfig{
		Enabled:       true,
		RequestsPerIP: 1,
		WindowSize:    time.Minute,
	})

	current := time.Now()
	rl.now = func() time.Time { return current }

	rl.Allow("10.0.0.1")
	if allowed, _, _ := rl.Allow("10.0.0.1"); allowed {
		t.Fatal("window should be exhausted")
	}

	current = current.Add(2 * time.Minute)
	if allowed, _, _ := rl.Allow("10.0.0.1"); !allowed {
		t.Error("new window should allow again")
	}
}

func TestRateLimiterCleanupDropsStaleClients(t *testing.T) {
	rl := testLimiter(RateLimitConfig{
		Enabled:       true,
		RequestsPerIP: 10,
		WindowSize:    time.Minute,
	})

	current := time.Now()
	rl.now = func() time.Time { return current }

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")

	current = current.Add(5 * time.Minute)
	rl.cleanup()

	rl.mu.Lock()
	tracked := len(rl.clients)
	rl.mu.Unlock()
	if tracked != 0 {
		t.Errorf("tracked clients after cleanup = %d, want 0", tracked)
	}
}

func TestRateLimitMiddlewareRejectsWith429(t *testing.T) {
	rl := testLimiter(RateLimitConfig{
		Enabled:       true,
		RequestsPerIP: 1,
		WindowSize:    time.Minute,
	})

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := WithMiddleware(inner, AuthConfig{}, rl, slog.Default())

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/alert-actions/active-blocks", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d", first.Code)
	}
	if first.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", first.Header().Get("X-RateLimit-Remaining"))
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/alert-actions/active-blocks", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After")
	}

	var resp errorResponse
	if err := json.Unmarshal(second.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if resp.Error.Kind != KindRateLimited {
		t.Errorf("error kind = %q, want %q", resp.Error.Kind, KindRateLimited)
	}
}

func TestRateLimitMiddlewareHealthExempt(t *testing.T) {
	rl := testLimiter(RateLimitConfig{
		Enabled:       true,
		RequestsPerIP: 1,
		WindowSize:    time.Minute,
	})

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := WithMiddleware(inner, AuthConfig{}, rl, slog.Default())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("health request %d status = %d", i+1, rec.Code)
		}
	}
}

func TestClientIPTrustProxy(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		trustProxy bool
		want       string
	}{
		{"direct", "192.0.2.10:4242", "", false, "192.0.2.10"},
		{"xff ignored without trust", "192.0.2.10:4242", "198.51.100.1", false, "192.0.2.10"},
		{"xff rightmost with trust", "192.0.2.10:4242", "198.51.100.1, 203.0.113.7", true, "203.0.113.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

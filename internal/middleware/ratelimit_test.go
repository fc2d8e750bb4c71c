package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	h := NewRateLimiter(1, 2, testLogger()).Handler(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/datasets", nil)
		req.RemoteAddr = "10.0.0.1:40000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d got %d, want 200", i+1, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/datasets", nil)
	req.RemoteAddr = "10.0.0.1:40001"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("burst exceeded got %d, want 429", rec.Code)
	}
	var body map[string]struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"].Code != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("error code = %q", body["error"].Code)
	}

	// A different client still has its own budget.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/datasets", nil)
	req.RemoteAddr = "10.0.0.2:40000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("second client got %d, want 200", rec.Code)
	}
}

func TestRateLimiterKeysByCredential(t *testing.T) {
	h := NewRateLimiter(1, 1, testLogger()).Handler(okHandler())

	// Two API keys behind the same IP limit independently.
	for _, key := range []string{"vt_alpha", "vt_beta"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/datasets", nil)
		req.RemoteAddr = "10.0.0.3:40000"
		req.Header.Set(APIKeyHeader, key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("key %q got %d, want 200", key, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/datasets", nil)
	req.RemoteAddr = "10.0.0.3:40000"
	req.Header.Set(APIKeyHeader, "vt_alpha")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("reused key got %d, want 429", rec.Code)
	}
}

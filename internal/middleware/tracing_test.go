package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/veritrace/platform/internal/logging"
)

func TestTracingAssignsAndPropagatesTraceID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetTraceID(r.Context())
	})
	h := NewTracingMiddleware(testLogger()).Handler(inner)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen == "" {
		t.Fatal("no trace id on context")
	}
	if got := rec.Header().Get("X-Trace-ID"); got != seen {
		t.Fatalf("response header %q, context %q", got, seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-Trace-ID", "caller-supplied")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Trace-ID"); got != "caller-supplied" {
		t.Fatalf("trace id = %q, want caller-supplied", got)
	}
}

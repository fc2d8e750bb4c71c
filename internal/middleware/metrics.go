package middleware

import (
	"net/http"

	"github.com/veritrace/platform/internal/app/metrics"
)

// Metrics instruments requests with the application's Prometheus
// collectors.
func Metrics(next http.Handler) http.Handler {
	return metrics.InstrumentHandler(next)
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

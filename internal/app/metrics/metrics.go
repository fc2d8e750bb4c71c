package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "veritrace",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veritrace",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "veritrace",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	pipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veritrace",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs.",
		},
		[]string{"trigger", "status"},
	)

	pipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "veritrace",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"trigger"},
	)

	pipelineRows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "veritrace",
			Subsystem: "pipeline",
			Name:      "rows_processed_total",
			Help:      "Total number of data rows processed by pipeline runs.",
		},
	)

	ledgerRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veritrace",
			Subsystem: "ledger",
			Name:      "records_total",
			Help:      "Total number of audit records appended to the ledger.",
		},
		[]string{"operation"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		pipelineRuns,
		pipelineDuration,
		pipelineRows,
		ledgerRecords,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordPipelineRun records the outcome of one pipeline run.
func RecordPipelineRun(trigger, status string, duration time.Duration, rows int) {
	if trigger == "" {
		trigger = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	pipelineRuns.WithLabelValues(trigger, status).Inc()
	pipelineDuration.WithLabelValues(trigger).Observe(duration.Seconds())
	if rows > 0 {
		pipelineRows.Add(float64(rows))
	}
}

// RecordLedgerAppend records one audit record append.
func RecordLedgerAppend(operation string) {
	if operation == "" {
		operation = "unknown"
	}
	ledgerRecords.WithLabelValues(operation).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses record IDs out of URL paths so the label
// cardinality stays bounded.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "api" {
		return "/" + parts[0]
	}
	for i := 3; i < len(parts); i++ {
		if !knownSegment(parts[i]) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func knownSegment(s string) bool {
	switch s {
	case "runs", "records", "commits", "branches", "datasets", "search",
		"verify", "trail", "login", "me", "describe", "validate", "detect":
		return true
	}
	return false
}

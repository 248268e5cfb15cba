package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal tracks total number of HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code"},
	)

	// RequestDuration tracks request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tagger_http_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// ActiveRequests tracks currently active requests
	ActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tagger_http_active_requests",
			Help: "Number of active HTTP requests",
		},
		[]string{"route"},
	)

	RowsStaged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagger_import_rows_staged_total",
		Help: "Statement rows parsed and staged for review",
	})

	// RowsFailed is labelled by stage: "parse" for rejected rows, "insert"
	// for rows lost with a failed chunk.
	RowsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagger_import_rows_failed_total",
			Help: "Statement rows that were not persisted",
		},
		[]string{"stage"},
	)

	ChunkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tagger_import_chunk_duration_seconds",
			Help:    "Duration of one bulk insert chunk",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	ImportsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagger_imports_finished_total",
			Help: "Imports that reached a terminal status",
		},
		[]string{"status"},
	)

	RematchChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagger_rematch_changes_total",
			Help: "Transactions whose tag differs after re-matching",
		},
		[]string{"phase"}, // proposed | applied
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware collects Prometheus metrics per route pattern. The pattern is
// read after the mux has matched so raw paths never become label values.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

// TrackActive wraps a single route so in-flight requests can be counted
// under a known label.
func TrackActive(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ActiveRequests.WithLabelValues(route).Inc()
		defer ActiveRequests.WithLabelValues(route).Dec()
		next.ServeHTTP(w, r)
	})
}

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
			Namespace: "beatgate",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beatgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "beatgate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	challengesIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "beatgate",
			Subsystem: "payments",
			Name:      "challenges_issued_total",
			Help:      "Total number of payment challenges issued.",
		},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beatgate",
			Subsystem: "payments",
			Name:      "settlements_total",
			Help:      "Total number of settlement attempts by outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	settlementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "beatgate",
			Subsystem: "payments",
			Name:      "settlement_duration_seconds",
			Help:      "Duration of settlement attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"strategy"},
	)

	tracksGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beatgate",
			Subsystem: "stations",
			Name:      "tracks_generated_total",
			Help:      "Total number of generation requests by final status.",
		},
		[]string{"status"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		challengesIssued,
		settlements,
		settlementDuration,
		tracksGenerated,
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
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

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

// RecordChallengeIssued counts an issued payment challenge.
func RecordChallengeIssued() {
	challengesIssued.Inc()
}

// RecordSettlement records a settlement attempt. Outcome is "ok" or the
// failure code.
func RecordSettlement(strategy, outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	settlements.WithLabelValues(strategy, outcome).Inc()
	settlementDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordTrackGenerated records a generation request's final track status.
func RecordTrackGenerated(status string) {
	tracksGenerated.WithLabelValues(status).Inc()
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

// canonicalPath collapses resource IDs so metric cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "v1" || len(parts) == 1 {
		return "/" + parts[0]
	}

	resource := parts[1]
	switch {
	case len(parts) == 2:
		return "/v1/" + resource
	case len(parts) >= 4:
		// e.g. /v1/challenges/:id/confirm, /v1/stations/:id/queue
		return "/v1/" + resource + "/:id/" + parts[3]
	default:
		return "/v1/" + resource + "/:id"
	}
}

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
			Namespace: "coordinator",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coordinator",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "coordinator",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current number of participants waiting per pool.",
		},
		[]string{"token", "amount"},
	)

	roomsFormed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "rooms",
			Name:      "formed_total",
			Help:      "Total number of rooms formed from the queue.",
		},
	)

	roomsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "rooms",
			Name:      "closed_total",
			Help:      "Total number of rooms reaching a terminal state.",
		},
		[]string{"state"},
	)

	roundDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "coordinator",
			Subsystem: "rooms",
			Name:      "round_duration_seconds",
			Help:      "Wall-clock duration of completed shuffle rounds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
		},
	)

	finalizeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "finalize",
			Name:      "attempts_total",
			Help:      "Total number of settlement submission attempts.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		queueDepth,
		roomsFormed,
		roomsClosed,
		roundDuration,
		finalizeAttempts,
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

// SetQueueDepth records the current waiting-line depth for a pool.
func SetQueueDepth(token, amount string, depth int) {
	queueDepth.WithLabelValues(token, amount).Set(float64(depth))
}

// RecordRoomFormed counts a newly formed room.
func RecordRoomFormed() {
	roomsFormed.Inc()
}

// RecordRoomClosed counts a room reaching the given terminal state.
func RecordRoomClosed(state string) {
	roomsClosed.WithLabelValues(state).Inc()
}

// RecordRoundDuration observes how long a shuffle round took to complete.
func RecordRoundDuration(d time.Duration) {
	if d <= 0 {
		d = time.Millisecond
	}
	roundDuration.Observe(d.Seconds())
}

// RecordFinalizeAttempt counts one settlement submission attempt.
func RecordFinalizeAttempt(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	finalizeAttempts.WithLabelValues(outcome).Inc()
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

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] == "v1" {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return "/"
	}
	switch parts[0] {
	case "participants":
		if len(parts) == 1 {
			return "/v1/participants"
		}
		return "/v1/participants/:utxo_id"
	case "queue":
		return "/v1/queue/:utxo_id"
	case "rooms":
		if len(parts) >= 3 {
			return "/v1/rooms/:room_id/" + parts[2]
		}
		return "/v1/rooms/:room_id"
	default:
		return "/" + parts[0]
	}
}

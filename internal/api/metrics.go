package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "media_derivatives"

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	eventsRejected    *prometheus.CounterVec
	derivativeLookups *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &metrics{
		registry: registry,
		requestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "rate_limit_rejections_total",
			Help:      "Requests refused by the token bucket.",
		}, []string{"route"}),
		queueEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_enqueued_total",
			Help:      "Inbound media events accepted and queued.",
		}, []string{"queue"}),
		eventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "events_rejected_total",
			Help:      "Inbound media events refused before queueing.",
		}, []string{"reason"}),
		derivativeLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "derivative_lookups_total",
			Help:      "Derivative download lookups by result.",
		}, []string{"result"}),
	}
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(recorder, r)

		labels := prometheus.Labels{
			"method": r.Method,
			"route":  routeLabel(r.URL.Path),
			"status": strconv.Itoa(recorder.status),
		}
		m.requestTotal.With(labels).Inc()
		m.requestDuration.With(labels).Observe(time.Since(started).Seconds())
	})
}

// routeLabel collapses path parameters so metric and span labels stay
// bounded.
func routeLabel(path string) string {
	switch {
	case path == "/v1/events":
		return path
	case strings.HasPrefix(path, "/v1/outcomes/"):
		return "/v1/outcomes/{messageID}"
	case strings.HasPrefix(path, "/v1/media/") && strings.HasSuffix(path, "/derivative"):
		return "/v1/media/{prefix}/{suffix}/derivative"
	case path == "/healthz", path == "/metrics":
		return path
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

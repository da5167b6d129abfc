package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry         *prometheus.Registry
	eventsTotal      *prometheus.CounterVec
	eventDuration    *prometheus.HistogramVec
	failuresTotal    *prometheus.CounterVec
	activeEvents     prometheus.Gauge
	derivativesTotal prometheus.Counter
	bytesUploaded    prometheus.Counter
	pixelsResized    prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_derivatives_events_total",
			Help: "Inbound media events by activity type and outcome.",
		}, []string{"activity", "outcome"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "media_derivatives_event_duration_seconds",
			Help:    "Time spent handling one inbound media event.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_derivatives_failures_total",
			Help: "Failed events by pipeline error kind.",
		}, []string{"kind"}),
		activeEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "media_derivatives_active_events",
			Help: "Events currently holding a processing slot.",
		}),
		derivativesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "media_derivatives_derivatives_total",
			Help: "Derivatives stored and published.",
		}),
		bytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "media_derivatives_bytes_uploaded_total",
			Help: "Encoded derivative bytes written to object storage.",
		}),
		pixelsResized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "media_derivatives_source_pixels_total",
			Help: "Source pixels read by the resize stage.",
		}),
	}

	registry.MustRegister(
		m.eventsTotal,
		m.eventDuration,
		m.failuresTotal,
		m.activeEvents,
		m.derivativesTotal,
		m.bytesUploaded,
		m.pixelsResized,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

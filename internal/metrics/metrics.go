package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the ingestion pipeline's Prometheus collectors. Instances
// are constructed against an explicit registry so tests can run isolated
// copies.
type Metrics struct {
	EventsReceived  *prometheus.CounterVec
	EventsAccepted  *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	BroadcastsSent  prometheus.Counter
	ObserversActive prometheus.Gauge
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// New registers and returns the pipeline metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "callflow",
				Subsystem: "ingestion",
				Name:      "events_received_total",
				Help:      "Total webhook events received",
			},
			[]string{"provider"},
		),
		EventsAccepted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "callflow",
				Subsystem: "ingestion",
				Name:      "events_accepted_total",
				Help:      "Events accepted by reconciliation, by outcome",
			},
			[]string{"type", "outcome"},
		),
		EventsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "callflow",
				Subsystem: "ingestion",
				Name:      "events_rejected_total",
				Help:      "Events rejected at the dispatch boundary, by reason",
			},
			[]string{"reason"},
		),
		BroadcastsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "callflow",
				Subsystem: "hub",
				Name:      "broadcasts_total",
				Help:      "Notifications broadcast to live observers",
			},
		),
		ObserversActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "callflow",
				Subsystem: "hub",
				Name:      "observers_active",
				Help:      "Currently connected live observers",
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "callflow",
				Subsystem: "api",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "handler", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "callflow",
				Subsystem: "api",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"method", "handler"},
		),
	}

	reg.MustRegister(
		m.EventsReceived,
		m.EventsAccepted,
		m.EventsRejected,
		m.BroadcastsSent,
		m.ObserversActive,
		m.HTTPRequests,
		m.HTTPDuration,
	)

	return m
}

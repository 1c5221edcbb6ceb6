// Package telemetry holds the prometheus instruments served on /metrics.
package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "escrowd"

// Metrics covers the HTTP surface and gateway webhook intake. A nil *Metrics
// records nothing.
type Metrics struct {
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	deliveries       *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	throttled        *prometheus.CounterVec
	backlog          prometheus.Gauge
	backlogAge       prometheus.Gauge
}

// NewMetrics registers the instruments on registerer, or on the default
// registry when it is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "API requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "API request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "webhook", Name: "deliveries_total",
			Help: "Gateway webhook deliveries by provider and outcome.",
		}, []string{"provider", "outcome"}),
		deliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "webhook", Name: "processing_duration_seconds",
			Help:    "Webhook verification and processing latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "webhook", Name: "throttled_total",
			Help: "Webhook deliveries rejected by the ingress rate limit.",
		}, []string{"provider"}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "webhook", Name: "backlog",
			Help: "Received webhook events still unprocessed past the staleness threshold.",
		}),
		backlogAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "webhook", Name: "backlog_oldest_age_seconds",
			Help: "Age of the oldest unprocessed webhook event, zero when there is none.",
		}),
	}
	registerer.MustRegister(m.requests, m.requestDuration, m.deliveries, m.deliveryDuration, m.throttled, m.backlog, m.backlogAge)
	return m
}

func (m *Metrics) ObserveAPIRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	method, route = label(method), label(route)
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) RecordWebhookDelivery(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	provider = label(provider)
	m.deliveries.WithLabelValues(provider, label(outcome)).Inc()
	m.deliveryDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) RecordWebhookThrottled(provider string) {
	if m != nil {
		m.throttled.WithLabelValues(label(provider)).Inc()
	}
}

// ObserveWebhookBacklog sets the stale event count and the age of the oldest.
func (m *Metrics) ObserveWebhookBacklog(count int, oldest time.Duration) {
	if m == nil {
		return
	}
	m.backlog.Set(float64(count))
	m.backlogAge.Set(max(oldest, 0).Seconds())
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

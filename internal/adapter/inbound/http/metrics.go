package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/appshell/appshell/internal/service"
)

// Metrics holds all Prometheus metrics for appshell. It implements the
// dispatch, event and audit observers so it can be handed to the services.
type Metrics struct {
	DispatchTotal      *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
	EventsPublished    *prometheus.CounterVec
	SubscriberFailures *prometheus.CounterVec
	AuditDropsTotal    prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		DispatchTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "appshell",
				Name:      "dispatch_total",
				Help:      "Total number of action dispatches",
			},
			[]string{"action", "outcome"}, // outcome=success or an error type
		),
		DispatchDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "appshell",
				Name:      "dispatch_duration_seconds",
				Help:      "Dispatch pipeline duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		EventsPublished: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "appshell",
				Name:      "events_published_total",
				Help:      "Total domain events published",
			},
			[]string{"type"},
		),
		SubscriberFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "appshell",
				Name:      "subscriber_failures_total",
				Help:      "Total event subscriber failures (errors and panics)",
			},
			[]string{"subscriber", "type"},
		),
		AuditDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "appshell",
				Name:      "audit_drops_total",
				Help:      "Total audit records dropped due to backpressure",
			},
		),
	}
}

func (m *Metrics) ObserveDispatch(actionID, outcome string, d time.Duration) {
	m.DispatchTotal.WithLabelValues(actionID, outcome).Inc()
	m.DispatchDuration.WithLabelValues(actionID).Observe(d.Seconds())
}

// ObservePublish counts a publish. Events with no subscribers are counted too.
func (m *Metrics) ObservePublish(eventType string, _ int) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObserveSubscriberFailure(subscriber, eventType string) {
	m.SubscriberFailures.WithLabelValues(subscriber, eventType).Inc()
}

func (m *Metrics) ObserveAuditDrop() {
	m.AuditDropsTotal.Inc()
}

var (
	_ service.DispatchObserver = (*Metrics)(nil)
	_ service.EventObserver    = (*Metrics)(nil)
	_ service.AuditObserver    = (*Metrics)(nil)
)
